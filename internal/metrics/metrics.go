package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const maxLabelLen = 64

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// IAPMetrics holds the Prometheus collectors for verification traffic.
type IAPMetrics struct {
	verifications  *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	vendorCallouts *prometheus.CounterVec
}

var (
	instance *IAPMetrics
	once     sync.Once
)

// Get returns the process-wide metrics registered on the default registry.
func Get() *IAPMetrics {
	once.Do(func() {
		instance = New(prometheus.DefaultRegisterer)
	})
	return instance
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *IAPMetrics {
	m := &IAPMetrics{
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "iap",
				Name:      "verifications_total",
				Help:      "Purchase verifications by store and outcome",
			},
			[]string{"store", "outcome"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "iap",
				Name:      "notifications_total",
				Help:      "Parsed vendor notifications by store and normalized kind",
			},
			[]string{"store", "kind"},
		),
		vendorCallouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "iap",
				Name:      "vendor_callouts_total",
				Help:      "Vendor API calls by vendor, operation and result",
			},
			[]string{"vendor", "op", "result"},
		),
	}
	reg.MustRegister(m.verifications, m.notifications, m.vendorCallouts)
	return m
}

// RecordVerification records the outcome of a verify request.
// outcome should be "active" or an error type, never a purchase id.
func (m *IAPMetrics) RecordVerification(store, outcome string) {
	m.verifications.WithLabelValues(sanitizeLabel(store), sanitizeLabel(outcome)).Inc()
}

func (m *IAPMetrics) RecordNotification(store, kind string) {
	m.notifications.WithLabelValues(sanitizeLabel(store), sanitizeLabel(kind)).Inc()
}

func (m *IAPMetrics) RecordVendorCallout(vendor, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.vendorCallouts.WithLabelValues(sanitizeLabel(vendor), sanitizeLabel(op), result).Inc()
}
