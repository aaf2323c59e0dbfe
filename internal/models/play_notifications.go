package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// PubSubPush is the envelope Cloud Pub/Sub POSTs to a push endpoint.
type PubSubPush struct {
	Message      PubSubMessage `json:"message"`
	Subscription string        `json:"subscription"`
}

type PubSubMessage struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	// Data is standard base64 of a DeveloperNotification.
	Data      string `json:"data"`
	MessageID string `json:"messageId"`
}

// MillisInt64 accepts both JSON numbers and numeric strings; RTDN sends
// eventTimeMillis as a string.
type MillisInt64 int64

func (m *MillisInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("millis: %w", err)
		}
		*m = MillisInt64(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = MillisInt64(v)
	return nil
}

// DeveloperNotification is the Google Play real-time developer notification.
// Exactly one of the notification fields is set.
type DeveloperNotification struct {
	Version                    string                          `json:"version"`
	PackageName                string                          `json:"packageName"`
	EventTimeMillis            MillisInt64                     `json:"eventTimeMillis"`
	SubscriptionNotification   *PlaySubscriptionNotification   `json:"subscriptionNotification,omitempty"`
	OneTimeProductNotification *PlayOneTimeProductNotification `json:"oneTimeProductNotification,omitempty"`
	VoidedPurchaseNotification *PlayVoidedPurchaseNotification `json:"voidedPurchaseNotification,omitempty"`
	TestNotification           *PlayTestNotification           `json:"testNotification,omitempty"`
}

// SubscriptionNotificationType values.
const (
	PlaySubscriptionRecovered               = 1
	PlaySubscriptionRenewed                 = 2
	PlaySubscriptionCanceled                = 3
	PlaySubscriptionPurchased               = 4
	PlaySubscriptionOnHold                  = 5
	PlaySubscriptionInGracePeriod           = 6
	PlaySubscriptionRestarted               = 7
	PlaySubscriptionPriceChangeConfirmed    = 8
	PlaySubscriptionDeferred                = 9
	PlaySubscriptionPaused                  = 10
	PlaySubscriptionPauseScheduleChanged    = 11
	PlaySubscriptionRevoked                 = 12
	PlaySubscriptionExpired                 = 13
	PlaySubscriptionPendingPurchaseCanceled = 20
)

type PlaySubscriptionNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SubscriptionID   string `json:"subscriptionId,omitempty"`
}

const (
	PlayOneTimeProductPurchased = 1
	PlayOneTimeProductCanceled  = 2
)

type PlayOneTimeProductNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SKU              string `json:"sku"`
}

const (
	PlayVoidedProductTypeSubscription = 1
	PlayVoidedProductTypeOneTime      = 2

	PlayRefundTypeFull                 = 1
	PlayRefundTypeQuantityBasedPartial = 2
)

type PlayVoidedPurchaseNotification struct {
	PurchaseToken string `json:"purchaseToken"`
	OrderID       string `json:"orderId"`
	ProductType   int    `json:"productType"`
	RefundType    int    `json:"refundType"`
}

type PlayTestNotification struct {
	Version string `json:"version"`
}

// Count returns how many notification kinds are set.
func (n DeveloperNotification) Count() int {
	c := 0
	if n.SubscriptionNotification != nil {
		c++
	}
	if n.OneTimeProductNotification != nil {
		c++
	}
	if n.VoidedPurchaseNotification != nil {
		c++
	}
	if n.TestNotification != nil {
		c++
	}
	return c
}
