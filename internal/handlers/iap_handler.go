package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/logging"
	"iapBack/internal/models"
)

const maxNotificationBody = 1 << 20

// IAPService is the part of services.IAPService the HTTP layer uses.
type IAPService interface {
	VerifyAndGetDetails(ctx context.Context, productID models.ProductID, purchaseID models.PurchaseID, includePriceInfo bool) (models.IapDetails, error)
	ParseAppleNotification(ctx context.Context, body []byte) (models.IapUpdateNotification, error)
	ParseGoogleNotification(ctx context.Context, authorization string, body []byte) (models.IapUpdateNotification, error)
	Consume(ctx context.Context, productID models.ProductID, purchaseID models.PurchaseID) error
	Acknowledge(ctx context.Context, productID models.ProductID, purchaseID models.PurchaseID) error
	RequestTestNotification(ctx context.Context, sandbox bool) (string, error)
}

// NotificationGuard skips webhook redeliveries. Implemented by
// repositories.NotificationRepository.
type NotificationGuard interface {
	Claim(ctx context.Context, store, notificationID string) (bool, error)
	Release(ctx context.Context, store, notificationID string) error
}

// IAPHandler exposes purchase verification and vendor webhooks over HTTP.
type IAPHandler struct {
	Service IAPService
	// Guard is optional; without it every delivery is passed through.
	Guard NotificationGuard
}

func NewIAPHandler(service IAPService, guard NotificationGuard) *IAPHandler {
	return &IAPHandler{Service: service, Guard: guard}
}

type purchaseRequest struct {
	Store            string `json:"store"`
	PurchaseID       string `json:"purchase_id"`
	ProductKind      string `json:"product_kind"`
	SKU              string `json:"sku"`
	IncludePriceInfo bool   `json:"include_price_info"`
}

func (req purchaseRequest) ids() (models.ProductID, models.PurchaseID, error) {
	kind, err := models.ParseProductKind(strings.TrimSpace(req.ProductKind))
	if err != nil {
		return models.ProductID{}, models.PurchaseID{}, err
	}
	sku := strings.TrimSpace(req.SKU)
	purchase := strings.TrimSpace(req.PurchaseID)
	if sku == "" || purchase == "" {
		return models.ProductID{}, models.PurchaseID{}, errors.New("sku and purchase_id are required")
	}

	var purchaseID models.PurchaseID
	switch models.Store(strings.TrimSpace(req.Store)) {
	case models.StoreAppStore:
		purchaseID = models.AppStoreTransactionID(purchase)
	case models.StoreGooglePlay:
		purchaseID = models.GooglePlayPurchaseToken(purchase)
	default:
		return models.ProductID{}, models.PurchaseID{}, errors.New("store must be app_store or google_play")
	}
	return models.ProductID{Kind: kind, SKU: sku}, purchaseID, nil
}

func decodePurchaseRequest(w http.ResponseWriter, r *http.Request) (purchaseRequest, models.ProductID, models.PurchaseID, bool) {
	var req purchaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotificationBody)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid body", string(iaperrors.ErrorTypeParse))
		return req, models.ProductID{}, models.PurchaseID{}, false
	}
	productID, purchaseID, err := req.ids()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), string(iaperrors.ErrorTypeParse))
		return req, models.ProductID{}, models.PurchaseID{}, false
	}
	return req, productID, purchaseID, true
}

// Verify handles POST /iap/verify.
func (h *IAPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	req, productID, purchaseID, ok := decodePurchaseRequest(w, r)
	if !ok {
		return
	}
	details, err := h.Service.VerifyAndGetDetails(r.Context(), productID, purchaseID, req.IncludePriceInfo)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// Consume handles POST /iap/consume.
func (h *IAPHandler) Consume(w http.ResponseWriter, r *http.Request) {
	_, productID, purchaseID, ok := decodePurchaseRequest(w, r)
	if !ok {
		return
	}
	if err := h.Service.Consume(r.Context(), productID, purchaseID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "consumed"})
}

// Acknowledge handles POST /iap/acknowledge.
func (h *IAPHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	_, productID, purchaseID, ok := decodePurchaseRequest(w, r)
	if !ok {
		return
	}
	if err := h.Service.Acknowledge(r.Context(), productID, purchaseID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// AppleNotifications handles App Store Server Notifications V2.
func (h *IAPHandler) AppleNotifications(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	n, err := h.Service.ParseAppleNotification(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.deliver(w, r, models.StoreAppStore, n)
}

// GoogleNotifications handles Pub/Sub push deliveries of Play RTDNs.
func (h *IAPHandler) GoogleNotifications(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	n, err := h.Service.ParseGoogleNotification(r.Context(), r.Header.Get("Authorization"), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.deliver(w, r, models.StoreGooglePlay, n)
}

// deliver answers 200 for redeliveries too; the vendors stop retrying only
// on a 2xx.
func (h *IAPHandler) deliver(w http.ResponseWriter, r *http.Request, store models.Store, n models.IapUpdateNotification) {
	if h.Guard != nil {
		fresh, err := h.Guard.Claim(r.Context(), string(store), n.NotificationID)
		if err != nil {
			logger := logging.FromContext(r.Context())
			logger.Warn().Err(err).Str("store", string(store)).Msg("notification guard unavailable")
		} else if !fresh {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "notification_id": n.NotificationID})
			return
		} else if r.Context().Err() != nil {
			// The vendor gave up on this delivery; let its retry through.
			if err := h.Guard.Release(context.WithoutCancel(r.Context()), string(store), n.NotificationID); err != nil {
				logger := logging.FromContext(r.Context())
				logger.Warn().Err(err).Str("store", string(store)).Msg("notification guard release failed")
			}
			return
		}
	}
	writeJSON(w, http.StatusOK, n)
}

// RequestAppleTestNotification handles POST /iap/apple/test-notification.
func (h *IAPHandler) RequestAppleTestNotification(w http.ResponseWriter, r *http.Request) {
	sandbox := false
	if v := r.URL.Query().Get("sandbox"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "sandbox must be a boolean", string(iaperrors.ErrorTypeParse))
			return
		}
		sandbox = parsed
	}
	token, err := h.Service.RequestTestNotification(r.Context(), sandbox)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"test_notification_token": token})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBody))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "body too large", string(iaperrors.ErrorTypeParse))
		return nil, false
	}
	return body, true
}

// iapErrorStatus maps the error taxonomy onto HTTP status codes.
func iapErrorStatus(err error) int {
	switch iaperrors.TypeOf(err) {
	case iaperrors.ErrorTypeParse:
		return http.StatusBadRequest
	case iaperrors.ErrorTypeInvalidSignature, iaperrors.ErrorTypeInvalidJWS:
		return http.StatusUnauthorized
	case iaperrors.ErrorTypeNotActive:
		return http.StatusConflict
	case iaperrors.ErrorTypeInvalidResponse:
		return http.StatusBadGateway
	case iaperrors.ErrorTypeTransport:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *IAPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := iapErrorStatus(err)
	logger := logging.FromContext(r.Context())
	event := logger.Info()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Int("status", status).Str("path", r.URL.Path).Str("error", iaperrors.DebugString(err)).Msg("iap request failed")

	resp := map[string]any{
		"error": err.Error(),
		"type":  string(iaperrors.TypeOf(err)),
	}
	var iapErr *iaperrors.IAPError
	if errors.As(err, &iapErr) && iapErr.Details != nil {
		resp["details"] = iapErr.Details
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, map[string]string{"error": msg, "type": typ})
}
