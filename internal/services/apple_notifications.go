package services

import (
	"encoding/json"
	"strings"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/models"
)

// AppleNotification is a verified App Store Server Notification V2 with its
// nested payloads decoded.
type AppleNotification struct {
	Payload     models.ResponseBodyV2DecodedPayload
	Transaction *models.JWSTransactionDecodedPayload
	Renewal     *models.JWSRenewalInfoDecodedPayload
}

type AppleNotificationParser struct {
	verifier appleJWSVerifier
	audience string
}

func NewAppleNotificationParser(verifier appleJWSVerifier, audience string) *AppleNotificationParser {
	if audience == "" {
		audience = AppStoreAudience
	}
	return &AppleNotificationParser{verifier: verifier, audience: audience}
}

// Parse verifies signedPayload against the pinned roots and the configured
// audience, then decodes signedTransactionInfo and signedRenewalInfo when a
// data object is present.
func (p *AppleNotificationParser) Parse(body []byte) (*AppleNotification, error) {
	const op = "parse_notification"
	apple := iaperrors.VendorApple

	var envelope models.ResponseBodyV2
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, iaperrors.Parse(apple, op, "malformed notification body", err)
	}
	if strings.TrimSpace(envelope.SignedPayload) == "" {
		return nil, iaperrors.Parse(apple, op, "missing signedPayload", nil)
	}

	payload, err := verifyApple[models.ResponseBodyV2DecodedPayload](p.verifier, envelope.SignedPayload, p.audience)
	if err != nil {
		return nil, err
	}
	if n := countSet(payload.Data != nil, payload.Summary != nil, payload.ExternalPurchaseToken != nil); n > 1 {
		return nil, iaperrors.Parse(apple, op, "data, summary and externalPurchaseToken are mutually exclusive", nil)
	}

	out := &AppleNotification{Payload: payload}
	if payload.Data == nil {
		return out, nil
	}
	if s := strings.TrimSpace(payload.Data.SignedTransactionInfo); s != "" {
		txn, err := decodeNestedApple[models.JWSTransactionDecodedPayload](p.verifier, s)
		if err != nil {
			return nil, err
		}
		out.Transaction = txn
	}
	if s := strings.TrimSpace(payload.Data.SignedRenewalInfo); s != "" {
		renewal, err := decodeNestedApple[models.JWSRenewalInfoDecodedPayload](p.verifier, s)
		if err != nil {
			return nil, err
		}
		out.Renewal = renewal
	}
	return out, nil
}

// decodeNestedApple verifies a separately signed compact payload, or decodes
// a general JSON serialization whose trust comes from the outer payload.
func decodeNestedApple[T any](v appleJWSVerifier, s string) (*T, error) {
	var (
		out T
		err error
	)
	if strings.HasPrefix(s, "{") {
		out, err = DecodeJWSPayload[T](s)
	} else {
		out, err = verifyApple[T](v, s, "")
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
