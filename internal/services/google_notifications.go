package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/models"
)

// GoogleNotificationParser authenticates Pub/Sub push requests and decodes
// the RTDN payload they carry.
type GoogleNotificationParser struct {
	verifier googleJWTVerifier
	audience string
}

func NewGoogleNotificationParser(verifier googleJWTVerifier, audience string) *GoogleNotificationParser {
	return &GoogleNotificationParser{verifier: verifier, audience: audience}
}

// Parse verifies the Authorization header before reading the body. Google
// signs the push request, not the payload.
func (p *GoogleNotificationParser) Parse(ctx context.Context, authorization string, body []byte) (*models.PubSubMessage, *models.DeveloperNotification, error) {
	const op = "parse_notification"
	google := iaperrors.VendorGoogle

	if err := p.verifier.VerifyAndDecode(ctx, authorization, p.audience, nil); err != nil {
		return nil, nil, err
	}

	var push models.PubSubPush
	if err := json.Unmarshal(body, &push); err != nil {
		return nil, nil, iaperrors.Parse(google, op, "malformed pub/sub envelope", err)
	}
	if strings.TrimSpace(push.Message.Data) == "" {
		return nil, nil, iaperrors.Parse(google, op, "pub/sub message has no data", nil)
	}
	raw, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		return nil, nil, iaperrors.Parse(google, op, "message data is not base64", err)
	}

	var n models.DeveloperNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, nil, iaperrors.Parse(google, op, "malformed developer notification", err)
	}
	if n.Count() > 1 {
		return nil, nil, iaperrors.Parse(google, op, "more than one notification kind is set", nil)
	}
	return &push.Message, &n, nil
}
