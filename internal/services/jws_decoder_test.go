package services

import (
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iaperrors "iapBack/internal/errors"
)

type decodedSample struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func b64url(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func generalJWS(payload string) string {
	return fmt.Sprintf(`{"payload":%q,"signatures":[{"protected":%q,"signature":%q}]}`,
		b64url(payload), b64url(`{"alg":"ES256"}`), b64url("not-a-real-signature"))
}

func TestDecodeJWSPayloadGeneral(t *testing.T) {
	out, err := DecodeJWSPayload[decodedSample](generalJWS(`{"productId":"coins_100","quantity":3}`))
	require.NoError(t, err)
	assert.Equal(t, "coins_100", out.ProductID)
	assert.Equal(t, 3, out.Quantity)
}

func TestDecodeJWSPayloadRejects(t *testing.T) {
	flattened := fmt.Sprintf(`{"payload":%q,"protected":%q,"signature":%q}`,
		b64url(`{"productId":"x"}`), b64url(`{"alg":"ES256"}`), b64url("sig"))
	compact := b64url(`{"alg":"ES256"}`) + "." + b64url(`{"productId":"x"}`) + ".c2ln"
	noPayload := fmt.Sprintf(`{"signatures":[{"protected":%q,"signature":%q}]}`, b64url(`{"alg":"ES256"}`), b64url("sig"))

	cases := map[string]string{
		"flattened":     flattened,
		"compact":       compact,
		"no payload":    noPayload,
		"bad payload":   `{"payload":"***","signatures":[]}`,
		"wrong shape":   generalJWS(`{"productId":42}`),
		"not json":      generalJWS(`plain text`),
		"empty":         ``,
		"no signatures": fmt.Sprintf(`{"payload":%q}`, b64url(`{}`)),
	}
	for name, input := range cases {
		_, err := DecodeJWSPayload[decodedSample](input)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, iaperrors.ErrInvalidJWS), name)
	}
}
