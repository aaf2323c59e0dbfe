package services

import (
	"encoding/json"

	"github.com/go-jose/go-jose/v4"

	iaperrors "iapBack/internal/errors"
)

var jsonSerializationAlgs = []jose.SignatureAlgorithm{
	jose.ES256, jose.ES384, jose.ES512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// rawGeneralJWS is the shape checked before handing the input to go-jose,
// which would otherwise also accept the flattened serialization.
type rawGeneralJWS struct {
	Payload    *string           `json:"payload"`
	Signatures []json.RawMessage `json:"signatures"`
	Protected  *string           `json:"protected"`
	Signature  *string           `json:"signature"`
}

// DecodeJWSPayload extracts the payload of a JWS in general JSON
// serialization WITHOUT verifying any signature. Callers must only use it on
// content whose integrity is already established, such as a nested field of a
// verified outer notification.
func DecodeJWSPayload[T any](input string) (T, error) {
	var zero T
	const op = "decode_jws_payload"

	var raw rawGeneralJWS
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return zero, iaperrors.InvalidJWS("", op, "not a JWS JSON serialization", err)
	}
	if raw.Signatures == nil {
		return zero, iaperrors.InvalidJWS("", op, "missing signatures array", nil)
	}
	if raw.Protected != nil || raw.Signature != nil {
		return zero, iaperrors.InvalidJWS("", op, "flattened serialization is not accepted", nil)
	}
	if raw.Payload == nil {
		return zero, iaperrors.InvalidJWS("", op, "missing payload", nil)
	}

	jws, err := jose.ParseSignedJSON(input, jsonSerializationAlgs)
	if err != nil {
		return zero, iaperrors.InvalidJWS("", op, "malformed JWS", err)
	}

	var out T
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), &out); err != nil {
		return zero, iaperrors.InvalidJWS("", op, "payload does not match the expected shape", err)
	}
	return out, nil
}
