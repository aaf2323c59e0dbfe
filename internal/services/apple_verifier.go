package services

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	iaperrors "iapBack/internal/errors"
)

// AppStoreAudience is the aud value of App Store signed payloads.
const AppStoreAudience = "appstoreconnect-v1"

var errEmptyChain = errors.New("empty certificate chain")

// appleJWSVerifier is satisfied by *AppleVerifier.
type appleJWSVerifier interface {
	VerifyAndDecode(signed, audience string, out any) error
}

// AppleVerifier validates App Store JWS payloads against a pinned set of root
// certificates. It holds no mutable state and is shared process-wide.
type AppleVerifier struct {
	roots *x509.CertPool
	now   func() time.Time
}

// NewAppleVerifier pins the Apple root CA G3 plus any extra PEM roots.
func NewAppleVerifier(extraRootsPEM ...[]byte) (*AppleVerifier, error) {
	roots, err := appleRootPool(extraRootsPEM...)
	if err != nil {
		return nil, iaperrors.KeyInvalid(iaperrors.VendorApple, "load_root_certificates", err)
	}
	return &AppleVerifier{roots: roots, now: time.Now}, nil
}

// newAppleVerifierWithPool is used when the trust store is built elsewhere.
func newAppleVerifierWithPool(roots *x509.CertPool, now func() time.Time) *AppleVerifier {
	if now == nil {
		now = time.Now
	}
	return &AppleVerifier{roots: roots, now: now}
}

// VerifyAndDecode checks the x5c chain of a compact JWS, verifies the ES256
// signature with the leaf key, enforces aud == audience and decodes the claims
// into out.
func (v *AppleVerifier) VerifyAndDecode(signed, audience string, out any) error {
	const op = "verify_jws"
	apple := iaperrors.VendorApple

	jws, err := jose.ParseSignedCompact(strings.TrimSpace(signed), []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		if isX5CDecodeError(err) {
			return iaperrors.InvalidSignature(apple, op, "certificate chain rejected", err)
		}
		return iaperrors.InvalidJWS(apple, op, "not a compact ES256 JWS", err)
	}
	if len(jws.Signatures) != 1 {
		return iaperrors.InvalidJWS(apple, op, "expected exactly one signature", nil)
	}

	chains, err := jws.Signatures[0].Protected.Certificates(x509.VerifyOptions{
		Roots:       v.roots,
		CurrentTime: v.now(),
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if errors.Is(err, jose.ErrMissingX5cHeader) {
		return iaperrors.InvalidJWS(apple, op, "missing x5c header", err)
	}
	if err != nil {
		return iaperrors.InvalidSignature(apple, op, "certificate chain rejected", err)
	}
	if len(chains) == 0 || len(chains[0]) == 0 {
		return iaperrors.InvalidSignature(apple, op, "certificate chain rejected", errEmptyChain)
	}
	leaf := chains[0][0]

	payload, err := jws.Verify(leaf.PublicKey)
	if err != nil {
		return iaperrors.InvalidSignature(apple, op, "signature mismatch", err)
	}

	var claims struct {
		Aud json.RawMessage `json:"aud"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return iaperrors.InvalidJWS(apple, op, "payload is not a JSON object", err)
	}
	if audience != "" {
		var aud string
		if len(claims.Aud) == 0 || json.Unmarshal(claims.Aud, &aud) != nil || aud != audience {
			return iaperrors.InvalidSignature(apple, op, "audience mismatch", nil)
		}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return iaperrors.InvalidJWS(apple, op, "claims do not match the expected shape", err)
	}
	return nil
}

// isX5CDecodeError reports whether go-jose rejected the header because an x5c
// entry is not base64 DER. go-jose does not wrap that error, so the message is
// the only signal.
func isX5CDecodeError(err error) bool {
	return strings.Contains(err.Error(), "x5c header")
}

// verifyApple is the typed form of VerifyAndDecode.
func verifyApple[T any](v appleJWSVerifier, signed, audience string) (T, error) {
	var out T
	if err := v.VerifyAndDecode(signed, audience, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
