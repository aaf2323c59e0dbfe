package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	iaperrors "iapBack/internal/errors"
)

const (
	GoogleJWKSURL              = "https://www.googleapis.com/oauth2/v3/certs"
	defaultJWKSRefreshInterval = 300 * time.Second
)

// googleJWTVerifier is satisfied by *GoogleVerifier.
type googleJWTVerifier interface {
	VerifyAndDecode(ctx context.Context, token, audience string, out any) error
}

type keySetEntry struct {
	set     *oidc.RemoteKeySet
	created time.Time
}

// GoogleVerifier validates Google-signed JWTs (Pub/Sub push tokens) against
// Google's published JWKS. One instance should be shared by the process so the
// key cache is reused.
type GoogleVerifier struct {
	jwksURL string
	refresh time.Duration
	client  *http.Client
	now     func() time.Time

	keys atomic.Pointer[keySetEntry]
}

type GoogleVerifierConfig struct {
	JWKSURL         string
	RefreshInterval time.Duration
	HTTPClient      *http.Client
}

func NewGoogleVerifier(cfg GoogleVerifierConfig) *GoogleVerifier {
	v := &GoogleVerifier{
		jwksURL: strings.TrimSpace(cfg.JWKSURL),
		refresh: cfg.RefreshInterval,
		client:  cfg.HTTPClient,
		now:     time.Now,
	}
	if v.jwksURL == "" {
		v.jwksURL = GoogleJWKSURL
	}
	if v.refresh <= 0 {
		v.refresh = defaultJWKSRefreshInterval
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: 15 * time.Second}
	}
	return v
}

// keySet returns the cached key set, replacing it once it is older than the
// refresh interval. Concurrent refreshes race; the last store wins.
func (v *GoogleVerifier) keySet() *oidc.RemoteKeySet {
	now := v.now()
	if e := v.keys.Load(); e != nil && now.Sub(e.created) < v.refresh {
		return e.set
	}
	ctx := oidc.ClientContext(context.Background(), v.client)
	e := &keySetEntry{set: oidc.NewRemoteKeySet(ctx, v.jwksURL), created: now}
	v.keys.Store(e)
	return e.set
}

// Google signs push tokens with either form of its issuer.
var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

type googleTokenClaims struct {
	jwt.RegisteredClaims
}

// VerifyAndDecode strips an optional "Bearer " prefix and verifies the RS256
// signature and the validity window. The issuer must be Google and audience
// must be among the token's aud values. The claims are then decoded into out.
// Every failure is reported as an invalid Google signature without echoing
// the token.
func (v *GoogleVerifier) VerifyAndDecode(ctx context.Context, token, audience string, out any) error {
	const op = "verify_jwt"
	google := iaperrors.VendorGoogle

	token = strings.TrimSpace(token)
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return iaperrors.InvalidSignature(google, op, "missing token", nil)
	}
	if _, err := jose.ParseSignedCompact(token, []jose.SignatureAlgorithm{jose.RS256}); err != nil {
		return iaperrors.InvalidSignature(google, op, "malformed token", err)
	}

	payload, err := v.keySet().VerifySignature(ctx, token)
	if err != nil {
		return iaperrors.InvalidSignature(google, op, "signature rejected", err)
	}

	var claims googleTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return iaperrors.InvalidSignature(google, op, "malformed claims", err)
	}
	validator := jwt.NewValidator(
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(30*time.Second),
	)
	if err := validator.Validate(claims); err != nil {
		return iaperrors.InvalidSignature(google, op, "claims rejected", err)
	}
	if !googleIssuers[claims.Issuer] {
		return iaperrors.InvalidSignature(google, op, "unexpected issuer", nil)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return iaperrors.InvalidSignature(google, op, "malformed claims", err)
		}
	}
	return nil
}
