package services

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/metrics"
	"iapBack/internal/models"
)

const (
	appStoreProdBase    = "https://api.storekit.itunes.apple.com"
	appStoreSandboxBase = "https://api.storekit-sandbox.itunes.apple.com"

	appStoreTokenTTL = 10 * time.Minute
	maxErrorBodySize = 4 << 10
)

type AppStoreConfig struct {
	IssuerID   string
	BundleID   string
	KeyID      string
	PrivateKey string // PKCS#8 PEM of the App Store Connect API key

	ProductionURL string
	SandboxURL    string
	HTTPClient    *http.Client
}

// AppStoreClient talks to the App Store Server API.
type AppStoreClient struct {
	issuerID string
	bundleID string
	keyID    string
	key      *ecdsa.PrivateKey

	prodBase    string
	sandboxBase string
	client      *http.Client
	verifier    appleJWSVerifier
	metrics     *metrics.IAPMetrics
	now         func() time.Time
}

func NewAppStoreClient(cfg AppStoreConfig, verifier appleJWSVerifier, m *metrics.IAPMetrics) (*AppStoreClient, error) {
	if strings.TrimSpace(cfg.IssuerID) == "" || strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, iaperrors.KeyInvalid(iaperrors.VendorApple, "load_api_key",
			errors.New("issuer_id, key_id and private_key are required"))
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, iaperrors.KeyInvalid(iaperrors.VendorApple, "load_api_key", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	c := &AppStoreClient{
		issuerID:    strings.TrimSpace(cfg.IssuerID),
		bundleID:    strings.TrimSpace(cfg.BundleID),
		keyID:       strings.TrimSpace(cfg.KeyID),
		key:         key,
		prodBase:    strings.TrimRight(cfg.ProductionURL, "/"),
		sandboxBase: strings.TrimRight(cfg.SandboxURL, "/"),
		client:      client,
		verifier:    verifier,
		metrics:     m,
		now:         time.Now,
	}
	if c.prodBase == "" {
		c.prodBase = appStoreProdBase
	}
	if c.sandboxBase == "" {
		c.sandboxBase = appStoreSandboxBase
	}
	return c, nil
}

// GetTransactionInfo fetches and verifies a transaction. Production is tried
// first and sandbox second; if both fail the production error is returned.
func (c *AppStoreClient) GetTransactionInfo(ctx context.Context, transactionID string) (*models.JWSTransactionDecodedPayload, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, iaperrors.Parse(iaperrors.VendorApple, "get_transaction_info", "transaction id is required", nil)
	}
	path := "/inApps/v1/transactions/" + url.PathEscape(transactionID)

	var resp models.TransactionInfoResponse
	err := c.withSandboxFallback(ctx, "get_transaction_info", func(base string) error {
		return c.call(ctx, http.MethodGet, base+path, "get_transaction_info", &resp)
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.SignedTransactionInfo) == "" {
		return nil, iaperrors.InvalidResponse(iaperrors.VendorApple, "get_transaction_info", "empty signedTransactionInfo")
	}

	// Transaction payloads carry no aud claim; chain and signature are checked.
	txn, err := verifyApple[models.JWSTransactionDecodedPayload](c.verifier, resp.SignedTransactionInfo, "")
	if err != nil {
		return nil, err
	}
	if c.bundleID != "" && txn.BundleID != "" && txn.BundleID != c.bundleID {
		return nil, iaperrors.InvalidResponse(iaperrors.VendorApple, "get_transaction_info", "bundle id mismatch")
	}
	return &txn, nil
}

// RequestTestNotification asks Apple to send a TEST notification to the
// configured endpoint of the chosen environment.
func (c *AppStoreClient) RequestTestNotification(ctx context.Context, sandbox bool) (string, error) {
	base := c.prodBase
	if sandbox {
		base = c.sandboxBase
	}
	var resp models.SendTestNotificationResponse
	if err := c.call(ctx, http.MethodPost, base+"/inApps/v1/notifications/test", "request_test_notification", &resp); err != nil {
		return "", err
	}
	if resp.TestNotificationToken == "" {
		return "", iaperrors.InvalidResponse(iaperrors.VendorApple, "request_test_notification", "empty testNotificationToken")
	}
	return resp.TestNotificationToken, nil
}

func (c *AppStoreClient) withSandboxFallback(ctx context.Context, op string, fn func(base string) error) error {
	prodErr := fn(c.prodBase)
	if prodErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return prodErr
	}
	log.Debug().Str("op", op).Err(prodErr).Msg("app store production lookup failed, trying sandbox")
	if err := fn(c.sandboxBase); err != nil {
		log.Debug().Str("op", op).Str("sandbox_error", iaperrors.DebugString(err)).Msg("app store sandbox lookup failed")
		return prodErr
	}
	return nil
}

func (c *AppStoreClient) call(ctx context.Context, method, endpoint, op string, out any) (err error) {
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordVendorCallout(string(iaperrors.VendorApple), op, err)
		}
	}()

	token, err := c.signedToken()
	if err != nil {
		return iaperrors.KeyInvalid(iaperrors.VendorApple, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return iaperrors.Transport(iaperrors.VendorApple, op, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return iaperrors.Transport(iaperrors.VendorApple, op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return iaperrors.Transport(iaperrors.VendorApple, op, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil).
			WithStatusCode(resp.StatusCode).
			WithDebug(strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return iaperrors.Transport(iaperrors.VendorApple, op, "undecodable response body", err)
	}
	return nil
}

// signedToken builds the App Store Connect API bearer token.
func (c *AppStoreClient) signedToken() (string, error) {
	now := c.now().UTC()
	claims := jwt.MapClaims{
		"iss": c.issuerID,
		"iat": now.Unix(),
		"exp": now.Add(appStoreTokenTTL).Unix(),
		"aud": AppStoreAudience,
	}
	if c.bundleID != "" {
		claims["bid"] = c.bundleID
	}
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = c.keyID
	return t.SignedString(c.key)
}
