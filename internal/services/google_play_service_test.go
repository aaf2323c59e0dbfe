package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	iaperrors "iapBack/internal/errors"
)

const testPackage = "com.example.app"

type fakePlayServer struct {
	server *httptest.Server

	mu    sync.Mutex
	calls []string
	// responses by METHOD + path suffix after the package segment
	responses map[string]fakePlayResponse
}

type fakePlayResponse struct {
	status int
	body   any
}

func newFakePlayServer(t *testing.T) *fakePlayServer {
	t.Helper()
	f := &fakePlayServer{responses: map[string]fakePlayResponse{}}
	prefix := "/androidpublisher/v3/applications/" + testPackage
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + strings.TrimPrefix(r.URL.Path, prefix)
		f.mu.Lock()
		f.calls = append(f.calls, key)
		resp, ok := f.responses[key]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"The purchase token was not found."}}`))
			return
		}
		w.WriteHeader(resp.status)
		if resp.body != nil {
			_ = json.NewEncoder(w).Encode(resp.body)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePlayServer) on(method, path string, status int, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method+" "+path] = fakePlayResponse{status: status, body: body}
}

func (f *fakePlayServer) client(t *testing.T) *GooglePlayClient {
	t.Helper()
	c, err := NewGooglePlayClient(context.Background(), GooglePlayConfig{
		PackageName:   testPackage,
		Endpoint:      f.server.URL + "/",
		ClientOptions: []option.ClientOption{option.WithoutAuthentication()},
	}, nil)
	require.NoError(t, err)
	return c
}

func TestGooglePlayClientGetProductPurchase(t *testing.T) {
	f := newFakePlayServer(t)
	f.on(http.MethodGet, "/purchases/products/coins_100/tokens/tok-1", http.StatusOK, map[string]any{
		"purchaseState":        0,
		"consumptionState":     1,
		"acknowledgementState": 1,
		"purchaseTimeMillis":   "1700000000000",
		"regionCode":           "US",
		"quantity":             3,
	})

	p, err := f.client(t).GetProductPurchase(context.Background(), "coins_100", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), p.PurchaseTimeMillis)
	assert.Equal(t, "US", p.RegionCode)
	assert.Equal(t, int64(3), p.Quantity)
	assert.Equal(t, int64(1), p.ConsumptionState)
}

func TestGooglePlayClientMapsAPIErrors(t *testing.T) {
	f := newFakePlayServer(t)
	c := f.client(t)

	_, err := c.GetSubscriptionPurchase(context.Background(), "missing-token")
	require.Error(t, err)

	var iapErr *iaperrors.IAPError
	require.True(t, errors.As(err, &iapErr))
	assert.Equal(t, iaperrors.ErrorTypeTransport, iapErr.Type)
	assert.Equal(t, iaperrors.VendorGoogle, iapErr.Vendor)
	assert.Equal(t, http.StatusNotFound, iapErr.StatusCode)
	assert.False(t, iapErr.Retryable)
	assert.NotContains(t, err.Error(), "missing-token")

	f.on(http.MethodGet, "/inappproducts/coins_100", http.StatusServiceUnavailable, map[string]any{
		"error": map[string]any{"code": 503, "message": "backend unavailable"},
	})
	_, err = c.GetInAppProduct(context.Background(), "coins_100")
	assert.True(t, iaperrors.IsRetryableError(err))
}

func TestGooglePlayClientConsumeAndAcknowledge(t *testing.T) {
	f := newFakePlayServer(t)
	f.on(http.MethodPost, "/purchases/products/coins_100/tokens/tok-1:consume", http.StatusOK, nil)
	f.on(http.MethodPost, "/purchases/products/coins_100/tokens/tok-1:acknowledge", http.StatusOK, nil)
	f.on(http.MethodPost, "/purchases/subscriptions/pro_monthly/tokens/tok-2:acknowledge", http.StatusOK, nil)
	c := f.client(t)

	require.NoError(t, c.ConsumeProductPurchase(context.Background(), "coins_100", "tok-1"))
	require.NoError(t, c.AcknowledgeProductPurchase(context.Background(), "coins_100", "tok-1"))
	require.NoError(t, c.AcknowledgeSubscriptionPurchase(context.Background(), "pro_monthly", "tok-2"))
	assert.Len(t, f.calls, 3)
}

func TestGooglePlayClientRequiresArguments(t *testing.T) {
	f := newFakePlayServer(t)
	c := f.client(t)

	err := c.ConsumeProductPurchase(context.Background(), "", "tok-1")
	assert.True(t, errors.Is(err, iaperrors.ErrParse))
	assert.Empty(t, f.calls)
}

func TestNewGooglePlayClientCredentials(t *testing.T) {
	_, err := NewGooglePlayClient(context.Background(), GooglePlayConfig{PackageName: testPackage}, nil)
	assert.True(t, errors.Is(err, iaperrors.ErrKeyInvalid))

	_, err = NewGooglePlayClient(context.Background(), GooglePlayConfig{PackageName: testPackage, ServiceAccountJSON: "{not json"}, nil)
	assert.True(t, errors.Is(err, iaperrors.ErrKeyInvalid))

	_, err = NewGooglePlayClient(context.Background(), GooglePlayConfig{ServiceAccountJSON: "{}"}, nil)
	assert.True(t, errors.Is(err, iaperrors.ErrKeyInvalid))
}
