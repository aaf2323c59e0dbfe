package services

import (
	"context"
	"sync"
	"time"

	androidpublisher "google.golang.org/api/androidpublisher/v3"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/models"
)

// fakePlay is an in-memory PlayAPI.
type fakePlay struct {
	mu sync.Mutex

	products map[string]*androidpublisher.ProductPurchase // sku + "/" + token
	subs     map[string]*androidpublisher.SubscriptionPurchaseV2
	listings map[string]*androidpublisher.InAppProduct
	err      error
	calls    []string
}

func newFakePlay() *fakePlay {
	return &fakePlay{
		products: map[string]*androidpublisher.ProductPurchase{},
		subs:     map[string]*androidpublisher.SubscriptionPurchaseV2{},
		listings: map[string]*androidpublisher.InAppProduct{},
	}
}

func (f *fakePlay) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakePlay) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func notFound(op string) error {
	return iaperrors.Transport(iaperrors.VendorGoogle, op, "unexpected status 404", nil).WithStatusCode(404)
}

func (f *fakePlay) GetProductPurchase(_ context.Context, sku, token string) (*androidpublisher.ProductPurchase, error) {
	if err := f.record("products.get " + sku); err != nil {
		return nil, err
	}
	p, ok := f.products[sku+"/"+token]
	if !ok {
		return nil, notFound("products.get")
	}
	return p, nil
}

func (f *fakePlay) GetSubscriptionPurchase(_ context.Context, token string) (*androidpublisher.SubscriptionPurchaseV2, error) {
	if err := f.record("subscriptionsv2.get"); err != nil {
		return nil, err
	}
	s, ok := f.subs[token]
	if !ok {
		return nil, notFound("subscriptionsv2.get")
	}
	return s, nil
}

func (f *fakePlay) GetInAppProduct(_ context.Context, sku string) (*androidpublisher.InAppProduct, error) {
	if err := f.record("inappproducts.get " + sku); err != nil {
		return nil, err
	}
	p, ok := f.listings[sku]
	if !ok {
		return nil, notFound("inappproducts.get")
	}
	return p, nil
}

func (f *fakePlay) ConsumeProductPurchase(_ context.Context, sku, token string) error {
	return f.record("products.consume " + sku)
}

func (f *fakePlay) AcknowledgeProductPurchase(_ context.Context, sku, token string) error {
	return f.record("products.acknowledge " + sku)
}

func (f *fakePlay) AcknowledgeSubscriptionPurchase(_ context.Context, sku, token string) error {
	return f.record("subscriptions.acknowledge " + sku)
}

// fakeAppStoreAPI is an in-memory AppStoreAPI.
type fakeAppStoreAPI struct {
	txns  map[string]*models.JWSTransactionDecodedPayload
	token string
	calls int
}

func (f *fakeAppStoreAPI) GetTransactionInfo(_ context.Context, id string) (*models.JWSTransactionDecodedPayload, error) {
	f.calls++
	t, ok := f.txns[id]
	if !ok {
		return nil, iaperrors.Transport(iaperrors.VendorApple, "get_transaction_info", "unexpected status 404", nil).WithStatusCode(404)
	}
	return t, nil
}

func (f *fakeAppStoreAPI) RequestTestNotification(_ context.Context, sandbox bool) (string, error) {
	f.calls++
	return f.token, nil
}

func ptr[T any](v T) *T { return &v }

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339) }

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func appleTxn(typ string) *models.JWSTransactionDecodedPayload {
	return &models.JWSTransactionDecodedPayload{
		BundleID:              "com.example.app",
		Environment:           models.AppleEnvironmentProduction,
		OriginalTransactionID: "1000000000000001",
		TransactionID:         "1000000000000002",
		ProductID:             "pro_monthly",
		PurchaseDate:          testNow.Add(-24 * time.Hour).UnixMilli(),
		Storefront:            "USA",
		Type:                  typ,
		InAppOwnershipType:    models.AppleOwnershipPurchased,
		Price:                 ptr(int64(4990)),
		Currency:              "USD",
	}
}

func playSubscription(state string, expiries ...time.Time) *androidpublisher.SubscriptionPurchaseV2 {
	s := &androidpublisher.SubscriptionPurchaseV2{
		SubscriptionState:    state,
		StartTime:            rfc3339(testNow.Add(-30 * 24 * time.Hour)),
		RegionCode:           "DE",
		AcknowledgementState: models.PlayAcknowledgementStateAcknowledged,
		LatestOrderId:        "GPA.1234-5678-9012-34567..1",
	}
	for _, e := range expiries {
		s.LineItems = append(s.LineItems, &androidpublisher.SubscriptionPurchaseLineItem{
			ProductId:  "pro_monthly",
			ExpiryTime: rfc3339(e),
		})
	}
	return s
}
