package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Store identifies the vendor that issued a purchase.
type Store string

const (
	StoreAppStore   Store = "app_store"
	StoreGooglePlay Store = "google_play"
)

// PurchaseID is the vendor identifier for a purchase: an App Store
// transaction id or a Google Play purchase token.
type PurchaseID struct {
	Store Store  `json:"store"`
	Value string `json:"value"`
}

func AppStoreTransactionID(id string) PurchaseID {
	return PurchaseID{Store: StoreAppStore, Value: id}
}

func GooglePlayPurchaseToken(token string) PurchaseID {
	return PurchaseID{Store: StoreGooglePlay, Value: token}
}

// String never prints Google tokens in full.
func (p PurchaseID) String() string {
	if p.Store == StoreGooglePlay {
		return fmt.Sprintf("%s:<token len=%d>", p.Store, len(p.Value))
	}
	return fmt.Sprintf("%s:%s", p.Store, p.Value)
}

// ProductKind is the closed set of product categories.
type ProductKind string

const (
	ProductKindNonConsumable ProductKind = "non_consumable"
	ProductKindConsumable    ProductKind = "consumable"
	ProductKindSubscription  ProductKind = "subscription"
)

// ParseProductKind accepts the wire names used by the HTTP API.
func ParseProductKind(s string) (ProductKind, error) {
	switch ProductKind(s) {
	case ProductKindNonConsumable, ProductKindConsumable, ProductKindSubscription:
		return ProductKind(s), nil
	}
	return "", fmt.Errorf("unknown product kind %q", s)
}

// ProductID is a store SKU tagged with its product kind.
type ProductID struct {
	Kind ProductKind `json:"kind"`
	SKU  string      `json:"sku"`
}

func NonConsumableID(sku string) ProductID {
	return ProductID{Kind: ProductKindNonConsumable, SKU: sku}
}

func ConsumableID(sku string) ProductID {
	return ProductID{Kind: ProductKindConsumable, SKU: sku}
}

func SubscriptionID(sku string) ProductID {
	return ProductID{Kind: ProductKindSubscription, SKU: sku}
}

// MaybeKnown is a tri-state value: known true/false or unknown.
// There is intentionally no accessor that turns Unknown into a default.
type MaybeKnown[T any] struct {
	value T
	known bool
}

func Known[T any](v T) MaybeKnown[T] {
	return MaybeKnown[T]{value: v, known: true}
}

func Unknown[T any]() MaybeKnown[T] {
	return MaybeKnown[T]{}
}

// Get returns the value and whether it is known.
func (m MaybeKnown[T]) Get() (T, bool) {
	return m.value, m.known
}

func (m MaybeKnown[T]) IsKnown() bool {
	return m.known
}

func (m MaybeKnown[T]) MarshalJSON() ([]byte, error) {
	if !m.known {
		return []byte("null"), nil
	}
	return json.Marshal(m.value)
}

func (m *MaybeKnown[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = MaybeKnown[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Known(v)
	return nil
}

// PriceInfo is a price in micro-units of the ISO 4217 currency.
type PriceInfo struct {
	PriceMicros int64  `json:"price_micros"`
	Currency    string `json:"currency"`
}

// TypeSpecificDetails is implemented by NonConsumableDetails,
// ConsumableDetails and SubscriptionDetails only.
type TypeSpecificDetails interface {
	productKind() ProductKind
}

type NonConsumableDetails struct{}

type ConsumableDetails struct {
	IsConsumed MaybeKnown[bool] `json:"is_consumed"`
	Quantity   int64            `json:"quantity"`
}

type SubscriptionDetails struct {
	ExpirationTime time.Time `json:"expiration_time"`
}

func (NonConsumableDetails) productKind() ProductKind { return ProductKindNonConsumable }
func (ConsumableDetails) productKind() ProductKind    { return ProductKindConsumable }
func (SubscriptionDetails) productKind() ProductKind  { return ProductKindSubscription }

// IapDetails is the vendor-independent view of one purchase.
type IapDetails struct {
	// CanonicalID is the original transaction id for Apple and the purchase
	// token for Google.
	CanonicalID         string              `json:"canonical_id"`
	IsActive            bool                `json:"is_active"`
	IsSandbox           bool                `json:"is_sandbox"`
	IsFinalizedByClient MaybeKnown[bool]    `json:"is_finalized_by_client"`
	PurchaseTime        time.Time           `json:"purchase_time"`
	Region              string              `json:"region"`
	PriceInfo           *PriceInfo          `json:"price_info,omitempty"`
	TypeSpecificDetails TypeSpecificDetails `json:"type_specific_details"`
}

// Kind reports which product kind the type specific details belong to.
func (d IapDetails) Kind() ProductKind {
	if d.TypeSpecificDetails == nil {
		return ""
	}
	return d.TypeSpecificDetails.productKind()
}

func (d IapDetails) Subscription() (SubscriptionDetails, bool) {
	s, ok := d.TypeSpecificDetails.(SubscriptionDetails)
	return s, ok
}

func (d IapDetails) Consumable() (ConsumableDetails, bool) {
	c, ok := d.TypeSpecificDetails.(ConsumableDetails)
	return c, ok
}
