package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	androidpublisher "google.golang.org/api/androidpublisher/v3"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/models"
)

// Apple prices are in thousandths of the currency unit.
const appleMilliToMicro = 1000

// activeSubscriptionStates are the states in which a subscription still
// grants access as long as a line item has not expired.
var activeSubscriptionStates = map[string]bool{
	models.PlaySubscriptionStateActive:        true,
	models.PlaySubscriptionStatePaused:        true,
	models.PlaySubscriptionStateOnHold:        true,
	models.PlaySubscriptionStateCanceled:      true,
	models.PlaySubscriptionStateInGracePeriod: true,
}

func appleInvalid(op, format string, args ...any) error {
	return iaperrors.InvalidResponse(iaperrors.VendorApple, op, fmt.Sprintf(format, args...))
}

func googleInvalid(op, format string, args ...any) error {
	return iaperrors.InvalidResponse(iaperrors.VendorGoogle, op, fmt.Sprintf(format, args...))
}

// appleDetails normalizes a verified App Store transaction.
func appleDetails(kind models.ProductKind, txn *models.JWSTransactionDecodedPayload, includePrice bool, now time.Time) (models.IapDetails, error) {
	const op = "normalize_transaction"

	active := txn.RevocationDate == nil && txn.RevocationReason == nil
	if txn.ExpiresDate != nil && !models.MillisToTime(*txn.ExpiresDate).After(now) {
		active = false
	}
	if txn.Storefront == "" {
		return models.IapDetails{}, appleInvalid(op, "transaction has no storefront")
	}

	d := models.IapDetails{
		CanonicalID:         txn.OriginalTransactionID,
		IsActive:            active,
		IsSandbox:           txn.Environment == models.AppleEnvironmentSandbox,
		IsFinalizedByClient: models.Unknown[bool](),
		PurchaseTime:        models.MillisToTime(txn.PurchaseDate),
		Region:              txn.Storefront,
	}

	if includePrice {
		price, err := applePrice(txn)
		if err != nil {
			return models.IapDetails{}, err
		}
		d.PriceInfo = price
	}

	switch kind {
	case models.ProductKindNonConsumable:
		d.TypeSpecificDetails = models.NonConsumableDetails{}
	case models.ProductKindConsumable:
		d.TypeSpecificDetails = models.ConsumableDetails{
			IsConsumed: models.Unknown[bool](),
			Quantity:   quantityOrOne(txn.Quantity),
		}
	case models.ProductKindSubscription:
		if txn.ExpiresDate == nil {
			return models.IapDetails{}, appleInvalid(op, "subscription transaction has no expiresDate")
		}
		d.TypeSpecificDetails = models.SubscriptionDetails{ExpirationTime: models.MillisToTime(*txn.ExpiresDate)}
	default:
		return models.IapDetails{}, iaperrors.Internal(op, fmt.Sprintf("unknown product kind %q", kind))
	}
	return d, nil
}

// applePrice returns nil only for family-shared transactions that carry
// neither price nor currency.
func applePrice(txn *models.JWSTransactionDecodedPayload) (*models.PriceInfo, error) {
	const op = "normalize_price"
	if txn.Price == nil && txn.Currency == "" && txn.InAppOwnershipType == models.AppleOwnershipFamilyShared {
		return nil, nil
	}
	if txn.Price == nil || txn.Currency == "" {
		return nil, appleInvalid(op, "transaction is missing price or currency")
	}
	return &models.PriceInfo{PriceMicros: *txn.Price * appleMilliToMicro, Currency: txn.Currency}, nil
}

// googleProductDetails normalizes a one-time product purchase. listing is the
// in-app product and is only consulted when includePrice is set.
func googleProductDetails(kind models.ProductKind, token string, p *androidpublisher.ProductPurchase, listing *androidpublisher.InAppProduct, includePrice bool) (models.IapDetails, error) {
	const op = "normalize_product_purchase"

	region, err := googleRegion(op, p.RegionCode)
	if err != nil {
		return models.IapDetails{}, err
	}
	d := models.IapDetails{
		CanonicalID:         token,
		IsActive:            p.PurchaseState == models.PlayPurchaseStatePurchased,
		IsSandbox:           p.PurchaseType != nil && *p.PurchaseType == models.PlayPurchaseTypeTest,
		IsFinalizedByClient: models.Known(p.AcknowledgementState == models.PlayAcknowledgementStateDone),
		PurchaseTime:        models.MillisToTime(p.PurchaseTimeMillis),
		Region:              region,
	}
	if includePrice {
		if d.PriceInfo, err = googlePrice(op, listing, p.RegionCode); err != nil {
			return models.IapDetails{}, err
		}
	}

	switch kind {
	case models.ProductKindNonConsumable:
		d.TypeSpecificDetails = models.NonConsumableDetails{}
	case models.ProductKindConsumable:
		d.TypeSpecificDetails = models.ConsumableDetails{
			IsConsumed: models.Known(p.ConsumptionState == models.PlayConsumptionStateConsumed),
			Quantity:   quantityOrOne(p.Quantity),
		}
	case models.ProductKindSubscription:
		return models.IapDetails{}, iaperrors.Internal(op, "subscription details requested from a one-time purchase")
	default:
		return models.IapDetails{}, iaperrors.Internal(op, fmt.Sprintf("unknown product kind %q", kind))
	}
	return d, nil
}

// googleSubscriptionDetails normalizes a subscriptionsv2 resource.
func googleSubscriptionDetails(kind models.ProductKind, token string, s *androidpublisher.SubscriptionPurchaseV2, listing *androidpublisher.InAppProduct, includePrice bool, now time.Time) (models.IapDetails, error) {
	const op = "normalize_subscription_purchase"

	if s.StartTime == "" {
		return models.IapDetails{}, googleInvalid(op, "subscription has no startTime")
	}
	start, err := time.Parse(time.RFC3339, s.StartTime)
	if err != nil {
		return models.IapDetails{}, googleInvalid(op, "subscription startTime is not RFC 3339")
	}
	region, err := googleRegion(op, s.RegionCode)
	if err != nil {
		return models.IapDetails{}, err
	}
	expiry, hasExpiry, err := latestExpiry(op, s.LineItems)
	if err != nil {
		return models.IapDetails{}, err
	}

	d := models.IapDetails{
		CanonicalID:         token,
		IsActive:            activeSubscriptionStates[s.SubscriptionState] && hasExpiry && expiry.After(now),
		IsSandbox:           s.TestPurchase != nil,
		IsFinalizedByClient: subscriptionAcknowledged(s.AcknowledgementState),
		PurchaseTime:        start.UTC(),
		Region:              region,
	}
	if includePrice {
		if d.PriceInfo, err = googlePrice(op, listing, s.RegionCode); err != nil {
			return models.IapDetails{}, err
		}
	}

	switch kind {
	case models.ProductKindSubscription:
		if !hasExpiry {
			return models.IapDetails{}, googleInvalid(op, "subscription has no line items")
		}
		d.TypeSpecificDetails = models.SubscriptionDetails{ExpirationTime: expiry}
	case models.ProductKindNonConsumable, models.ProductKindConsumable:
		return models.IapDetails{}, iaperrors.Internal(op, fmt.Sprintf("%s details requested from a subscription", kind))
	default:
		return models.IapDetails{}, iaperrors.Internal(op, fmt.Sprintf("unknown product kind %q", kind))
	}
	return d, nil
}

// latestExpiry returns the maximum expiryTime across line items. ok is false
// for an empty list.
func latestExpiry(op string, items []*androidpublisher.SubscriptionPurchaseLineItem) (time.Time, bool, error) {
	var (
		latest time.Time
		ok     bool
	)
	for _, item := range items {
		if item == nil || item.ExpiryTime == "" {
			return time.Time{}, false, googleInvalid(op, "line item has no expiryTime")
		}
		t, err := time.Parse(time.RFC3339, item.ExpiryTime)
		if err != nil {
			return time.Time{}, false, googleInvalid(op, "line item expiryTime is not RFC 3339")
		}
		if !ok || t.After(latest) {
			latest, ok = t.UTC(), true
		}
	}
	return latest, ok, nil
}

func subscriptionAcknowledged(state string) models.MaybeKnown[bool] {
	switch state {
	case models.PlayAcknowledgementStateAcknowledged:
		return models.Known(true)
	case models.PlayAcknowledgementStatePending:
		return models.Known(false)
	default:
		return models.Unknown[bool]()
	}
}

func googleRegion(op, alpha2 string) (string, error) {
	alpha3, err := regionAlpha3(strings.ToUpper(alpha2))
	if err != nil {
		return "", googleInvalid(op, "unrecognized region code %q", alpha2)
	}
	return alpha3, nil
}

// googlePrice looks the purchase region up in the product's price table.
func googlePrice(op string, listing *androidpublisher.InAppProduct, alpha2 string) (*models.PriceInfo, error) {
	if listing == nil {
		return nil, googleInvalid(op, "price requested without an in-app product listing")
	}
	price, ok := listing.Prices[strings.ToUpper(alpha2)]
	if !ok {
		return nil, googleInvalid(op, "no price for region %q", alpha2)
	}
	micros, err := strconv.ParseInt(price.PriceMicros, 10, 64)
	if err != nil {
		return nil, googleInvalid(op, "price micros %q is not an integer", price.PriceMicros)
	}
	return &models.PriceInfo{PriceMicros: micros, Currency: price.Currency}, nil
}

func quantityOrOne(q int64) int64 {
	if q <= 0 {
		return 1
	}
	return q
}
