package services

import (
	"context"
	"time"

	androidpublisher "google.golang.org/api/androidpublisher/v3"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/models"
)

var appleRevocationReasons = map[int]string{
	0: "refunded for another reason",
	1: "customer reported an issue with the app",
}

// mapAppleNotification applies the App Store dispatch table on
// (notificationType, subtype).
func mapAppleNotification(n *AppleNotification, now time.Time) (models.IapUpdateNotification, error) {
	const op = "map_notification"
	p := n.Payload
	out := models.IapUpdateNotification{
		NotificationID: p.NotificationUUID,
		Time:           models.MillisToTime(p.SignedDate),
	}

	// requireTxn is called only by the arms that need a transaction.
	requireTxn := func() (*models.JWSTransactionDecodedPayload, error) {
		if p.Data == nil || n.Transaction == nil {
			return nil, appleInvalid(op, "%s notification has no transaction info", p.NotificationType)
		}
		return n.Transaction, nil
	}
	subscription := func(txn *models.JWSTransactionDecodedPayload) (models.ProductID, models.PurchaseID, models.IapDetails, error) {
		productID := models.SubscriptionID(txn.ProductID)
		details, err := appleDetails(productID.Kind, txn, false, now)
		return productID, models.AppStoreTransactionID(txn.OriginalTransactionID), details, err
	}

	switch p.NotificationType {
	case models.AppleNotificationTest:
		out.Details = models.TestNotification{}

	case models.AppleNotificationSubscribed:
		txn, err := requireTxn()
		if err != nil {
			return out, err
		}
		productID, purchaseID, details, err := subscription(txn)
		if err != nil {
			return out, err
		}
		out.Details = models.SubscriptionStarted{
			ApplicationID: p.Data.BundleID,
			ProductID:     productID,
			PurchaseID:    purchaseID,
			Details:       details,
		}

	case models.AppleNotificationDidRenew,
		models.AppleNotificationRefundReversed,
		models.AppleNotificationRenewalExtended:
		return mapAppleExpiryChanged(out, p, requireTxn, subscription)

	case models.AppleNotificationDidFailToRenew:
		if p.Subtype == models.AppleSubtypeGracePeriod {
			return mapAppleExpiryChanged(out, p, requireTxn, subscription)
		}
		return mapAppleEnded(out, p, requireTxn, subscription)

	case models.AppleNotificationExpired, models.AppleNotificationGracePeriodExpired:
		return mapAppleEnded(out, p, requireTxn, subscription)

	case models.AppleNotificationRefund, models.AppleNotificationRevoke:
		txn, err := requireTxn()
		if err != nil {
			return out, err
		}
		refunded := p.NotificationType == models.AppleNotificationRefund
		var reason *string
		if txn.RevocationReason != nil {
			if text, ok := appleRevocationReasons[*txn.RevocationReason]; ok {
				reason = &text
			}
		}
		purchaseID := models.AppStoreTransactionID(txn.OriginalTransactionID)

		switch txn.Type {
		case models.AppleTypeNonConsumable:
			productID := models.NonConsumableID(txn.ProductID)
			details, err := appleDetails(productID.Kind, txn, false, now)
			if err != nil {
				return out, err
			}
			out.Details = models.NonConsumableVoided{
				ApplicationID: p.Data.BundleID,
				ProductID:     productID,
				PurchaseID:    purchaseID,
				Details:       details,
				IsRefunded:    refunded,
				Reason:        reason,
			}
		case models.AppleTypeConsumable:
			productID := models.ConsumableID(txn.ProductID)
			details, err := appleDetails(productID.Kind, txn, false, now)
			if err != nil {
				return out, err
			}
			out.Details = models.ConsumableVoided{
				ApplicationID: p.Data.BundleID,
				ProductID:     productID,
				PurchaseID:    purchaseID,
				Details:       details,
				IsRefunded:    refunded,
				Reason:        reason,
			}
		default:
			productID, _, details, err := subscription(txn)
			if err != nil {
				return out, err
			}
			out.Details = models.SubscriptionEnded{
				ApplicationID: p.Data.BundleID,
				ProductID:     productID,
				PurchaseID:    purchaseID,
				Details:       details,
				Reason:        models.SubscriptionEndReason{Kind: models.EndReasonVoided, IsRefunded: refunded},
			}
		}

	default:
		// Renewal preference and status changes, offers, price increase
		// notices, refund declined, RENEWAL_EXTENSION summaries, external
		// purchase tokens, one-time charges, consumption requests and
		// unrecognized types.
		out.Details = models.OtherNotification{}
	}
	return out, nil
}

type appleTxnFunc func() (*models.JWSTransactionDecodedPayload, error)

type appleSubscriptionFunc func(*models.JWSTransactionDecodedPayload) (models.ProductID, models.PurchaseID, models.IapDetails, error)

func mapAppleExpiryChanged(out models.IapUpdateNotification, p models.ResponseBodyV2DecodedPayload, requireTxn appleTxnFunc, subscription appleSubscriptionFunc) (models.IapUpdateNotification, error) {
	txn, err := requireTxn()
	if err != nil {
		return out, err
	}
	productID, purchaseID, details, err := subscription(txn)
	if err != nil {
		return out, err
	}
	var renewalID *string
	if p.NotificationType == models.AppleNotificationDidRenew {
		id := txn.TransactionID
		renewalID = &id
	}
	out.Details = models.SubscriptionExpiryChanged{
		ApplicationID: p.Data.BundleID,
		ProductID:     productID,
		PurchaseID:    purchaseID,
		Details:       details,
		RenewalID:     renewalID,
	}
	return out, nil
}

func mapAppleEnded(out models.IapUpdateNotification, p models.ResponseBodyV2DecodedPayload, requireTxn appleTxnFunc, subscription appleSubscriptionFunc) (models.IapUpdateNotification, error) {
	txn, err := requireTxn()
	if err != nil {
		return out, err
	}
	productID, purchaseID, details, err := subscription(txn)
	if err != nil {
		return out, err
	}
	out.Details = models.SubscriptionEnded{
		ApplicationID: p.Data.BundleID,
		ProductID:     productID,
		PurchaseID:    purchaseID,
		Details:       details,
		Reason:        appleEndReason(p.NotificationType, p.Subtype),
	}
	return out, nil
}

func appleEndReason(notificationType, subtype string) models.SubscriptionEndReason {
	switch {
	case notificationType == models.AppleNotificationGracePeriodExpired, subtype == models.AppleSubtypeBillingRetry:
		return models.SubscriptionEndReason{Kind: models.EndReasonFailedToRenew}
	case subtype == models.AppleSubtypeVoluntary:
		return models.SubscriptionEndReason{Kind: models.EndReasonCancelled}
	case subtype == models.AppleSubtypePriceIncrease:
		return models.SubscriptionEndReason{Kind: models.EndReasonDeclinedPriceIncrease}
	default:
		return models.SubscriptionEndReason{Kind: models.EndReasonUnknown}
	}
}

// googleNotificationMapper resolves RTDN events against the Play Developer
// API where the event alone does not carry the subscription state.
type googleNotificationMapper struct {
	play PlayAPI
	now  func() time.Time
}

func (m *googleNotificationMapper) mapNotification(ctx context.Context, msg *models.PubSubMessage, n *models.DeveloperNotification) (models.IapUpdateNotification, error) {
	const op = "map_notification"
	out := models.IapUpdateNotification{
		NotificationID: msg.MessageID,
		Time:           time.UnixMilli(int64(n.EventTimeMillis)).UTC(),
	}

	switch {
	case n.TestNotification != nil:
		out.Details = models.TestNotification{}

	case n.SubscriptionNotification != nil:
		details, err := m.subscriptionEvent(ctx, n.PackageName, n.SubscriptionNotification)
		if err != nil {
			return out, err
		}
		out.Details = details

	case n.VoidedPurchaseNotification != nil:
		details, err := m.voidedEvent(ctx, n.PackageName, n.VoidedPurchaseNotification)
		if err != nil {
			return out, err
		}
		out.Details = details

	case n.OneTimeProductNotification != nil:
		out.Details = models.OtherNotification{}

	default:
		return out, iaperrors.Parse(iaperrors.VendorGoogle, op, "unrecognized notification shape", nil)
	}
	return out, nil
}

// subscriptionEvent fetches the subscription only for events that can change
// its expiry. Events classified as Other are returned without a callout.
func (m *googleNotificationMapper) subscriptionEvent(ctx context.Context, packageName string, sn *models.PlaySubscriptionNotification) (models.NotificationDetails, error) {
	switch sn.NotificationType {
	case models.PlaySubscriptionPurchased,
		models.PlaySubscriptionRecovered,
		models.PlaySubscriptionRenewed,
		models.PlaySubscriptionInGracePeriod,
		models.PlaySubscriptionDeferred,
		models.PlaySubscriptionExpired,
		models.PlaySubscriptionRevoked,
		models.PlaySubscriptionPaused,
		models.PlaySubscriptionOnHold:
	default:
		// Restarted, Canceled, PriceChangeConfirmed, PauseScheduleChanged,
		// PendingPurchaseCanceled and unknown types leave expiry unchanged.
		return models.OtherNotification{}, nil
	}

	sub, productID, details, err := m.fetchSubscription(ctx, sn.PurchaseToken, sn.SubscriptionID)
	if err != nil {
		return nil, err
	}
	purchaseID := models.GooglePlayPurchaseToken(sn.PurchaseToken)

	switch sn.NotificationType {
	case models.PlaySubscriptionPurchased:
		return models.SubscriptionStarted{
			ApplicationID: packageName,
			ProductID:     productID,
			PurchaseID:    purchaseID,
			Details:       details,
		}, nil

	case models.PlaySubscriptionRecovered, models.PlaySubscriptionRenewed,
		models.PlaySubscriptionInGracePeriod, models.PlaySubscriptionDeferred:
		var renewalID *string
		if (sn.NotificationType == models.PlaySubscriptionRenewed || sn.NotificationType == models.PlaySubscriptionRecovered) && sub.LatestOrderId != "" {
			id := sub.LatestOrderId
			renewalID = &id
		}
		return models.SubscriptionExpiryChanged{
			ApplicationID: packageName,
			ProductID:     productID,
			PurchaseID:    purchaseID,
			Details:       details,
			RenewalID:     renewalID,
		}, nil

	default:
		return models.SubscriptionEnded{
			ApplicationID: packageName,
			ProductID:     productID,
			PurchaseID:    purchaseID,
			Details:       details,
			Reason:        googleEndReason(sn.NotificationType, sub.CanceledStateContext),
		}, nil
	}
}

// voidedEvent never calls the API for one-time purchases: the event does not
// name the product.
func (m *googleNotificationMapper) voidedEvent(ctx context.Context, packageName string, vn *models.PlayVoidedPurchaseNotification) (models.NotificationDetails, error) {
	refunded := vn.RefundType == models.PlayRefundTypeFull
	purchaseID := models.GooglePlayPurchaseToken(vn.PurchaseToken)

	switch vn.ProductType {
	case models.PlayVoidedProductTypeOneTime:
		return models.UnknownOneTimePurchaseVoided{
			ApplicationID: packageName,
			PurchaseID:    purchaseID,
			IsRefunded:    refunded,
		}, nil
	case models.PlayVoidedProductTypeSubscription:
		_, productID, details, err := m.fetchSubscription(ctx, vn.PurchaseToken, "")
		if err != nil {
			return nil, err
		}
		return models.SubscriptionEnded{
			ApplicationID: packageName,
			ProductID:     productID,
			PurchaseID:    purchaseID,
			Details:       details,
			Reason:        models.SubscriptionEndReason{Kind: models.EndReasonVoided, IsRefunded: refunded},
		}, nil
	default:
		return nil, iaperrors.Parse(iaperrors.VendorGoogle, "map_notification", "unknown voided product type", nil)
	}
}

// fetchSubscription loads the current subscription state. The product id
// falls back to the first line item when the event does not carry one.
func (m *googleNotificationMapper) fetchSubscription(ctx context.Context, token, subscriptionID string) (*androidpublisher.SubscriptionPurchaseV2, models.ProductID, models.IapDetails, error) {
	if m.play == nil {
		return nil, models.ProductID{}, models.IapDetails{}, notConfigured(iaperrors.VendorGoogle, "map_notification")
	}
	sub, err := m.play.GetSubscriptionPurchase(ctx, token)
	if err != nil {
		return nil, models.ProductID{}, models.IapDetails{}, err
	}
	sku := subscriptionID
	if sku == "" && len(sub.LineItems) > 0 && sub.LineItems[0] != nil {
		sku = sub.LineItems[0].ProductId
	}
	if sku == "" {
		return nil, models.ProductID{}, models.IapDetails{}, googleInvalid("map_notification", "subscription has no product id")
	}
	productID := models.SubscriptionID(sku)
	details, err := googleSubscriptionDetails(productID.Kind, token, sub, nil, false, m.now())
	if err != nil {
		return nil, models.ProductID{}, models.IapDetails{}, err
	}
	return sub, productID, details, nil
}

func googleEndReason(notificationType int, cancel *androidpublisher.CanceledStateContext) models.SubscriptionEndReason {
	if notificationType == models.PlaySubscriptionPaused {
		return models.SubscriptionEndReason{Kind: models.EndReasonPaused}
	}
	if cancel != nil && cancel.SystemInitiatedCancellation != nil {
		return models.SubscriptionEndReason{Kind: models.EndReasonFailedToRenew}
	}
	if cancel != nil && cancel.UserInitiatedCancellation != nil {
		reason := models.SubscriptionEndReason{Kind: models.EndReasonCancelled}
		if survey := cancel.UserInitiatedCancellation.CancelSurveyResult; survey != nil {
			text := survey.ReasonUserInput
			if text == "" {
				text = survey.Reason
			}
			if text != "" {
				reason.Details = &text
			}
		}
		return reason
	}
	return models.SubscriptionEndReason{Kind: models.EndReasonUnknown}
}
