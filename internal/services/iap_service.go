package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	androidpublisher "google.golang.org/api/androidpublisher/v3"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/logging"
	"iapBack/internal/metrics"
	"iapBack/internal/models"
)

// AppStoreAPI is implemented by *AppStoreClient.
type AppStoreAPI interface {
	GetTransactionInfo(ctx context.Context, transactionID string) (*models.JWSTransactionDecodedPayload, error)
	RequestTestNotification(ctx context.Context, sandbox bool) (string, error)
}

// PlayAPI is implemented by *GooglePlayClient.
type PlayAPI interface {
	GetProductPurchase(ctx context.Context, sku, token string) (*androidpublisher.ProductPurchase, error)
	GetSubscriptionPurchase(ctx context.Context, token string) (*androidpublisher.SubscriptionPurchaseV2, error)
	GetInAppProduct(ctx context.Context, sku string) (*androidpublisher.InAppProduct, error)
	ConsumeProductPurchase(ctx context.Context, sku, token string) error
	AcknowledgeProductPurchase(ctx context.Context, sku, token string) error
	AcknowledgeSubscriptionPurchase(ctx context.Context, sku, token string) error
}

// IAPService is the entry point used by the HTTP layer and the CLI. Either
// vendor may be left unconfigured; its operations then fail with KeyInvalid.
type IAPService struct {
	appStore     AppStoreAPI
	play         PlayAPI
	appleParser  *AppleNotificationParser
	googleParser *GoogleNotificationParser
	googleMapper *googleNotificationMapper
	metrics      *metrics.IAPMetrics
	now          func() time.Time
}

type IAPServiceConfig struct {
	AppStore     AppStoreAPI
	Play         PlayAPI
	AppleParser  *AppleNotificationParser
	GoogleParser *GoogleNotificationParser
	Metrics      *metrics.IAPMetrics
}

func NewIAPService(cfg IAPServiceConfig) *IAPService {
	s := &IAPService{
		appStore:     cfg.AppStore,
		play:         cfg.Play,
		appleParser:  cfg.AppleParser,
		googleParser: cfg.GoogleParser,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
	s.googleMapper = &googleNotificationMapper{play: cfg.Play, now: func() time.Time { return s.now() }}
	return s
}

func notConfigured(vendor iaperrors.Vendor, op string) error {
	return iaperrors.KeyInvalid(vendor, op, errors.New("vendor is not configured"))
}

// VerifyAndGetDetails fetches the purchase from its store and normalizes it.
// An inactive purchase yields a NotActive error carrying the details.
func (s *IAPService) VerifyAndGetDetails(ctx context.Context, productID models.ProductID, purchaseID models.PurchaseID, includePriceInfo bool) (models.IapDetails, error) {
	var (
		d   models.IapDetails
		err error
	)
	switch purchaseID.Store {
	case models.StoreAppStore:
		d, err = s.verifyApple(ctx, productID, purchaseID.Value, includePriceInfo)
	case models.StoreGooglePlay:
		d, err = s.verifyGoogle(ctx, productID, purchaseID.Value, includePriceInfo)
	default:
		err = iaperrors.Parse("", "verify", fmt.Sprintf("unknown store %q", purchaseID.Store), nil)
	}
	if err == nil && !d.IsActive {
		err = iaperrors.NotActive(storeVendor(purchaseID.Store), d)
	}
	s.recordVerification(purchaseID.Store, err)
	if err != nil {
		log.Debug().Str("purchase", purchaseID.String()).Str("sku", productID.SKU).
			Str("error", iaperrors.DebugString(err)).Msg("verification failed")
		return models.IapDetails{}, err
	}
	return d, nil
}

func (s *IAPService) verifyApple(ctx context.Context, productID models.ProductID, transactionID string, includePrice bool) (models.IapDetails, error) {
	if s.appStore == nil {
		return models.IapDetails{}, notConfigured(iaperrors.VendorApple, "verify")
	}
	txn, err := s.appStore.GetTransactionInfo(ctx, transactionID)
	if err != nil {
		return models.IapDetails{}, err
	}
	return appleDetails(productID.Kind, txn, includePrice, s.now())
}

// verifyGoogle fetches the purchase and, when asked, the price listing in
// parallel.
func (s *IAPService) verifyGoogle(ctx context.Context, productID models.ProductID, token string, includePrice bool) (models.IapDetails, error) {
	if s.play == nil {
		return models.IapDetails{}, notConfigured(iaperrors.VendorGoogle, "verify")
	}

	g, gctx := errgroup.WithContext(ctx)
	var listing *androidpublisher.InAppProduct
	if includePrice {
		g.Go(func() error {
			var err error
			listing, err = s.play.GetInAppProduct(gctx, productID.SKU)
			return err
		})
	}

	switch productID.Kind {
	case models.ProductKindSubscription:
		var sub *androidpublisher.SubscriptionPurchaseV2
		g.Go(func() error {
			var err error
			sub, err = s.play.GetSubscriptionPurchase(gctx, token)
			return err
		})
		if err := g.Wait(); err != nil {
			return models.IapDetails{}, err
		}
		return googleSubscriptionDetails(productID.Kind, token, sub, listing, includePrice, s.now())

	case models.ProductKindConsumable, models.ProductKindNonConsumable:
		var purchase *androidpublisher.ProductPurchase
		g.Go(func() error {
			var err error
			purchase, err = s.play.GetProductPurchase(gctx, productID.SKU, token)
			return err
		})
		if err := g.Wait(); err != nil {
			return models.IapDetails{}, err
		}
		return googleProductDetails(productID.Kind, token, purchase, listing, includePrice)

	default:
		_ = g.Wait()
		return models.IapDetails{}, iaperrors.Parse(iaperrors.VendorGoogle, "verify", fmt.Sprintf("unknown product kind %q", productID.Kind), nil)
	}
}

// ParseAppleNotification verifies an App Store Server Notification body and
// maps it into the common model.
func (s *IAPService) ParseAppleNotification(ctx context.Context, body []byte) (models.IapUpdateNotification, error) {
	if s.appleParser == nil {
		return models.IapUpdateNotification{}, notConfigured(iaperrors.VendorApple, "parse_notification")
	}
	parsed, err := s.appleParser.Parse(body)
	if err != nil {
		return models.IapUpdateNotification{}, err
	}
	n, err := mapAppleNotification(parsed, s.now())
	if err != nil {
		return models.IapUpdateNotification{}, err
	}
	s.recordNotification(models.StoreAppStore, n)
	logger := logging.FromContext(ctx)
	logger.Info().Str("notification_id", n.NotificationID).
		Str("type", parsed.Payload.NotificationType).Str("subtype", parsed.Payload.Subtype).
		Str("kind", string(n.Details.Kind())).Msg("apple notification parsed")
	return n, nil
}

// ParseGoogleNotification authenticates a Pub/Sub push and maps the RTDN it
// carries into the common model.
func (s *IAPService) ParseGoogleNotification(ctx context.Context, authorization string, body []byte) (models.IapUpdateNotification, error) {
	if s.googleParser == nil {
		return models.IapUpdateNotification{}, notConfigured(iaperrors.VendorGoogle, "parse_notification")
	}
	msg, dn, err := s.googleParser.Parse(ctx, authorization, body)
	if err != nil {
		return models.IapUpdateNotification{}, err
	}
	n, err := s.googleMapper.mapNotification(ctx, msg, dn)
	if err != nil {
		return models.IapUpdateNotification{}, err
	}
	s.recordNotification(models.StoreGooglePlay, n)
	logger := logging.FromContext(ctx)
	logger.Info().Str("notification_id", n.NotificationID).
		Str("package", dn.PackageName).Str("kind", string(n.Details.Kind())).
		Msg("google notification parsed")
	return n, nil
}

// Consume is a no-op for the App Store, which has no server-side consume.
// Vendor errors, including "already consumed", are returned as they are.
func (s *IAPService) Consume(ctx context.Context, productID models.ProductID, purchaseID models.PurchaseID) error {
	switch purchaseID.Store {
	case models.StoreAppStore:
		return nil
	case models.StoreGooglePlay:
		if s.play == nil {
			return notConfigured(iaperrors.VendorGoogle, "consume")
		}
		return s.play.ConsumeProductPurchase(ctx, productID.SKU, purchaseID.Value)
	default:
		return iaperrors.Parse("", "consume", fmt.Sprintf("unknown store %q", purchaseID.Store), nil)
	}
}

// Acknowledge marks a Google purchase as acknowledged. App Store purchases
// need no acknowledgement.
func (s *IAPService) Acknowledge(ctx context.Context, productID models.ProductID, purchaseID models.PurchaseID) error {
	switch purchaseID.Store {
	case models.StoreAppStore:
		return nil
	case models.StoreGooglePlay:
		if s.play == nil {
			return notConfigured(iaperrors.VendorGoogle, "acknowledge")
		}
		if productID.Kind == models.ProductKindSubscription {
			return s.play.AcknowledgeSubscriptionPurchase(ctx, productID.SKU, purchaseID.Value)
		}
		return s.play.AcknowledgeProductPurchase(ctx, productID.SKU, purchaseID.Value)
	default:
		return iaperrors.Parse("", "acknowledge", fmt.Sprintf("unknown store %q", purchaseID.Store), nil)
	}
}

// RequestTestNotification asks Apple to send a TEST notification.
func (s *IAPService) RequestTestNotification(ctx context.Context, sandbox bool) (string, error) {
	if s.appStore == nil {
		return "", notConfigured(iaperrors.VendorApple, "request_test_notification")
	}
	return s.appStore.RequestTestNotification(ctx, sandbox)
}

func (s *IAPService) recordVerification(store models.Store, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "active"
	if err != nil {
		outcome = string(iaperrors.TypeOf(err))
	}
	s.metrics.RecordVerification(string(store), outcome)
}

func (s *IAPService) recordNotification(store models.Store, n models.IapUpdateNotification) {
	if s.metrics == nil || n.Details == nil {
		return
	}
	s.metrics.RecordNotification(string(store), string(n.Details.Kind()))
}

func storeVendor(store models.Store) iaperrors.Vendor {
	if store == models.StoreGooglePlay {
		return iaperrors.VendorGoogle
	}
	return iaperrors.VendorApple
}
