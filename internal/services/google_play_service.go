package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"
	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/metrics"
)

const defaultCalloutTimeout = 15 * time.Second

type GooglePlayConfig struct {
	PackageName        string
	ServiceAccountJSON string
	// Endpoint overrides the androidpublisher base URL.
	Endpoint string
	Timeout  time.Duration

	// ClientOptions are appended after the credential options.
	ClientOptions []option.ClientOption
}

// GooglePlayClient wraps the Google Play Developer API for one package.
type GooglePlayClient struct {
	packageName string
	timeout     time.Duration
	svc         *androidpublisher.Service
	metrics     *metrics.IAPMetrics
}

func NewGooglePlayClient(ctx context.Context, cfg GooglePlayConfig, m *metrics.IAPMetrics) (*GooglePlayClient, error) {
	cfg.PackageName = strings.TrimSpace(cfg.PackageName)
	if cfg.PackageName == "" {
		return nil, iaperrors.KeyInvalid(iaperrors.VendorGoogle, "new_client", errors.New("package name is empty"))
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.ServiceAccountJSON) != "" {
		creds, err := google.CredentialsFromJSON(ctx, []byte(cfg.ServiceAccountJSON), androidpublisher.AndroidpublisherScope)
		if err != nil {
			return nil, iaperrors.KeyInvalid(iaperrors.VendorGoogle, "load_service_account", err)
		}
		opts = append(opts, option.WithTokenSource(creds.TokenSource))
	} else if len(cfg.ClientOptions) == 0 {
		return nil, iaperrors.KeyInvalid(iaperrors.VendorGoogle, "load_service_account", errors.New("service account json is empty"))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, cfg.ClientOptions...)

	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, iaperrors.KeyInvalid(iaperrors.VendorGoogle, "new_client", fmt.Errorf("androidpublisher.NewService: %w", err))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCalloutTimeout
	}
	return &GooglePlayClient{packageName: cfg.PackageName, timeout: timeout, svc: svc, metrics: m}, nil
}

func (c *GooglePlayClient) PackageName() string {
	return c.packageName
}

func (c *GooglePlayClient) GetProductPurchase(ctx context.Context, sku, token string) (*androidpublisher.ProductPurchase, error) {
	const op = "products.get"
	if err := requireArgs(op, sku, token); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.Purchases.Products.Get(c.packageName, sku, token).Context(ctx).Do()
	return resp, c.finish(op, token, err)
}

// GetSubscriptionPurchase uses subscriptionsv2, which needs no subscription id.
func (c *GooglePlayClient) GetSubscriptionPurchase(ctx context.Context, token string) (*androidpublisher.SubscriptionPurchaseV2, error) {
	const op = "subscriptionsv2.get"
	if err := requireArgs(op, token); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.Purchases.Subscriptionsv2.Get(c.packageName, token).Context(ctx).Do()
	return resp, c.finish(op, token, err)
}

func (c *GooglePlayClient) GetInAppProduct(ctx context.Context, sku string) (*androidpublisher.InAppProduct, error) {
	const op = "inappproducts.get"
	if err := requireArgs(op, sku); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.Inappproducts.Get(c.packageName, sku).Context(ctx).Do()
	return resp, c.finish(op, "", err)
}

func (c *GooglePlayClient) ConsumeProductPurchase(ctx context.Context, sku, token string) error {
	const op = "products.consume"
	if err := requireArgs(op, sku, token); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.svc.Purchases.Products.Consume(c.packageName, sku, token).Context(ctx).Do()
	return c.finish(op, token, err)
}

func (c *GooglePlayClient) AcknowledgeProductPurchase(ctx context.Context, sku, token string) error {
	const op = "products.acknowledge"
	if err := requireArgs(op, sku, token); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &androidpublisher.ProductPurchasesAcknowledgeRequest{}
	err := c.svc.Purchases.Products.Acknowledge(c.packageName, sku, token, req).Context(ctx).Do()
	return c.finish(op, token, err)
}

func (c *GooglePlayClient) AcknowledgeSubscriptionPurchase(ctx context.Context, sku, token string) error {
	const op = "subscriptions.acknowledge"
	if err := requireArgs(op, sku, token); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}
	err := c.svc.Purchases.Subscriptions.Acknowledge(c.packageName, sku, token, req).Context(ctx).Do()
	return c.finish(op, token, err)
}

// finish records the callout and maps err into the Transport taxonomy.
func (c *GooglePlayClient) finish(op, token string, err error) error {
	if c.metrics != nil {
		c.metrics.RecordVendorCallout(string(iaperrors.VendorGoogle), op, err)
	}
	if err == nil {
		log.Debug().Str("op", op).Int("token_len", len(token)).Msg("google play callout ok")
		return nil
	}
	return googleTransportError(op, err)
}

func googleTransportError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return iaperrors.Transport(iaperrors.VendorGoogle, op, fmt.Sprintf("unexpected status %d", gerr.Code), err).
			WithStatusCode(gerr.Code).
			WithDebug(gerr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return iaperrors.Transport(iaperrors.VendorGoogle, op, "request timed out", err)
	}
	return iaperrors.Transport(iaperrors.VendorGoogle, op, "request failed", err)
}

func requireArgs(op string, args ...string) error {
	for _, a := range args {
		if strings.TrimSpace(a) == "" {
			return iaperrors.Parse(iaperrors.VendorGoogle, op, "product id and purchase token are required", nil)
		}
	}
	return nil
}
