package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"iapBack/internal/config"
	"iapBack/internal/handlers"
	"iapBack/internal/metrics"
	"iapBack/internal/repositories"
	"iapBack/internal/services"
	"iapBack/utils"
)

type application struct {
	cfg        config.Config
	iapService *services.IAPService
	iapHandler *handlers.IAPHandler
	gatherer   prometheus.Gatherer
	redis      *redis.Client
}

// initializeApp builds the service graph. A vendor without credentials is
// left nil so its operations fail with KeyInvalid instead of at startup.
func initializeApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*application, error) {
	if cfg.AWS.SecretID != "" {
		client, err := utils.NewSecretsManagerClient(cfg.AWS.Region)
		if err != nil {
			return nil, err
		}
		secrets, err := utils.FetchIAPSecrets(ctx, client, cfg.AWS.SecretID)
		if err != nil {
			return nil, err
		}
		cfg.ApplySecrets(secrets)
		logger.Info().Int("keys", len(secrets)).Msg("loaded credentials from secrets manager")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := metrics.Get()
	httpClient := &http.Client{Timeout: cfg.Timeout}

	appleVerifier, err := services.NewAppleVerifier()
	if err != nil {
		return nil, err
	}

	var appStore services.AppStoreAPI
	if cfg.AppleEnabled() {
		client, err := services.NewAppStoreClient(services.AppStoreConfig{
			IssuerID:      cfg.Apple.IssuerID,
			BundleID:      cfg.Apple.BundleID,
			KeyID:         cfg.Apple.KeyID,
			PrivateKey:    cfg.Apple.PrivateKey,
			ProductionURL: cfg.Apple.ProductionURL,
			SandboxURL:    cfg.Apple.SandboxURL,
			HTTPClient:    httpClient,
		}, appleVerifier, m)
		if err != nil {
			return nil, fmt.Errorf("app store client: %w", err)
		}
		appStore = client
	}

	var play services.PlayAPI
	if cfg.GoogleEnabled() {
		client, err := services.NewGooglePlayClient(ctx, services.GooglePlayConfig{
			PackageName:        cfg.Google.PackageName,
			ServiceAccountJSON: cfg.Google.ServiceAccountJSON,
			Endpoint:           cfg.Google.Endpoint,
			Timeout:            cfg.Timeout,
		}, m)
		if err != nil {
			return nil, fmt.Errorf("google play client: %w", err)
		}
		play = client
	}

	var googleParser *services.GoogleNotificationParser
	if cfg.Google.PushAudience != "" {
		verifier := services.NewGoogleVerifier(services.GoogleVerifierConfig{
			JWKSURL:         cfg.Google.JWKSURL,
			RefreshInterval: cfg.JWKSRefresh,
			HTTPClient:      httpClient,
		})
		googleParser = services.NewGoogleNotificationParser(verifier, cfg.Google.PushAudience)
	}

	svc := services.NewIAPService(services.IAPServiceConfig{
		AppStore:     appStore,
		Play:         play,
		AppleParser:  services.NewAppleNotificationParser(appleVerifier, cfg.Apple.Audience),
		GoogleParser: googleParser,
		Metrics:      m,
	})

	app := &application{
		cfg:        cfg,
		iapService: svc,
		gatherer:   prometheus.DefaultGatherer,
	}

	var guard handlers.NotificationGuard
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		app.redis = redis.NewClient(opts)
		guard = repositories.NewNotificationRepository(app.redis, cfg.NotificationTTL)
	}
	app.iapHandler = handlers.NewIAPHandler(svc, guard)

	logger.Info().
		Bool("apple_api", appStore != nil).
		Bool("google_api", play != nil).
		Bool("google_push", googleParser != nil).
		Bool("redelivery_guard", guard != nil).
		Msg("iap service initialized")
	return app, nil
}

func (app *application) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
}
