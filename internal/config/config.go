package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	DefaultAppleAudience   = "appstoreconnect-v1"
	DefaultTimeout         = 15 * time.Second
	DefaultJWKSRefresh     = 300 * time.Second
	DefaultNotificationTTL = 72 * time.Hour
	DefaultAddress         = ":4001"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Apple struct {
		IssuerID string `yaml:"issuer_id"`
		KeyID    string `yaml:"key_id"`
		// PrivateKey is the PEM of the App Store Connect API key (.p8).
		PrivateKey    string `yaml:"private_key"`
		BundleID      string `yaml:"bundle_id"`
		Audience      string `yaml:"audience"`
		ProductionURL string `yaml:"production_url"`
		SandboxURL    string `yaml:"sandbox_url"`
	} `yaml:"apple"`
	Google struct {
		PackageName string `yaml:"package_name"`
		// ServiceAccountJSON is the service account key file contents.
		ServiceAccountJSON string `yaml:"service_account_json"`
		PushAudience       string `yaml:"push_audience"`
		JWKSURL            string `yaml:"jwks_url"`
		Endpoint           string `yaml:"endpoint"`
	} `yaml:"google"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	AWS struct {
		Region   string `yaml:"region"`
		SecretID string `yaml:"secret_id"`
	} `yaml:"aws"`
	Timeout         time.Duration `yaml:"timeout"`
	JWKSRefresh     time.Duration `yaml:"jwks_refresh"`
	NotificationTTL time.Duration `yaml:"notification_ttl"`
}

// Load reads the YAML file at path (optional), then .env, then the process
// environment. Later sources win.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		c.Server.Address = ":" + strings.TrimPrefix(port, ":")
	}
	str(&c.Log.Level, "LOG_LEVEL")
	str(&c.Log.Format, "LOG_FORMAT")

	str(&c.Apple.IssuerID, "APPLE_ISSUER_ID")
	str(&c.Apple.KeyID, "APPLE_KEY_ID")
	str(&c.Apple.PrivateKey, "APPLE_API_KEY")
	str(&c.Apple.BundleID, "APPLE_BUNDLE_ID")
	str(&c.Apple.Audience, "APPLE_AUDIENCE")

	str(&c.Google.PackageName, "GOOGLE_PACKAGE_NAME")
	str(&c.Google.ServiceAccountJSON, "GOOGLE_API_KEY")
	str(&c.Google.PushAudience, "GOOGLE_PUSH_AUDIENCE")
	str(&c.Google.JWKSURL, "GOOGLE_JWKS_URL")

	str(&c.Redis.URL, "REDIS_URL")
	str(&c.AWS.Region, "AWS_REGION")
	str(&c.AWS.SecretID, "IAP_SECRET_ID")

	if v := strings.TrimSpace(getenv("IAP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("IAP_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := strings.TrimSpace(getenv("IAP_JWKS_REFRESH_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IAP_JWKS_REFRESH_SECONDS: %w", err)
		}
		c.JWKSRefresh = time.Duration(n) * time.Second
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Apple.Audience == "" {
		c.Apple.Audience = DefaultAppleAudience
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.JWKSRefresh <= 0 {
		c.JWKSRefresh = DefaultJWKSRefresh
	}
	if c.NotificationTTL <= 0 {
		c.NotificationTTL = DefaultNotificationTTL
	}
}

// ApplySecrets fills credentials that are still empty from a secret map
// keyed by the environment variable names.
func (c *Config) ApplySecrets(secrets map[string]string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = secrets[key]
		}
	}
	fill(&c.Apple.PrivateKey, "APPLE_API_KEY")
	fill(&c.Apple.KeyID, "APPLE_KEY_ID")
	fill(&c.Apple.IssuerID, "APPLE_ISSUER_ID")
	fill(&c.Google.ServiceAccountJSON, "GOOGLE_API_KEY")
}

// AppleEnabled reports whether App Store API credentials are present.
func (c Config) AppleEnabled() bool {
	return c.Apple.IssuerID != "" || c.Apple.KeyID != "" || c.Apple.PrivateKey != ""
}

func (c Config) GoogleEnabled() bool {
	return c.Google.PackageName != "" || c.Google.ServiceAccountJSON != ""
}

// Validate reports missing values for every vendor that is partly configured.
// A configuration with neither vendor is rejected.
func (c Config) Validate() error {
	var missing []string
	if !c.AppleEnabled() && !c.GoogleEnabled() {
		return errors.New("config: neither apple nor google is configured")
	}
	if c.AppleEnabled() {
		for name, v := range map[string]string{
			"apple.issuer_id":   c.Apple.IssuerID,
			"apple.key_id":      c.Apple.KeyID,
			"apple.private_key": c.Apple.PrivateKey,
			"apple.bundle_id":   c.Apple.BundleID,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
	}
	if c.GoogleEnabled() {
		for name, v := range map[string]string{
			"google.package_name":         c.Google.PackageName,
			"google.service_account_json": c.Google.ServiceAccountJSON,
			"google.push_audience":        c.Google.PushAudience,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("config: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
