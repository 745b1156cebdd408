package cybersourceauth

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/OpsMx/cybersource-auth-client/pkg/keys"
	"github.com/OpsMx/cybersource-auth-client/pkg/types"
)

// Environment variables read by LoadConfigFromEnv
const (
	EnvMerchantID      = "CYBS_MERCHANT_ID"
	EnvHost            = "CYBS_HOST"
	EnvKeyID           = "CYBS_KEY_ID"
	EnvSecretKey       = "CYBS_SECRET_KEY"
	EnvKeyFetchTimeout = "CYBS_KEY_FETCH_TIMEOUT"
	EnvKeyCacheTTL     = "CYBS_KEY_CACHE_TTL"
	EnvRedisURL        = "CYBS_REDIS_URL"
)

// Config holds the credentials and tuning of a Client
type Config struct {
	MerchantID string // Merchant identifier sent as v-c-merchant-id
	Host       string // API host, e.g. apitest.cybersource.com
	KeyID      string // Shared secret key identifier
	SecretKey  string // Base64 encoded shared secret

	// Upper bound on a public key fetch during token validation
	KeyFetchTimeout time.Duration
	// How long fetched public keys are reused. Zero fetches the key on
	// every validation.
	KeyCacheTTL time.Duration
	// When set together with KeyCacheTTL, keys are cached in redis
	// instead of in process memory
	RedisURL string
}

// LoadConfigFromEnv reads the client configuration from environment variables
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		MerchantID:      os.Getenv(EnvMerchantID),
		Host:            os.Getenv(EnvHost),
		KeyID:           os.Getenv(EnvKeyID),
		SecretKey:       os.Getenv(EnvSecretKey),
		KeyFetchTimeout: keys.DefaultTimeout,
		RedisURL:        os.Getenv(EnvRedisURL),
	}

	if v := os.Getenv(EnvKeyFetchTimeout); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, types.WrapClientError(types.ErrCodeConfigurationError, types.StageConfiguration,
				fmt.Sprintf("%s is not a valid duration", EnvKeyFetchTimeout), err)
		}
		cfg.KeyFetchTimeout = timeout
	}
	if v := os.Getenv(EnvKeyCacheTTL); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, types.WrapClientError(types.ErrCodeConfigurationError, types.StageConfiguration,
				fmt.Sprintf("%s is not a valid duration", EnvKeyCacheTTL), err)
		}
		cfg.KeyCacheTTL = ttl
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that all required settings are present
func (c *Config) Validate() error {
	for _, setting := range []struct {
		env   string
		value string
	}{
		{EnvMerchantID, c.MerchantID},
		{EnvHost, c.Host},
		{EnvKeyID, c.KeyID},
		{EnvSecretKey, c.SecretKey},
	} {
		if setting.value == "" {
			return types.NewClientError(types.ErrCodeConfigurationError, types.StageConfiguration,
				fmt.Sprintf("%s environment variable is required", setting.env))
		}
	}
	if _, err := base64.StdEncoding.DecodeString(c.SecretKey); err != nil {
		return types.WrapClientError(types.ErrCodeConfigurationError, types.StageConfiguration,
			fmt.Sprintf("%s must be base64 encoded", EnvSecretKey), err)
	}
	if c.KeyFetchTimeout < 0 {
		return types.NewClientError(types.ErrCodeConfigurationError, types.StageConfiguration,
			"key fetch timeout must not be negative")
	}
	if c.KeyCacheTTL < 0 {
		return types.NewClientError(types.ErrCodeConfigurationError, types.StageConfiguration,
			"key cache TTL must not be negative")
	}
	return nil
}
