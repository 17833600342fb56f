package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "licensing"

type Config struct {
	App      AppConfig
	Redis    RedisConfig
	Signing  SigningConfig
	License  LicenseConfig
	Trial    TrialConfig
	Transfer TransferConfig
	Stripe   StripeConfig
	Sendgrid SendgridConfig
	CORS     CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Signing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LICENSING_APP_ENV" required:"true"`
	Port         string `envconfig:"LICENSING_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LICENSING_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LICENSING_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type RedisConfig struct {
	URL          string        `envconfig:"LICENSING_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LICENSING_REDIS_ADDR"`
	Password     string        `envconfig:"LICENSING_REDIS_PASSWORD"`
	DB           int           `envconfig:"LICENSING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LICENSING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LICENSING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LICENSING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LICENSING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LICENSING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// SigningConfig carries the Ed25519 key material. Either Key (a single
// base64 32-byte seed) or Keys (a JSON object of kid to base64 seed) must
// be set; ActiveKid selects the signer for newly issued tokens.
type SigningConfig struct {
	Key       string `envconfig:"LICENSING_SIGNING_KEY"`
	Keys      string `envconfig:"LICENSING_SIGNING_KEYS"`
	ActiveKid string `envconfig:"LICENSING_SIGNING_ACTIVE_KID" default:"primary"`
}

func (s SigningConfig) validate() error {
	if strings.TrimSpace(s.Key) == "" && strings.TrimSpace(s.Keys) == "" {
		return fmt.Errorf("either %s or %s is required", EnvSigningKey, EnvSigningKeys)
	}
	if strings.TrimSpace(s.ActiveKid) == "" {
		return fmt.Errorf("%s must not be blank", EnvSigningActiveKid)
	}
	return nil
}

type LicenseConfig struct {
	Issuer            string `envconfig:"LICENSING_LICENSE_ISSUER" default:"licensing-backend"`
	ExpirationMinutes int    `envconfig:"LICENSING_LICENSE_EXPIRATION_MINUTES" default:"10"`
}

// TokenTTL returns the license token lifetime.
func (l LicenseConfig) TokenTTL() time.Duration {
	if l.ExpirationMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(l.ExpirationMinutes) * time.Minute
}

type TrialConfig struct {
	DefaultAllowance int           `envconfig:"LICENSING_TRIAL_DEFAULT_ALLOWANCE" default:"3"`
	ClaimTokenTTL    time.Duration `envconfig:"LICENSING_TRIAL_CLAIM_TOKEN_TTL" default:"15m"`
}

type TransferConfig struct {
	TokenTTL      time.Duration `envconfig:"LICENSING_TRANSFER_TOKEN_TTL" default:"15m"`
	AcceptBaseURL string        `envconfig:"LICENSING_TRANSFER_ACCEPT_BASE_URL" required:"true"`
	AppScheme     string        `envconfig:"LICENSING_TRANSFER_APP_SCHEME" default:"pulsar"`
}

type StripeConfig struct {
	APIKey              string `envconfig:"LICENSING_STRIPE_API_KEY"`
	Secret              string `envconfig:"LICENSING_STRIPE_WEBHOOK_SECRET"`
	Env                 string `envconfig:"LICENSING_STRIPE_ENV" default:"test"`
	SubscriptionPriceID string `envconfig:"LICENSING_STRIPE_SUBSCRIPTION_PRICE_ID"`
	CheckoutSuccessURL  string `envconfig:"LICENSING_STRIPE_CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string `envconfig:"LICENSING_STRIPE_CHECKOUT_CANCEL_URL"`
	PortalReturnURL     string `envconfig:"LICENSING_STRIPE_PORTAL_RETURN_URL"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string `envconfig:"LICENSING_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"LICENSING_SENDGRID_FROM_EMAIL"`
	FromName    string `envconfig:"LICENSING_SENDGRID_FROM_NAME" default:"Pulsar Licensing"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"LICENSING_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}
