package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/course-checkout/internal/storage"
	"github.com/xenking/course-checkout/pkg/httpmiddleware"
)

const defaultAddr = "0.0.0.0:8080"

// Config is the complete service configuration, loaded from COURSE_*
// environment variables, flags and config.yaml.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (COURSE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis URL for the auth cache (COURSE_REDIS_URL or REDIS_URL); empty disables caching" flag:"redis-url"`

	Auth      AuthConfig
	Omise     OmiseConfig
	Payment   PaymentConfig
	Slips     SlipConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// AuthConfig points at the GoTrue-compatible auth service.
type AuthConfig struct {
	URL      string        `usage:"Auth service base URL, e.g. https://<project>.supabase.co/auth/v1"`
	APIKey   string        `usage:"Auth service API key sent as the apikey header" flag:"auth-api-key"`
	Timeout  time.Duration `default:"10s" usage:"Auth call timeout"`
	CacheTTL time.Duration `default:"1m" usage:"How long resolved users are cached" flag:"auth-cache-ttl"`
}

// OmiseConfig holds payment gateway credentials.
type OmiseConfig struct {
	PublicKey string        `usage:"Omise public key (tokenization)" flag:"omise-public-key"`
	SecretKey string        `usage:"Omise secret key (charges)" flag:"omise-secret-key"`
	APIURL    string        `default:"https://api.omise.co" flag:"omise-api-url"`
	VaultURL  string        `default:"https://vault.omise.co" flag:"omise-vault-url"`
	Currency  string        `default:"thb" usage:"ISO 4217 charge currency, lowercase"`
	Timeout   time.Duration `default:"15s" usage:"Gateway call timeout"`
}

// PaymentConfig holds payment policy.
type PaymentConfig struct {
	MinChargeAmount int64 `default:"2000" usage:"Minimum chargeable amount in minor currency units" flag:"min-charge-amount"`
}

// SlipConfig selects where bank transfer slips are stored. OSS is used when
// an endpoint is set, a local directory otherwise.
type SlipConfig struct {
	OSS     storage.OSSConfig
	Dir     string `default:"data/slips" usage:"Local slip directory when OSS is not configured" flag:"slip-dir"`
	BaseURL string `default:"/slips" usage:"URL prefix of locally stored slips" flag:"slip-base-url"`
	Limits  storage.Limits
}

// RateLimitConfig controls the per-client limiter on the auth routes.
type RateLimitConfig struct {
	Max    int           `default:"10" usage:"Max auth requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
	// TrustedProxies are CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For is believed. Empty keys clients by peer address.
	TrustedProxies []string `usage:"Reverse proxies allowed to set X-Forwarded-For"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig reads an optional .env file, then environment variables and
// YAML config files.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "COURSE",
		Files:     []string{"config.yaml", "/etc/course-checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the unprefixed DATABASE_URL, REDIS_URL and PORT
// that hosting platforms provide.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set COURSE_DATABASE_URL or DATABASE_URL")
	case c.Auth.URL == "":
		return errors.New("auth URL is required: set COURSE_AUTH_URL")
	case c.Omise.PublicKey == "" || c.Omise.SecretKey == "":
		return errors.New("omise keys are required: set COURSE_OMISE_PUBLIC_KEY and COURSE_OMISE_SECRET_KEY")
	case c.Payment.MinChargeAmount <= 0:
		return errors.New("minimum charge amount must be positive")
	}
	if _, err := httpmiddleware.ParsePrefixes(c.RateLimit.TrustedProxies); err != nil {
		return errors.Wrap(err, "trusted proxies")
	}
	return nil
}
