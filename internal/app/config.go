package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/quickbite/internal/remote"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the order server configuration, loadable from environment
// variables (QB_ prefix), flags, or YAML config files.
type Config struct {
	Addr             string        `default:"0.0.0.0:8080" usage:"Order API listen address"`
	DatabaseURL      string        `usage:"PostgreSQL connection URL (QB_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	UsersDatabaseURL string        `usage:"User service PostgreSQL URL, defaults to the database URL" flag:"users-database-url"`
	APIKeyPepper     string        `usage:"HMAC pepper for API key hashing (QB_API_KEY_PEPPER)" flag:"api-key-pepper"`
	PlacementTimeout time.Duration `default:"10s" usage:"Upper bound of one order placement" flag:"placement-timeout"`
	Promo            PromoClientConfig
	Partners         remote.Policy
	Reconcile        ReconcileConfig
	RateLimit        RateLimitConfig
	CORS             CORSConfig
	Graceful         GracefulConfig
}

// PromoClientConfig points the order server at promo-server.
type PromoClientConfig struct {
	URL    string `default:"http://localhost:8081" usage:"promo-server base URL"`
	APIKey string `usage:"Service API key presented to promo-server"`
	Policy remote.Policy
}

// ReconcileConfig controls the retry of failed saga compensations.
type ReconcileConfig struct {
	Schedule    string `default:"*/30 * * * * *" usage:"Cron spec with seconds"`
	BatchSize   int    `default:"50" usage:"Compensations per run"`
	MaxAttempts int    `default:"10" usage:"Attempts before a compensation needs manual action"`
}

// PromoConfig holds the promo server configuration (QB_PROMO_ prefix).
type PromoConfig struct {
	Addr         string `default:"0.0.0.0:8081" usage:"Promo API listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (QB_PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (QB_PROMO_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig locates the reservation store.
type RedisConfig struct {
	URL            string        `usage:"redis:// URL, overrides Addr (QB_PROMO_REDIS_URL or REDIS_URL)"`
	Addr           string        `default:"localhost:6379" usage:"Redis address"`
	Password       string        `usage:"Redis password"`
	DB             int           `default:"0" usage:"Redis database"`
	ReservationTTL time.Duration `default:"5m" usage:"Lifetime of a promo reservation token" flag:"reservation-ttl"`
}

// Options returns the client options of c.
func (c RedisConfig) Options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}, nil
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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

// LoadConfig loads the order server configuration from environment
// variables, YAML config files, and platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := load(&cfg, "QB", "config.yaml", "/etc/quickbite/config.yaml"); err != nil {
		return nil, err
	}

	cfg.Addr = platformAddr(cfg.Addr)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set QB_DATABASE_URL or DATABASE_URL")
	}
	if cfg.UsersDatabaseURL == "" {
		cfg.UsersDatabaseURL = cfg.DatabaseURL
	}
	if cfg.Promo.APIKey == "" {
		return nil, errors.New("promo-server API key is required: set QB_PROMO_API_KEY")
	}
	return &cfg, nil
}

// LoadPromoConfig loads the promo server configuration.
func LoadPromoConfig() (*PromoConfig, error) {
	var cfg PromoConfig
	if err := load(&cfg, "QB_PROMO", "promo.yaml", "/etc/quickbite/promo.yaml"); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set QB_PROMO_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = os.Getenv("REDIS_URL")
	}
	return &cfg, nil
}

func load(dst any, prefix string, files ...string) error {
	loader := aconfig.LoaderFor(dst, aconfig.Config{
		EnvPrefix: prefix,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
		// QB_ also prefixes every QB_PROMO_ variable.
		AllowUnknownEnvs: true,
	})
	if err := loader.Load(); err != nil {
		return errors.Wrap(err, "load config")
	}
	return nil
}

// platformAddr maps the PORT variable set by hosting platforms (Railway,
// Render, etc.) onto the default listen address.
func platformAddr(addr string) string {
	if port := os.Getenv("PORT"); port != "" && addr == defaultAddr {
		return "0.0.0.0:" + port
	}
	return addr
}
