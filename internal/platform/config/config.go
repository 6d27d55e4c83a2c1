package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	ModeDev        = "dev"
	ModeProduction = "production"
)

// devSecret is the well-known dev secret; production refuses to start with it.
const devSecret = "T3xt!RpG0hsN4P!!"

type Config struct {
	Mode           string        `env:"APP_MODE"`
	HTTPAddr       string        `env:"HTTP_ADDR"`
	CorsOrigin     string        `env:"CORS_ORIGIN"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT"`
	ShutdownTimout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"`
	MaxRequestBody int64         `env:"MAX_REQUEST_BODY_BYTES"`

	StoreURL      string `env:"STORE_URL"`
	StoreDatabase string `env:"STORE_DATABASE"`
	// MigrationDir overrides the migrations embedded in the postgres driver.
	MigrationDir string `env:"MIGRATION_DIR"`
	PGMaxConns   int32  `env:"PG_MAX_CONNS"`
	PGMinConns   int32  `env:"PG_MIN_CONNS"`

	CookieName   string        `env:"SESSION_COOKIE_NAME"`
	CookieSecret string        `env:"SESSION_COOKIE_SECRET"`
	CookieSecure bool          `env:"SESSION_COOKIE_SECURE"`
	SessionTTL   time.Duration `env:"SESSION_TTL"`

	PasswordPepper        string `env:"PASSWORD_PEPPER"`
	PasswordTime          uint32 `env:"PASSWORD_ARGON_TIME"`
	PasswordMemoryKiB     uint32 `env:"PASSWORD_ARGON_MEMORY_KIB"`
	ValidationSingleError bool   `env:"VALIDATION_SINGLE_ERROR"`

	CharacterClasses []string `env:"CHARACTER_CLASSES" envSeparator:","`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`
	NATSURL       string `env:"NATS_URL"`
}

// Defaults returns the static configuration for a deployment mode. Unknown
// modes fall back to dev.
func Defaults(mode string) Config {
	cfg := Config{
		Mode:           ModeDev,
		HTTPAddr:       ":3000",
		CorsOrigin:     "*",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		RequestTimeout: 20 * time.Second,
		ShutdownTimout: 20 * time.Second,
		MaxRequestBody: 1 << 20,

		StoreURL:      "mongodb://127.0.0.1:27017",
		StoreDatabase: "rpg",
		PGMaxConns:    25,
		PGMinConns:    2,

		CookieName:   "rpg.sid",
		CookieSecret: devSecret,
		SessionTTL:   24 * time.Hour,

		PasswordPepper:    devSecret,
		PasswordTime:      1,
		PasswordMemoryKiB: 16 * 1024,

		CharacterClasses: []string{"warrior"},

		RedisAddr: "localhost:6379",
		NATSURL:   "nats://localhost:4222",
	}
	if strings.EqualFold(mode, ModeProduction) {
		cfg.Mode = ModeProduction
		cfg.HTTPAddr = ":8080"
		cfg.CorsOrigin = ""
		cfg.CookieSecure = true
		cfg.CookieSecret = ""
		cfg.PasswordPepper = ""
		cfg.PasswordTime = 3
		cfg.PasswordMemoryKiB = 64 * 1024
	}
	return cfg
}

// Load builds the configuration from the mode selected by APP_MODE and lets
// individual environment variables override it.
func Load() (Config, error) {
	return load(env.ToMap(os.Environ()))
}

func load(environ map[string]string) (Config, error) {
	mode := environ["APP_MODE"]
	if mode == "" {
		mode = ModeDev
	}
	cfg := Defaults(mode)
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.CookieSecret == "" {
		return fmt.Errorf("SESSION_COOKIE_SECRET must not be empty")
	}
	if c.PasswordPepper == "" {
		return fmt.Errorf("PASSWORD_PEPPER must not be empty")
	}
	if c.Mode == ModeProduction && (c.CookieSecret == devSecret || c.PasswordPepper == devSecret) {
		return fmt.Errorf("production mode requires non-default secrets")
	}
	if c.PasswordTime == 0 || c.PasswordTime > 10 {
		return fmt.Errorf("PASSWORD_ARGON_TIME must be between 1 and 10")
	}
	if c.PasswordMemoryKiB < 8*1024 {
		return fmt.Errorf("PASSWORD_ARGON_MEMORY_KIB must be at least 8192")
	}
	if len(c.CharacterClasses) == 0 {
		return fmt.Errorf("CHARACTER_CLASSES must not be empty")
	}
	if c.PGMinConns > c.PGMaxConns {
		return fmt.Errorf("PG_MIN_CONNS must not exceed PG_MAX_CONNS")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	return nil
}

func (c Config) IsDev() bool {
	return c.Mode == ModeDev
}
