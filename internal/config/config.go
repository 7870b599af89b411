// Package config loads server configuration from the environment.
//
// A .env file in the working directory is loaded first when present, so local
// development needs no exported variables. Real environment variables win
// over .env entries (godotenv never overwrites a variable that is already set).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Store backends selectable with STORE.
const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

// MinSecretLength is the shortest accepted JWT_SECRET.
const MinSecretLength = 16

// Config holds every setting the server reads at startup.
type Config struct {
	Port int `env:"PORT" envDefault:"5000"`

	JWTSecret string        `env:"JWT_SECRET,required"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"168h"`

	Store string `env:"STORE" envDefault:"sqlite"`

	// SQLite
	DBPath string `env:"DB_PATH" envDefault:"data/quizapp.db"`

	// MongoDB
	MongoURI      string `env:"MONGODB_URI" envDefault:"mongodb://127.0.0.1:27017/quizapp"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"quizapp"`

	PasswordAlgorithm string `env:"PASSWORD_ALGORITHM" envDefault:"bcrypt"`
	BcryptCost        int    `env:"BCRYPT_COST" envDefault:"12"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads .env (if it exists) and then the environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); !os.IsNotExist(err) {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("loading .env file: %w", err)
		}
	}
	return Parse()
}

// Parse reads the environment only. Load is the usual entry point; Parse is
// what tests call.
func Parse() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration from environment: %w", err)
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.PasswordAlgorithm = strings.ToLower(strings.TrimSpace(cfg.PasswordAlgorithm))
	cfg.CORSAllowedOrigins = trimAll(cfg.CORSAllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env.Parse cannot check on its own.
func (c *Config) Validate() error {
	var errs []error

	if len(c.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", MinSecretLength))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL))
	}
	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required when STORE=sqlite"))
		}
	case StoreMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			errs = append(errs, errors.New("MONGODB_URI and MONGODB_DATABASE are required when STORE=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE must be %q or %q, got %q", StoreSQLite, StoreMongo, c.Store))
	}
	switch c.PasswordAlgorithm {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("PASSWORD_ALGORITHM must be bcrypt or argon2id, got %q", c.PasswordAlgorithm))
	}

	return errors.Join(errs...)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		out = append(out, "*")
	}
	return out
}
