// Package config loads contactsvc settings from defaults, an optional file
// and CONTACTGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dhawalhost/contactguard/pkg/database"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CONTACTGUARD_PDP_URL.
const EnvPrefix = "CONTACTGUARD"

type HTTP struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins" validate:"dive,required"`
}

type Log struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type JWT struct {
	Algorithm     string        `mapstructure:"algorithm" validate:"oneof=hs256 rs256 jwks"`
	Secret        string        `mapstructure:"secret" validate:"required_if=Algorithm hs256"`
	PublicKeyFile string        `mapstructure:"public_key_file" validate:"required_if=Algorithm rs256"`
	JWKSURL       string        `mapstructure:"jwks_url" validate:"required_if=Algorithm jwks,omitempty,url"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	Leeway        time.Duration `mapstructure:"leeway" validate:"gte=0"`
}

type PDP struct {
	URL   string `mapstructure:"url" validate:"required,url"`
	Token string `mapstructure:"token" validate:"excluded_with=TokenURL"`
	// TokenURL switches to the OAuth2 client credentials grant.
	TokenURL      string        `mapstructure:"token_url" validate:"omitempty,url"`
	ClientID      string        `mapstructure:"client_id" validate:"required_with=TokenURL"`
	ClientSecret  string        `mapstructure:"client_secret"`
	Scopes        []string      `mapstructure:"scopes"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PolicyVersion string        `mapstructure:"policy_version"`
}

type Store struct {
	Driver       string          `mapstructure:"driver" validate:"oneof=memory postgres"`
	FixturesFile string          `mapstructure:"fixtures_file"`
	Postgres     database.Config `mapstructure:"postgres"`
}

type RateLimit struct {
	// RPS of zero disables rate limiting.
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=1"`
}

type Authz struct {
	// Precedence is "not_found" or "forbidden"; see enforce.ParsePrecedence.
	Precedence string `mapstructure:"precedence" validate:"oneof=not_found forbidden"`
}

type Tracing struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	Environment string  `mapstructure:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// Config is the full service configuration.
type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	Log       Log       `mapstructure:"log"`
	JWT       JWT       `mapstructure:"jwt"`
	PDP       PDP       `mapstructure:"pdp"`
	Store     Store     `mapstructure:"store"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
	Authz     Authz     `mapstructure:"authz"`
	Tracing   Tracing   `mapstructure:"tracing"`
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("jwt.algorithm", "hs256")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.public_key_file", "")
	v.SetDefault("jwt.jwks_url", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.leeway", 30*time.Second)
	v.SetDefault("pdp.url", "http://localhost:3592")
	v.SetDefault("pdp.token", "")
	v.SetDefault("pdp.token_url", "")
	v.SetDefault("pdp.client_id", "")
	v.SetDefault("pdp.client_secret", "")
	v.SetDefault("pdp.scopes", []string{})
	v.SetDefault("pdp.timeout", 2*time.Second)
	v.SetDefault("pdp.policy_version", "")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.fixtures_file", "")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "contacts")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.name", "contacts")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.max_open_conns", 25)
	v.SetDefault("store.postgres.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("rate_limit.rps", 50.0)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("authz.precedence", "not_found")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "contactsvc")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads defaults, then the optional file at path, then the environment.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// Decode decodes the settings held by v without validating them. Tools that
// only need part of the configuration use it directly.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Driver == "postgres" {
		pg := c.Store.Postgres
		if pg.Host == "" || pg.DBName == "" || pg.Port <= 0 {
			return errors.New("invalid config: store.postgres needs host, port and name")
		}
	}
	return nil
}
