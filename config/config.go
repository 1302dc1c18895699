// Package config loads the server configuration from flags, environment,
// an optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

const localCallbackURL = "http://localhost:3001/api/auth/authenticate"

// ErrMissingJWTSecret is returned by Validate when no session secret is set.
var ErrMissingJWTSecret = errors.New("jwt_secret is required (set AUTH47_JWT_SECRET)")

type Config struct {
	HTTP          HTTPConfig          `mapstructure:"http"`
	CallbackURL   string              `mapstructure:"callback_url"`
	NgrokURL      string              `mapstructure:"ngrok_url"`
	Environment   string              `mapstructure:"environment"`
	FrontendURL   string              `mapstructure:"frontend_url"`
	JWTSecret     string              `mapstructure:"jwt_secret"`
	ChallengeTTL  time.Duration       `mapstructure:"challenge_ttl"`
	SessionTTL    time.Duration       `mapstructure:"session_ttl"`
	Store         StoreConfig         `mapstructure:"store"`
	Users         UsersConfig         `mapstructure:"users"`
	Events        EventsConfig        `mapstructure:"events"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisURL      string        `mapstructure:"redis_url"`
	BadgerDir     string        `mapstructure:"badger_dir"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Grace         time.Duration `mapstructure:"grace"`
}

type UsersConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type EventsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	RedisURL string `mapstructure:"redis_url"` // Falls back to store.redis_url
}

type ObservabilityConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":3001")
	v.SetDefault("callback_url", "")
	v.SetDefault("ngrok_url", "")
	v.SetDefault("environment", "development")
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("challenge_ttl", 300*time.Second)
	v.SetDefault("session_ttl", 24*time.Hour)

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.badger_dir", "./data/challenges")
	v.SetDefault("store.sweep_interval", 30*time.Second)
	v.SetDefault("store.grace", 30*time.Second)

	v.SetDefault("users.sqlite_path", "./data/auth47.db")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.redis_url", "")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
}

// BindServeFlags binds cobra flags to viper for the serve command.
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address")
	f.String("callback-url", "", "URL wallets post proofs to")
	f.String("frontend-url", "", "frontend origin used for redirects")
	f.String("store", "", "challenge store backend (memory, redis, badger)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, console)")

	_ = v.BindPFlag("http.addr", f.Lookup("addr"))
	_ = v.BindPFlag("callback_url", f.Lookup("callback-url"))
	_ = v.BindPFlag("frontend_url", f.Lookup("frontend-url"))
	_ = v.BindPFlag("store.backend", f.Lookup("store"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
}

// LoadDotEnv loads environment variables from the given files (".env" when
// none are given). Variables already set win; missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load reads config from flags, env, and file, returning the merged Config.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("AUTH47")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept for existing deployments.
	_ = v.BindEnv("jwt_secret", "AUTH47_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("callback_url", "AUTH47_CALLBACK_URL", "CALLBACK_URL")
	_ = v.BindEnv("ngrok_url", "AUTH47_NGROK_URL", "NGROK_URL")
	_ = v.BindEnv("environment", "AUTH47_ENVIRONMENT", "NODE_ENV")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("auth47")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/auth47")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	switch c.Store.Backend {
	case BackendMemory, BackendRedis, BackendBadger:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.ChallengeTTL < time.Second {
		return fmt.Errorf("challenge_ttl must be at least 1s, got %s", c.ChallengeTTL)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %s", c.SessionTTL)
	}
	return nil
}

// ResolvedCallbackURL picks the callback wallets are told to use: an explicit
// production callback first, then an ngrok tunnel, then the local default.
func (c Config) ResolvedCallbackURL() string {
	if c.Environment == "production" && c.CallbackURL != "" {
		return c.CallbackURL
	}
	if c.NgrokURL != "" {
		return strings.TrimRight(c.NgrokURL, "/") + "/api/auth/authenticate"
	}
	if c.CallbackURL != "" {
		return c.CallbackURL
	}
	return localCallbackURL
}

// EventsRedisURL returns the Redis URL for the login event stream.
func (c Config) EventsRedisURL() string {
	if c.Events.RedisURL != "" {
		return c.Events.RedisURL
	}
	return c.Store.RedisURL
}
