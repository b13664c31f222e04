package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaultJWTSecret is only good enough for tokens nobody checks.
const defaultJWTSecret = "change-me"

type Config struct {
	Port         int    `yaml:"port"`
	HTTPAddr     string `yaml:"http_addr"`
	DBPath       string `yaml:"db_path"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	OutboxSize   int    `yaml:"outbox_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	JWTSecret           string `yaml:"jwt_secret"`
	TokenTTL            int    `yaml:"token_ttl"` // minutes
	RequireSessionToken bool   `yaml:"require_session_token"`
	BcryptCost          int    `yaml:"bcrypt_cost"`

	ControlSocket string `yaml:"control_socket"`
}

func Default() *Config {
	return &Config{
		Port:          3215,
		HTTPAddr:      ":3001",
		DBPath:        "parley.db",
		ReadTimeout:   120,
		WriteTimeout:  30,
		OutboxSize:    256,
		LogLevel:      "info",
		LogFormat:     "text",
		JWTSecret:     defaultJWTSecret,
		TokenTTL:      24 * 60,
		BcryptCost:    10,
		ControlSocket: "/tmp/parley.sock",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and PARLEY_* variables, each
// layer overriding the previous one.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Variables already in the environment win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envInt("PARLEY_PORT", &c.Port)
	envString("PARLEY_HTTP_ADDR", &c.HTTPAddr)
	envString("PARLEY_DB_PATH", &c.DBPath)
	envInt("PARLEY_READ_TIMEOUT", &c.ReadTimeout)
	envInt("PARLEY_WRITE_TIMEOUT", &c.WriteTimeout)
	envInt("PARLEY_OUTBOX_SIZE", &c.OutboxSize)
	envString("PARLEY_LOG_LEVEL", &c.LogLevel)
	envString("PARLEY_LOG_FORMAT", &c.LogFormat)
	envString("PARLEY_JWT_SECRET", &c.JWTSecret)
	envInt("PARLEY_TOKEN_TTL", &c.TokenTTL)
	envBool("PARLEY_REQUIRE_SESSION_TOKEN", &c.RequireSessionToken)
	envInt("PARLEY_BCRYPT_COST", &c.BcryptCost)
	envString("PARLEY_CONTROL_SOCKET", &c.ControlSocket)
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.OutboxSize <= 0 {
		return errors.New("outbox_size must be positive")
	}
	if c.RequireSessionToken && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return errors.New("jwt_secret must be set when session tokens are enforced")
	}
	return nil
}

func (c *Config) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

func (c *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

func (c *Config) TokenTTLDuration() time.Duration {
	return time.Duration(c.TokenTTL) * time.Minute
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
