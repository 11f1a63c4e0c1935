// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file, and the file wins over
// the defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved server configuration.
type Config struct {
	Port           int      `yaml:"port"`
	DBPath         string   `yaml:"dbPath"`
	JWTSecret      string   `yaml:"jwtSecret"`
	TokenTTL       Duration `yaml:"tokenTTL"`
	LogLevel       string   `yaml:"logLevel"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	LLM     LLMConfig     `yaml:"llm"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Redis   RedisConfig   `yaml:"redis"`
	OTP     OTPConfig     `yaml:"otp"`
	Session SessionConfig `yaml:"session"`
	History HistoryConfig `yaml:"history"`
}

// LLMConfig selects the text-generation provider.
type LLMConfig struct {
	Provider          string   `yaml:"provider"`
	Model             string   `yaml:"model"`
	GeminiAPIKey      string   `yaml:"geminiAPIKey"`
	BaseURL           string   `yaml:"baseURL"`
	APIKey            string   `yaml:"apiKey"`
	OAuthTokenURL     string   `yaml:"oauthTokenURL"`
	OAuthClientID     string   `yaml:"oauthClientID"`
	OAuthClientSecret string   `yaml:"oauthClientSecret"`
	OAuthScopes       []string `yaml:"oauthScopes"`
	OptimizeTimeout   Duration `yaml:"optimizeTimeout"`
	GenerateTimeout   Duration `yaml:"generateTimeout"`
}

// SMTPConfig is the outgoing mail relay. An empty Host means codes are only
// logged.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// RedisConfig enables the shared keyed store. An empty Addr keeps everything
// in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type OTPConfig struct {
	TTL            Duration `yaml:"ttl"`
	ResendInterval Duration `yaml:"resendInterval"`
}

type SessionConfig struct {
	TTL           Duration `yaml:"ttl"`
	SweepInterval Duration `yaml:"sweepInterval"`
}

type HistoryConfig struct {
	Keep int `yaml:"keep"`
}

// Duration lets YAML carry "30s" style values.
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:           8000,
		DBPath:         "data/projects.db",
		TokenTTL:       Duration(24 * time.Hour),
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		LLM: LLMConfig{
			Provider:        "gemini",
			OptimizeTimeout: Duration(30 * time.Second),
			GenerateTimeout: Duration(120 * time.Second),
		},
		SMTP:    SMTPConfig{Port: 587},
		Redis:   RedisConfig{Prefix: "promptforge"},
		OTP:     OTPConfig{TTL: Duration(10 * time.Minute), ResendInterval: Duration(30 * time.Second)},
		Session: SessionConfig{TTL: Duration(time.Hour), SweepInterval: Duration(5 * time.Minute)},
		History: HistoryConfig{Keep: 5},
	}
}

// Load starts from Default, merges the YAML file at path when path is not
// empty, applies environment overrides and validates the result. A missing
// file is an error only when path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", name, err))
				return
			}
			*dst = Duration(d)
		}
	}
	list := func(name string, dst *[]string) {
		if v := os.Getenv(name); v != "" {
			*dst = splitList(v)
		}
	}

	integer("PORT", &cfg.Port)
	str("DB_PATH", &cfg.DBPath)
	str("JWT_SECRET", &cfg.JWTSecret)
	dur("TOKEN_TTL", &cfg.TokenTTL)
	str("LOG_LEVEL", &cfg.LogLevel)
	list("ALLOWED_ORIGINS", &cfg.AllowedOrigins)

	str("LLM_PROVIDER", &cfg.LLM.Provider)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("GEMINI_API_KEY", &cfg.LLM.GeminiAPIKey)
	str("LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("LLM_API_KEY", &cfg.LLM.APIKey)
	str("LLM_OAUTH_TOKEN_URL", &cfg.LLM.OAuthTokenURL)
	str("LLM_OAUTH_CLIENT_ID", &cfg.LLM.OAuthClientID)
	str("LLM_OAUTH_CLIENT_SECRET", &cfg.LLM.OAuthClientSecret)
	list("LLM_OAUTH_SCOPES", &cfg.LLM.OAuthScopes)
	dur("OPTIMIZE_TIMEOUT", &cfg.LLM.OptimizeTimeout)
	dur("GENERATE_TIMEOUT", &cfg.LLM.GenerateTimeout)

	str("SMTP_SERVER", &cfg.SMTP.Host)
	integer("SMTP_PORT", &cfg.SMTP.Port)
	str("EMAIL_ADDRESS", &cfg.SMTP.Username)
	str("EMAIL_PASSWORD", &cfg.SMTP.Password)
	str("EMAIL_FROM", &cfg.SMTP.From)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	integer("REDIS_DB", &cfg.Redis.DB)
	str("REDIS_PREFIX", &cfg.Redis.Prefix)

	dur("OTP_TTL", &cfg.OTP.TTL)
	dur("OTP_RESEND_INTERVAL", &cfg.OTP.ResendInterval)
	dur("SESSION_TTL", &cfg.Session.TTL)
	dur("SWEEP_INTERVAL", &cfg.Session.SweepInterval)
	integer("HISTORY_KEEP", &cfg.History.Keep)

	return errors.Join(errs...)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("config: dbPath is required")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return errors.New("config: jwtSecret must be at least 16 characters")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logLevel %q", c.LogLevel)
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "gemini", "openai":
	default:
		return fmt.Errorf("config: llm.provider must be gemini or openai, got %q", c.LLM.Provider)
	}
	durations := map[string]Duration{
		"tokenTTL":              c.TokenTTL,
		"llm.optimizeTimeout":   c.LLM.OptimizeTimeout,
		"llm.generateTimeout":   c.LLM.GenerateTimeout,
		"otp.ttl":               c.OTP.TTL,
		"session.ttl":           c.Session.TTL,
		"session.sweepInterval": c.Session.SweepInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.OTP.ResendInterval < 0 {
		return errors.New("config: otp.resendInterval must be >= 0")
	}
	if c.History.Keep < 1 {
		return errors.New("config: history.keep must be at least 1")
	}
	return nil
}

// SlogLevel converts LogLevel for slog.HandlerOptions. Unknown values fall
// back to Info; Validate rejects them earlier.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
