// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	DatabaseDSN    string
	DefaultRoom    string
	HistoryLimit   int
	MaxTextLength  int
	StoreTimeout   time.Duration
	AnnounceRejoin bool

	// JWTSecret enables session tokens when set.
	JWTSecret string
	TokenTTL  time.Duration
}

// Configuration keys. With AutomaticEnv each key is also read from the
// upper-cased environment variable of the same name.
const (
	keyPort            = "server_port"
	keyAllowedOrigins  = "allowed_origins"
	keyMaxMessageSize  = "max_message_size"
	keyRateLimitBurst  = "rate_limit_burst"
	keyRateLimitRefill = "rate_limit_refill_interval"
	keyDatabaseDSN     = "database_dsn"
	keyDefaultRoom     = "default_room"
	keyHistoryLimit    = "history_limit"
	keyMaxTextLength   = "max_text_length"
	keyStoreTimeout    = "store_timeout"
	keyAnnounceRejoin  = "announce_rejoin"
	keyJWTSecret       = "jwt_secret"
	keyTokenTTL        = "token_ttl"
)

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:3000",
		},
		MaxMessageSize: 8192,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		DatabaseDSN:   "chat.db",
		DefaultRoom:   "general",
		HistoryLimit:  50,
		MaxTextLength: 1000,
		StoreTimeout:  5 * time.Second,
		TokenTTL:      24 * time.Hour,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = def.DefaultRoom
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if floor := minMessageSize(cfg.MaxTextLength); cfg.MaxMessageSize < floor {
		cfg.MaxMessageSize = floor
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Validate reports configuration that cannot be repaired by defaults.
func (c Config) Validate() error {
	if c.DatabaseDSN == "" {
		return errors.New("database DSN must be set")
	}
	if _, _, err := net.SplitHostPort(c.Port); err != nil {
		return fmt.Errorf("invalid server port %q: %w", c.Port, err)
	}
	if c.HistoryLimit > 1000 {
		return errors.New("history limit must not exceed 1000")
	}
	if floor := minMessageSize(c.MaxTextLength); c.MaxMessageSize < floor {
		return fmt.Errorf("max message size %d cannot carry %d-character messages (need %d)", c.MaxMessageSize, c.MaxTextLength, floor)
	}
	return nil
}

// minMessageSize is the smallest read limit that fits a send-message frame
// with maxTextLength four-byte runes plus the envelope and identity fields.
func minMessageSize(maxTextLength int) int64 {
	return int64(4*maxTextLength + envelopeOverhead)
}

const envelopeOverhead = 512

// CoordinatorOptions maps the configuration onto coordinator options.
func (c Config) CoordinatorOptions() chat.Options {
	return chat.Options{
		DefaultRoom:    c.DefaultRoom,
		HistoryLimit:   c.HistoryLimit,
		MaxTextLength:  c.MaxTextLength,
		StoreTimeout:   c.StoreTimeout,
		AnnounceRejoin: c.AnnounceRejoin,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads the configuration from the environment and, when
// CONFIG_FILE names one, a config file. Unset values fall back to defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()
	def := defaultConfig()

	v.SetDefault(keyPort, def.Port)
	v.SetDefault(keyAllowedOrigins, strings.Join(def.AllowedOrigins, ","))
	v.SetDefault(keyMaxMessageSize, def.MaxMessageSize)
	v.SetDefault(keyRateLimitBurst, def.RateLimit.Burst)
	v.SetDefault(keyRateLimitRefill, "1")
	v.SetDefault(keyDatabaseDSN, def.DatabaseDSN)
	v.SetDefault(keyDefaultRoom, def.DefaultRoom)
	v.SetDefault(keyHistoryLimit, def.HistoryLimit)
	v.SetDefault(keyMaxTextLength, def.MaxTextLength)
	v.SetDefault(keyStoreTimeout, def.StoreTimeout.String())
	v.SetDefault(keyAnnounceRejoin, false)
	v.SetDefault(keyJWTSecret, "")
	v.SetDefault(keyTokenTTL, def.TokenTTL.String())
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	cfg := Config{
		Port:           v.GetString(keyPort),
		AllowedOrigins: originsValue(v.Get(keyAllowedOrigins)),
		MaxMessageSize: v.GetInt64(keyMaxMessageSize),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt(keyRateLimitBurst),
			RefillInterval: parseDuration(v.GetString(keyRateLimitRefill), def.RateLimit.RefillInterval),
		},
		DatabaseDSN:    v.GetString(keyDatabaseDSN),
		DefaultRoom:    v.GetString(keyDefaultRoom),
		HistoryLimit:   v.GetInt(keyHistoryLimit),
		MaxTextLength:  v.GetInt(keyMaxTextLength),
		StoreTimeout:   parseDuration(v.GetString(keyStoreTimeout), def.StoreTimeout),
		AnnounceRejoin: v.GetBool(keyAnnounceRejoin),
		JWTSecret:      v.GetString(keyJWTSecret),
		TokenTTL:       parseDuration(v.GetString(keyTokenTTL), def.TokenTTL),
	}

	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// originsValue accepts either a comma separated string (environment) or a
// list (config file).
func originsValue(raw any) []string {
	switch value := raw.(type) {
	case string:
		return parseOrigins(value)
	case []any:
		origins := make([]string, 0, len(value))
		for _, o := range value {
			origins = append(origins, strings.TrimSpace(fmt.Sprint(o)))
		}
		return origins
	case []string:
		return parseOrigins(strings.Join(value, ","))
	default:
		return nil
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseDuration accepts a Go duration ("250ms") or a whole number of seconds.
// viper's GetDuration would read a bare number as nanoseconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
