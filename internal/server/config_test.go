package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	def := defaultConfig()
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.AllowedOrigins, cfg.AllowedOrigins)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, "general", cfg.DefaultRoom)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Empty(t, cfg.JWTSecret)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("MAX_TEXT_LENGTH", "200")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "250ms")
	t.Setenv("DATABASE_DSN", "file:test.db")
	t.Setenv("HISTORY_LIMIT", "20")
	t.Setenv("STORE_TIMEOUT", "2")
	t.Setenv("ANNOUNCE_REJOIN", "true")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, 200, cfg.MaxTextLength)
	assert.Equal(t, RateLimitConfig{Burst: 10, RefillInterval: 250 * time.Millisecond}, cfg.RateLimit)
	assert.Equal(t, "file:test.db", cfg.DatabaseDSN)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.True(t, cfg.AnnounceRejoin)
	assert.Equal(t, "s3cret", cfg.JWTSecret)

	opts := cfg.CoordinatorOptions()
	assert.Equal(t, 20, opts.HistoryLimit)
	assert.True(t, opts.AnnounceRejoin)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	contents := "server_port: \":7070\"\nallowed_origins:\n  - https://chat.example.com\ndefault_room: lobby\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Port)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "lobby", cfg.DefaultRoom)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HISTORY_LIMIT", "5000")

	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("HISTORY_LIMIT", "")
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{Port: "8081", AllowedOrigins: []string{"http://x"}})

	assert.Equal(t, ":8081", cfg.Port)
	assert.Equal(t, int64(8192), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "general", cfg.DefaultRoom)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"http://x"}, cfg.AllowedOrigins)
}

func TestMessageSizeCoversMaxText(t *testing.T) {
	def := defaultConfig()
	assert.GreaterOrEqual(t, def.MaxMessageSize, minMessageSize(def.MaxTextLength))

	cfg := sanitizeConfig(Config{MaxMessageSize: 4096, MaxTextLength: 1000})
	assert.Equal(t, int64(4*1000+512), cfg.MaxMessageSize, "read limit raised to fit the longest message")

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("MAX_TEXT_LENGTH", "2000")
	loaded, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(4*2000+512), loaded.MaxMessageSize)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "duration string", value: "1500ms", want: 1500 * time.Millisecond},
		{name: "seconds", value: "3", want: 3 * time.Second},
		{name: "empty", value: "", want: time.Minute},
		{name: "negative", value: "-2s", want: time.Minute},
		{name: "garbage", value: "soon", want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDuration(tt.value, time.Minute))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.DatabaseDSN = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Port = "not a port"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxMessageSize = 4096
	assert.Error(t, bad.Validate(), "1000-character messages do not fit in 4096 bytes")
}
