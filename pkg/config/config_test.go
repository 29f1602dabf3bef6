package config

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/drf-client/internal/testutil"
	"github.com/Sternrassler/drf-client/pkg/cache"
	"github.com/Sternrassler/drf-client/pkg/client"
	"github.com/Sternrassler/drf-client/pkg/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "https://api.example.com/api",
			Locale:  "en-us",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Server:  ServerConfig{Port: 8080},
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://api.example.com/api
  locale: pt-br
  timeout: 5s
  max_retries: 2
  max_pages: 50
cache:
  redis_addr: localhost:6379
  ttl: 1m
logging:
  level: debug
  format: json
server:
  port: 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "pt-br", cfg.API.Locale)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 2, cfg.API.MaxRetries)
	assert.Equal(t, 50, cfg.API.MaxPages)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.RedisEnabled())
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "api:\n  base_url: http://localhost:8000/api\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "en-us", cfg.API.Locale)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 0, cfg.API.MaxRetries)
	assert.Equal(t, cache.DefaultStoreTTL, cfg.Cache.TTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.RedisEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "api:\n  base_url: http://localhost:8000/api\n")

	t.Setenv("DRF_API_BASE_URL", "https://other.example.com/api")
	t.Setenv("DRF_API_LOCALE", "es")
	t.Setenv("DRF_API_TIMEOUT", "2s")
	t.Setenv("DRF_SERVER_PORT", "7000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://other.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "es", cfg.API.Locale)
	assert.Equal(t, 2*time.Second, cfg.API.Timeout)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_EnvOnly(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DRF_API_BASE_URL", "http://localhost:8000/api")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api", cfg.API.BaseURL)
}

func TestLoadWith_Overrides(t *testing.T) {
	path := writeConfig(t, "api:\n  base_url: http://localhost:8000/api\n  locale: fr\n")
	t.Setenv("DRF_API_LOCALE", "es")

	cfg, err := LoadWith(path, map[string]any{
		"api.locale":    "pt-br",
		"logging.level": "error",
	})
	require.NoError(t, err)

	assert.Equal(t, "pt-br", cfg.API.Locale)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "http://localhost:8000/api", cfg.API.BaseURL)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config")
	})

	t.Run("missing base url", func(t *testing.T) {
		path := writeConfig(t, "logging:\n  level: info\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api.base_url is required")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "relative base url", mutate: func(c *Config) { c.API.BaseURL = "/api" }, wantErr: "absolute url"},
		{name: "zero timeout", mutate: func(c *Config) { c.API.Timeout = 0 }, wantErr: "api.timeout"},
		{name: "negative retries", mutate: func(c *Config) { c.API.MaxRetries = -1 }, wantErr: "api.max_retries"},
		{name: "negative max pages", mutate: func(c *Config) { c.API.MaxPages = -1 }, wantErr: "api.max_pages"},
		{name: "negative ttl", mutate: func(c *Config) { c.Cache.TTL = -time.Second }, wantErr: "cache.ttl"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging format"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := validConfig()
	cfg.API.Locale = "pt-br"
	cfg.API.UserAgent = "drfetch-test"
	cfg.API.MaxRetries = 3
	cfg.API.MaxPages = 10
	cfg.Cache.TTL = time.Minute
	cfg.Logging = LoggingConfig{Level: "DEBUG", Format: "Console"}

	cc := cfg.ClientConfig()
	assert.Equal(t, cfg.API.BaseURL, cc.BaseURL)
	assert.Equal(t, "pt-br", cc.Locale)
	assert.Equal(t, "drfetch-test", cc.UserAgent)
	assert.Equal(t, 3, cc.Retry.MaxRetries)
	assert.NotNil(t, cc.Throttle)

	ac := cfg.APIConfig(nil)
	assert.Equal(t, 10, ac.Pagination.MaxPages)
	assert.Nil(t, ac.Cache.Store)

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatConsole, lc.Format)
}

func TestClientConfig_RetryAfterDelaysNextRequest(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	var hits atomic.Int32
	mock.SetHandler("/api/busy/", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": []}`))
	})

	cfg := validConfig()
	cfg.API.BaseURL = mock.URL() + "/api"
	cc := cfg.ClientConfig()
	hc, err := client.New(cc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = hc.FetchPage(ctx, "/busy/", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, client.StatusCode(err))
	assert.True(t, cc.Throttle.Throttled())

	start := time.Now()
	_, err = hc.FetchPage(ctx, "/busy/", nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, int32(2), hits.Load())
	assert.False(t, cc.Throttle.Throttled())
}
