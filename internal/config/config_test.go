package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, ".", cfg.Server.StaticDir)

	assert.Equal(t, "model/bert_text_classifier", cfg.Model.Dir)
	assert.Equal(t, "", cfg.Model.RuntimeLib)
	assert.Equal(t, 128, cfg.Model.MaxLength)
	assert.Equal(t, 4, cfg.Model.IntraOpThreads)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, "", cfg.Cache.Addr)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("BERTSERVE_SERVER_PORT", "9090")
	t.Setenv("BERTSERVE_MODEL_DIR", "/srv/models/sst2")
	t.Setenv("BERTSERVE_LOG_LEVEL", "debug")
	t.Setenv("BERTSERVE_CACHE_TTL", "10m")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/srv/models/sst2", cfg.Model.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("BERTSERVE_SERVER_PORT", "9090")

	cfg, err := Load([]string{"--port", "8081", "--model-dir", "/tmp/m", "--max-length", "64"})
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "/tmp/m", cfg.Model.Dir)
	assert.Equal(t, 64, cfg.Model.MaxLength)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bertserve.yaml")
	body := []byte("server:\n  port: 7000\n  write_timeout: 5s\nmodel:\n  dir: ./checkpoints/bert\ncache:\n  addr: localhost:6379\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "./checkpoints/bert", cfg.Model.Dir)
	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestLoad_UnknownFlag(t *testing.T) {
	_, err := Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 5000}
	assert.Equal(t, "0.0.0.0:5000", s.Addr())
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load(nil)
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"empty model dir", func(c *Config) { c.Model.Dir = "" }, "model dir"},
		{"max length too small", func(c *Config) { c.Model.MaxLength = 2 }, "max length"},
		{"negative threads", func(c *Config) { c.Model.IntraOpThreads = -1 }, "threads"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"cache without ttl", func(c *Config) { c.Cache.Addr = "localhost:6379"; c.Cache.TTL = 0 }, "cache ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
