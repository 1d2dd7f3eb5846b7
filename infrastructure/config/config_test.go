package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainconfig "graphsync/domain/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 0.6, cfg.BreakerFailureThreshold)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("STORE_BACKEND", "Neo4j")
	t.Setenv("NEO4J_URI", "neo4j://graph:7687")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("BREAKER_TIMEOUT", "45s")
	t.Setenv("BREAKER_MAX_REQUESTS", "7")
	t.Setenv("ENABLE_CORS", "0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreNeo4j, cfg.StoreBackend)
	assert.Equal(t, "neo4j://graph:7687", cfg.Neo4jURI)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 45*time.Second, cfg.BreakerTimeout)
	assert.Equal(t, 7, cfg.BreakerMaxRequests)
	assert.False(t, cfg.EnableCORS)
}

func TestLoadConfigOverlaysEngineFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  pollInterval: 10s\n  commitCap: 5\n"), 0o644))
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 5, cfg.Engine.CommitCap)
	// untouched keys keep their defaults
	assert.Equal(t, 2*time.Second, cfg.Engine.Debounce)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:             "development",
			StoreBackend:            StoreMemory,
			BreakerFailureThreshold: 0.6,
			Engine:                  domainconfig.DefaultEngineConfig(),
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.StoreBackend = "sqlite" }, "unknown STORE_BACKEND"},
		{"dynamodb without table", func(c *Config) { c.StoreBackend = StoreDynamoDB; c.GraphID = "g" }, "DYNAMODB_TABLE"},
		{"auth without secret", func(c *Config) { c.EnableAuth = true }, "JWT_SECRET"},
		{"memory in production", func(c *Config) { c.Environment = "production" }, "memory store"},
		{"threshold out of range", func(c *Config) { c.BreakerFailureThreshold = 1.5 }, "BREAKER_FAILURE_THRESHOLD"},
		{"bad engine", func(c *Config) { c.Engine.CommitCap = 0 }, "commitCap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseEngine(t *testing.T) {
	base := domainconfig.DefaultEngineConfig()

	t.Run("no engine section keeps base", func(t *testing.T) {
		got, err := ParseEngine([]byte("other: 1\n"), base)
		require.NoError(t, err)
		assert.Equal(t, *base, *got)
	})
	t.Run("invalid values rejected", func(t *testing.T) {
		_, err := ParseEngine([]byte("engine:\n  commitCap: -1\n"), base)
		assert.ErrorContains(t, err, "invalid engine configuration")
	})
	t.Run("malformed yaml", func(t *testing.T) {
		_, err := ParseEngine([]byte("engine: [\n"), base)
		assert.Error(t, err)
	})
	t.Run("base is not mutated", func(t *testing.T) {
		_, err := ParseEngine([]byte("engine:\n  focusHops: 3\n"), base)
		require.NoError(t, err)
		assert.Equal(t, 1, base.FocusHops)
	})
}

func TestWatcherReloadSwapsHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  debounce: 1s\n"), 0o644))
	holder := domainconfig.NewHolder(nil)

	w, err := NewWatcher(path, holder, nil)
	require.NoError(t, err)
	var seen *domainconfig.EngineConfig
	w.OnChange(func(c *domainconfig.EngineConfig) { seen = c })

	require.NoError(t, w.Reload())
	assert.Equal(t, time.Second, holder.Get().Debounce)
	require.NotNil(t, seen)

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  commitCap: 0\n"), 0o644))
	assert.Error(t, w.Reload())
	assert.Equal(t, 3, holder.Get().CommitCap)
}

func TestWatcherPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  focusHops: 1\n"), 0o644))
	holder := domainconfig.NewHolder(nil)

	w, err := NewWatcher(path, holder, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  focusHops: 2\n"), 0o644))
	assert.Eventually(t, func() bool {
		return holder.Get().FocusHops == 2
	}, 5*time.Second, 20*time.Millisecond)
}
