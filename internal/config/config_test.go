package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigIsValid(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxConcurrent, cfg.MaxConcurrent)
	assert.True(t, cfg.RejectOnCritical)
	assert.True(t, cfg.CacheEnabled)
	assert.True(t, cfg.PoolEnabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"recovery above high", func(c *Config) { c.RecoveryThreshold = 85 }, "recovery_threshold"},
		{"high above critical", func(c *Config) { c.HighThreshold = 95 }, "high_threshold"},
		{"critical above 100", func(c *Config) { c.CriticalThreshold = 101 }, "critical_threshold"},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, "max_concurrent"},
		{"zero cache", func(c *Config) { c.CacheMaxSize = 0 }, "cache_max_size"},
		{"tiny block", func(c *Config) { c.DeltaBlockSize = 1 }, "delta_block_size"},
		{"quality above 1", func(c *Config) { c.MaxQuality = 1.5 }, "max_quality"},
		{"min over max quality", func(c *Config) { c.MinQuality = 0.9; c.MaxQuality = 0.8 }, "min_quality"},
		{"bad bounds", func(c *Config) { c.MaxWidth = 10 }, "resolution bounds"},
		{"zero interval", func(c *Config) { c.SampleInterval = 0 }, "sample_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyLowResource(t *testing.T) {
	cfg := NewConfig()
	cfg.ApplyLowResource()
	assert.Equal(t, DefaultCacheMaxSize, cfg.CacheMaxSize, "no-op without low-resource mode")

	cfg.LowResourceMode = true
	cfg.ApplyLowResource()
	assert.Equal(t, LowResourceCacheMaxSize, cfg.CacheMaxSize)
	assert.Equal(t, LowResourceCacheMaxAge, cfg.CacheMaxAge)
	assert.Equal(t, LowResourcePoolMaxPerBucket, cfg.PoolMaxPerBucket)
	assert.True(t, cfg.CompactReferences)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(LowResourceEnv, "true")
	cfg := NewConfig()
	cfg.ApplyEnv()
	assert.True(t, cfg.LowResourceMode)

	t.Setenv(LowResourceEnv, "nope")
	cfg = NewConfig()
	cfg.ApplyEnv()
	assert.False(t, cfg.LowResourceMode)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framegate.yaml")
	content := "max_concurrent: 8\ncache_max_age: 45s\nlow_resource_mode: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 45*time.Second, cfg.CacheMaxAge)
	assert.True(t, cfg.LowResourceMode)
	assert.Equal(t, DefaultCacheMaxSize, cfg.CacheMaxSize, "unset keys keep defaults")
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurency: 3\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}
