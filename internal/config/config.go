// Package config provides configuration types and defaults for framegate.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default constants
const (
	// DefaultHighThreshold is the memory usage percentage that enters High pressure.
	DefaultHighThreshold float64 = 80

	// DefaultCriticalThreshold is the memory usage percentage that enters Critical pressure.
	DefaultCriticalThreshold float64 = 90

	// DefaultRecoveryThreshold is the usage percentage at or below which readings count toward recovery.
	DefaultRecoveryThreshold float64 = 70

	// DefaultRecoverySamples is the number of consecutive low readings needed to return to Normal.
	DefaultRecoverySamples int = 2

	// DefaultSampleInterval is how often the pressure monitor samples host memory.
	DefaultSampleInterval = 5 * time.Second

	// DefaultMaxConcurrent is the base admission capacity under Normal pressure.
	DefaultMaxConcurrent int = 5

	// DefaultAcquireTimeout bounds how long a frame waits for an admission permit.
	DefaultAcquireTimeout = 5 * time.Second

	// DefaultPoolMaxPerBucket is the number of idle buffers kept per (width, height, format).
	DefaultPoolMaxPerBucket int = 5

	// DefaultPoolMaxAge is how long an idle pooled buffer survives pruning.
	DefaultPoolMaxAge = 30 * time.Second

	// DefaultCacheMaxSize is the maximum number of processed frames kept in the cache.
	DefaultCacheMaxSize int = 100

	// DefaultCacheMaxAge is the cache TTL measured from last access.
	DefaultCacheMaxAge = 30 * time.Second

	// DefaultMaintenanceInterval is the period of cache sweeps, pool pruning and delta eviction.
	DefaultMaintenanceInterval = 60 * time.Second

	// Delta codec defaults.
	DefaultDeltaChangeThreshold  int = 10
	DefaultDeltaBlockSize        int = 16
	DefaultDeltaKeyframeInterval int = 30
	DefaultDeltaIdleTimeout          = 5 * time.Minute

	// DefaultEncodeQuality is the JPEG quality used when compression is not requested
	// and for delta payloads.
	DefaultEncodeQuality float64 = 0.75

	// Compression quality bounds.
	DefaultMinQuality float64 = 0.5
	DefaultMaxQuality float64 = 0.95

	// Resolution bounds applied when scaling.
	DefaultMinWidth  int = 160
	DefaultMinHeight int = 120
	DefaultMaxWidth  int = 1280
	DefaultMaxHeight int = 720

	// DefaultPressureScaleCap is the largest scale factor allowed outside Normal pressure.
	DefaultPressureScaleCap float64 = 0.75

	// DefaultMaxBatchSize is the batch limit under Normal pressure.
	DefaultMaxBatchSize int = 10

	// Low-resource clamps.
	LowResourceCacheMaxSize     int = 20
	LowResourceCacheMaxAge          = 15 * time.Second
	LowResourcePoolMaxPerBucket int = 3

	// LowResourceEnv enables low-resource mode when set to a true value.
	LowResourceEnv = "LOW_RESOURCE_MODE"
)

// Config holds all configuration for the frame pipeline.
type Config struct {
	// Pressure monitoring
	HighThreshold     float64       `yaml:"high_threshold"`
	CriticalThreshold float64       `yaml:"critical_threshold"`
	RecoveryThreshold float64       `yaml:"recovery_threshold"`
	RecoverySamples   int           `yaml:"recovery_samples"`
	SampleInterval    time.Duration `yaml:"sample_interval"`
	CPUAware          bool          `yaml:"cpu_aware"` // Fold process CPU load into usage

	// Admission control
	MaxConcurrent    int           `yaml:"max_concurrent"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout"`
	RejectOnCritical bool          `yaml:"reject_on_critical"` // Fast-reject instead of waiting

	// Buffer pool
	PoolEnabled      bool          `yaml:"pool_enabled"`
	PoolMaxPerBucket int           `yaml:"pool_max_per_bucket"`
	PoolMaxAge       time.Duration `yaml:"pool_max_age"`

	// Frame cache
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheMaxSize int           `yaml:"cache_max_size"`
	CacheMaxAge  time.Duration `yaml:"cache_max_age"`

	// Delta encoding
	DeltaChangeThreshold  int           `yaml:"delta_change_threshold"`
	DeltaBlockSize        int           `yaml:"delta_block_size"`
	DeltaKeyframeInterval int           `yaml:"delta_keyframe_interval"`
	DeltaIdleTimeout      time.Duration `yaml:"delta_idle_timeout"`
	CompactReferences     bool          `yaml:"compact_references"`

	// Frame processing
	EncodeQuality    float64 `yaml:"encode_quality"`
	MinQuality       float64 `yaml:"min_quality"`
	MaxQuality       float64 `yaml:"max_quality"`
	MinWidth         int     `yaml:"min_width"`
	MinHeight        int     `yaml:"min_height"`
	MaxWidth         int     `yaml:"max_width"`
	MaxHeight        int     `yaml:"max_height"`
	PressureScaleCap float64 `yaml:"pressure_scale_cap"`
	MaxBatchSize     int     `yaml:"max_batch_size"`

	// Background maintenance
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	// Low-resource mode shrinks caches and uses cheaper fingerprints
	LowResourceMode bool `yaml:"low_resource_mode"`

	// Debug options
	Verbose bool `yaml:"verbose"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		HighThreshold:         DefaultHighThreshold,
		CriticalThreshold:     DefaultCriticalThreshold,
		RecoveryThreshold:     DefaultRecoveryThreshold,
		RecoverySamples:       DefaultRecoverySamples,
		SampleInterval:        DefaultSampleInterval,
		MaxConcurrent:         DefaultMaxConcurrent,
		AcquireTimeout:        DefaultAcquireTimeout,
		RejectOnCritical:      true,
		PoolEnabled:           true,
		PoolMaxPerBucket:      DefaultPoolMaxPerBucket,
		PoolMaxAge:            DefaultPoolMaxAge,
		CacheEnabled:          true,
		CacheMaxSize:          DefaultCacheMaxSize,
		CacheMaxAge:           DefaultCacheMaxAge,
		DeltaChangeThreshold:  DefaultDeltaChangeThreshold,
		DeltaBlockSize:        DefaultDeltaBlockSize,
		DeltaKeyframeInterval: DefaultDeltaKeyframeInterval,
		DeltaIdleTimeout:      DefaultDeltaIdleTimeout,
		EncodeQuality:         DefaultEncodeQuality,
		MinQuality:            DefaultMinQuality,
		MaxQuality:            DefaultMaxQuality,
		MinWidth:              DefaultMinWidth,
		MinHeight:             DefaultMinHeight,
		MaxWidth:              DefaultMaxWidth,
		MaxHeight:             DefaultMaxHeight,
		PressureScaleCap:      DefaultPressureScaleCap,
		MaxBatchSize:          DefaultMaxBatchSize,
		MaintenanceInterval:   DefaultMaintenanceInterval,
	}
}

// LoadFile reads a YAML file on top of the defaults.
// Unknown keys are rejected so typos surface early.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := NewConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv enables low-resource mode when LOW_RESOURCE_MODE is set to a true value.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(LowResourceEnv); ok {
		if enabled, err := strconv.ParseBool(v); err == nil && enabled {
			c.LowResourceMode = true
		}
	}
}

// ApplyLowResource clamps sizes when low-resource mode is on. It is a no-op otherwise.
func (c *Config) ApplyLowResource() {
	if !c.LowResourceMode {
		return
	}
	c.CacheMaxSize = min(c.CacheMaxSize, LowResourceCacheMaxSize)
	c.CacheMaxAge = min(c.CacheMaxAge, LowResourceCacheMaxAge)
	c.PoolMaxPerBucket = min(c.PoolMaxPerBucket, LowResourcePoolMaxPerBucket)
	c.CompactReferences = true
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.RecoveryThreshold <= 0 || c.RecoveryThreshold >= c.HighThreshold {
		return fmt.Errorf("recovery_threshold must be between 0 and high_threshold, got %g", c.RecoveryThreshold)
	}
	if c.HighThreshold >= c.CriticalThreshold {
		return fmt.Errorf("high_threshold must be below critical_threshold, got %g >= %g", c.HighThreshold, c.CriticalThreshold)
	}
	if c.CriticalThreshold > 100 {
		return fmt.Errorf("critical_threshold must be at most 100, got %g", c.CriticalThreshold)
	}
	if c.RecoverySamples < 1 {
		return fmt.Errorf("recovery_samples must be at least 1, got %d", c.RecoverySamples)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be at least 1, got %d", c.MaxBatchSize)
	}
	if c.PoolMaxPerBucket < 0 {
		return fmt.Errorf("pool_max_per_bucket must be non-negative, got %d", c.PoolMaxPerBucket)
	}
	if c.CacheMaxSize < 1 {
		return fmt.Errorf("cache_max_size must be at least 1, got %d", c.CacheMaxSize)
	}

	if c.DeltaBlockSize < 2 {
		return fmt.Errorf("delta_block_size must be at least 2, got %d", c.DeltaBlockSize)
	}
	if c.DeltaKeyframeInterval < 1 {
		return fmt.Errorf("delta_keyframe_interval must be at least 1, got %d", c.DeltaKeyframeInterval)
	}
	if c.DeltaChangeThreshold < 0 || c.DeltaChangeThreshold > 255 {
		return fmt.Errorf("delta_change_threshold must be 0-255, got %d", c.DeltaChangeThreshold)
	}

	// Validate quality settings
	for _, q := range []struct {
		name  string
		value float64
	}{
		{"encode_quality", c.EncodeQuality},
		{"min_quality", c.MinQuality},
		{"max_quality", c.MaxQuality},
		{"pressure_scale_cap", c.PressureScaleCap},
	} {
		if q.value <= 0 || q.value > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %g", q.name, q.value)
		}
	}
	if c.MinQuality > c.MaxQuality {
		return fmt.Errorf("min_quality must not exceed max_quality, got %g > %g", c.MinQuality, c.MaxQuality)
	}

	if c.MinWidth < 1 || c.MinHeight < 1 || c.MaxWidth < c.MinWidth || c.MaxHeight < c.MinHeight {
		return fmt.Errorf("resolution bounds are inconsistent: min %dx%d, max %dx%d",
			c.MinWidth, c.MinHeight, c.MaxWidth, c.MaxHeight)
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"sample_interval", c.SampleInterval},
		{"acquire_timeout", c.AcquireTimeout},
		{"pool_max_age", c.PoolMaxAge},
		{"cache_max_age", c.CacheMaxAge},
		{"delta_idle_timeout", c.DeltaIdleTimeout},
		{"maintenance_interval", c.MaintenanceInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	return nil
}
