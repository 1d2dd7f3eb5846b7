package config

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EngineConfig holds the tunables of the sync and focus engine
type EngineConfig struct {
	// Polling and commit gate
	PollInterval time.Duration `yaml:"pollInterval"`
	Debounce     time.Duration `yaml:"debounce"`
	CommitCap    int           `yaml:"commitCap"`
	CommitWindow time.Duration `yaml:"commitWindow"`

	// Caller activity
	IdleCheckInterval time.Duration `yaml:"idleCheckInterval"`
	IdleThreshold     time.Duration `yaml:"idleThreshold"`

	// Focus arbitration
	FocusTimeout    time.Duration `yaml:"focusTimeout"`
	SettleDelay     time.Duration `yaml:"settleDelay"`
	FocusHops       int           `yaml:"focusHops"`
	MaxZoom         float64       `yaml:"maxZoom"`
	ViewportPadding float64       `yaml:"viewportPadding"`
	ViewportWidth   float64       `yaml:"viewportWidth"`
	ViewportHeight  float64       `yaml:"viewportHeight"`

	// Bounded retries
	RetryAttempts      int           `yaml:"retryAttempts"`
	RetryBackoff       time.Duration `yaml:"retryBackoff"`
	FocusRetryAttempts int           `yaml:"focusRetryAttempts"`
	FocusRetryBackoff  time.Duration `yaml:"focusRetryBackoff"`

	// Timeline
	TimelineFallbackWindow time.Duration `yaml:"timelineFallbackWindow"`

	// Creation
	LockTTL    time.Duration `yaml:"lockTTL"`
	LockWait   time.Duration `yaml:"lockWait"`
	HolderRole string        `yaml:"holderRole"`
}

// DefaultEngineConfig returns the default engine configuration
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		PollInterval: 5 * time.Second,
		Debounce:     2 * time.Second,
		CommitCap:    3,
		CommitWindow: 30 * time.Second,

		IdleCheckInterval: 2 * time.Second,
		IdleThreshold:     5 * time.Second,

		FocusTimeout:    10 * time.Second,
		SettleDelay:     time.Second,
		FocusHops:       1,
		MaxZoom:         2,
		ViewportPadding: 100,
		ViewportWidth:   1200,
		ViewportHeight:  800,

		RetryAttempts:      10,
		RetryBackoff:       500 * time.Millisecond,
		FocusRetryAttempts: 5,
		FocusRetryBackoff:  500 * time.Millisecond,

		TimelineFallbackWindow: 24 * time.Hour,

		LockTTL:    10 * time.Second,
		LockWait:   5 * time.Second,
		HolderRole: "Holder",
	}
}

// ProductionEngineConfig returns production-specific configuration
func ProductionEngineConfig() *EngineConfig {
	return DefaultEngineConfig()
}

// DevelopmentEngineConfig returns development-specific configuration
func DevelopmentEngineConfig() *EngineConfig {
	cfg := DefaultEngineConfig()
	// A tighter loop makes local edits show up faster.
	cfg.PollInterval = 3 * time.Second
	return cfg
}

// LoadEngineConfig returns the configuration for an environment
func LoadEngineConfig(environment string) *EngineConfig {
	switch environment {
	case "production":
		return ProductionEngineConfig()
	case "development":
		return DevelopmentEngineConfig()
	default:
		return DefaultEngineConfig()
	}
}

// Validate checks that every tunable is usable
func (c *EngineConfig) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("pollInterval must be positive")
	case c.Debounce < 0:
		return fmt.Errorf("debounce cannot be negative")
	case c.CommitCap <= 0:
		return fmt.Errorf("commitCap must be positive")
	case c.CommitWindow <= 0:
		return fmt.Errorf("commitWindow must be positive")
	case c.IdleCheckInterval <= 0 || c.IdleThreshold <= 0:
		return fmt.Errorf("idle intervals must be positive")
	case c.FocusTimeout <= 0:
		return fmt.Errorf("focusTimeout must be positive")
	case c.SettleDelay < 0:
		return fmt.Errorf("settleDelay cannot be negative")
	case c.FocusHops < 0:
		return fmt.Errorf("focusHops cannot be negative")
	case c.MaxZoom <= 0:
		return fmt.Errorf("maxZoom must be positive")
	case c.ViewportWidth <= c.ViewportPadding || c.ViewportHeight <= c.ViewportPadding:
		return fmt.Errorf("viewport must be larger than its padding")
	case c.RetryAttempts <= 0 || c.FocusRetryAttempts <= 0:
		return fmt.Errorf("retry attempts must be positive")
	case c.RetryBackoff < 0 || c.FocusRetryBackoff < 0:
		return fmt.Errorf("retry backoff cannot be negative")
	case c.TimelineFallbackWindow <= 0:
		return fmt.Errorf("timelineFallbackWindow must be positive")
	case c.LockTTL <= 0 || c.LockWait < 0:
		return fmt.Errorf("lock durations must be positive")
	}
	return nil
}

// Clone returns a copy safe to mutate
func (c *EngineConfig) Clone() *EngineConfig {
	cp := *c
	return &cp
}

// Holder publishes the current EngineConfig to every component. The value
// can be swapped at runtime by the config watcher; readers always see a
// complete configuration.
type Holder struct {
	current atomic.Pointer[EngineConfig]
}

// NewHolder creates a holder with an initial configuration
func NewHolder(cfg *EngineConfig) *Holder {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	h := &Holder{}
	h.current.Store(cfg.Clone())
	return h
}

// Get returns the current configuration. Callers must not mutate it.
func (h *Holder) Get() *EngineConfig {
	return h.current.Load()
}

// Set validates and swaps in a new configuration
func (h *Holder) Set(cfg *EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.current.Store(cfg.Clone())
	return nil
}
