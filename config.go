package cluster

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LucasCzechia/discord-cluster/types"
)

// Spawn queue progression modes.
const (
	// SpawnModeAuto advances the spawn queue automatically.
	SpawnModeAuto = "auto"

	// SpawnModeManual requires an explicit Advance call per unit.
	SpawnModeManual = "manual"
)

// SpawnConfig controls unit creation pacing.
type SpawnConfig struct {
	// Delay is the pause between consecutive spawns in auto mode. Rate
	// limits on the workload's upstream (e.g. gateway identify buckets)
	// usually dictate this value.
	//
	// Default: 6 seconds
	Delay time.Duration `yaml:"delay"`

	// Timeout bounds the wait for a spawned unit's ready signal. A timed
	// out unit is left in place and the queue proceeds; the heartbeat
	// monitor picks it up from there. Negative waits indefinitely.
	//
	// Default: 60 seconds
	Timeout time.Duration `yaml:"timeout"`

	// Mode selects queue progression: "auto" or "manual".
	//
	// Default: "auto"
	Mode string `yaml:"mode"`
}

// HeartbeatConfig controls liveness monitoring.
//
// A negative Interval disables monitoring entirely.
type HeartbeatConfig struct {
	// Interval between probe rounds. Negative disables monitoring.
	//
	// Default: 15 seconds
	Interval time.Duration `yaml:"interval"`

	// Timeout after which an unanswered probe counts as missed.
	//
	// Default: 5 seconds
	Timeout time.Duration `yaml:"timeout"`

	// MaxMissed consecutive misses before a unit is declared unresponsive.
	//
	// Default: 3
	MaxMissed int `yaml:"maxMissed"`

	// MaxRestarts bounds monitor-driven restarts per unit ID. Negative is
	// unlimited; a unit exceeding the bound stays down and OnFatal fires.
	//
	// Default: 5
	MaxRestarts int `yaml:"maxRestarts"`
}

// StoreConfig controls the controller-hosted shared key-value store.
type StoreConfig struct {
	// SweepInterval is the cadence of expired-entry sweeps. Expired entries
	// are also evicted lazily on access.
	//
	// Default: 30 seconds
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// GuardConfig controls process-level safety.
type GuardConfig struct {
	// MarkerPath is the liveness marker file location. Empty disables the
	// marker and the startup orphan sweep.
	MarkerPath string `yaml:"markerPath"`

	// MarkerInterval is the periodic marker rewrite cadence.
	//
	// Default: 15 seconds
	MarkerInterval time.Duration `yaml:"markerInterval"`

	// ForceExitTimeout bounds a graceful shutdown before the guard exits
	// the process regardless.
	//
	// Default: 30 seconds
	ForceExitTimeout time.Duration `yaml:"forceExitTimeout"`
}

// Config holds the controller configuration.
type Config struct {
	// TotalShards is the global shard count partitioned across the fleet.
	TotalShards int `yaml:"totalShards"`

	// TotalClusters is the number of units. Zero derives it from
	// TotalShards and ShardsPerCluster.
	TotalClusters int `yaml:"totalClusters"`

	// ShardsPerCluster is each unit's shard capacity. Zero derives it from
	// TotalShards and TotalClusters.
	ShardsPerCluster int `yaml:"shardsPerCluster"`

	// RespawnOnExit restarts units when they exit for any reason, crash or
	// kill, keeping the same ID and shard assignment. Exits driven by a
	// generation swap, the heartbeat monitor, or controller shutdown never
	// trigger it; those paths own their own replacements.
	RespawnOnExit bool `yaml:"respawnOnExit"`

	// RequestTimeout is the default deadline for correlated requests and
	// broadcast aggregations.
	//
	// Default: 10 seconds
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// Data is opaque startup data handed to every spawned unit.
	Data map[string]any `yaml:"data"`

	Spawn     SpawnConfig     `yaml:"spawn"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Store     StoreConfig     `yaml:"store"`
	Guard     GuardConfig     `yaml:"guard"`
}

// DefaultConfig returns a Config with sensible defaults for a fleet of the
// given shape. Shape values may be zero and derived later by SetDefaults.
func DefaultConfig(totalShards, totalClusters, shardsPerCluster int) *Config {
	cfg := &Config{
		TotalShards:      totalShards,
		TotalClusters:    totalClusters,
		ShardsPerCluster: shardsPerCluster,
		RespawnOnExit:    true,
	}
	cfg.SetDefaults()

	return cfg
}

// SetDefaults fills zero-valued fields with defaults and derives the
// missing dimension of the fleet shape.
func (c *Config) SetDefaults() {
	if c.TotalClusters == 0 && c.ShardsPerCluster > 0 {
		c.TotalClusters = (c.TotalShards + c.ShardsPerCluster - 1) / c.ShardsPerCluster
	}
	if c.ShardsPerCluster == 0 && c.TotalClusters > 0 {
		c.ShardsPerCluster = (c.TotalShards + c.TotalClusters - 1) / c.TotalClusters
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}

	if c.Spawn.Delay == 0 {
		c.Spawn.Delay = 6 * time.Second
	}
	if c.Spawn.Timeout == 0 {
		c.Spawn.Timeout = 60 * time.Second
	}
	if c.Spawn.Mode == "" {
		c.Spawn.Mode = SpawnModeAuto
	}

	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = 15 * time.Second
	}
	if c.Heartbeat.Timeout == 0 {
		c.Heartbeat.Timeout = 5 * time.Second
	}
	if c.Heartbeat.MaxMissed == 0 {
		c.Heartbeat.MaxMissed = 3
	}
	if c.Heartbeat.MaxRestarts == 0 {
		c.Heartbeat.MaxRestarts = 5
	}

	if c.Store.SweepInterval == 0 {
		c.Store.SweepInterval = 30 * time.Second
	}

	if c.Guard.MarkerInterval == 0 {
		c.Guard.MarkerInterval = 15 * time.Second
	}
	if c.Guard.ForceExitTimeout == 0 {
		c.Guard.ForceExitTimeout = 30 * time.Second
	}
}

// Validate checks the configuration's internal consistency.
func (c *Config) Validate() error {
	if c.TotalShards <= 0 {
		return fmt.Errorf("%w: totalShards must be positive, got %d", types.ErrInvalidConfig, c.TotalShards)
	}
	if c.TotalClusters <= 0 {
		return fmt.Errorf("%w: totalClusters must be positive, got %d", types.ErrInvalidConfig, c.TotalClusters)
	}
	if c.ShardsPerCluster <= 0 {
		return fmt.Errorf("%w: shardsPerCluster must be positive, got %d", types.ErrInvalidConfig, c.ShardsPerCluster)
	}
	if c.TotalClusters*c.ShardsPerCluster < c.TotalShards {
		return fmt.Errorf("%w: %d clusters x %d shards cannot cover %d shards",
			types.ErrInvalidConfig, c.TotalClusters, c.ShardsPerCluster, c.TotalShards)
	}

	if c.Spawn.Mode != SpawnModeAuto && c.Spawn.Mode != SpawnModeManual {
		return fmt.Errorf("%w: spawn mode must be %q or %q, got %q",
			types.ErrInvalidConfig, SpawnModeAuto, SpawnModeManual, c.Spawn.Mode)
	}

	if c.Heartbeat.Interval > 0 && c.Heartbeat.Timeout <= 0 {
		return fmt.Errorf("%w: heartbeat timeout must be positive when monitoring is enabled", types.ErrInvalidConfig)
	}
	if c.Heartbeat.Interval > 0 && c.Heartbeat.MaxMissed <= 0 {
		return fmt.Errorf("%w: heartbeat maxMissed must be positive when monitoring is enabled", types.ErrInvalidConfig)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: requestTimeout must be positive", types.ErrInvalidConfig)
	}

	return nil
}

// ValidateWithWarnings validates and additionally reports questionable but
// legal settings.
//
// Returns:
//   - []string: Human-readable warnings, empty when none apply
//   - error: Validation failure, as from Validate
func (c *Config) ValidateWithWarnings() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var warnings []string

	if c.Heartbeat.Interval > 0 && c.Heartbeat.Timeout >= c.Heartbeat.Interval {
		warnings = append(warnings, fmt.Sprintf(
			"heartbeat timeout (%v) >= interval (%v): probe checks overlap the next round",
			c.Heartbeat.Timeout, c.Heartbeat.Interval))
	}
	if c.Spawn.Mode == SpawnModeAuto && c.Spawn.Delay < time.Second {
		warnings = append(warnings, fmt.Sprintf(
			"spawn delay (%v) is below 1s: upstream rate limits may reject rapid unit startups",
			c.Spawn.Delay))
	}
	if c.Heartbeat.Interval < 0 {
		warnings = append(warnings, "heartbeat monitoring is disabled: unresponsive units will not be detected")
	}
	if c.Guard.MarkerPath == "" {
		warnings = append(warnings, "no liveness marker path: orphaned unit processes will not be swept after a crash")
	}

	return warnings, nil
}

// LoadConfig reads a YAML configuration file, applies defaults, and
// validates the result.
//
// Parameters:
//   - path: YAML file location
//
// Returns:
//   - *Config: Validated configuration
//   - error: Read, parse, or validation failure
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
