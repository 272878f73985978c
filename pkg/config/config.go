package config

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/stockpile/pkg/driver"
	"github.com/ajitpratap0/stockpile/pkg/logger"
	"github.com/ajitpratap0/stockpile/pkg/observability"
	"github.com/ajitpratap0/stockpile/pkg/pool"
	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
)

// Config is the complete stockpile configuration.
type Config struct {
	Pool       PoolConfig                  `yaml:"pool" mapstructure:"pool"`
	Tasks      TasksConfig                 `yaml:"tasks" mapstructure:"tasks"`
	Driver     driver.Config               `yaml:"driver" mapstructure:"driver"`
	Logging    logger.Config               `yaml:"logging" mapstructure:"logging"`
	Metrics    MetricsConfig               `yaml:"metrics" mapstructure:"metrics"`
	Tracing    observability.TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Simulation SimulationConfig            `yaml:"simulation" mapstructure:"simulation"`
}

// PoolConfig configures one recycling pool.
type PoolConfig struct {
	Name          string `yaml:"name" mapstructure:"name"`
	InitialTarget int    `yaml:"initial_target" mapstructure:"initial_target"`
	// ChunkSize is the most instances one driver tick may build.
	ChunkSize    int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	DetachPolicy string `yaml:"detach_policy" mapstructure:"detach_policy"`
	Warmup       bool   `yaml:"warmup" mapstructure:"warmup"`
	// Blueprint is an optional YAML or JSON template for new instances.
	Blueprint string `yaml:"blueprint" mapstructure:"blueprint"`
}

// TasksConfig configures the task processor.
type TasksConfig struct {
	HandoffCapacity int `yaml:"handoff_capacity" mapstructure:"handoff_capacity"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	// Address serves /metrics when set, e.g. ":9090".
	Address string `yaml:"address" mapstructure:"address"`
}

// SimulationConfig drives the synthetic load generator.
type SimulationConfig struct {
	Seed int64 `yaml:"seed" mapstructure:"seed"`
	// SpawnRate is the mean number of instances acquired per tick.
	SpawnRate   int `yaml:"spawn_rate" mapstructure:"spawn_rate"`
	MinLifetime int `yaml:"min_lifetime" mapstructure:"min_lifetime"`
	MaxLifetime int `yaml:"max_lifetime" mapstructure:"max_lifetime"`
	// BurstEvery adds BurstSize extra acquires every BurstEvery ticks.
	BurstEvery int `yaml:"burst_every" mapstructure:"burst_every"`
	BurstSize  int `yaml:"burst_size" mapstructure:"burst_size"`
	// BuildCost is how long constructing one instance takes.
	BuildCost   time.Duration `yaml:"build_cost" mapstructure:"build_cost"`
	PayloadSize int           `yaml:"payload_size" mapstructure:"payload_size"`
	// Producers submit spawn requests from their own goroutines.
	Producers        int           `yaml:"producers" mapstructure:"producers"`
	ProducerInterval time.Duration `yaml:"producer_interval" mapstructure:"producer_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Name:          "sprites",
			InitialTarget: pool.DefaultInitialTarget,
			ChunkSize:     2,
			DetachPolicy:  pool.DetachNever.String(),
			Warmup:        true,
		},
		Tasks: TasksConfig{
			HandoffCapacity: 1024,
		},
		Driver: driver.Config{
			Interval: 16 * time.Millisecond,
			MaxTicks: 600,
		},
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{
			Namespace: "stockpile",
		},
		Tracing: observability.DefaultTracingConfig(),
		Simulation: SimulationConfig{
			Seed:             1,
			SpawnRate:        3,
			MinLifetime:      5,
			MaxLifetime:      30,
			BurstEvery:       50,
			BurstSize:        12,
			BuildCost:        200 * time.Microsecond,
			PayloadSize:      64 << 10,
			Producers:        2,
			ProducerInterval: 5 * time.Millisecond,
		},
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if _, err := c.Pool.Options(); err != nil {
		return wrapInvalid(err, "pool")
	}
	if c.Pool.ChunkSize <= 0 {
		return invalid("pool.chunk_size must be positive", "chunk_size", c.Pool.ChunkSize)
	}
	if c.Tasks.HandoffCapacity < 0 {
		return invalid("tasks.handoff_capacity must not be negative", "handoff_capacity", c.Tasks.HandoffCapacity)
	}
	if err := c.Driver.Validate(); err != nil {
		return wrapInvalid(err, "driver")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return wrapInvalid(err, "logging")
	}
	switch c.Logging.Encoding {
	case "", "json", "console":
	default:
		return invalid("logging.encoding must be json or console", "encoding", c.Logging.Encoding)
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return invalid("metrics.namespace is required when metrics are enabled", "namespace", c.Metrics.Namespace)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return invalid("tracing.sampling_rate must be between 0 and 1", "sampling_rate", c.Tracing.SamplingRate)
	}
	return c.Simulation.validate()
}

func (s SimulationConfig) validate() error {
	switch {
	case s.SpawnRate < 0:
		return invalid("simulation.spawn_rate must not be negative", "spawn_rate", s.SpawnRate)
	case s.MinLifetime < 1:
		return invalid("simulation.min_lifetime must be at least 1", "min_lifetime", s.MinLifetime)
	case s.MaxLifetime < s.MinLifetime:
		return invalid("simulation.max_lifetime must not be below min_lifetime", "max_lifetime", s.MaxLifetime)
	case s.BurstEvery < 0 || s.BurstSize < 0:
		return invalid("simulation burst settings must not be negative", "burst_every", s.BurstEvery)
	case s.BuildCost < 0:
		return invalid("simulation.build_cost must not be negative", "build_cost", s.BuildCost.String())
	case s.PayloadSize < 0:
		return invalid("simulation.payload_size must not be negative", "payload_size", s.PayloadSize)
	case s.Producers < 0:
		return invalid("simulation.producers must not be negative", "producers", s.Producers)
	case s.Producers > 0 && s.ProducerInterval <= 0:
		return invalid("simulation.producer_interval must be positive with producers", "producer_interval", s.ProducerInterval.String())
	}
	return nil
}

// Options converts the pool section into pool.Options. Logger and Metrics
// are left for the caller to fill in.
func (p PoolConfig) Options() (pool.Options, error) {
	policy, err := pool.ParseDetachPolicy(p.DetachPolicy)
	if err != nil {
		return pool.Options{}, err
	}
	if p.InitialTarget < 0 {
		return pool.Options{}, stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "initial_target must not be negative").
			WithDetail("initial_target", p.InitialTarget)
	}
	return pool.Options{
		Name:          p.Name,
		InitialTarget: p.InitialTarget,
		DetachPolicy:  policy,
		SkipWarmup:    !p.Warmup,
	}, nil
}

func invalid(msg, key string, value interface{}) error {
	return stockpileerrors.New(stockpileerrors.ErrorTypeConfig, msg).WithDetail(key, value)
}

func wrapInvalid(err error, section string) error {
	return stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeConfig, "invalid "+section+" configuration")
}
