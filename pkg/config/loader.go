package config

import (
	"bytes"
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STOCKPILE"

// Load builds a configuration from defaults, the YAML file at path and
// STOCKPILE_* environment variables, then validates it. An empty path looks
// for stockpile.yaml in the working directory and in $HOME/.stockpile, and
// falls back to defaults when there is none. A path that cannot be read is
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
		if err != nil {
			return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeFile, "failed to read config file").
				WithDetail("path", path)
		}
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeConfig, "failed to parse YAML").
				WithDetail("path", path)
		}
	} else {
		v.SetConfigName("stockpile")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.stockpile")
		if err := v.ReadInConfig(); err != nil {
			// It's okay if we can't find a config file, we'll use defaults
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeConfig, "failed to read config file")
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeConfig, "unable to decode into config struct")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeFile, "failed to write config file").
			WithDetail("path", path)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeConfig, "failed to marshal YAML")
	}
	if err := enc.Close(); err != nil {
		return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeConfig, "failed to marshal YAML")
	}
	return buf.Bytes(), nil
}

// setDefaults registers every key with viper so environment overrides
// reach keys the file leaves out.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("pool.name", d.Pool.Name)
	v.SetDefault("pool.initial_target", d.Pool.InitialTarget)
	v.SetDefault("pool.chunk_size", d.Pool.ChunkSize)
	v.SetDefault("pool.detach_policy", d.Pool.DetachPolicy)
	v.SetDefault("pool.warmup", d.Pool.Warmup)
	v.SetDefault("pool.blueprint", d.Pool.Blueprint)

	v.SetDefault("tasks.handoff_capacity", d.Tasks.HandoffCapacity)

	v.SetDefault("driver.interval", d.Driver.Interval)
	v.SetDefault("driver.max_ticks", d.Driver.MaxTicks)
	v.SetDefault("driver.stop_on_error", d.Driver.StopOnError)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.address", d.Metrics.Address)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.pretty_print", d.Tracing.PrettyPrint)
	v.SetDefault("tracing.batch_timeout", d.Tracing.BatchTimeout)

	v.SetDefault("simulation.seed", d.Simulation.Seed)
	v.SetDefault("simulation.spawn_rate", d.Simulation.SpawnRate)
	v.SetDefault("simulation.min_lifetime", d.Simulation.MinLifetime)
	v.SetDefault("simulation.max_lifetime", d.Simulation.MaxLifetime)
	v.SetDefault("simulation.burst_every", d.Simulation.BurstEvery)
	v.SetDefault("simulation.burst_size", d.Simulation.BurstSize)
	v.SetDefault("simulation.build_cost", d.Simulation.BuildCost)
	v.SetDefault("simulation.payload_size", d.Simulation.PayloadSize)
	v.SetDefault("simulation.producers", d.Simulation.Producers)
	v.SetDefault("simulation.producer_interval", d.Simulation.ProducerInterval)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted values are not scanned again.
func substituteEnvVars(content string) string {
	from := 0
	for {
		start := strings.Index(content[from:], "${")
		if start == -1 {
			break
		}
		start += from
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
		from = start + len(envValue)
	}
	return content
}
