// Package config loads and validates the configuration of the stockpile
// simulator and of any program that wires pools, task processors and a
// driver from a file.
//
// # Sources
//
// Values are layered, later sources winning:
//
//   - Default(): built-in defaults
//   - a YAML file, with ${VAR_NAME} references replaced from the environment
//   - STOCKPILE_* environment variables, with dots in the key replaced by
//     underscores (STOCKPILE_POOL_INITIAL_TARGET, STOCKPILE_DRIVER_INTERVAL)
//
// # Usage
//
//	cfg, err := config.Load("stockpile.yaml")
//	if err != nil {
//		return err
//	}
//	opts, err := cfg.Pool.Options()
//
// # Structure
//
//	pool:
//	  name: sprites
//	  initial_target: 10
//	  chunk_size: 2
//	  detach_policy: never
//	  warmup: true
//	  blueprint: ""
//	tasks:
//	  handoff_capacity: 1024
//	driver:
//	  interval: 16ms
//	  max_ticks: 600
//	  stop_on_error: false
//	logging:
//	  level: info
//	  encoding: json
//	metrics:
//	  enabled: false
//	  namespace: stockpile
//	  address: ":9090"
//	tracing:
//	  enabled: false
//	  service_name: stockpile
//	simulation:
//	  seed: 1
//	  spawn_rate: 3
//	  ...
package config
