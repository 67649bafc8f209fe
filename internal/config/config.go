// Package config resolves Serengeti's startup configuration from, in
// increasing priority: a YAML file (--config), CLI flags, and finally
// the SERENGETI_DATA_PATH environment variable for the data directory.
package config

import (
	"flag"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved set of startup options.
type Config struct {
	Port                int     `yaml:"port"`
	DiscoveryPort       int     `yaml:"discovery_port"`
	DataPath            string  `yaml:"data_path"`
	LogLevel            string  `yaml:"log_level"`
	PingIntervalMs      int     `yaml:"ping_interval_ms"`
	NetworkTimeoutMs    int     `yaml:"network_timeout_ms"`
	PersistIntervalS    int     `yaml:"persist_interval_s"`
	AdminToken          string  `yaml:"admin_token"`
	S3BackupBucket      string  `yaml:"s3_backup_bucket"`
	QueryMemoryBudgetBytes int64   `yaml:"query_memory_budget_bytes"`
	QueryMemoryFraction    float64 `yaml:"query_memory_fraction"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Port:                   1985,
		DiscoveryPort:          1986,
		DataPath:               "./data",
		LogLevel:               "info",
		PingIntervalMs:         5000,
		NetworkTimeoutMs:       2500,
		PersistIntervalS:       60,
		QueryMemoryBudgetBytes: 512 << 20, // 512MiB process-wide query memory pool
		QueryMemoryFraction:    0.7,
	}
}

// Load parses os.Args[1:] (via the standard flag package), optionally
// merges a YAML file named by --config, and applies the
// SERENGETI_DATA_PATH environment override last.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("serengeti", flag.ContinueOnError)
	port := fs.Int("port", cfg.Port, "HTTP port")
	discoveryPort := fs.Int("discovery-port", cfg.DiscoveryPort, "discovery port (reserved, unused)")
	dataPath := fs.String("data-path", cfg.DataPath, "data directory")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug|info|warn|error")
	configPath := fs.String("config", "", "optional YAML config file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	// Flags override file values whenever explicitly set.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "discovery-port":
			cfg.DiscoveryPort = *discoveryPort
		case "data-path":
			cfg.DataPath = *dataPath
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if cfg.Port == 0 {
		cfg.Port = *port
	}
	if cfg.DataPath == "" {
		cfg.DataPath = *dataPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = *discoveryPort
	}

	if v := os.Getenv("SERENGETI_DATA_PATH"); v != "" {
		cfg.DataPath = v
	}

	if cfg.PingIntervalMs == 0 {
		cfg.PingIntervalMs = 5000
	}
	if cfg.NetworkTimeoutMs == 0 {
		cfg.NetworkTimeoutMs = 2500
	}
	if cfg.PersistIntervalS == 0 {
		cfg.PersistIntervalS = 60
	}
	if cfg.QueryMemoryBudgetBytes == 0 {
		cfg.QueryMemoryBudgetBytes = 512 << 20
	}
	if cfg.QueryMemoryFraction == 0 {
		cfg.QueryMemoryFraction = 0.7
	}

	return cfg, nil
}
