package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Store    StoreConfig `yaml:"store"`
	Transfer Transfer    `yaml:"transfer"`
	LogLevel string      `yaml:"log_level"`
}

// StoreConfig represents S3-compatible storage configuration
type StoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// Transfer represents transfer-engine configuration
type Transfer struct {
	PartSize           int64  `yaml:"part_size"`
	MultipartThreshold int64  `yaml:"multipart_threshold"`
	Workers            int    `yaml:"workers"`
	QueueCapacity      int    `yaml:"queue_capacity"`
	Journal            string `yaml:"journal"`
	Resume             bool   `yaml:"resume"`
	DryRun             bool   `yaml:"dry_run"`
	MetricsAddr        string `yaml:"metrics_addr"`
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Transfer: Transfer{
			PartSize:           16 * 1024 * 1024,  // 16MB
			MultipartThreshold: 64 * 1024 * 1024,  // 64MB
			Workers:            8,
			QueueCapacity:      64,
			Journal:            "./transfer.db",
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("endpoint") {
		cfg.Store.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("access-key") {
		cfg.Store.AccessKey, _ = flags.GetString("access-key")
	}
	if flags.Changed("secret-key") {
		cfg.Store.SecretKey, _ = flags.GetString("secret-key")
	}
	if flags.Changed("secure") {
		cfg.Store.Secure, _ = flags.GetBool("secure")
	}

	if flags.Changed("part-size") {
		cfg.Transfer.PartSize, _ = flags.GetInt64("part-size")
	}
	if flags.Changed("multipart-threshold") {
		cfg.Transfer.MultipartThreshold, _ = flags.GetInt64("multipart-threshold")
	}
	if flags.Changed("workers") {
		cfg.Transfer.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("queue-capacity") {
		cfg.Transfer.QueueCapacity, _ = flags.GetInt("queue-capacity")
	}
	if flags.Changed("journal") {
		cfg.Transfer.Journal, _ = flags.GetString("journal")
	}
	if flags.Changed("resume") {
		cfg.Transfer.Resume, _ = flags.GetBool("resume")
	}
	if flags.Changed("dry-run") {
		cfg.Transfer.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("metrics-addr") {
		cfg.Transfer.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Store.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Store.AccessKey == "" {
		return fmt.Errorf("access key is required")
	}
	if c.Store.SecretKey == "" {
		return fmt.Errorf("secret key is required")
	}

	if c.Transfer.PartSize < 5*1024*1024 { // 5MB minimum part for S3
		return fmt.Errorf("part size must be at least 5MB")
	}

	if c.Transfer.MultipartThreshold <= 0 {
		return fmt.Errorf("multipart threshold must be positive")
	}

	if c.Transfer.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	if c.Transfer.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must not be negative")
	}

	return nil
}
