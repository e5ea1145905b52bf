// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem the indexing core touches (pipeline tunables, Postgres, Kafka,
// logging, tracing, metrics, control plane).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Control  ControlConfig  `yaml:"control"`
}

// PipelineConfig controls the indexing pipeline's tunables.
type PipelineConfig struct {
	InputDir            string        `yaml:"inputDir"`
	OutputDir           string        `yaml:"outputDir"`
	NumBarrels          int           `yaml:"numBarrels"`
	FreqBarrelThreshold float64       `yaml:"freqBarrelThreshold"`
	BarrelExponent      float64       `yaml:"barrelExponent"`
	SpillThreshold      int           `yaml:"spillThreshold"`
	MinTokenLen         int           `yaml:"minTokenLen"`
	BucketCount         int           `yaml:"bucketCount"`
	StopwordsPath       string        `yaml:"stopwordsPath"`
	LogEvery            int           `yaml:"logEvery"`
	ScanLogEvery        int           `yaml:"scanLogEvery"`
	WriteLogEvery       int           `yaml:"writeLogEvery"`
	ArtifactSyncTimeout time.Duration `yaml:"artifactSyncTimeout"`
}

// Validate checks the pipeline tunables for out-of-range values.
func (p PipelineConfig) Validate() error {
	if p.NumBarrels < 1 {
		return fmt.Errorf("numBarrels must be >= 1, got %d", p.NumBarrels)
	}
	if p.FreqBarrelThreshold <= 0 || p.FreqBarrelThreshold > 1 {
		return fmt.Errorf("freqBarrelThreshold must be in (0,1], got %v", p.FreqBarrelThreshold)
	}
	if p.BarrelExponent <= 0 {
		return fmt.Errorf("barrelExponent must be > 0, got %v", p.BarrelExponent)
	}
	if p.SpillThreshold < 1 {
		return fmt.Errorf("spillThreshold must be >= 1, got %d", p.SpillThreshold)
	}
	if p.MinTokenLen < 0 {
		return fmt.Errorf("minTokenLen must be >= 0, got %d", p.MinTokenLen)
	}
	if p.BucketCount < 1 {
		return fmt.Errorf("bucketCount must be >= 1, got %d", p.BucketCount)
	}
	return nil
}

// PostgresConfig holds PostgreSQL connection parameters for the run ledger.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	Enabled         bool          `yaml:"enabled"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
	Enabled bool        `yaml:"enabled"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexComplete string `yaml:"indexComplete"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds tracing settings. Enabled is not read: the pipeline
// driver always builds and logs the run's span tree.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ControlConfig controls the optional remote control-plane listener.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			InputDir:            "dataset",
			OutputDir:           "storage",
			NumBarrels:          16,
			FreqBarrelThreshold: 0.05,
			BarrelExponent:      0.6,
			SpillThreshold:      1024,
			MinTokenLen:         2,
			BucketCount:         128,
			LogEvery:            50,
			ScanLogEvery:        10000,
			WriteLogEvery:       1000,
			ArtifactSyncTimeout: 30 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "cord19index",
			User:            "cord19index",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			Enabled:         false,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				IndexComplete: "index.complete",
			},
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Control: ControlConfig{
			Enabled: false,
			Addr:    ":9400",
		},
	}
}

// applyEnvOverrides reads CORD19_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORD19_INPUT_DIR"); v != "" {
		cfg.Pipeline.InputDir = v
	}
	if v := os.Getenv("CORD19_OUTPUT_DIR"); v != "" {
		cfg.Pipeline.OutputDir = v
	}
	if v := os.Getenv("CORD19_NUM_BARRELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.NumBarrels = n
		}
	}
	if v := os.Getenv("CORD19_FREQ_BARREL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pipeline.FreqBarrelThreshold = f
		}
	}
	if v := os.Getenv("CORD19_SPILL_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.SpillThreshold = n
		}
	}
	if v := os.Getenv("CORD19_MIN_TOKEN_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MinTokenLen = n
		}
	}
	if v := os.Getenv("CORD19_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CORD19_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CORD19_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CORD19_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CORD19_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CORD19_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CORD19_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CORD19_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CORD19_CONTROL_ADDR"); v != "" {
		cfg.Control.Addr = v
	}
	if v := os.Getenv("CORD19_CONTROL_ENABLED"); v != "" {
		cfg.Control.Enabled = v == "true" || v == "1"
	}
}
