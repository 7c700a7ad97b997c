// Package config loads the kingfisher process configuration.
//
// Load(path) starts from defaults, overlays the YAML file, applies the
// environment overrides below, then validates:
//
//	GCP_PROJECT               project_id
//	KF_EVALUATE_TOPIC         topics.evaluate
//	KF_WEBHOOK_READY          topics.ready
//	KF_WEBHOOK_NOGO           topics.nogo
//	KF_EVALUATE_SUBSCRIPTION  subscription
//	DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASSWORD  database.*
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values.
const (
	DefaultEvaluateTopic  = "kf-evaluate"
	DefaultReadyTopic     = "kf-webhook-ready"
	DefaultNoGoTopic      = "kf-webhook-nogo"
	DefaultSubscription   = "kf-evaluate-sub"
	DefaultPublishTimeout = 10 * time.Second
	DefaultPort           = 8080
	DefaultWorkers        = 4
	DefaultDBPort         = 5432
	DefaultDBPoolSize     = 10
)

type Config struct {
	// ProjectID is the GCP project. Empty resolves the project from ADC.
	ProjectID    string         `yaml:"project_id"`
	Topics       TopicsConfig   `yaml:"topics"`
	Subscription string         `yaml:"subscription"`
	Publish      PublishConfig  `yaml:"publish"`
	Receiver     ReceiverConfig `yaml:"receiver"`
	// Workers is the number of envelopes handled concurrently.
	Workers  int            `yaml:"workers"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type TopicsConfig struct {
	// Evaluate carries envelopes from the ingester to the evaluator.
	Evaluate string `yaml:"evaluate"`
	Ready    string `yaml:"ready"`
	NoGo     string `yaml:"nogo"`
}

type PublishConfig struct {
	// Timeout bounds the wait for one publish acknowledgement.
	Timeout      time.Duration `yaml:"timeout"`
	BatchSize    int           `yaml:"batch_size"`
	BatchBytes   int           `yaml:"batch_bytes"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type ReceiverConfig struct {
	// Port for push deliveries and raw OCM posts. Zero disables the receiver.
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	PoolSize int    `yaml:"pool_size"`
}

// ConnString returns the PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type LogConfig struct {
	// Level is one of debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel returns the configured level, info when unset.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Load reads the config file at path. An empty path loads defaults and the
// environment only.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Topics: TopicsConfig{
			Evaluate: DefaultEvaluateTopic,
			Ready:    DefaultReadyTopic,
			NoGo:     DefaultNoGoTopic,
		},
		Subscription: DefaultSubscription,
		Publish: PublishConfig{
			Timeout:      DefaultPublishTimeout,
			BatchSize:    100,
			BatchBytes:   1000000, // 1MB
			BatchTimeout: 100 * time.Millisecond,
		},
		Receiver: ReceiverConfig{Port: DefaultPort},
		Workers:  DefaultWorkers,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     DefaultDBPort,
			PoolSize: DefaultDBPoolSize,
		},
		Log: LogConfig{Level: "info"},
	}
}

func applyEnv(cfg *Config) error {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.ProjectID, "GCP_PROJECT")
	set(&cfg.Topics.Evaluate, "KF_EVALUATE_TOPIC")
	set(&cfg.Topics.Ready, "KF_WEBHOOK_READY")
	set(&cfg.Topics.NoGo, "KF_WEBHOOK_NOGO")
	set(&cfg.Subscription, "KF_EVALUATE_SUBSCRIPTION")
	set(&cfg.Database.Host, "DB_HOST")
	set(&cfg.Database.Name, "DB_NAME")
	set(&cfg.Database.User, "DB_USER")
	set(&cfg.Database.Password, "DB_PASSWORD")

	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_PORT %q is not a number", v)
		}
		cfg.Database.Port = port
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Topics.Ready == "" || cfg.Topics.NoGo == "" {
		return fmt.Errorf("topics.ready and topics.nogo are required")
	}
	if cfg.Topics.Ready == cfg.Topics.NoGo {
		return fmt.Errorf("topics.ready and topics.nogo must differ, both are %q", cfg.Topics.Ready)
	}
	if cfg.Publish.Timeout <= 0 {
		return fmt.Errorf("publish.timeout must be positive")
	}
	if cfg.Receiver.Port < 0 || cfg.Receiver.Port > 65535 {
		return fmt.Errorf("receiver.port %d is out of range [0, 65535]", cfg.Receiver.Port)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	return nil
}
