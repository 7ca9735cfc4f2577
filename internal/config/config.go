// Package config loads service settings from defaults, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "aimms.yaml"

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	ModelService ModelServiceConfig `mapstructure:"model_service"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
	Receipts     ReceiptsConfig     `mapstructure:"receipts"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ModelServiceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AlertsConfig struct {
	Interval               time.Duration `mapstructure:"interval"`
	HeuristicTimeout       time.Duration `mapstructure:"heuristic_timeout"`
	Mode                   string        `mapstructure:"mode"`
	LatencyThreshold       time.Duration `mapstructure:"latency_threshold"`
	MemoryThresholdPct     float64       `mapstructure:"memory_threshold_pct"`
	ExtractionFailureRatio float64       `mapstructure:"extraction_failure_ratio"`
	ExtractionMinSamples   int           `mapstructure:"extraction_min_samples"`
}

type ReceiptsConfig struct {
	DefaultUserID     int64  `mapstructure:"default_user_id"`
	MissingUserPolicy string `mapstructure:"missing_user_policy"`
	CacheSize         int    `mapstructure:"cache_size"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Heuristic battery modes.
const (
	ModeRules  = "rules"
	ModeRandom = "random"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "aimms.db")
	v.SetDefault("model_service.url", "http://localhost:8000")
	v.SetDefault("model_service.timeout", "30s")

	v.SetDefault("alerts.interval", "5m")
	v.SetDefault("alerts.heuristic_timeout", "30s")
	v.SetDefault("alerts.mode", ModeRules)
	v.SetDefault("alerts.latency_threshold", "2s")
	v.SetDefault("alerts.memory_threshold_pct", 90.0)
	v.SetDefault("alerts.extraction_failure_ratio", 0.5)
	v.SetDefault("alerts.extraction_min_samples", 5)

	v.SetDefault("receipts.default_user_id", 1)
	v.SetDefault("receipts.missing_user_policy", "skip")
	v.SetDefault("receipts.cache_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AIMMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare names kept for existing deployments.
	_ = v.BindEnv("server.port", "AIMMS_SERVER_PORT", "PORT")
	_ = v.BindEnv("database.path", "AIMMS_DATABASE_PATH", "DB_PATH")
	_ = v.BindEnv("model_service.url", "AIMMS_MODEL_SERVICE_URL", "MODEL_SERVICE_URL")
	return v
}

// Load reads configuration. With an empty path, DefaultFile is used if it
// exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, filepath.Ext(DefaultFile)))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.ModelService.URL == "" {
		errs = append(errs, errors.New("model_service.url is required"))
	}
	if c.Alerts.Interval <= 0 {
		errs = append(errs, errors.New("alerts.interval must be positive"))
	}
	if c.Alerts.Mode != ModeRules && c.Alerts.Mode != ModeRandom {
		errs = append(errs, fmt.Errorf("alerts.mode %q: want %s or %s", c.Alerts.Mode, ModeRules, ModeRandom))
	}
	if r := c.Alerts.ExtractionFailureRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("alerts.extraction_failure_ratio %.2f not in [0,1]", r))
	}
	switch c.Receipts.MissingUserPolicy {
	case "skip", "error":
	default:
		errs = append(errs, fmt.Errorf("receipts.missing_user_policy %q: want skip or error", c.Receipts.MissingUserPolicy))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteDefault renders the default settings as YAML to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	v := viper.New()
	setDefaults(v)

	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("render defaults: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(out); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
