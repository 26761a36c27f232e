package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/tensor"
	"github.com/samcharles93/quanta/pkg/quant"
)

// Config represents the quanta configuration file (~/.config/quanta/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Quantization defaults
	Mode      string `yaml:"mode"`
	Bits      *int64 `yaml:"bits"`
	Axis      *int64 `yaml:"axis"`
	GroupSize *int64 `yaml:"group_size"`
	Policy    string `yaml:"policy"`

	// Replacement
	DType   string   `yaml:"dtype"`
	Exclude []string `yaml:"exclude"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	StoreLimit    *int64 `yaml:"store_limit"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "quanta", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Mode != "" {
		if _, err := quant.ParseMode(c.Mode); err != nil {
			return err
		}
	}
	if c.Bits != nil {
		if _, _, err := quant.Range(int(*c.Bits)); err != nil {
			return fmt.Errorf("invalid bits: %w", err)
		}
	}
	if c.Axis != nil && *c.Axis < 0 {
		return fmt.Errorf("invalid axis: %d (must be >= 0)", *c.Axis)
	}
	if c.GroupSize != nil && *c.GroupSize <= 0 {
		return fmt.Errorf("invalid group_size: %d (must be positive)", *c.GroupSize)
	}
	if _, err := quant.ParsePolicy(c.Policy); err != nil {
		return err
	}
	if _, err := tensor.ParseDType(c.DType); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.StoreLimit != nil && *c.StoreLimit <= 0 {
		return fmt.Errorf("invalid store_limit: %d (must be positive)", *c.StoreLimit)
	}
	return nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applySchemeConfig applies config file defaults to the quantize command
// variables when the corresponding flag was not explicitly set.
func applySchemeConfig(c *cli.Command, cfg Config) {
	if cfg.Mode != "" && !c.IsSet("mode") {
		mode = cfg.Mode
	}
	if cfg.Bits != nil && !c.IsSet("bits") {
		bits = *cfg.Bits
	}
	if cfg.Axis != nil && !c.IsSet("axis") {
		axis = *cfg.Axis
	}
	if cfg.GroupSize != nil && !c.IsSet("group-size") {
		groupSize = *cfg.GroupSize
	}
	if cfg.Policy != "" && !c.IsSet("policy") {
		policy = cfg.Policy
	}
}

func applyReplaceConfig(c *cli.Command, cfg Config, exclude *[]string) {
	if cfg.DType != "" && !c.IsSet("dtype") {
		dtype = cfg.DType
	}
	if cfg.Policy != "" && !c.IsSet("policy") {
		policy = cfg.Policy
	}
	if len(cfg.Exclude) > 0 && !c.IsSet("exclude") {
		*exclude = cfg.Exclude
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string, storeLimit *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.StoreLimit != nil && !c.IsSet("store-limit") {
		*storeLimit = *cfg.StoreLimit
	}
}
