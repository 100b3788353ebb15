package config

import (
	"errors"
	"fmt"
	"os"

	iface "LaneDetServer/interface"
	"LaneDetServer/lane"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RPCPort       int    `yaml:"RPCPort"`
	HTTPPort      int    `yaml:"HTTPPort"`
	MetricsPort   int    `yaml:"MetricsPort"`
	WorkersNum    int    `yaml:"workersNum"`
	MaxSessions   int    `yaml:"maxSessions"`
	IdleTimeoutMs int    `yaml:"idleTimeoutMs"`
	LogMode       string `yaml:"logMode"`

	UseRegServer  bool   `yaml:"UseRegServer"`
	RegServerHost string `yaml:"RegServerHost"`
	RegServerPort int    `yaml:"RegServerPort"`

	Tracker   lane.Params           `yaml:"tracker"`
	Extractor iface.ExtractorConfig `yaml:"extractor"`
}

func Default() Config {
	return Config{
		RPCPort:       50051,
		HTTPPort:      8080,
		MetricsPort:   9100,
		WorkersNum:    1,
		MaxSessions:   16,
		IdleTimeoutMs: 30000,
		LogMode:       "production",
		RegServerHost: "127.0.0.1",
		RegServerPort: 8000,
		Tracker:       lane.DefaultParams(),
		Extractor:     iface.DefaultExtractorConfig(),
	}
}

// Load reads a yaml file over Default, so keys left out of the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c Config) Engine() iface.EngineConfig {
	return iface.EngineConfig{Tracker: c.Tracker, Extractor: c.Extractor}
}

func (c Config) Validate() error {
	var errs []error
	for name, port := range map[string]int{"RPCPort": c.RPCPort, "HTTPPort": c.HTTPPort, "MetricsPort": c.MetricsPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", name, port))
		}
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("maxSessions must be positive, got %d", c.MaxSessions))
	}
	if c.IdleTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("idleTimeoutMs must not be negative, got %d", c.IdleTimeoutMs))
	}
	switch c.LogMode {
	case "", "production", "prod", "development", "dev":
	default:
		errs = append(errs, fmt.Errorf("unknown logMode %q", c.LogMode))
	}
	if c.UseRegServer && c.RegServerHost == "" {
		errs = append(errs, errors.New("RegServerHost is required when UseRegServer is set"))
	}
	if err := c.Engine().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
