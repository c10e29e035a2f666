package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the dfrot configuration file
// (~/.config/dfrot/config.yaml). String fields left empty and nil
// pointers mean "not set" so flag values win.
type Config struct {
	OutputDir string `yaml:"output_dir"`
	ModelsDir string `yaml:"models_dir"`

	// Script generation
	Pipeline string `yaml:"pipeline"`
	Devices  string `yaml:"devices"`

	// Run tracking
	Database      string `yaml:"database"`
	ServerAddress string `yaml:"server_address"`

	Workers *int `yaml:"workers"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dfrot", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or doesn't parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyRenderConfig fills script-generation defaults from the config
// file when the corresponding flag was not set.
func applyRenderConfig(c *cli.Command, cfg Config, out, pipeline, devices *string) {
	if cfg.OutputDir != "" && !c.IsSet("out") {
		*out = cfg.OutputDir
	}
	if cfg.Pipeline != "" && !c.IsSet("pipeline") {
		*pipeline = cfg.Pipeline
	}
	if cfg.Devices != "" && !c.IsSet("devices") {
		*devices = cfg.Devices
	}
}

// applyWorkersConfig fills the matmul worker count from the config file.
func applyWorkersConfig(c *cli.Command, cfg Config, workers *int64) {
	if cfg.Workers != nil && !c.IsSet("workers") {
		*workers = int64(*cfg.Workers)
	}
}

// applyServeConfig fills server defaults from the config file.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
