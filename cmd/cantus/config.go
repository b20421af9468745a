package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the cantus configuration file
// (~/.config/cantus/config.yaml). Fields are pointers where "not set" must
// stay distinguishable from a zero value.
type Config struct {
	ModelsDir string `yaml:"models_dir"`

	// Generation defaults
	Temperature       *float64 `yaml:"temperature"`
	BeamSize          *int64   `yaml:"beam_size"`
	BranchFactor      *int64   `yaml:"branch_factor"`
	StepsPerIteration *int64   `yaml:"steps_per_iteration"`
	BatchSize         *int64   `yaml:"batch_size"`
	Seed              *int64   `yaml:"seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress  string         `yaml:"server_address"`
	RateLimit      *float64       `yaml:"rate_limit"`
	RequestTimeout *time.Duration `yaml:"request_timeout"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cantus", "config.yaml")
}

// applyGenerateConfig applies config file defaults to generate command
// variables when the corresponding CLI flag was not explicitly set.
func applyGenerateConfig(c *cli.Command, cfg Config,
	temp *float64, beamSize, branchFactor, stepsPerIter, seed *int64,
) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		batchSize = *cfg.BatchSize
	}
	if cfg.Temperature != nil && !c.IsSet("temp") && !c.IsSet("temperature") && !c.IsSet("t") {
		*temp = *cfg.Temperature
	}
	if cfg.BeamSize != nil && !c.IsSet("beam-size") {
		*beamSize = *cfg.BeamSize
	}
	if cfg.BranchFactor != nil && !c.IsSet("branch-factor") {
		*branchFactor = *cfg.BranchFactor
	}
	if cfg.StepsPerIteration != nil && !c.IsSet("steps-per-iteration") {
		*stepsPerIter = *cfg.StepsPerIteration
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, rateLimit *float64, requestTimeout *time.Duration) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		batchSize = *cfg.BatchSize
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		*rateLimit = *cfg.RateLimit
	}
	if cfg.RequestTimeout != nil && !c.IsSet("request-timeout") {
		*requestTimeout = *cfg.RequestTimeout
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or fails to parse.
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
