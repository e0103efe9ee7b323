// Package config defines the data structures related to configuration and
// includes functions for loading and parsing the config.
package config

import (
	"fmt"
	"io"

	"github.com/packworth/packworth/internal/solver"
	"github.com/packworth/packworth/pkg/constants"
	"github.com/spf13/viper"
)

// Configuration holds all configuration for packworth.
type Configuration struct {
	Solver  SolverConfig  `yaml:"solver,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Output  OutputConfig  `yaml:"output,omitempty"`
	Server  ServerConfig  `yaml:"server,omitempty"`
}

// SolverConfig tunes the price inference engine.
type SolverConfig struct {
	Epsilon               float64 `yaml:"epsilon,omitempty"`               // convergence tolerance in currency units
	MaxIterations         int     `yaml:"maxIterations,omitempty"`         // fixed-point iteration cap
	CountUnpricedEvidence bool    `yaml:"countUnpricedEvidence,omitempty"` // count discount-bundle participation toward confidence
}

// StorageConfig locates the bundle store.
type StorageConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty"` // pretty, csv, json
}

// ServerConfig holds API server options.
type ServerConfig struct {
	Address       string `yaml:"address,omitempty"`
	MaxUploadSize string `yaml:"maxUploadSize,omitempty"`
	SnapshotDir   string `yaml:"snapshotDir,omitempty"`
}

// Default returns a Configuration carrying the documented defaults, for use
// when no config file is present.
func Default() *Configuration {
	return &Configuration{
		Solver: SolverConfig{
			Epsilon:               constants.DefaultEpsilon,
			MaxIterations:         constants.DefaultMaxIterations,
			CountUnpricedEvidence: true,
		},
		Storage: StorageConfig{Path: constants.DefaultDatabaseFile},
		Server:  ServerConfig{Address: constants.DefaultServerAddress},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("solver.epsilon", constants.DefaultEpsilon)
	v.SetDefault("solver.maxIterations", constants.DefaultMaxIterations)
	v.SetDefault("solver.countUnpricedEvidence", true)
	v.SetDefault("storage.path", constants.DefaultDatabaseFile)
	v.SetDefault("server.address", constants.DefaultServerAddress)
	v.AutomaticEnv()
	return v
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %s", err)
	}

	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	return &configuration, nil
}

// LoadConfigurationFromReader loads a YAML configuration from an in-memory
// source, e.g. an uploaded document.
func LoadConfigurationFromReader(r io.Reader) (*Configuration, error) {
	v := newViper()
	v.SetConfigType("yml")

	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config data, %s", err)
	}

	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	return &configuration, nil
}

// SolverOptions converts the configured tuning into solver options, falling
// back to defaults for unusable values.
func (conf *Configuration) SolverOptions() solver.Options {
	opts := solver.DefaultOptions()
	if conf.Solver.Epsilon > 0 {
		opts.Epsilon = conf.Solver.Epsilon
	}
	if conf.Solver.MaxIterations > 0 {
		opts.MaxIterations = conf.Solver.MaxIterations
	}
	opts.CountUnpricedEvidence = conf.Solver.CountUnpricedEvidence
	return opts
}

// ValidateConfiguration checks for suspect settings and returns warnings for
// anything that will be replaced by a default at runtime.
func (conf *Configuration) ValidateConfiguration() []string {
	var warnings []string

	if conf.Solver.Epsilon < 0 {
		warnings = append(warnings, fmt.Sprintf("solver epsilon %v is negative - using default %v",
			conf.Solver.Epsilon, constants.DefaultEpsilon))
	}
	if conf.Solver.MaxIterations < 0 {
		warnings = append(warnings, fmt.Sprintf("solver maxIterations %d is negative - using default %d",
			conf.Solver.MaxIterations, constants.DefaultMaxIterations))
	}
	if conf.Solver.Epsilon > 1 {
		warnings = append(warnings, fmt.Sprintf("solver epsilon %v is larger than one currency unit - estimates may be unstable",
			conf.Solver.Epsilon))
	}

	switch conf.Output.Format {
	case "", constants.OutputFormatPretty, constants.OutputFormatCSV, constants.OutputFormatJSON:
	default:
		warnings = append(warnings, fmt.Sprintf("unknown output format %q - using %s",
			conf.Output.Format, constants.OutputFormatPretty))
	}

	switch conf.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown log level %q - using info", conf.Logging.Level))
	}

	return warnings
}
