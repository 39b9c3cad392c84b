// Package config assembles the application configuration from defaults,
// YAML files and PODIUM_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/podium/internal/batch"
	"github.com/MeKo-Tech/podium/internal/engine"
	"github.com/MeKo-Tech/podium/internal/pipeline"
	"github.com/MeKo-Tech/podium/internal/preprocess"
	"github.com/MeKo-Tech/podium/internal/server"
	"github.com/MeKo-Tech/podium/internal/store"
)

// Config is the complete application configuration.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// RosterFile seeds the player roster and alias table.
	RosterFile string `mapstructure:"roster_file" yaml:"roster_file" json:"roster_file"`

	Preprocess preprocess.Config `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
	Engines    EnginesConfig     `mapstructure:"engines" yaml:"engines" json:"engines"`
	Pipeline   pipeline.Config   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Batch      batch.Config      `mapstructure:"batch" yaml:"batch" json:"batch"`
	Store      store.Config      `mapstructure:"store" yaml:"store" json:"store"`
	Server     server.Config     `mapstructure:"server" yaml:"server" json:"server"`
}

// EnginesConfig selects and configures the recognition engines.
type EnginesConfig struct {
	Tesseract TesseractEngineConfig `mapstructure:"tesseract" yaml:"tesseract" json:"tesseract"`
	Paddle    PaddleEngineConfig    `mapstructure:"paddle" yaml:"paddle" json:"paddle"`
}

type TesseractEngineConfig struct {
	Enabled                bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	engine.TesseractConfig `mapstructure:",squash" yaml:",inline"`
}

type PaddleEngineConfig struct {
	Enabled             bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	engine.PaddleConfig `mapstructure:",squash" yaml:",inline"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel:   "info",
		RosterFile: "roster.yaml",
		Preprocess: preprocess.DefaultConfig(),
		Engines: EnginesConfig{
			Tesseract: TesseractEngineConfig{
				Enabled:         true,
				TesseractConfig: engine.DefaultTesseractConfig(),
			},
			Paddle: PaddleEngineConfig{
				Enabled:      false,
				PaddleConfig: engine.DefaultPaddleConfig(),
			},
		},
		Pipeline: pipeline.DefaultConfig(),
		Batch:    batch.DefaultConfig(),
		Store:    store.DefaultConfig(),
		Server:   server.DefaultConfig(),
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug, info, warn or error)", c.LogLevel)
	}

	if !c.Engines.Tesseract.Enabled && !c.Engines.Paddle.Enabled {
		return fmt.Errorf("at least one recognition engine must be enabled")
	}
	if c.Engines.Paddle.Enabled && c.Engines.Paddle.ModelPath == "" {
		return fmt.Errorf("engines.paddle.model_path is required when the paddle engine is enabled")
	}

	if err := c.Pipeline.Score.Validate(); err != nil {
		return fmt.Errorf("pipeline.score: %w", err)
	}
	if t := c.Pipeline.Classifier.Threshold; t <= 0 || t > 1 {
		return fmt.Errorf("pipeline.classifier.threshold must be in (0,1], got %v", t)
	}
	if r := c.Pipeline.Ensemble.AgreementRatio; r <= 0 || r > 1 {
		return fmt.Errorf("pipeline.ensemble.agreement_ratio must be in (0,1], got %v", r)
	}
	if ft := c.Pipeline.Match.FuzzyThreshold; ft <= 0 || ft > 1 {
		return fmt.Errorf("pipeline.match.fuzzy_threshold must be in (0,1], got %v", ft)
	}
	if c.Pipeline.ExpectedPlayers < 0 {
		return fmt.Errorf("pipeline.expected_players must be >= 0")
	}

	if c.Batch.Window <= 0 {
		return fmt.Errorf("batch.window must be positive")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	return nil
}
