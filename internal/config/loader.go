package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "podium"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "PODIUM"
)

// Loader handles loading configuration from files and the environment.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader over the global viper instance so cobra flag
// bindings keep working.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// Load reads configuration from the standard search paths, applies
// environment overrides and defaults, validates and returns the result.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars carry it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile reads configuration from one specific file.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// GetConfigFileUsed returns the path of the config file used, if any.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath("/etc/podium")
	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		l.v.AddConfigPath(filepath.Join(configDir, "podium"))
	} else if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "podium"))
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)
	l.v.SetDefault("roster_file", defaults.RosterFile)

	l.v.SetDefault("preprocess.min_height", defaults.Preprocess.MinHeight)
	l.v.SetDefault("preprocess.contrast", defaults.Preprocess.Contrast)
	l.v.SetDefault("preprocess.sharpen", defaults.Preprocess.Sharpen)
	l.v.SetDefault("preprocess.binarize_threshold", defaults.Preprocess.BinarizeThreshold)
	l.v.SetDefault("preprocess.adaptive_window", defaults.Preprocess.AdaptiveWindow)
	l.v.SetDefault("preprocess.adaptive_bias", defaults.Preprocess.AdaptiveBias)

	l.v.SetDefault("engines.tesseract.enabled", defaults.Engines.Tesseract.Enabled)
	l.v.SetDefault("engines.tesseract.language", defaults.Engines.Tesseract.Language)
	l.v.SetDefault("engines.tesseract.whitelist", defaults.Engines.Tesseract.Whitelist)
	l.v.SetDefault("engines.tesseract.psm", defaults.Engines.Tesseract.PSM)
	l.v.SetDefault("engines.paddle.enabled", defaults.Engines.Paddle.Enabled)
	l.v.SetDefault("engines.paddle.model_path", defaults.Engines.Paddle.ModelPath)
	l.v.SetDefault("engines.paddle.dict_path", defaults.Engines.Paddle.DictPath)
	l.v.SetDefault("engines.paddle.image_height", defaults.Engines.Paddle.ImageHeight)
	l.v.SetDefault("engines.paddle.num_threads", defaults.Engines.Paddle.NumThreads)

	l.v.SetDefault("pipeline.classifier.threshold", defaults.Pipeline.Classifier.Threshold)
	l.v.SetDefault("pipeline.classifier.min_rows", defaults.Pipeline.Classifier.MinRows)
	l.v.SetDefault("pipeline.classifier.keywords", defaults.Pipeline.Classifier.Keywords)
	l.v.SetDefault("pipeline.classifier.low_res_width", defaults.Pipeline.Classifier.LowResWidth)
	l.v.SetDefault("pipeline.classifier.aspect_min", defaults.Pipeline.Classifier.AspectMin)
	l.v.SetDefault("pipeline.classifier.aspect_max", defaults.Pipeline.Classifier.AspectMax)
	l.v.SetDefault("pipeline.ensemble.agreement_ratio", defaults.Pipeline.Ensemble.AgreementRatio)
	l.v.SetDefault("pipeline.ensemble.max_parallel", defaults.Pipeline.Ensemble.MaxParallel)
	l.v.SetDefault("pipeline.extract.placement_keywords", defaults.Pipeline.Extract.PlacementKeywords)
	l.v.SetDefault("pipeline.extract.name_keywords", defaults.Pipeline.Extract.NameKeywords)
	l.v.SetDefault("pipeline.extract.column_tolerance", defaults.Pipeline.Extract.ColumnTolerance)
	l.v.SetDefault("pipeline.match.fuzzy_threshold", defaults.Pipeline.Match.FuzzyThreshold)
	l.v.SetDefault("pipeline.score.weights.classification", defaults.Pipeline.Score.Weights.Classification)
	l.v.SetDefault("pipeline.score.weights.agreement", defaults.Pipeline.Score.Weights.Agreement)
	l.v.SetDefault("pipeline.score.weights.cell_confidence", defaults.Pipeline.Score.Weights.CellConfidence)
	l.v.SetDefault("pipeline.score.weights.match_confidence", defaults.Pipeline.Score.Weights.MatchConfidence)
	l.v.SetDefault("pipeline.score.weights.structural", defaults.Pipeline.Score.Weights.Structural)
	l.v.SetDefault("pipeline.score.auto_accept_threshold", defaults.Pipeline.Score.AutoAcceptThreshold)
	l.v.SetDefault("pipeline.expected_players", defaults.Pipeline.ExpectedPlayers)
	l.v.SetDefault("pipeline.image.min_width", defaults.Pipeline.Image.MinWidth)
	l.v.SetDefault("pipeline.image.min_height", defaults.Pipeline.Image.MinHeight)
	l.v.SetDefault("pipeline.image.max_width", defaults.Pipeline.Image.MaxWidth)
	l.v.SetDefault("pipeline.image.max_height", defaults.Pipeline.Image.MaxHeight)

	l.v.SetDefault("batch.window", defaults.Batch.Window)
	l.v.SetDefault("batch.workers", defaults.Batch.Workers)
	l.v.SetDefault("batch.queue_size", defaults.Batch.QueueSize)
	l.v.SetDefault("batch.expected_lobbies", defaults.Batch.ExpectedLobbies)

	l.v.SetDefault("store.path", defaults.Store.Path)
	l.v.SetDefault("store.reprocess_rejected", defaults.Store.ReprocessRejected)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
}
