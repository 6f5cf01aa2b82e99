package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dropiq-ml/internal/common"
	"dropiq-ml/internal/ml"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type ConfigFile struct {
	Server struct {
		Port           int     `yaml:"port"`
		CacheSize      *int    `yaml:"cacheSize"`
		RequestTimeout string  `yaml:"requestTimeout"`
		HighRiskProb   float64 `yaml:"highRiskThreshold"`
	} `yaml:"server"`

	Model struct {
		Path       string `yaml:"path"`
		ReportPath string `yaml:"reportPath"`
	} `yaml:"model"`

	Storage struct {
		DataPath string `yaml:"dataPath"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Training struct {
		Rows        int                `yaml:"rows"`
		Seed        *int64             `yaml:"seed"`
		Parallelism int                `yaml:"parallelism"`
		Forest      *ml.ForestConfig   `yaml:"forest"`
		Boosting    *ml.BoostingConfig `yaml:"boosting"`
	} `yaml:"training"`

	Client struct {
		ServiceURL string `yaml:"serviceURL"`
	} `yaml:"client"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Defaults()
	if config.Server.Port != 0 {
		settings.Port = config.Server.Port
	}
	if config.Server.CacheSize != nil {
		settings.CacheSize = *config.Server.CacheSize
	}
	if config.Server.RequestTimeout != "" {
		d, err := time.ParseDuration(config.Server.RequestTimeout)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid requestTimeout %q: %w", config.Server.RequestTimeout, err)
		}
		settings.RequestTimeout = d
	}
	if config.Server.HighRiskProb != 0 {
		settings.HighRiskProb = config.Server.HighRiskProb
	}
	settings.ModelPath = orDefault(config.Model.Path, settings.ModelPath)
	settings.ReportPath = orDefault(config.Model.ReportPath, settings.ReportPath)
	settings.DataPath = config.Storage.DataPath
	settings.LogLevel = orDefault(config.Logging.Level, settings.LogLevel)
	settings.LogFile = config.Logging.File
	if config.Training.Rows != 0 {
		settings.TrainRows = config.Training.Rows
	}
	if config.Training.Seed != nil {
		settings.TrainSeed = *config.Training.Seed
	}
	if config.Training.Parallelism != 0 {
		settings.TrainParallelism = config.Training.Parallelism
	}
	if config.Training.Forest != nil {
		settings.Forest = mergeForest(settings.Forest, *config.Training.Forest)
	}
	if config.Training.Boosting != nil {
		settings.Boosting = mergeBoosting(settings.Boosting, *config.Training.Boosting)
	}
	settings.ServiceURL = orDefault(config.Client.ServiceURL, settings.ServiceURL)

	// Override with environment variables if they exist
	applyEnv(&settings)

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Defaults()
	applyEnv(&settings)

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// applyEnv overrides s with every environment variable that is set and
// parses. Unparseable values keep the current setting.
func applyEnv(s *Settings) {
	s.Port = getIntOrDefault(common.EnvPort, s.Port)
	s.ModelPath = getEnvOrDefault(common.EnvModelPath, s.ModelPath)
	s.ReportPath = getEnvOrDefault(common.EnvReportPath, s.ReportPath)
	s.DataPath = getEnvOrDefault(common.EnvDataPath, s.DataPath)
	s.LogLevel = getEnvOrDefault(common.EnvLogLevel, s.LogLevel)
	s.LogFile = getEnvOrDefault(common.EnvLogFile, s.LogFile)
	s.CacheSize = getIntOrDefault(common.EnvCacheSize, s.CacheSize)
	s.RequestTimeout = getDurationOrDefault(common.EnvRequestTimeout, s.RequestTimeout)
	s.HighRiskProb = getFloatOrDefault(common.EnvHighRiskProb, s.HighRiskProb)
	s.TrainRows = getIntOrDefault(common.EnvTrainRows, s.TrainRows)
	s.TrainSeed = getInt64OrDefault(common.EnvTrainSeed, s.TrainSeed)
	s.TrainParallelism = getIntOrDefault(common.EnvTrainParallelism, s.TrainParallelism)
	s.Forest.Trees = getIntOrDefault(common.EnvForestTrees, s.Forest.Trees)
	s.Boosting.Rounds = getIntOrDefault(common.EnvBoostingRounds, s.Boosting.Rounds)
	s.ServiceURL = strings.TrimRight(getEnvOrDefault(common.EnvServiceURL, s.ServiceURL), "/")
}

func mergeForest(base, file ml.ForestConfig) ml.ForestConfig {
	if file.Trees != 0 {
		base.Trees = file.Trees
	}
	if file.MaxDepth != 0 {
		base.MaxDepth = file.MaxDepth
	}
	if file.MinSamplesLeaf != 0 {
		base.MinSamplesLeaf = file.MinSamplesLeaf
	}
	if file.MaxFeatures != 0 {
		base.MaxFeatures = file.MaxFeatures
	}
	return base
}

func mergeBoosting(base, file ml.BoostingConfig) ml.BoostingConfig {
	if file.Rounds != 0 {
		base.Rounds = file.Rounds
	}
	if file.MaxDepth != 0 {
		base.MaxDepth = file.MaxDepth
	}
	if file.LearningRate != 0 {
		base.LearningRate = file.LearningRate
	}
	if file.Subsample != 0 {
		base.Subsample = file.Subsample
	}
	if file.ColSample != 0 {
		base.ColSample = file.ColSample
	}
	if file.Lambda != 0 {
		base.Lambda = file.Lambda
	}
	if file.MinChildWeight != 0 {
		base.MinChildWeight = file.MinChildWeight
	}
	return base
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate paths
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.ReportPath == "" {
		return fmt.Errorf("report path cannot be empty")
	}
	if settings.ModelPath == settings.ReportPath {
		return fmt.Errorf("model and report paths must differ, both are %s", settings.ModelPath)
	}
	if settings.ServiceURL == "" {
		return fmt.Errorf("service URL cannot be empty")
	}

	// Validate serving parameters
	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	if settings.CacheSize < 0 || settings.CacheSize > common.MaxCacheSize {
		return fmt.Errorf("cache size must be between 0 and %d, got %d", common.MaxCacheSize, settings.CacheSize)
	}
	if settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > common.MaxRequestTimeout*time.Second {
		return fmt.Errorf("request timeout must be between 100ms and %ds, got %v", common.MaxRequestTimeout, settings.RequestTimeout)
	}
	if settings.HighRiskProb <= 0 || settings.HighRiskProb > 1 {
		return fmt.Errorf("high risk threshold must be in (0, 1], got %f", settings.HighRiskProb)
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}

	// Validate training parameters
	if settings.TrainRows < common.MinTrainRows || settings.TrainRows > common.MaxTrainRows {
		return fmt.Errorf("training rows must be between %d and %d, got %d", common.MinTrainRows, common.MaxTrainRows, settings.TrainRows)
	}
	if settings.TrainParallelism < 1 || settings.TrainParallelism > 256 {
		return fmt.Errorf("training parallelism must be between 1 and 256, got %d", settings.TrainParallelism)
	}
	if settings.Forest.Trees < 1 || settings.Forest.Trees > common.MaxEnsembleSize {
		return fmt.Errorf("forest trees must be between 1 and %d, got %d", common.MaxEnsembleSize, settings.Forest.Trees)
	}
	if settings.Forest.MaxDepth < 0 || settings.Forest.MinSamplesLeaf < 1 {
		return fmt.Errorf("forest depth must be >= 0 and min samples per leaf >= 1")
	}
	if settings.Forest.MaxFeatures < 0 || settings.Forest.MaxFeatures > common.NumFeatures {
		return fmt.Errorf("forest max features must be between 0 and %d, got %d", common.NumFeatures, settings.Forest.MaxFeatures)
	}
	if settings.Boosting.Rounds < 1 || settings.Boosting.Rounds > common.MaxEnsembleSize {
		return fmt.Errorf("boosting rounds must be between 1 and %d, got %d", common.MaxEnsembleSize, settings.Boosting.Rounds)
	}
	if settings.Boosting.MaxDepth < 1 {
		return fmt.Errorf("boosting depth must be >= 1, got %d", settings.Boosting.MaxDepth)
	}
	if settings.Boosting.LearningRate <= 0 || settings.Boosting.LearningRate > 1 {
		return fmt.Errorf("learning rate must be in (0, 1], got %f", settings.Boosting.LearningRate)
	}
	if settings.Boosting.Subsample <= 0 || settings.Boosting.Subsample > 1 {
		return fmt.Errorf("subsample must be in (0, 1], got %f", settings.Boosting.Subsample)
	}
	if settings.Boosting.ColSample <= 0 || settings.Boosting.ColSample > 1 {
		return fmt.Errorf("column sample must be in (0, 1], got %f", settings.Boosting.ColSample)
	}
	if settings.Boosting.Lambda < 0 || settings.Boosting.MinChildWeight < 0 {
		return fmt.Errorf("lambda and min child weight must be >= 0")
	}

	return nil
}
