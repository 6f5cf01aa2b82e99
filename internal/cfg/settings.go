package cfg

import (
	"time"

	"dropiq-ml/internal/common"
	"dropiq-ml/internal/ml"
)

// Settings is the resolved runtime configuration shared by the binaries.
type Settings struct {
	// Serving
	Port           int
	ModelPath      string
	ReportPath     string
	DataPath       string // optional; empty disables score history
	CacheSize      int
	RequestTimeout time.Duration
	HighRiskProb   float64

	// Logging
	LogLevel string
	LogFile  string // optional rotating file output

	// Training
	TrainRows        int
	TrainSeed        int64
	TrainParallelism int
	Forest           ml.ForestConfig
	Boosting         ml.BoostingConfig

	// Client
	ServiceURL string
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	forest := ml.DefaultForestConfig()
	forest.Trees = common.DefaultForestTrees
	boosting := ml.DefaultBoostingConfig()
	boosting.Rounds = common.DefaultBoostingRounds

	timeout, _ := time.ParseDuration(common.DefaultRequestTimeout)
	return Settings{
		Port:             common.DefaultPort,
		ModelPath:        common.DefaultModelPath,
		ReportPath:       common.DefaultReportPath,
		CacheSize:        common.DefaultCacheSize,
		RequestTimeout:   timeout,
		HighRiskProb:     common.DefaultHighRiskProb,
		LogLevel:         common.DefaultLogLevel,
		TrainRows:        common.DefaultTrainRows,
		TrainSeed:        common.DefaultTrainSeed,
		TrainParallelism: common.DefaultTrainParallelism,
		Forest:           forest,
		Boosting:         boosting,
		ServiceURL:       common.DefaultServiceURL,
	}
}

// TrainerConfig builds the training configuration. The run seed drives the
// split and both candidates so one value reproduces the whole run.
func (s *Settings) TrainerConfig() ml.TrainerConfig {
	c := ml.DefaultTrainerConfig()
	c.Seed = s.TrainSeed
	c.Parallelism = s.TrainParallelism
	c.Forest = s.Forest
	c.Forest.Seed = s.TrainSeed
	c.Boosting = s.Boosting
	c.Boosting.Seed = s.TrainSeed
	return c
}
