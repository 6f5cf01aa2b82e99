package common

// Service identity
const (
	ServiceName = "dropiq-ml"
	StatusOK    = "ok"
)

// Feature schema. The order is part of the model contract: training, scoring
// and explanations all index features by position in FeatureNames.
const (
	FeatureTenureMonths = "tenure_months"
	FeatureMRR          = "mrr"
	FeatureLogins7d     = "logins_7d"
	FeatureTickets30d   = "tickets_30d"
	FeatureNPS          = "nps"
	LabelChurn          = "churn"
)

// NumFeatures is the expected input dimensionality of every model.
const NumFeatures = 5

// FeatureNames returns the feature schema in model order.
func FeatureNames() []string {
	return []string{
		FeatureTenureMonths,
		FeatureMRR,
		FeatureLogins7d,
		FeatureTickets30d,
		FeatureNPS,
	}
}

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvPort             = "PORT"
	EnvModelPath        = "MODEL_PATH"
	EnvReportPath       = "REPORT_PATH"
	EnvDataPath         = "DATA_PATH"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFile          = "LOG_FILE"
	EnvCacheSize        = "PREDICTION_CACHE_SIZE"
	EnvRequestTimeout   = "REQUEST_TIMEOUT"
	EnvHighRiskProb     = "HIGH_RISK_THRESHOLD"
	EnvTrainRows        = "TRAIN_ROWS"
	EnvTrainSeed        = "TRAIN_SEED"
	EnvForestTrees      = "FOREST_TREES"
	EnvBoostingRounds   = "BOOSTING_ROUNDS"
	EnvTrainParallelism = "TRAIN_PARALLELISM"
	EnvServiceURL       = "ML_SERVICE_URL"
)

// Configuration defaults
const (
	DefaultPort             = 8000
	DefaultModelPath        = "models/model.json.gz"
	DefaultReportPath       = "models/training_report.md"
	DefaultLogLevel         = "info"
	DefaultCacheSize        = 1024
	DefaultRequestTimeout   = "5s"
	DefaultHighRiskProb     = 0.7
	DefaultTrainRows        = 50_000
	DefaultTrainSeed        = 42
	DefaultForestTrees      = 200
	DefaultBoostingRounds   = 300
	DefaultTrainParallelism = 4
	DefaultServiceURL       = "http://localhost:8000"
)

// Model constants
const (
	DecisionThreshold   = 0.5
	FallbackProbability = 0.7
	TestFraction        = 0.2
)

// Validation constants
const (
	MinPort           = 1024
	MaxPort           = 65535
	MinTrainRows      = 100
	MaxTrainRows      = 10_000_000
	MaxEnsembleSize   = 5000
	MaxCacheSize      = 1_000_000
	MaxRequestTimeout = 60 // seconds
)
