package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

// Config holds the full application configuration. Every tunable the core
// logic depends on lives here; components receive values as explicit
// parameters, never read them from hidden defaults.
type Config struct {
	Store      StoreConfig    `yaml:"store" mapstructure:"store"`
	Extract    ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	Physics    PhysicsConfig  `yaml:"physics" mapstructure:"physics"`
	Coastal    CoastalConfig  `yaml:"coastal" mapstructure:"coastal"`
	Train      TrainConfig    `yaml:"train" mapstructure:"train"`
	Predict    PredictConfig  `yaml:"predict" mapstructure:"predict"`
	Validation ValidateConfig `yaml:"validate" mapstructure:"validate"`
	Log        LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the segment store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ExtractConfig configures the topology feature extractor.
type ExtractConfig struct {
	// MaxDownstreamHops bounds the downstream walk; a chain longer than this
	// is treated as a topology cycle.
	MaxDownstreamHops int `yaml:"max_downstream_hops" mapstructure:"max_downstream_hops"`
	Workers           int `yaml:"workers" mapstructure:"workers"`
}

// PhysicsConfig configures physical-model grid sampling and sanitization.
type PhysicsConfig struct {
	GridDir string `yaml:"grid_dir" mapstructure:"grid_dir"`

	// Sentinel/ceiling values. Grid cells at the fill value or beyond a
	// ceiling are treated as missing, never clipped.
	FillValue       float64 `yaml:"fill_value" mapstructure:"fill_value"`
	MaxSalinityPSU  float64 `yaml:"max_salinity_psu" mapstructure:"max_salinity_psu"`
	MaxDischargeM3S float64 `yaml:"max_discharge_m3s" mapstructure:"max_discharge_m3s"`
	MinTempC        float64 `yaml:"min_temp_c" mapstructure:"min_temp_c"`
	MaxTempC        float64 `yaml:"max_temp_c" mapstructure:"max_temp_c"`
}

// CoastalConfig configures nearest-transect association.
type CoastalConfig struct {
	// MaxAssociationKM is the radius beyond which segments get null coastal
	// features instead of the nearest transect.
	MaxAssociationKM float64 `yaml:"max_association_km" mapstructure:"max_association_km"`
	Workers          int     `yaml:"workers" mapstructure:"workers"`
}

// HyperparameterGrid is the ensemble search space explored during k-fold CV.
type HyperparameterGrid struct {
	Trees       []int `yaml:"trees" mapstructure:"trees"`
	MaxDepth    []int `yaml:"max_depth" mapstructure:"max_depth"`
	MinLeafSize []int `yaml:"min_leaf_size" mapstructure:"min_leaf_size"`
}

// TrainConfig configures the training engine.
type TrainConfig struct {
	HoldoutRegion  string             `yaml:"holdout_region" mapstructure:"holdout_region"`
	MinLabeledRows int                `yaml:"min_labeled_rows" mapstructure:"min_labeled_rows"`
	CVFolds        int                `yaml:"cv_folds" mapstructure:"cv_folds"`
	Seed           int64              `yaml:"seed" mapstructure:"seed"`
	Grid           HyperparameterGrid `yaml:"grid" mapstructure:"grid"`
}

// PredictConfig configures the prediction engine.
type PredictConfig struct {
	Confidence model.ConfidenceThresholds `yaml:"confidence" mapstructure:"confidence"`
}

// DistanceBin is one distance-to-ocean stratum with its declared ceiling on
// the fraction of segments classified estuarine.
type DistanceBin struct {
	MinKM        float64 `yaml:"min_km" mapstructure:"min_km"`
	MaxKM        float64 `yaml:"max_km" mapstructure:"max_km"` // <=0 means unbounded
	MaxEstuarine float64 `yaml:"max_estuarine" mapstructure:"max_estuarine"`
}

// ValidateConfig configures the validation engine. Bin edges and ceilings
// are domain-tuned inputs, not authoritative constants.
type ValidateConfig struct {
	MinHoldoutAccuracy float64       `yaml:"min_holdout_accuracy" mapstructure:"min_holdout_accuracy"`
	DistanceBins       []DistanceBin `yaml:"distance_bins" mapstructure:"distance_bins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ESTUARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "estuary.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("extract.max_downstream_hops", 10000)
	v.SetDefault("extract.workers", 4)
	v.SetDefault("physics.fill_value", 1e20)
	v.SetDefault("physics.max_salinity_psu", 45.0)
	v.SetDefault("physics.max_discharge_m3s", 300000.0)
	v.SetDefault("physics.min_temp_c", -2.0)
	v.SetDefault("physics.max_temp_c", 50.0)
	v.SetDefault("coastal.max_association_km", 5.0)
	v.SetDefault("coastal.workers", 4)
	v.SetDefault("train.holdout_region", "SP")
	v.SetDefault("train.min_labeled_rows", 100)
	v.SetDefault("train.cv_folds", 5)
	v.SetDefault("train.seed", 42)
	v.SetDefault("train.grid.trees", []int{50, 100, 200})
	v.SetDefault("train.grid.max_depth", []int{10, 20})
	v.SetDefault("train.grid.min_leaf_size", []int{5, 10})
	v.SetDefault("predict.confidence.high", 0.75)
	v.SetDefault("predict.confidence.medium", 0.60)
	v.SetDefault("predict.confidence.low", 0.45)
	v.SetDefault("validate.min_holdout_accuracy", 0.60)
	v.SetDefault("validate.distance_bins", []map[string]any{
		{"min_km": 0.0, "max_km": 20.0, "max_estuarine": 0.90},
		{"min_km": 20.0, "max_km": 50.0, "max_estuarine": 0.60},
		{"min_km": 50.0, "max_km": 100.0, "max_estuarine": 0.25},
		{"min_km": 100.0, "max_km": 0.0, "max_estuarine": 0.05},
	})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks cross-field constraints before a stage runs.
func (c *Config) Validate() error {
	if !model.ValidRegion(model.Region(c.Train.HoldoutRegion)) {
		return eris.Errorf("config: unknown holdout region %q", c.Train.HoldoutRegion)
	}
	if c.Coastal.MaxAssociationKM <= 0 {
		return eris.New("config: coastal.max_association_km must be positive")
	}
	if c.Train.CVFolds < 2 {
		return eris.New("config: train.cv_folds must be at least 2")
	}
	if len(c.Validation.DistanceBins) == 0 {
		return eris.New("config: validate.distance_bins must not be empty")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
