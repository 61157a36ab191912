// Package config loads learner configurations from YAML or TOML files and
// GOFOREST_ environment variables.
//
// Precedence, low to high:
//  1. Default()
//  2. the file given to Load, or named by GOFOREST_CONFIG
//  3. environment variables such as GOFOREST_LABEL or
//     GOFOREST_GRADIENT_BOOSTED_TREES__NUM_TREES (a double underscore
//     separates nested keys)
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/gbt"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
)

const (
	// EnvPrefix prefixes the environment variables read by Load.
	EnvPrefix = "GOFOREST_"
	// EnvConfigFile names the configuration file when Load gets no path.
	EnvConfigFile = EnvPrefix + "CONFIG"
)

// Learner names.
const (
	GradientBoostedTrees = "GRADIENT_BOOSTED_TREES"
	RandomForest         = "RANDOM_FOREST"
	Cart                 = "CART"
)

// LearnerConfig selects and parameterizes a learner.
type LearnerConfig struct {
	Learner    string   `koanf:"learner"`
	Label      string   `koanf:"label"`
	Task       string   `koanf:"task"`
	Weights    string   `koanf:"weights"`
	Features   []string `koanf:"features"`
	RandomSeed uint64   `koanf:"random_seed"`
	NumWorkers int      `koanf:"num_workers"`
	LogLevel   string   `koanf:"log_level"`

	GradientBoostedTrees GradientBoostedTreesConfig `koanf:"gradient_boosted_trees"`
	RandomForest         RandomForestConfig         `koanf:"random_forest"`
}

// GradientBoostedTreesConfig holds the hyper-parameters of the GBT learner.
type GradientBoostedTreesConfig struct {
	NumTrees               int     `koanf:"num_trees"`
	Shrinkage              float64 `koanf:"shrinkage"`
	MaxDepth               int     `koanf:"max_depth"`
	MinExamples            int     `koanf:"min_examples"`
	L2Regularization       float64 `koanf:"l2_regularization"`
	Subsample              float64 `koanf:"subsample"`
	NumCandidateAttributes int     `koanf:"num_candidate_attributes"`
	ValidationRatio        float64 `koanf:"validation_ratio"`
	EarlyStopping          string  `koanf:"early_stopping"`
	EarlyStoppingLookahead int     `koanf:"early_stopping_num_trees_look_ahead"`
}

// RandomForestConfig holds the hyper-parameters of the random forest and
// CART learners. CART ignores NumTrees, Bootstrap and ComputeOOB.
type RandomForestConfig struct {
	NumTrees               int  `koanf:"num_trees"`
	MaxDepth               int  `koanf:"max_depth"`
	MinExamples            int  `koanf:"min_examples"`
	NumCandidateAttributes int  `koanf:"num_candidate_attributes"`
	Bootstrap              bool `koanf:"bootstrap"`
	WinnerTakeAll          bool `koanf:"winner_take_all"`
	ComputeOOB             bool `koanf:"compute_oob"`
}

// Default returns the configuration of a GBT classifier with the learner
// defaults. Label is empty and must be set.
func Default() *LearnerConfig {
	return &LearnerConfig{
		Learner:    GradientBoostedTrees,
		Task:       model.Classification.String(),
		RandomSeed: 123456,
		LogLevel:   "info",
		GradientBoostedTrees: GradientBoostedTreesConfig{
			NumTrees:               300,
			Shrinkage:              0.1,
			MaxDepth:               6,
			MinExamples:            5,
			Subsample:              1,
			ValidationRatio:        0.1,
			EarlyStopping:          string(gbt.EarlyStoppingLossIncrease),
			EarlyStoppingLookahead: 30,
		},
		RandomForest: RandomForestConfig{
			NumTrees:      300,
			MaxDepth:      16,
			MinExamples:   5,
			Bootstrap:     true,
			WinnerTakeAll: true,
			ComputeOOB:    true,
		},
	}
}

// Load layers Default, the file at path and the environment, then
// validates the result. The file format follows its extension (.yaml,
// .yml or .toml). An empty path falls back to $GOFOREST_CONFIG; when both
// are empty only the environment is read.
func Load(path string) (*LearnerConfig, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, errors.Wrapf(err, "loading config file %s", path)
		}
	}

	envProvider := env.ProviderWithValue(EnvPrefix, ".", envKeyValue)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errors.Wrap(err, "loading config from the environment")
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listKeys are the keys whose environment values are comma-separated
// lists.
var listKeys = map[string]bool{
	"features": true,
}

// envKeyValue maps GOFOREST_A__B to the key a.b. Values of list keys are
// split on commas, dropping blank items.
func envKeyValue(name, value string) (string, interface{}) {
	if name == EnvConfigFile {
		return "", nil
	}
	key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
	if !listKeys[key] {
		return key, value
	}
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return TOML(), nil
	default:
		return nil, errors.NewValidationError("path", "config files must be .yaml, .yml or .toml", path)
	}
}

// Validate checks the fields shared by every learner. Hyper-parameter
// ranges are checked by the learners themselves.
func (c *LearnerConfig) Validate() error {
	switch c.Learner {
	case GradientBoostedTrees, RandomForest, Cart:
	default:
		return errors.NewValidationError("learner", "must be GRADIENT_BOOSTED_TREES, RANDOM_FOREST or CART", c.Learner)
	}
	if strings.TrimSpace(c.Label) == "" {
		return errors.NewValidationError("label", "must not be empty", c.Label)
	}
	if _, err := model.ParseTask(c.Task); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.NewValidationError("log_level", "must be debug, info, warn or error", c.LogLevel)
	}
	if c.Learner == GradientBoostedTrees {
		if _, err := gbt.ParseEarlyStoppingPolicy(c.GradientBoostedTrees.EarlyStopping); err != nil {
			return err
		}
	}
	return nil
}

// TaskValue returns the parsed task. It assumes Validate succeeded.
func (c *LearnerConfig) TaskValue() model.Task {
	t, _ := model.ParseTask(c.Task)
	return t
}
