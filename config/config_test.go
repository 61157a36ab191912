package config

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

func TestDefault(t *testing.T) {
	Convey("Given the default configuration", t, func() {
		cfg := Default()

		Convey("Then it describes a GBT classifier", func() {
			So(cfg.Learner, ShouldEqual, GradientBoostedTrees)
			So(cfg.TaskValue(), ShouldEqual, model.Classification)
			So(cfg.GradientBoostedTrees.NumTrees, ShouldEqual, 300)
			So(cfg.GradientBoostedTrees.EarlyStopping, ShouldEqual, "LOSS_INCREASE")
			So(cfg.RandomForest.Bootstrap, ShouldBeTrue)
		})

		Convey("Then it needs a label to be valid", func() {
			err := cfg.Validate()
			var verr *errors.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(verr.ParamName, ShouldEqual, "label")

			cfg.Label = "y"
			So(cfg.Validate(), ShouldBeNil)
		})
	})
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	Convey("Given a YAML file", t, func() {
		cfg, err := Load("testdata/gbt.yaml")

		Convey("Then the file overrides the defaults", func() {
			So(err, ShouldBeNil)
			So(cfg.Label, ShouldEqual, "income")
			So(cfg.Features, ShouldResemble, []string{"age", "education", "hours_per_week"})
			So(cfg.RandomSeed, ShouldEqual, uint64(42))
			So(cfg.LogLevel, ShouldEqual, "warn")
			So(cfg.GradientBoostedTrees.NumTrees, ShouldEqual, 50)
			So(cfg.GradientBoostedTrees.Shrinkage, ShouldAlmostEqual, 0.05)
			So(cfg.GradientBoostedTrees.ValidationRatio, ShouldAlmostEqual, 0.2)
			So(cfg.GradientBoostedTrees.EarlyStopping, ShouldEqual, "MIN_LOSS_FINAL")
		})

		Convey("Then unset keys keep their defaults", func() {
			So(cfg.GradientBoostedTrees.MinExamples, ShouldEqual, 5)
			So(cfg.GradientBoostedTrees.EarlyStoppingLookahead, ShouldEqual, 30)
		})
	})

	Convey("Given a TOML file", t, func() {
		cfg, err := Load("testdata/rf.toml")

		Convey("Then it is parsed through the TOML adapter", func() {
			So(err, ShouldBeNil)
			So(cfg.Learner, ShouldEqual, RandomForest)
			So(cfg.TaskValue(), ShouldEqual, model.Regression)
			So(cfg.Weights, ShouldEqual, "w")
			So(cfg.NumWorkers, ShouldEqual, 2)
			So(cfg.RandomForest.NumTrees, ShouldEqual, 40)
			So(cfg.RandomForest.MaxDepth, ShouldEqual, 10)
			So(cfg.RandomForest.Bootstrap, ShouldBeFalse)
			So(cfg.RandomForest.ComputeOOB, ShouldBeFalse)
			So(cfg.RandomForest.WinnerTakeAll, ShouldBeTrue)
		})
	})

	Convey("Given invalid files", t, func() {
		Convey("When the extension is unknown", func() {
			_, err := Load("testdata/config.json")
			var verr *errors.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(verr.ParamName, ShouldEqual, "path")
		})

		Convey("When the file does not exist", func() {
			_, err := Load("testdata/missing.yaml")
			So(err, ShouldNotBeNil)
		})

		Convey("When the TOML is malformed", func() {
			_, err := Load("testdata/broken.toml")
			So(err, ShouldNotBeNil)
		})

		Convey("When the learner is unknown", func() {
			_, err := Load("testdata/bad_learner.yaml")
			var verr *errors.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(verr.ParamName, ShouldEqual, "learner")
		})
	})
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv(EnvConfigFile, "testdata/gbt.yaml")
	t.Setenv("GOFOREST_LABEL", "churn")
	t.Setenv("GOFOREST_GRADIENT_BOOSTED_TREES__NUM_TREES", "7")
	t.Setenv("GOFOREST_FEATURES", "a,b")

	Convey("Given environment variables", t, func() {
		cfg, err := Load("")

		Convey("Then they override the file named by GOFOREST_CONFIG", func() {
			So(err, ShouldBeNil)
			So(cfg.Label, ShouldEqual, "churn")
			So(cfg.GradientBoostedTrees.NumTrees, ShouldEqual, 7)
			So(cfg.Features, ShouldResemble, []string{"a", "b"})
			So(cfg.GradientBoostedTrees.Shrinkage, ShouldAlmostEqual, 0.05)
		})
	})

	Convey("Given an invalid early stopping policy in the environment", t, func() {
		t.Setenv("GOFOREST_GRADIENT_BOOSTED_TREES__EARLY_STOPPING", "SOMETIMES")
		_, err := Load("")

		Convey("Then Load fails validation", func() {
			var verr *errors.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(verr.ParamName, ShouldEqual, "early_stopping")
		})
	})
}

func TestEnvKeyValue(t *testing.T) {
	Convey("Given environment variable names and values", t, func() {
		Convey("Nested keys use a double underscore", func() {
			key, value := envKeyValue("GOFOREST_RANDOM_FOREST__NUM_TREES", "40")
			So(key, ShouldEqual, "random_forest.num_trees")
			So(value, ShouldEqual, "40")
		})

		Convey("List keys are split on commas and trimmed", func() {
			key, value := envKeyValue("GOFOREST_FEATURES", " age , ,income,")
			So(key, ShouldEqual, "features")
			So(value, ShouldResemble, []string{"age", "income"})
		})

		Convey("A single item stays a one element list", func() {
			_, value := envKeyValue("GOFOREST_FEATURES", "age")
			So(value, ShouldResemble, []string{"age"})
		})

		Convey("Commas in scalar keys are kept", func() {
			_, value := envKeyValue("GOFOREST_LABEL", "a,b")
			So(value, ShouldEqual, "a,b")
		})

		Convey("GOFOREST_CONFIG is skipped", func() {
			key, _ := envKeyValue(EnvConfigFile, "learner.yaml")
			So(key, ShouldBeEmpty)
		})
	})
}

func TestTOMLParser(t *testing.T) {
	Convey("Given the TOML parser", t, func() {
		p := TOML()

		Convey("When a map is marshalled and parsed back", func() {
			b, err := p.Marshal(map[string]interface{}{
				"label":         "y",
				"random_forest": map[string]interface{}{"num_trees": 3},
			})
			So(err, ShouldBeNil)
			out, err := p.Unmarshal(b)

			Convey("Then nested tables survive", func() {
				So(err, ShouldBeNil)
				So(out["label"], ShouldEqual, "y")
				rf, ok := out["random_forest"].(map[string]interface{})
				So(ok, ShouldBeTrue)
				So(rf["num_trees"], ShouldEqual, int64(3))
			})
		})

		Convey("When the document is invalid", func() {
			_, err := p.Unmarshal([]byte("= nope"))
			So(err, ShouldNotBeNil)
		})
	})
}
