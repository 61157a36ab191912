package forest

import (
	"context"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/config"
	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/evaluation"
	"github.com/YuminosukeSato/goforest/gbt"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
	"github.com/YuminosukeSato/goforest/randomforest"
)

// Learner trains models.
type Learner interface {
	Train(ctx context.Context, ds *dataset.VerticalDataset) (Model, error)
	// CrossValidation trains one model per fold and evaluates each on the
	// examples it did not see. The returned evaluation pools the
	// predictions of every fold.
	CrossValidation(ctx context.Context, ds *dataset.VerticalDataset, folds int) (*evaluation.Evaluation, error)
}

// GradientBoostedTreesLearner trains GradientBoostedTreesModel.
type GradientBoostedTreesLearner struct {
	engine *gbt.Learner
}

// NewGradientBoostedTreesLearner creates a GBT learner predicting label.
func NewGradientBoostedTreesLearner(label string, opts ...gbt.Option) *GradientBoostedTreesLearner {
	return &GradientBoostedTreesLearner{engine: gbt.NewLearner(label, opts...)}
}

// Engine returns the underlying learner and its hyper-parameters.
func (l *GradientBoostedTreesLearner) Engine() *gbt.Learner { return l.engine }

func (l *GradientBoostedTreesLearner) Train(ctx context.Context, ds *dataset.VerticalDataset) (Model, error) {
	m, err := l.engine.Train(ctx, ds)
	if err != nil {
		return nil, err
	}
	return NewGradientBoostedTreesModel(m), nil
}

// TrainWithValidation trains on train and records the validation loss on
// valid.
func (l *GradientBoostedTreesLearner) TrainWithValidation(ctx context.Context, train, valid *dataset.VerticalDataset) (*GradientBoostedTreesModel, error) {
	m, err := l.engine.TrainWithValidation(ctx, train, valid)
	if err != nil {
		return nil, err
	}
	return NewGradientBoostedTreesModel(m), nil
}

func (l *GradientBoostedTreesLearner) CrossValidation(ctx context.Context, ds *dataset.VerticalDataset, folds int) (*evaluation.Evaluation, error) {
	return crossValidation(ctx, ds, folds, l.engine.RandomSeed, func(ctx context.Context, train *dataset.VerticalDataset) (model.Model, error) {
		return l.engine.Train(ctx, train)
	})
}

// RandomForestLearner trains RandomForestModel.
type RandomForestLearner struct {
	engine *randomforest.Learner
}

// NewRandomForestLearner creates a random forest learner predicting label.
func NewRandomForestLearner(label string, opts ...randomforest.Option) *RandomForestLearner {
	return &RandomForestLearner{engine: randomforest.NewLearner(label, opts...)}
}

// NewCartLearner creates a learner of a single CART tree. The model is a
// RandomForestModel with one tree.
func NewCartLearner(label string, opts ...randomforest.Option) *RandomForestLearner {
	return &RandomForestLearner{engine: randomforest.NewCartLearner(label, opts...)}
}

// Engine returns the underlying learner and its hyper-parameters.
func (l *RandomForestLearner) Engine() *randomforest.Learner { return l.engine }

func (l *RandomForestLearner) Train(ctx context.Context, ds *dataset.VerticalDataset) (Model, error) {
	m, err := l.engine.Train(ctx, ds)
	if err != nil {
		return nil, err
	}
	return NewRandomForestModel(m), nil
}

func (l *RandomForestLearner) CrossValidation(ctx context.Context, ds *dataset.VerticalDataset, folds int) (*evaluation.Evaluation, error) {
	return crossValidation(ctx, ds, folds, l.engine.RandomSeed, func(ctx context.Context, train *dataset.VerticalDataset) (model.Model, error) {
		return l.engine.Train(ctx, train)
	})
}

type trainFunc func(ctx context.Context, train *dataset.VerticalDataset) (model.Model, error)

// crossValidation assigns the rows of ds to folds after a seeded shuffle.
// Every fold dataset keeps the data spec of ds, so the models of all folds
// share the label vocabulary and their predictions can be pooled.
func crossValidation(ctx context.Context, ds *dataset.VerticalDataset, folds int, seed uint64, train trainFunc) (ev *evaluation.Evaluation, err error) {
	defer errors.Recover(&err, "forest.CrossValidation")
	if folds < 2 {
		return nil, errors.NewValidationError("folds", "must be at least 2", folds)
	}
	if ds == nil || ds.NumRows() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "nothing to cross-validate")
	}
	n := ds.NumRows()
	if n < folds {
		return nil, errors.NewValidationError("folds", "more folds than examples", folds)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)
	foldRows := make([][]int, folds)
	for i, row := range perm {
		foldRows[i%folds] = append(foldRows[i%folds], row)
	}

	logger := log.GetLoggerWithName("forest")
	var (
		pooled *mat.Dense
		last   model.Model
	)
	for f := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trainRows := make([]int, 0, n-len(foldRows[f]))
		for g := range folds {
			if g != f {
				trainRows = append(trainRows, foldRows[g]...)
			}
		}
		m, err := train(ctx, ds.Subset(trainRows))
		if err != nil {
			return nil, errors.Wrapf(err, "training fold %d", f)
		}
		pred, err := m.Predict(ds.Subset(foldRows[f]))
		if err != nil {
			return nil, errors.Wrapf(err, "predicting fold %d", f)
		}
		_, cols := pred.Dims()
		if pooled == nil {
			pooled = mat.NewDense(n, cols, nil)
		} else if _, want := pooled.Dims(); want != cols {
			return nil, errors.NewDimensionError("forest.CrossValidation", want, cols, 1)
		}
		for i, row := range foldRows[f] {
			pooled.SetRow(row, pred.RawRowView(i))
		}
		last = m
		logger.Debug("Fold done",
			log.ModelNameKey, m.Name(),
			log.OperationKey, log.OperationEvaluate,
			"fold", f,
			log.SamplesKey, len(foldRows[f]),
		)
	}
	return evaluation.Evaluate(pooled, ds, last.Label(), last.Task())
}

// NewLearnerFromConfig builds the learner described by cfg. Its logs go to
// stderr at cfg.LogLevel.
func NewLearnerFromConfig(cfg *config.LearnerConfig) (Learner, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("config", "must not be nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := log.NewZerologProvider(os.Stderr, level).GetLoggerWithName(cfg.Learner)

	switch cfg.Learner {
	case config.GradientBoostedTrees:
		c := cfg.GradientBoostedTrees
		policy, err := gbt.ParseEarlyStoppingPolicy(c.EarlyStopping)
		if err != nil {
			return nil, err
		}
		return NewGradientBoostedTreesLearner(cfg.Label,
			gbt.WithTask(cfg.TaskValue()),
			gbt.WithWeights(cfg.Weights),
			gbt.WithFeatures(cfg.Features...),
			gbt.WithRandomSeed(cfg.RandomSeed),
			gbt.WithNumTrees(c.NumTrees),
			gbt.WithShrinkage(c.Shrinkage),
			gbt.WithMaxDepth(c.MaxDepth),
			gbt.WithMinExamples(c.MinExamples),
			gbt.WithL2Regularization(c.L2Regularization),
			gbt.WithSubsample(c.Subsample),
			gbt.WithNumCandidateAttributes(c.NumCandidateAttributes),
			gbt.WithValidationRatio(c.ValidationRatio),
			gbt.WithEarlyStopping(policy, c.EarlyStoppingLookahead),
			gbt.WithLogger(logger),
		), nil

	case config.RandomForest:
		c := cfg.RandomForest
		return NewRandomForestLearner(cfg.Label, append(sharedTreeOptions(cfg, logger),
			randomforest.WithNumTrees(c.NumTrees),
			randomforest.WithNumCandidateAttributes(c.NumCandidateAttributes),
			randomforest.WithBootstrap(c.Bootstrap),
			randomforest.WithWinnerTakeAll(c.WinnerTakeAll),
			randomforest.WithOutOfBagEvaluation(c.ComputeOOB),
		)...), nil

	default:
		opts := sharedTreeOptions(cfg, logger)
		// 0 keeps the CART default of testing every attribute
		if n := cfg.RandomForest.NumCandidateAttributes; n != 0 {
			opts = append(opts, randomforest.WithNumCandidateAttributes(n))
		}
		return NewCartLearner(cfg.Label, opts...), nil
	}
}

func sharedTreeOptions(cfg *config.LearnerConfig, logger log.Logger) []randomforest.Option {
	return []randomforest.Option{
		randomforest.WithTask(cfg.TaskValue()),
		randomforest.WithWeights(cfg.Weights),
		randomforest.WithFeatures(cfg.Features...),
		randomforest.WithRandomSeed(cfg.RandomSeed),
		randomforest.WithNumWorkers(cfg.NumWorkers),
		randomforest.WithMaxDepth(cfg.RandomForest.MaxDepth),
		randomforest.WithMinExamples(cfg.RandomForest.MinExamples),
		randomforest.WithLogger(logger),
	}
}
