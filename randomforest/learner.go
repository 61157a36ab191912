package randomforest

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/core/parallel"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/decisiontree"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
)

// Learner names used in configuration files.
const (
	LearnerName     = "RANDOM_FOREST"
	CartLearnerName = "CART"
)

// Learner trains random forests.
type Learner struct {
	Label    string
	Task     model.Task
	Weights  string
	Features []string

	NumTrees    int
	MaxDepth    int
	MinExamples int
	Bootstrap   bool
	// NumCandidateAttributes is the number of attributes tested at each
	// node. 0 selects sqrt(#features) for classification and #features/3
	// for regression; a negative value tests every attribute.
	NumCandidateAttributes int
	WinnerTakeAll          bool
	ComputeOOB             bool
	RandomSeed             uint64
	// NumWorkers is the number of trees grown concurrently; <= 0 uses one
	// worker per CPU core.
	NumWorkers int

	logger log.Logger
}

// Option configures a Learner.
type Option func(*Learner)

func WithTask(task model.Task) Option         { return func(l *Learner) { l.Task = task } }
func WithWeights(column string) Option        { return func(l *Learner) { l.Weights = column } }
func WithNumTrees(n int) Option               { return func(l *Learner) { l.NumTrees = n } }
func WithMaxDepth(d int) Option               { return func(l *Learner) { l.MaxDepth = d } }
func WithMinExamples(n int) Option            { return func(l *Learner) { l.MinExamples = n } }
func WithBootstrap(b bool) Option             { return func(l *Learner) { l.Bootstrap = b } }
func WithWinnerTakeAll(b bool) Option         { return func(l *Learner) { l.WinnerTakeAll = b } }
func WithOutOfBagEvaluation(b bool) Option    { return func(l *Learner) { l.ComputeOOB = b } }
func WithRandomSeed(seed uint64) Option       { return func(l *Learner) { l.RandomSeed = seed } }
func WithNumWorkers(n int) Option             { return func(l *Learner) { l.NumWorkers = n } }
func WithLogger(logger log.Logger) Option     { return func(l *Learner) { l.logger = logger } }
func WithNumCandidateAttributes(n int) Option { return func(l *Learner) { l.NumCandidateAttributes = n } }

// WithFeatures restricts the input features. By default every column but
// the label and weights is used.
func WithFeatures(columns ...string) Option {
	return func(l *Learner) { l.Features = columns }
}

// NewLearner creates a random forest learner with the default
// hyper-parameters.
func NewLearner(label string, opts ...Option) *Learner {
	l := &Learner{
		Label:         label,
		Task:          model.Classification,
		NumTrees:      300,
		MaxDepth:      16,
		MinExamples:   5,
		Bootstrap:     true,
		WinnerTakeAll: true,
		ComputeOOB:    true,
		RandomSeed:    123456,
		logger:        log.GetLoggerWithName("randomforest"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewCartLearner creates a learner for a single CART tree: no bootstrap
// and every attribute tested at each node.
func NewCartLearner(label string, opts ...Option) *Learner {
	base := []Option{
		WithNumTrees(1),
		WithBootstrap(false),
		WithNumCandidateAttributes(-1),
		WithOutOfBagEvaluation(false),
		WithWinnerTakeAll(false),
		WithLogger(log.GetLoggerWithName("cart")),
	}
	return NewLearner(label, append(base, opts...)...)
}

// Validate checks the hyper-parameters.
func (l *Learner) Validate() error {
	switch {
	case l.Label == "":
		return errors.NewValidationError("label", "a label column is required", l.Label)
	case l.Task != model.Classification && l.Task != model.Regression:
		return errors.NewValidationError("task", "must be CLASSIFICATION or REGRESSION", l.Task.String())
	case l.NumTrees <= 0:
		return errors.NewValidationError("num_trees", "must be positive", l.NumTrees)
	case l.MaxDepth == 0 || l.MaxDepth < -1:
		return errors.NewValidationError("max_depth", "must be -1 or positive", l.MaxDepth)
	case l.MinExamples < 1:
		return errors.NewValidationError("min_examples", "must be at least 1", l.MinExamples)
	case l.ComputeOOB && !l.Bootstrap:
		return errors.NewValidationError("compute_oob_performances", "out-of-bag evaluation requires bootstrapping", false)
	}
	return nil
}

// Train grows the forest on ds. Trees are grown concurrently; the result
// only depends on RandomSeed.
func (l *Learner) Train(ctx context.Context, ds *dataset.VerticalDataset) (m *Model, err error) {
	defer errors.Recover(&err, "RandomForestLearner.Train")

	if err := l.Validate(); err != nil {
		return nil, err
	}
	if ds == nil || ds.NumRows() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "empty training dataset")
	}
	start := time.Now()
	spec := ds.Spec()

	labelCol := spec.ColumnIndex(l.Label)
	if labelCol < 0 {
		return nil, errors.NewValidationError("label", "label column not in the dataset", l.Label)
	}
	weightCol := -1
	if l.Weights != "" {
		if weightCol = spec.ColumnIndex(l.Weights); weightCol < 0 || spec.Columns[weightCol].Semantic != dataset.Numerical {
			return nil, errors.NewValidationError("weights", "weights must be a numerical column of the dataset", l.Weights)
		}
	}
	features, err := decisiontree.SelectFeatures(spec, l.Features, labelCol, weightCol)
	if err != nil {
		return nil, err
	}
	numClasses, err := l.checkLabel(&spec.Columns[labelCol])
	if err != nil {
		return nil, err
	}

	rows := decisiontree.LabelledRows(ds, labelCol)
	if len(rows) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no example with a label")
	}
	stats := l.labelStats(ds, labelCol, weightCol, numClasses)
	numCandidates := l.numCandidates(len(features))

	l.logger.Info("Training random forest",
		log.OperationKey, log.OperationTrain,
		log.TaskKey, l.Task.String(),
		log.LabelKey, l.Label,
		log.SamplesKey, len(rows),
		log.FeaturesKey, len(features),
		log.NumTreesKey, l.NumTrees,
	)

	// one seed per tree, drawn up front so the forest does not depend on
	// the scheduling of the workers
	rng := rand.New(rand.NewPCG(l.RandomSeed, l.RandomSeed^0x9e3779b97f4a7c15))
	seeds := make([]uint64, l.NumTrees)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}

	trees := make([]*decisiontree.Tree, l.NumTrees)
	var inBag [][]bool
	if l.ComputeOOB {
		inBag = make([][]bool, l.NumTrees)
	}
	err = parallel.ForEach(ctx, l.NumTrees, l.NumWorkers, func(ctx context.Context, i int) error {
		treeRng := rand.New(rand.NewPCG(seeds[i], uint64(i)))
		sample := rows
		if l.Bootstrap {
			sample = make([]int, len(rows))
			for j := range sample {
				sample[j] = rows[treeRng.IntN(len(rows))]
			}
		}
		builder := &decisiontree.Builder{
			MaxDepth:               l.MaxDepth,
			MinExamples:            l.MinExamples,
			NumCandidateAttributes: numCandidates,
			Rand:                   treeRng,
			Stats:                  stats,
		}
		tree, err := builder.Build(ds, sample, features)
		if err != nil {
			return errors.Wrapf(err, "tree %d", i)
		}
		trees[i] = tree
		if inBag != nil {
			bag := make([]bool, ds.NumRows())
			for _, r := range sample {
				bag[r] = true
			}
			inBag[i] = bag
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	header := model.Header{
		Name:          ModelName,
		Task:          l.Task,
		Label:         l.Label,
		ModelID:       uuid.NewString(),
		InputFeatures: columnNames(spec, features),
		CreatedAt:     time.Now().UTC(),
		Version:       model.FormatVersion,
	}
	m = &Model{
		header:        header,
		spec:          spec,
		labelCol:      labelCol,
		features:      features,
		trees:         trees,
		numClasses:    numClasses,
		winnerTakeAll: l.WinnerTakeAll,
	}
	if inBag != nil {
		m.oob = m.outOfBag(ds, rows, inBag)
	}

	fields := []any{
		log.ModelIDKey, header.ModelID,
		log.NumTreesKey, len(trees),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	}
	if m.oob != nil {
		if numClasses > 0 {
			fields = append(fields, "oob_accuracy", m.oob.Accuracy)
		} else {
			fields = append(fields, "oob_rmse", m.oob.RMSE)
		}
	}
	l.logger.Info("Training completed", fields...)
	return m, nil
}

// checkLabel returns the vocabulary size of a classification label, or 0
// for regression.
func (l *Learner) checkLabel(label *dataset.ColumnSpec) (int, error) {
	if l.Task == model.Regression {
		if label.Semantic != dataset.Numerical {
			return 0, errors.NewValidationError(label.Name,
				fmt.Sprintf("regression needs a numerical label, got %s", label.Semantic), nil)
		}
		return 0, nil
	}
	if label.Semantic != dataset.Categorical {
		return 0, errors.NewValidationError(label.Name,
			fmt.Sprintf("classification needs a categorical label, got %s", label.Semantic), nil)
	}
	if label.NumClasses()-1 < 2 {
		return 0, errors.NewValidationError(label.Name, "classification needs at least two classes", label.NumClasses()-1)
	}
	return label.NumClasses(), nil
}

func (l *Learner) labelStats(ds *dataset.VerticalDataset, labelCol, weightCol, numClasses int) decisiontree.LabelStats {
	weights := decisiontree.Weights(ds, weightCol)
	if numClasses > 0 {
		return &decisiontree.ClassificationStats{
			Labels:     ds.Categorical(labelCol),
			NumClasses: numClasses,
			Weights:    weights,
		}
	}
	return &decisiontree.RegressionStats{Labels: ds.Numerical(labelCol), Weights: weights}
}

func (l *Learner) numCandidates(numFeatures int) int {
	switch {
	case l.NumCandidateAttributes < 0:
		return 0
	case l.NumCandidateAttributes > 0:
		return l.NumCandidateAttributes
	case l.Task == model.Classification:
		return max(int(math.Ceil(math.Sqrt(float64(numFeatures)))), 1)
	default:
		return max(int(math.Ceil(float64(numFeatures)/3)), 1)
	}
}

// outOfBag evaluates every labelled row on the trees that did not see it.
func (m *Model) outOfBag(ds *dataset.VerticalDataset, rows []int, inBag [][]bool) *OutOfBagEvaluation {
	eval := &OutOfBagEvaluation{NumTrees: len(m.trees)}
	acc := make([]float64, max(m.numClasses, 1))
	correct, sqErr := 0, 0.0
	for _, r := range rows {
		clear(acc)
		votes := 0
		for t, tree := range m.trees {
			if inBag[t][r] {
				continue
			}
			m.accumulate(acc, tree.GetLeaf(ds, r))
			votes++
		}
		if votes == 0 {
			continue
		}
		eval.NumExamples++
		if m.numClasses > 0 {
			if argmax(acc) == int(ds.Categorical(m.labelCol)[r]) {
				correct++
			}
		} else {
			d := acc[0]/float64(votes) - ds.Numerical(m.labelCol)[r]
			sqErr += d * d
		}
	}
	if eval.NumExamples > 0 {
		if m.numClasses > 0 {
			eval.Accuracy = float64(correct) / float64(eval.NumExamples)
		} else {
			eval.RMSE = math.Sqrt(sqErr / float64(eval.NumExamples))
		}
	}
	return eval
}

func columnNames(spec *dataset.DataSpec, cols []int) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = spec.Columns[c].Name
	}
	return names
}
