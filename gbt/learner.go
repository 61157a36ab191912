package gbt

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/decisiontree"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
)

// LearnerName identifies the learner in configuration files.
const LearnerName = "GRADIENT_BOOSTED_TREES"

// Learner trains gradient boosted trees models.
type Learner struct {
	Label    string
	Task     model.Task
	Weights  string
	Features []string

	NumTrees               int
	Shrinkage              float64
	MaxDepth               int
	MinExamples            int
	L2Regularization       float64
	Subsample              float64
	NumCandidateAttributes int
	ValidationRatio        float64
	EarlyStopping          EarlyStoppingPolicy
	EarlyStoppingLookahead int
	RandomSeed             uint64
	Callbacks              []Callback

	logger log.Logger
}

// Option configures a Learner.
type Option func(*Learner)

// WithTask sets the task. Default: classification.
func WithTask(task model.Task) Option { return func(l *Learner) { l.Task = task } }

// WithWeights sets the numerical column holding the example weights.
func WithWeights(column string) Option { return func(l *Learner) { l.Weights = column } }

// WithFeatures restricts the input features. Default: every column except
// the label and the weights.
func WithFeatures(columns ...string) Option {
	return func(l *Learner) { l.Features = append([]string(nil), columns...) }
}

// WithNumTrees sets the maximum number of boosting iterations.
func WithNumTrees(n int) Option { return func(l *Learner) { l.NumTrees = n } }

// WithShrinkage sets the learning rate.
func WithShrinkage(v float64) Option { return func(l *Learner) { l.Shrinkage = v } }

// WithMaxDepth sets the maximum tree depth (-1 for no limit).
func WithMaxDepth(d int) Option { return func(l *Learner) { l.MaxDepth = d } }

// WithMinExamples sets the minimum number of examples per leaf.
func WithMinExamples(n int) Option { return func(l *Learner) { l.MinExamples = n } }

// WithL2Regularization sets the L2 penalty on leaf values.
func WithL2Regularization(v float64) Option { return func(l *Learner) { l.L2Regularization = v } }

// WithSubsample sets the ratio of training examples used by each tree.
func WithSubsample(v float64) Option { return func(l *Learner) { l.Subsample = v } }

// WithNumCandidateAttributes sets the number of attributes tested per node.
func WithNumCandidateAttributes(n int) Option {
	return func(l *Learner) { l.NumCandidateAttributes = n }
}

// WithValidationRatio sets the ratio of the training dataset held out for
// validation when no validation dataset is given. 0 disables validation.
func WithValidationRatio(v float64) Option { return func(l *Learner) { l.ValidationRatio = v } }

// WithEarlyStopping sets the early stopping policy and its lookahead.
func WithEarlyStopping(policy EarlyStoppingPolicy, lookahead int) Option {
	return func(l *Learner) {
		l.EarlyStopping = policy
		l.EarlyStoppingLookahead = lookahead
	}
}

// WithRandomSeed sets the seed of the validation split and subsampling.
func WithRandomSeed(seed uint64) Option { return func(l *Learner) { l.RandomSeed = seed } }

// WithCallbacks appends training callbacks.
func WithCallbacks(cbs ...Callback) Option {
	return func(l *Learner) { l.Callbacks = append(l.Callbacks, cbs...) }
}

// WithLogger replaces the learner logger.
func WithLogger(logger log.Logger) Option { return func(l *Learner) { l.logger = logger } }

// NewLearner creates a learner with the default hyper-parameters.
func NewLearner(label string, opts ...Option) *Learner {
	l := &Learner{
		Label:                  label,
		Task:                   model.Classification,
		NumTrees:               300,
		Shrinkage:              0.1,
		MaxDepth:               6,
		MinExamples:            5,
		Subsample:              1,
		ValidationRatio:        0.1,
		EarlyStopping:          EarlyStoppingLossIncrease,
		EarlyStoppingLookahead: 30,
		RandomSeed:             123456,
		logger:                 log.GetLoggerWithName("gbt"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
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
	case l.Shrinkage <= 0 || l.Shrinkage > 1:
		return errors.NewValidationError("shrinkage", "must be in (0, 1]", l.Shrinkage)
	case l.MaxDepth == 0 || l.MaxDepth < -1:
		return errors.NewValidationError("max_depth", "must be -1 or positive", l.MaxDepth)
	case l.MinExamples < 1:
		return errors.NewValidationError("min_examples", "must be at least 1", l.MinExamples)
	case l.L2Regularization < 0:
		return errors.NewValidationError("l2_regularization", "must be non-negative", l.L2Regularization)
	case l.Subsample <= 0 || l.Subsample > 1:
		return errors.NewValidationError("subsample", "must be in (0, 1]", l.Subsample)
	case l.ValidationRatio < 0 || l.ValidationRatio >= 1:
		return errors.NewValidationError("validation_ratio", "must be in [0, 1)", l.ValidationRatio)
	case l.EarlyStoppingLookahead < 1 && l.EarlyStopping == EarlyStoppingLossIncrease:
		return errors.NewValidationError("early_stopping_num_trees_look_ahead", "must be at least 1", l.EarlyStoppingLookahead)
	}
	if _, err := ParseEarlyStoppingPolicy(string(l.EarlyStopping)); err != nil {
		return err
	}
	return nil
}

// Train trains a model on ds. A fraction ValidationRatio of ds is held
// out to compute the validation loss and drive early stopping.
func (l *Learner) Train(ctx context.Context, ds *dataset.VerticalDataset) (*Model, error) {
	return l.train(ctx, ds, nil)
}

// TrainWithValidation trains on train and computes the validation loss on
// valid. ValidationRatio is ignored.
func (l *Learner) TrainWithValidation(ctx context.Context, train, valid *dataset.VerticalDataset) (*Model, error) {
	if valid == nil {
		return nil, errors.Wrap(errors.ErrEmptyData, "nil validation dataset")
	}
	return l.train(ctx, train, valid)
}

// examples is a training or validation set in compact form.
type examples struct {
	ds      *dataset.VerticalDataset
	labels  []float64
	weights []float64
	preds   []float64
}

func (l *Learner) train(ctx context.Context, ds, valid *dataset.VerticalDataset) (m *Model, err error) {
	defer errors.Recover(&err, "GradientBoostedTreesLearner.Train")

	if err := l.Validate(); err != nil {
		return nil, err
	}
	if ds == nil || ds.NumRows() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "empty training dataset")
	}
	start := time.Now()
	spec := ds.Spec()

	labelCol, weightCol, features, err := l.resolveColumns(spec)
	if err != nil {
		return nil, err
	}
	numClasses, loss, err := l.resolveLoss(&spec.Columns[labelCol])
	if err != nil {
		return nil, err
	}

	rows := decisiontree.LabelledRows(ds, labelCol)
	if len(rows) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no example with a label")
	}
	rng := rand.New(rand.NewPCG(l.RandomSeed, l.RandomSeed^0x9e3779b97f4a7c15))

	var trainRows, validRows []int
	if valid == nil && l.ValidationRatio > 0 {
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		numValid := int(float64(len(rows)) * l.ValidationRatio)
		if numValid == 0 || numValid == len(rows) {
			l.logger.Warn("Dataset too small for the validation ratio; training without validation",
				log.SamplesKey, len(rows), "validation_ratio", l.ValidationRatio)
			trainRows = rows
		} else {
			validRows, trainRows = rows[:numValid], rows[numValid:]
		}
	} else {
		trainRows = rows
	}

	K := loss.NumDimensions()
	trainSet := l.newExamples(ds.Subset(trainRows), labelCol, weightCol, numClasses)
	var validSet *examples
	switch {
	case valid != nil:
		projected, err := valid.Project(spec)
		if err != nil {
			return nil, err
		}
		validRows := decisiontree.LabelledRows(projected, labelCol)
		if len(validRows) == 0 {
			return nil, errors.Wrap(errors.ErrEmptyData, "no example with a label in the validation dataset")
		}
		validSet = l.newExamples(projected.Subset(validRows), labelCol, weightCol, numClasses)
	case len(validRows) > 0:
		validSet = l.newExamples(ds.Subset(validRows), labelCol, weightCol, numClasses)
	}

	l.logger.Info("Training gradient boosted trees",
		log.OperationKey, log.OperationTrain,
		log.TaskKey, l.Task.String(),
		log.LabelKey, l.Label,
		log.SamplesKey, trainSet.ds.NumRows(),
		log.FeaturesKey, len(features),
		"validation_samples", numRows(validSet),
		log.NumTreesKey, l.NumTrees,
	)

	initial := loss.InitialPredictions(trainSet.labels, trainSet.weights)
	trainSet.initPredictions(initial)
	if validSet != nil {
		validSet.initPredictions(initial)
	}

	n := trainSet.ds.NumRows()
	grad := make([]float64, n)
	hess := make([]float64, n)
	allRows := make([]int, n)
	for i := range allRows {
		allRows[i] = i
	}

	es := NewEarlyStopping(l.EarlyStopping, l.EarlyStoppingLookahead)
	callbacks := newCallbackList(l.NumTrees, l.Callbacks)
	var (
		trees []*decisiontree.Tree
		logs  TrainingLogs
	)

	for iter := 1; iter <= l.NumTrees; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "training interrupted at iteration %d", iter)
		}

		sample := allRows
		if l.Subsample < 1 {
			sample = subsample(rng, n, l.Subsample)
		}

		for k := 0; k < K; k++ {
			loss.Gradients(trainSet.labels, trainSet.preds, k, grad, hess)
			if err := errors.CheckNumericalStability("gradients", grad, iter); err != nil {
				return nil, err
			}
			builder := &decisiontree.Builder{
				MaxDepth:               l.MaxDepth,
				MinExamples:            l.MinExamples,
				NumCandidateAttributes: l.NumCandidateAttributes,
				Rand:                   rng,
				Stats: &decisiontree.GradientStats{
					Gradients: grad,
					Hessians:  hess,
					Weights:   trainSet.weights,
					L2:        l.L2Regularization,
					Shrinkage: l.Shrinkage,
				},
			}
			tree, err := builder.Build(trainSet.ds, sample, features)
			if err != nil {
				return nil, errors.Wrapf(err, "iteration %d", iter)
			}
			trees = append(trees, tree)
			trainSet.addTree(tree, k, K)
			if validSet != nil {
				validSet.addTree(tree, k, K)
			}
		}

		entry := LogEntry{
			NumIterations: iter,
			NumTrees:      len(trees),
			TrainingLoss:  loss.Loss(trainSet.labels, trainSet.preds, trainSet.weights),
		}
		if err := errors.CheckScalar("training loss", entry.TrainingLoss, iter); err != nil {
			return nil, err
		}
		evalResults := map[string]float64{EvalTrainingLoss: entry.TrainingLoss}
		stop := false
		if validSet != nil {
			v := loss.Loss(validSet.labels, validSet.preds, validSet.weights)
			entry.ValidationLoss = &v
			evalResults[EvalValidationLoss] = v
			stop = es.Update(iter, v)
		}
		logs.Entries = append(logs.Entries, entry)

		if l.logger.Enabled(ctx, log.LevelDebug) {
			l.logger.Debug("Boosting iteration", log.IterationKey, iter, log.LossKey, entry.TrainingLoss)
		}
		if err := callbacks.afterIteration(iter, evalResults); err != nil {
			return nil, errors.Wrapf(err, "callback at iteration %d", iter)
		}
		if stop || callbacks.shouldStop() {
			break
		}
	}

	trained := len(logs.Entries)
	kept := trained
	var validationLoss *float64
	if validSet != nil {
		kept = es.NumIterationsToKeep(trained)
		v := *logs.Entries[kept-1].ValidationLoss
		validationLoss = &v
		if kept < trained {
			l.logger.Info("Early stopping",
				"trained_iterations", trained, "kept_iterations", kept, log.ValidationLossKey, v)
		}
		if kept == 1 && trained > 1 {
			errors.Warn(errors.NewConvergenceWarning("GradientBoostedTrees", trained,
				"validation loss never improved after the first iteration; consider a lower shrinkage"))
		}
	}
	logs.NumIterationsKept = kept
	trees = trees[:kept*K]

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
		header:          header,
		spec:            spec,
		labelCol:        labelCol,
		features:        features,
		loss:            loss,
		numClasses:      numClasses,
		numTreesPerIter: K,
		initial:         initial,
		trees:           trees,
		logs:            logs,
		validationLoss:  validationLoss,
	}

	fields := []any{
		log.ModelIDKey, header.ModelID,
		log.NumTreesKey, len(trees),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	}
	if validationLoss != nil {
		fields = append(fields, log.ValidationLossKey, *validationLoss)
	}
	l.logger.Info("Training completed", fields...)
	return m, nil
}

func (l *Learner) resolveColumns(spec *dataset.DataSpec) (labelCol, weightCol int, features []int, err error) {
	labelCol = spec.ColumnIndex(l.Label)
	if labelCol < 0 {
		return 0, 0, nil, errors.NewValidationError("label", "label column not in the dataset", l.Label)
	}
	weightCol = -1
	if l.Weights != "" {
		if weightCol = spec.ColumnIndex(l.Weights); weightCol < 0 {
			return 0, 0, nil, errors.NewValidationError("weights", "weight column not in the dataset", l.Weights)
		}
		if spec.Columns[weightCol].Semantic != dataset.Numerical {
			return 0, 0, nil, errors.NewValidationError("weights", "weight column must be numerical", l.Weights)
		}
	}
	features, err = decisiontree.SelectFeatures(spec, l.Features, labelCol, weightCol)
	return labelCol, weightCol, features, err
}

func (l *Learner) resolveLoss(label *dataset.ColumnSpec) (int, Loss, error) {
	if l.Task == model.Regression {
		if label.Semantic != dataset.Numerical {
			return 0, nil, errors.NewValidationError(label.Name,
				fmt.Sprintf("regression needs a numerical label, got %s", label.Semantic), nil)
		}
		return 0, squaredError{}, nil
	}
	if label.Semantic != dataset.Categorical {
		return 0, nil, errors.NewValidationError(label.Name,
			fmt.Sprintf("classification needs a categorical label, got %s; use dataset.WithColumns to force it", label.Semantic), nil)
	}
	numClasses := label.NumClasses() - 1
	switch {
	case numClasses < 2:
		return 0, nil, errors.NewValidationError(label.Name, "classification needs at least two classes", numClasses)
	case numClasses == 2:
		return numClasses, binomialLogLikelihood{}, nil
	default:
		loss, err := NewLoss(MultinomialLogLikelihoodLoss, numClasses)
		return numClasses, loss, err
	}
}

func (l *Learner) newExamples(ds *dataset.VerticalDataset, labelCol, weightCol, numClasses int) *examples {
	e := &examples{ds: ds, labels: make([]float64, ds.NumRows())}
	for r := range e.labels {
		if numClasses > 0 {
			// vocabulary index 1 is the first class
			e.labels[r] = float64(ds.Categorical(labelCol)[r] - 1)
		} else {
			e.labels[r] = ds.Numerical(labelCol)[r]
		}
	}
	e.weights = decisiontree.Weights(ds, weightCol)
	return e
}

func (e *examples) initPredictions(initial []float64) {
	K := len(initial)
	e.preds = make([]float64, e.ds.NumRows()*K)
	for i := 0; i < e.ds.NumRows(); i++ {
		copy(e.preds[i*K:(i+1)*K], initial)
	}
}

func (e *examples) addTree(tree *decisiontree.Tree, k, K int) {
	for i := 0; i < e.ds.NumRows(); i++ {
		e.preds[i*K+k] += tree.GetLeaf(e.ds, i).Value
	}
}

func numRows(e *examples) int {
	if e == nil {
		return 0
	}
	return e.ds.NumRows()
}

func subsample(rng *rand.Rand, n int, ratio float64) []int {
	k := max(int(float64(n)*ratio), 1)
	perm := rng.Perm(n)[:k]
	return perm
}

func columnNames(spec *dataset.DataSpec, cols []int) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = spec.Columns[c].Name
	}
	return names
}
