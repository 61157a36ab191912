package gbt

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
)

// binaryDataset: label is "pos" when x1 + noise > 0.
func binaryDataset(t *testing.T, n int, seed uint64) *dataset.VerticalDataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 7))
	x1 := make([]float64, n)
	x2 := make([]float64, n)
	color := make([]string, n)
	label := make([]string, n)
	for i := 0; i < n; i++ {
		x1[i] = rng.NormFloat64()
		x2[i] = rng.NormFloat64()
		color[i] = []string{"red", "green", "blue"}[rng.IntN(3)]
		score := x1[i] + 0.3*rng.NormFloat64()
		if color[i] == "red" {
			score += 0.5
		}
		label[i] = "neg"
		if score > 0 {
			label[i] = "pos"
		}
	}
	ds, err := dataset.Create(map[string]interface{}{
		"x1": x1, "x2": x2, "color": color, "label": label,
	})
	require.NoError(t, err)
	return ds
}

func regressionDataset(t *testing.T, n int) *dataset.VerticalDataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(3, 4))
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64() * 10
		y[i] = 2*x[i] + math.Sin(x[i])
	}
	ds, err := dataset.Create(map[string]interface{}{"x": x, "y": y})
	require.NoError(t, err)
	return ds
}

func quietLogger() Option {
	logger, _ := log.NewTestLogger(log.LevelError)
	return WithLogger(logger)
}

func TestTrainRegression(t *testing.T) {
	ds := regressionDataset(t, 300)
	learner := NewLearner("y", WithTask(model.Regression), WithNumTrees(50), WithValidationRatio(0), quietLogger())

	m, err := learner.Train(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, ModelName, m.Name())
	assert.Equal(t, model.Regression, m.Task())
	assert.Equal(t, []string{"x"}, m.InputFeatures())
	assert.Equal(t, 50, m.NumTrees())
	assert.Equal(t, SquaredErrorLoss, m.LossName())

	logs := m.TrainingLogs()
	require.Len(t, logs.Entries, 50)
	assert.Less(t, logs.Entries[49].TrainingLoss, logs.Entries[0].TrainingLoss)
	assert.Less(t, logs.Entries[49].TrainingLoss, 1.0)

	preds, err := m.Predict(ds)
	require.NoError(t, err)
	rows, cols := preds.Dims()
	assert.Equal(t, 300, rows)
	assert.Equal(t, 1, cols)
	y := ds.Numerical(ds.ColumnIndex("y"))
	assert.InDelta(t, y[0], preds.At(0, 0), 1.5)
}

func TestPredictRejectsNonFiniteOutput(t *testing.T) {
	ds := regressionDataset(t, 50)
	m, err := NewLearner("y", WithTask(model.Regression), WithNumTrees(2), WithValidationRatio(0), quietLogger()).
		Train(context.Background(), ds)
	require.NoError(t, err)

	m.initial[0] = math.Inf(1)
	_, err = m.Predict(ds)
	var numErr *errors.NumericalInstabilityError
	require.True(t, errors.As(err, &numErr))
	assert.Equal(t, "gbt.Model.Predict", numErr.Operation)
}

func TestTrainRejectsNonFiniteLabels(t *testing.T) {
	ds, err := dataset.Create(map[string]interface{}{
		"x": []float64{1, 2, 3, 4},
		"y": []float64{1, math.Inf(1), 2, 3},
	})
	require.NoError(t, err)

	_, err = NewLearner("y", WithTask(model.Regression), WithNumTrees(3), WithValidationRatio(0), WithMinExamples(1), quietLogger()).
		Train(context.Background(), ds)
	var numErr *errors.NumericalInstabilityError
	require.True(t, errors.As(err, &numErr))
	assert.Equal(t, "gradients", numErr.Operation)
	assert.Equal(t, 1, numErr.Iteration)
}

func TestValidationLossRecorded(t *testing.T) {
	ds := binaryDataset(t, 400, 1)
	m, err := NewLearner("label", WithNumTrees(40), quietLogger()).Train(context.Background(), ds)
	require.NoError(t, err)

	loss, err := m.ValidationLoss()
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss))
	assert.GreaterOrEqual(t, loss, 0.0)

	logs := m.TrainingLogs()
	kept := logs.NumIterationsKept
	require.NotNil(t, logs.Entries[kept-1].ValidationLoss)
	assert.Equal(t, *logs.Entries[kept-1].ValidationLoss, loss)
	assert.Equal(t, kept, m.NumTrees())

	again, err := m.ValidationLoss()
	require.NoError(t, err)
	assert.Equal(t, loss, again)
}

func TestValidationLossWithoutValidation(t *testing.T) {
	ds := binaryDataset(t, 100, 2)
	m, err := NewLearner("label", WithNumTrees(5), WithValidationRatio(0), quietLogger()).
		Train(context.Background(), ds)
	require.NoError(t, err)

	_, err = m.ValidationLoss()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoValidationLoss))
	var stateErr *errors.InvalidStateError
	assert.True(t, errors.As(err, &stateErr))
	for _, e := range m.TrainingLogs().Entries {
		assert.Nil(t, e.ValidationLoss)
	}
}

func TestTrainWithValidationDataset(t *testing.T) {
	train := binaryDataset(t, 300, 3)
	valid := binaryDataset(t, 100, 4)

	learner := NewLearner("label", WithNumTrees(20), WithEarlyStopping(EarlyStoppingNone, 0), quietLogger())
	m, err := learner.TrainWithValidation(context.Background(), train, valid)
	require.NoError(t, err)
	assert.Equal(t, 20, m.NumTrees())

	loss, err := m.ValidationLoss()
	require.NoError(t, err)
	logs := m.TrainingLogs()
	assert.Equal(t, *logs.Entries[19].ValidationLoss, loss)

	_, err = learner.TrainWithValidation(context.Background(), train, nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestEarlyStoppingTruncates(t *testing.T) {
	train := binaryDataset(t, 200, 5)
	valid := binaryDataset(t, 200, 6)

	learner := NewLearner("label",
		WithNumTrees(60),
		WithShrinkage(0.5),
		WithMaxDepth(8),
		WithMinExamples(1),
		WithEarlyStopping(EarlyStoppingMinLossFinal, 0),
		quietLogger())
	m, err := learner.TrainWithValidation(context.Background(), train, valid)
	require.NoError(t, err)

	logs := m.TrainingLogs()
	require.Len(t, logs.Entries, 60)
	best := math.Inf(1)
	bestIter := 0
	for _, e := range logs.Entries {
		if *e.ValidationLoss < best {
			best, bestIter = *e.ValidationLoss, e.NumIterations
		}
	}
	assert.Equal(t, bestIter, logs.NumIterationsKept)
	assert.Equal(t, bestIter, m.NumTrees())

	loss, err := m.ValidationLoss()
	require.NoError(t, err)
	assert.Equal(t, best, loss)
}

func TestConvergenceWarning(t *testing.T) {
	// the validation target mirrors the training target, so every tree
	// after the first moves further away from it
	x := make([]float64, 16)
	up := make([]float64, 16)
	down := make([]float64, 16)
	for i := range x {
		x[i] = float64(i)
		up[i] = float64(i)
		down[i] = float64(15 - i)
	}
	train, err := dataset.Create(map[string]interface{}{"x": x, "y": up})
	require.NoError(t, err)
	valid, err := dataset.Create(map[string]interface{}{"x": x, "y": down})
	require.NoError(t, err)

	warnings, restore := log.UseTestLogger(log.LevelWarn)
	defer restore()

	m, err := NewLearner("y",
		WithTask(model.Regression),
		WithNumTrees(20),
		WithShrinkage(0.5),
		WithMaxDepth(8),
		WithMinExamples(1),
		WithEarlyStopping(EarlyStoppingLossIncrease, 3),
		quietLogger()).TrainWithValidation(context.Background(), train, valid)
	require.NoError(t, err)

	assert.Equal(t, 1, m.TrainingLogs().NumIterationsKept)
	assert.Equal(t, 1, m.NumTrees())
	assert.True(t, warnings.ContainsMessage("failed to converge"))
	assert.True(t, warnings.ContainsMessage("never improved after the first iteration"))
}

func TestEarlyStoppingTracker(t *testing.T) {
	es := NewEarlyStopping(EarlyStoppingLossIncrease, 2)
	assert.False(t, es.Update(1, 0.5))
	assert.False(t, es.Update(2, 0.4))
	assert.False(t, es.Update(3, 0.45))
	assert.True(t, es.Update(4, 0.41))
	assert.Equal(t, 2, es.NumIterationsToKeep(4))

	none := NewEarlyStopping(EarlyStoppingNone, 2)
	none.Update(1, 0.1)
	none.Update(2, 0.2)
	none.Update(3, 0.3)
	assert.False(t, none.ShouldStop())
	assert.Equal(t, 3, none.NumIterationsToKeep(3))

	_, err := ParseEarlyStoppingPolicy("SOMETIMES")
	assert.Error(t, err)
}

func TestMulticlass(t *testing.T) {
	n := 150
	x := make([]float64, n)
	label := make([]string, n)
	for i := range x {
		x[i] = float64(i)
		label[i] = []string{"a", "b", "c"}[i/50]
	}
	ds, err := dataset.Create(map[string]interface{}{"x": x, "label": label})
	require.NoError(t, err)

	m, err := NewLearner("label", WithNumTrees(10), WithValidationRatio(0), quietLogger()).
		Train(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 3, m.NumTreesPerIteration())
	assert.Equal(t, 30, m.NumTrees())
	assert.Equal(t, MultinomialLogLikelihoodLoss, m.LossName())

	preds, err := m.Predict(ds)
	require.NoError(t, err)
	_, cols := preds.Dims()
	require.Equal(t, 3, cols)
	for i := 0; i < n; i += 25 {
		sum := preds.At(i, 0) + preds.At(i, 1) + preds.At(i, 2)
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
	// class "a" is vocabulary index 1 and output column 0
	assert.Greater(t, preds.At(10, 0), 0.5)
	assert.Greater(t, preds.At(140, 2), 0.5)
}

func TestPredictLeavesAndDistance(t *testing.T) {
	ds := binaryDataset(t, 120, 8)
	m, err := NewLearner("label", WithNumTrees(8), WithValidationRatio(0), quietLogger()).
		Train(context.Background(), ds)
	require.NoError(t, err)

	sub := ds.Subset([]int{0, 1, 2, 3, 4})
	leaves, err := m.PredictLeaves(sub)
	require.NoError(t, err)
	r, c := leaves.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, m.NumTrees(), c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.GreaterOrEqual(t, leaves.At(i, j), 0.0)
			assert.Less(t, leaves.At(i, j), float64(m.Trees()[j].NumLeaves()))
		}
	}

	dist, err := m.Distance(sub, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 0.0, dist.At(i, i))
		for j := 0; j < 5; j++ {
			assert.Equal(t, dist.At(i, j), dist.At(j, i))
			assert.GreaterOrEqual(t, dist.At(i, j), 0.0)
			assert.LessOrEqual(t, dist.At(i, j), 1.0)
		}
	}

	other := ds.Subset([]int{10, 11})
	cross, err := m.Distance(sub, other)
	require.NoError(t, err)
	r, c = cross.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 2, c)
}

func TestPredictMissingFeature(t *testing.T) {
	ds := binaryDataset(t, 100, 9)
	m, err := NewLearner("label", WithNumTrees(3), WithValidationRatio(0), quietLogger()).
		Train(context.Background(), ds)
	require.NoError(t, err)

	partial, err := dataset.Create(map[string]interface{}{"x1": []float64{0.5}})
	require.NoError(t, err)
	_, err = m.Predict(partial)
	var vErr *errors.ValidationError
	assert.True(t, errors.As(err, &vErr))

	full, err := dataset.Create(map[string]interface{}{
		"x1": []float64{2}, "x2": []float64{0}, "color": []string{"red"},
	}, dataset.WithDataSpec(m.DataSpec()))
	require.NoError(t, err)
	preds, err := m.Predict(full)
	require.NoError(t, err)

	// the output is the probability of the second vocabulary class
	labelSpec, err := m.DataSpec().Column("label")
	require.NoError(t, err)
	if labelSpec.Vocabulary[2] == "pos" {
		assert.Greater(t, preds.At(0, 0), 0.5)
	} else {
		assert.Less(t, preds.At(0, 0), 0.5)
	}
}

func TestSaveAndLoad(t *testing.T) {
	ds := binaryDataset(t, 200, 10)
	m, err := NewLearner("label", WithNumTrees(10), quietLogger()).Train(context.Background(), ds)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, m.Save(dir, "p_"))
	assert.FileExists(t, dir+"/p_done")

	loaded, err := model.Load(dir, "")
	require.NoError(t, err)
	restored, ok := loaded.(*Model)
	require.True(t, ok)

	assert.Equal(t, m.Header().ModelID, restored.Header().ModelID)
	assert.Equal(t, m.NumTrees(), restored.NumTrees())
	assert.Equal(t, m.InitialPredictions(), restored.InitialPredictions())

	want, _ := m.ValidationLoss()
	got, err := restored.ValidationLoss()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	p1, err := m.Predict(ds)
	require.NoError(t, err)
	p2, err := restored.Predict(ds)
	require.NoError(t, err)
	for i := 0; i < ds.NumRows(); i += 17 {
		assert.InDelta(t, p1.At(i, 0), p2.At(i, 0), 1e-12)
	}

	_, err = model.Load(dir, "wrong_")
	var vErr *errors.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestLoadRejectsClassCountMismatch(t *testing.T) {
	ds := binaryDataset(t, 100, 12)
	m, err := NewLearner("label", WithNumTrees(2), quietLogger()).Train(context.Background(), ds)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, m.Save(dir, ""))

	var p payload
	require.NoError(t, model.ReadJSON(dir, "", model.ForestFile, &p))
	assert.Equal(t, 2, p.NumClasses)

	p.NumClasses = 3
	require.NoError(t, model.WriteJSON(dir, "", model.ForestFile, &p))
	_, err = model.Load(dir, "")
	var mErr *errors.ModelError
	require.True(t, errors.As(err, &mErr))
	assert.Contains(t, err.Error(), "num_classes=3")
}

func TestCallbacks(t *testing.T) {
	ds := binaryDataset(t, 200, 11)
	var history map[string][]float64
	m, err := NewLearner("label",
		WithNumTrees(7),
		WithEarlyStopping(EarlyStoppingNone, 0),
		WithCallbacks(RecordEvaluation(&history), LogEvaluation(2)),
		quietLogger()).Train(context.Background(), ds)
	require.NoError(t, err)
	assert.Len(t, history[EvalTrainingLoss], 7)
	assert.Len(t, history[EvalValidationLoss], 7)
	assert.Equal(t, 7, m.NumTrees())

	m, err = NewLearner("label",
		WithNumTrees(50),
		WithCallbacks(TimeLimit(0)),
		quietLogger()).Train(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NumTrees())

	_, err = NewLearner("label",
		WithNumTrees(5),
		WithCallbacks(func(env *CallbackEnv) error { return errors.New("abort") }),
		quietLogger()).Train(context.Background(), ds)
	assert.Error(t, err)
}

func TestTrainCancelled(t *testing.T) {
	ds := binaryDataset(t, 50, 12)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLearner("label", quietLogger()).Train(ctx, ds)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrainTimeout(t *testing.T) {
	ds := binaryDataset(t, 50, 13)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err := NewLearner("label", quietLogger()).Train(ctx, ds)
	assert.Error(t, err)
}

func TestLearnerValidation(t *testing.T) {
	ds := binaryDataset(t, 50, 14)
	tests := []struct {
		name string
		opts []Option
	}{
		{"num trees", []Option{WithNumTrees(0)}},
		{"shrinkage", []Option{WithShrinkage(0)}},
		{"max depth", []Option{WithMaxDepth(0)}},
		{"subsample", []Option{WithSubsample(1.5)}},
		{"validation ratio", []Option{WithValidationRatio(1)}},
		{"policy", []Option{WithEarlyStopping("SOMETIMES", 3)}},
		{"regression on categorical", []Option{WithTask(model.Regression)}},
		{"unknown feature", []Option{WithFeatures("nope")}},
		{"label as feature", []Option{WithFeatures("label")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLearner("label", append(tt.opts, quietLogger())...).Train(context.Background(), ds)
			var vErr *errors.ValidationError
			assert.True(t, errors.As(err, &vErr), "got %v", err)
		})
	}

	_, err := NewLearner("missing", quietLogger()).Train(context.Background(), ds)
	assert.Error(t, err)
}

func TestLosses(t *testing.T) {
	labels := []float64{0, 1, 1, 1}
	bin := binomialLogLikelihood{}
	init := bin.InitialPredictions(labels, nil)
	assert.InDelta(t, math.Log(3), init[0], 1e-9)

	preds := []float64{0, 0, 0, 0}
	assert.InDelta(t, 2*math.Log(2), bin.Loss(labels, preds, nil), 1e-9)

	grad := make([]float64, 4)
	hess := make([]float64, 4)
	bin.Gradients(labels, preds, 0, grad, hess)
	assert.InDelta(t, 0.5, grad[0], 1e-12)
	assert.InDelta(t, -0.5, grad[1], 1e-12)
	assert.InDelta(t, 0.25, hess[0], 1e-12)

	sq := squaredError{}
	assert.InDelta(t, 0.75, sq.InitialPredictions(labels, nil)[0], 1e-12)
	assert.InDelta(t, 1.0, sq.Loss([]float64{1, 3}, []float64{2, 2}, nil), 1e-12)

	multi, err := NewLoss(MultinomialLogLikelihoodLoss, 3)
	require.NoError(t, err)
	uniform := make([]float64, 6)
	assert.InDelta(t, math.Log(3), multi.Loss([]float64{0, 2}, uniform, nil), 1e-9)

	_, err = NewLoss("HINGE", 2)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	ds := binaryDataset(t, 100, 15)
	m, err := NewLearner("label", WithNumTrees(4), quietLogger()).Train(context.Background(), ds)
	require.NoError(t, err)

	desc := m.Describe()
	assert.Contains(t, desc, `Type: "GRADIENT_BOOSTED_TREES"`)
	assert.Contains(t, desc, "Task: CLASSIFICATION")
	assert.Contains(t, desc, "Loss: BINOMIAL_LOG_LIKELIHOOD")
	assert.Contains(t, desc, "Validation loss value:")
	assert.Contains(t, desc, "Input Features (3):")
}
