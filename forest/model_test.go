package forest

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/gbt"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
	"github.com/YuminosukeSato/goforest/randomforest"
)

const fixtureDir = "testdata/model/gbt_validation_fixture"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietGBT() gbt.Option {
	logger, _ := log.NewTestLogger(log.LevelError)
	return gbt.WithLogger(logger)
}

func quietRF() randomforest.Option {
	logger, _ := log.NewTestLogger(log.LevelError)
	return randomforest.WithLogger(logger)
}

// binaryDataset: label is "pos" when x1 plus noise is positive.
func binaryDataset(t *testing.T, n int) *dataset.VerticalDataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(11, 12))
	x1 := make([]float64, n)
	x2 := make([]float64, n)
	label := make([]string, n)
	for i := range x1 {
		x1[i] = rng.NormFloat64()
		x2[i] = rng.NormFloat64()
		label[i] = "neg"
		if x1[i]+0.2*rng.NormFloat64() > 0 {
			label[i] = "pos"
		}
	}
	ds, err := dataset.Create(map[string]interface{}{"x1": x1, "x2": x2, "label": label})
	require.NoError(t, err)
	return ds
}

func regressionDataset(t *testing.T, n int) *dataset.VerticalDataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(5, 6))
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64() * 4
		y[i] = 3*x[i] + 0.1*rng.NormFloat64()
	}
	ds, err := dataset.Create(map[string]interface{}{"x": x, "y": y})
	require.NoError(t, err)
	return ds
}

// fakeGBT backs a wrapper without an engine model. Methods it does not
// override panic through the nil embedded interface.
type fakeGBT struct {
	GradientBoostedTreesHandle
	loss  float64
	err   error
	calls int
}

func (f *fakeGBT) Name() string { return gbt.ModelName }

func (f *fakeGBT) ValidationLoss() (float64, error) {
	f.calls++
	return f.loss, f.err
}

func TestValidationLossFixture(t *testing.T) {
	m, err := Load(fixtureDir)
	require.NoError(t, err)

	gm, ok := m.(*GradientBoostedTreesModel)
	require.True(t, ok, "got %T", m)

	loss, err := gm.ValidationLoss()
	require.NoError(t, err)
	assert.Equal(t, 0.4231, loss)

	again, err := gm.ValidationLoss()
	require.NoError(t, err)
	assert.Equal(t, loss, again)

	assert.Equal(t, 2, gm.NumTrees())
	assert.Equal(t, []float64{-0.2006707}, gm.InitialPredictions())
	assert.Equal(t, "label", gm.Label())
	assert.Equal(t, []string{"x", "color"}, gm.InputFeatures())
}

func TestFixturePredict(t *testing.T) {
	m, err := Load(fixtureDir)
	require.NoError(t, err)

	ds, err := dataset.Create(map[string]interface{}{
		"x":     []float64{1, -1},
		"color": []string{"red", "blue"},
	}, dataset.WithDataSpec(m.DataSpec()))
	require.NoError(t, err)

	pred, err := m.Predict(ds)
	require.NoError(t, err)
	rows, cols := pred.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, 1, cols)

	sigmoid := func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }
	assert.InDelta(t, sigmoid(-0.2006707+0.21+0.05), pred.At(0, 0), 1e-9)
	assert.InDelta(t, sigmoid(-0.2006707-0.18-0.04), pred.At(1, 0), 1e-9)
}

func TestValidationLossTrained(t *testing.T) {
	ds := binaryDataset(t, 400)

	t.Run("with validation split", func(t *testing.T) {
		m, err := NewGradientBoostedTreesLearner("label", gbt.WithNumTrees(20), gbt.WithValidationRatio(0.2), quietGBT()).
			Train(context.Background(), ds)
		require.NoError(t, err)
		gm := m.(*GradientBoostedTreesModel)

		loss, err := gm.ValidationLoss()
		require.NoError(t, err)
		assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
		assert.GreaterOrEqual(t, loss, 0.0)

		logs := gm.Handle().(*gbt.Model).TrainingLogs()
		kept := logs.Entries[logs.NumIterationsKept-1]
		require.NotNil(t, kept.ValidationLoss)
		assert.Equal(t, *kept.ValidationLoss, loss)

		again, err := gm.ValidationLoss()
		require.NoError(t, err)
		assert.Equal(t, loss, again)
	})

	t.Run("without validation split", func(t *testing.T) {
		m, err := NewGradientBoostedTreesLearner("label", gbt.WithNumTrees(5), gbt.WithValidationRatio(0), quietGBT()).
			Train(context.Background(), ds)
		require.NoError(t, err)

		loss, err := m.(*GradientBoostedTreesModel).ValidationLoss()
		require.Error(t, err)
		assert.Zero(t, loss)
		assert.True(t, errors.Is(err, errors.ErrNoValidationLoss))
		assert.False(t, errors.Is(err, errors.ErrUnboundModel))
		var serr *errors.InvalidStateError
		assert.True(t, errors.As(err, &serr))
	})

	t.Run("with a validation dataset", func(t *testing.T) {
		train := ds.Subset(rangeRows(0, 300))
		valid := ds.Subset(rangeRows(300, 400))
		gm, err := NewGradientBoostedTreesLearner("label", gbt.WithNumTrees(10), quietGBT()).
			TrainWithValidation(context.Background(), train, valid)
		require.NoError(t, err)
		loss, err := gm.ValidationLoss()
		require.NoError(t, err)
		assert.Greater(t, loss, 0.0)
	})
}

func TestValidationLossUnbound(t *testing.T) {
	for name, m := range map[string]*GradientBoostedTreesModel{
		"zero value":  {},
		"nil handle":  NewGradientBoostedTreesModel(nil),
		"nil pointer": nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.ValidationLoss()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrUnboundModel))
			assert.False(t, errors.Is(err, errors.ErrNoValidationLoss))
			var serr *errors.InvalidStateError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, "ValidationLoss", serr.Op)
		})
	}
}

func TestValidationLossDelegates(t *testing.T) {
	fake := &fakeGBT{loss: 0.25}
	m := NewGradientBoostedTreesModel(fake)

	for range 3 {
		loss, err := m.ValidationLoss()
		require.NoError(t, err)
		assert.Equal(t, 0.25, loss)
	}
	assert.Equal(t, 3, fake.calls)

	engineErr := errors.New("engine exploded")
	fake.err = engineErr
	_, err := m.ValidationLoss()
	assert.True(t, err == engineErr, "handle errors are returned unchanged")

	assert.IsType(t, &GradientBoostedTreesModel{}, Wrap(fake))
}

func TestString(t *testing.T) {
	m, err := Load(fixtureDir)
	require.NoError(t, err)
	assert.Equal(t, "Model: GRADIENT_BOOSTED_TREES\n"+
		"Task: CLASSIFICATION\n"+
		"Class: goforest.GradientBoostedTreesModel\n"+
		"Use `model.Describe()` for more details\n", m.String())
	assert.Contains(t, m.Describe(), "GRADIENT_BOOSTED_TREES")

	assert.Equal(t, "Model: <unbound>\n"+
		"Task: UNDEFINED\n"+
		"Class: goforest.RandomForestModel\n"+
		"Use `model.Describe()` for more details\n", NewRandomForestModel(nil).String())
}

type notAForest struct{ model.Model }

func (notAForest) Name() string { return "NOT_A_FOREST" }

func TestWrap(t *testing.T) {
	ds := binaryDataset(t, 200)
	rf, err := randomforest.NewLearner("label", randomforest.WithNumTrees(5), quietRF()).Train(context.Background(), ds)
	require.NoError(t, err)

	wrapped, ok := Wrap(rf).(*RandomForestModel)
	require.True(t, ok)
	assert.True(t, wrapped.WinnerTakeAll())
	oob, err := wrapped.OutOfBagEvaluation()
	require.NoError(t, err)
	assert.Positive(t, oob.NumExamples)

	logger, restore := log.UseTestLogger(log.LevelInfo)
	defer restore()
	generic, ok := Wrap(notAForest{}).(*GenericModel)
	require.True(t, ok)
	assert.Equal(t, "NOT_A_FOREST", generic.Name())
	assert.True(t, logger.ContainsMessage("has no dedicated wrapper"))

	unbound := Wrap(nil)
	_, err = unbound.Predict(ds)
	assert.True(t, errors.Is(err, errors.ErrUnboundModel))
}

func TestOutOfBagEvaluationDisabled(t *testing.T) {
	ds := binaryDataset(t, 100)
	m, err := NewCartLearner("label", quietRF()).Train(context.Background(), ds)
	require.NoError(t, err)

	rm := m.(*RandomForestModel)
	assert.Equal(t, 1, rm.NumTrees())
	_, err = rm.OutOfBagEvaluation()
	assert.True(t, errors.Is(err, errors.ErrNotImplemented))

	_, err = NewRandomForestModel(nil).OutOfBagEvaluation()
	assert.True(t, errors.Is(err, errors.ErrUnboundModel))
}

func TestDecisionForestOperations(t *testing.T) {
	ds := binaryDataset(t, 200)
	m, err := NewGradientBoostedTreesLearner("label", gbt.WithNumTrees(8), gbt.WithValidationRatio(0), quietGBT()).
		Train(context.Background(), ds)
	require.NoError(t, err)
	gm := m.(*GradientBoostedTreesModel)

	leaves, err := gm.PredictLeaves(ds)
	require.NoError(t, err)
	rows, cols := leaves.Dims()
	assert.Equal(t, ds.NumRows(), rows)
	assert.Equal(t, gm.NumTrees(), cols)
	for r := range rows {
		for c := range cols {
			assert.GreaterOrEqual(t, leaves.At(r, c), 0.0)
		}
	}

	head := ds.Subset(rangeRows(0, 10))
	dist, err := gm.Distance(head, nil)
	require.NoError(t, err)
	r, c := dist.Dims()
	assert.Equal(t, 10, r)
	assert.Equal(t, 10, c)
	for i := range r {
		assert.Zero(t, dist.At(i, i))
	}

	var unbound DecisionForestModel
	_, err = unbound.PredictLeaves(ds)
	assert.True(t, errors.Is(err, errors.ErrUnboundModel))
	_, err = unbound.Distance(ds, nil)
	assert.True(t, errors.Is(err, errors.ErrUnboundModel))
	assert.Zero(t, unbound.NumTrees())
}

func TestEvaluateAndAnalyze(t *testing.T) {
	ds := binaryDataset(t, 300)
	m, err := NewGradientBoostedTreesLearner("label", gbt.WithNumTrees(20), quietGBT()).Train(context.Background(), ds)
	require.NoError(t, err)

	ev, err := m.Evaluate(ds)
	require.NoError(t, err)
	assert.Equal(t, ds.NumRows(), ev.NumExamples)
	assert.Greater(t, ev.Accuracy, 0.85)

	_, err = m.Evaluate(nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	a, err := m.Analyze(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, gbt.ModelName, a.ModelName)
	require.NotEmpty(t, a.VariableImportances)
	assert.Equal(t, "x1", a.VariableImportances[0].Feature)

	var unbound GenericModel
	_, err = unbound.Evaluate(ds)
	assert.True(t, errors.Is(err, errors.ErrUnboundModel))
	_, err = unbound.Analyze(context.Background(), ds)
	assert.True(t, errors.Is(err, errors.ErrUnboundModel))
}

func TestBenchmark(t *testing.T) {
	ds := regressionDataset(t, 120)
	m, err := NewGradientBoostedTreesLearner("y", gbt.WithTask(model.Regression), gbt.WithNumTrees(10), quietGBT()).
		Train(context.Background(), ds)
	require.NoError(t, err)

	res, err := m.Benchmark(ds,
		WithWarmupDuration(0),
		WithBenchmarkDuration(10*time.Millisecond),
		WithBatchSize(7))
	require.NoError(t, err)
	assert.Equal(t, "GradientBoostedTreesOptPred", res.Engine)
	assert.Equal(t, 120, res.NumExamples)
	assert.GreaterOrEqual(t, res.NumRuns, 1)
	assert.Greater(t, res.PerExample.Nanoseconds(), int64(0))
	assert.Contains(t, res.String(), "Inference time per example (wall clock, all cpu cores)")
	assert.NotContains(t, res.String(), "per cpu core")

	_, err = m.Benchmark(ds, WithBatchSize(0))
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "batch_size", verr.ParamName)

	_, err = m.Benchmark(nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func rangeRows(begin, end int) []int {
	rows := make([]int, 0, end-begin)
	for i := begin; i < end; i++ {
		rows = append(rows, i)
	}
	return rows
}
