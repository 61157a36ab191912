// Package analysis explains how a trained model uses its input features:
// permutation variable importance, partial dependence and conditional
// expectation of the predictions.
package analysis

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/core/parallel"
	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/metrics"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
)

const (
	DefaultNumBins           = 20
	DefaultMaxExamples       = 2000
	DefaultPermutationRounds = 1
	DefaultRandomSeed        = 1234

	// importance metric names
	MeanDecreaseInAccuracy = "MEAN_DECREASE_IN_ACCURACY"
	MeanIncreaseInRMSE     = "MEAN_INCREASE_IN_RMSE"

	hint = "A model analysis. Use `HTML()` to render the analysis as an HTML report, or `WriteHTML(w)` to export it."
)

type options struct {
	rounds      int
	numBins     int
	maxExamples int
	seed        uint64
	features    []string
	workers     int
	logger      log.Logger
}

// Option configures Analyze.
type Option func(*options)

// WithPermutationRounds sets how many times each feature is shuffled to
// measure its importance.
func WithPermutationRounds(n int) Option { return func(o *options) { o.rounds = n } }

// WithNumBins sets the number of grid points of the dependence plots.
func WithNumBins(n int) Option { return func(o *options) { o.numBins = n } }

// WithMaxExamples caps the number of examples used; larger datasets are
// sampled.
func WithMaxExamples(n int) Option { return func(o *options) { o.maxExamples = n } }

func WithRandomSeed(seed uint64) Option { return func(o *options) { o.seed = seed } }

// WithFeatures restricts the analysis to some input features.
func WithFeatures(names ...string) Option { return func(o *options) { o.features = names } }

func WithNumWorkers(n int) Option { return func(o *options) { o.workers = n } }

func WithLogger(logger log.Logger) Option { return func(o *options) { o.logger = logger } }

// VariableImportance is the degradation of the model quality when the
// values of a feature are shuffled.
type VariableImportance struct {
	Feature string
	Mean    float64
	StdDev  float64
}

// PartialDependence is the mean prediction when a feature is forced to each
// value of Grid. Predictions[i][k] is output k at Grid[i].
type PartialDependence struct {
	Feature     string
	Grid        []float64
	Predictions [][]float64
}

// ConditionalExpectation is the mean prediction and mean label of the
// examples whose feature value falls near each point of Grid. Empty bins
// are omitted.
type ConditionalExpectation struct {
	Feature     string
	Grid        []float64
	NumExamples []int
	Predictions [][]float64
	// Labels is the mean label (regression) or the positive class rate
	// (binary classification); nil for multiclass models.
	Labels []float64
}

// Analysis is the result of Analyze.
type Analysis struct {
	ModelName   string
	Task        model.Task
	Label       string
	NumExamples int
	// Outputs names the prediction columns.
	Outputs []string

	// ImportanceMetric is MeanDecreaseInAccuracy or MeanIncreaseInRMSE;
	// BaselineScore is the accuracy or RMSE before any shuffling.
	ImportanceMetric    string
	BaselineScore       float64
	VariableImportances []VariableImportance

	PartialDependences      []PartialDependence
	ConditionalExpectations []ConditionalExpectation
}

// String returns a short hint; use HTML for the report itself.
func (a *Analysis) String() string { return hint }

// Analyze computes the analysis of m on ds. Importances need the label
// column in ds; without it only the dependence plots are computed.
// Dependence plots cover the numerical and boolean features.
func Analyze(ctx context.Context, m model.Model, ds *dataset.VerticalDataset, opts ...Option) (a *Analysis, err error) {
	defer errors.Recover(&err, "analysis.Analyze")

	o := &options{
		rounds:      DefaultPermutationRounds,
		numBins:     DefaultNumBins,
		maxExamples: DefaultMaxExamples,
		seed:        DefaultRandomSeed,
		logger:      log.GetLoggerWithName("analysis"),
	}
	for _, opt := range opts {
		opt(o)
	}
	switch {
	case m == nil:
		return nil, errors.Wrap(errors.ErrUnboundModel, "nothing to analyze")
	case ds == nil || ds.NumRows() == 0:
		return nil, errors.Wrap(errors.ErrEmptyData, "nothing to analyze")
	case o.rounds < 1:
		return nil, errors.NewValidationError("rounds", "must be at least 1", o.rounds)
	case o.numBins < 2:
		return nil, errors.NewValidationError("numBins", "must be at least 2", o.numBins)
	case o.maxExamples < 1:
		return nil, errors.NewValidationError("maxExamples", "must be positive", o.maxExamples)
	}

	ds, err = ds.Project(m.DataSpec())
	if err != nil {
		return nil, err
	}
	ds = sample(ds, o.maxExamples, o.seed)

	features, err := selectFeatures(m, o.features)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Analyzing model",
		log.ModelNameKey, m.Name(),
		log.OperationKey, log.OperationAnalyze,
		log.SamplesKey, ds.NumRows(),
		log.FeaturesKey, len(features),
	)

	baseline, err := m.Predict(ds)
	if err != nil {
		return nil, err
	}
	a = &Analysis{
		ModelName:   m.Name(),
		Task:        m.Task(),
		Label:       m.Label(),
		NumExamples: ds.NumRows(),
		Outputs:     outputNames(m),
	}

	sc := newScorer(m, ds)
	if sc != nil {
		a.ImportanceMetric = sc.metricName()
		if a.BaselineScore, err = sc.score(baseline); err != nil {
			return nil, err
		}
	} else {
		o.logger.Warn("No labelled example; skipping variable importances", log.LabelKey, m.Label())
	}

	importances := make([]*VariableImportance, len(features))
	pdps := make([]*PartialDependence, len(features))
	ceps := make([]*ConditionalExpectation, len(features))
	err = parallel.ForEach(ctx, len(features), o.workers, func(ctx context.Context, i int) error {
		col := features[i]
		if sc != nil {
			vi, err := importance(ctx, m, ds, col, i, sc, a.BaselineScore, o)
			if err != nil {
				return err
			}
			importances[i] = vi
		}
		if sem := ds.Spec().Columns[col].Semantic; sem != dataset.Numerical && sem != dataset.Boolean {
			return nil
		}
		grid := quantileGrid(ds.Numerical(col), o.numBins)
		if len(grid) < 2 {
			return nil
		}
		pdp, err := partialDependence(ctx, m, ds, col, grid)
		if err != nil {
			return err
		}
		pdps[i] = pdp
		ceps[i] = conditionalExpectation(m, ds, col, grid, baseline)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range features {
		if importances[i] != nil {
			a.VariableImportances = append(a.VariableImportances, *importances[i])
		}
		if pdps[i] != nil {
			a.PartialDependences = append(a.PartialDependences, *pdps[i])
			a.ConditionalExpectations = append(a.ConditionalExpectations, *ceps[i])
		}
	}
	sort.SliceStable(a.VariableImportances, func(i, j int) bool {
		return a.VariableImportances[i].Mean > a.VariableImportances[j].Mean
	})
	return a, nil
}

func sample(ds *dataset.VerticalDataset, maxExamples int, seed uint64) *dataset.VerticalDataset {
	if ds.NumRows() <= maxExamples {
		return ds
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rows := rng.Perm(ds.NumRows())[:maxExamples]
	sort.Ints(rows)
	return ds.Subset(rows)
}

func selectFeatures(m model.Model, names []string) ([]int, error) {
	if len(names) == 0 {
		names = m.InputFeatures()
	}
	inputs := make(map[string]bool)
	for _, name := range m.InputFeatures() {
		inputs[name] = true
	}
	spec := m.DataSpec()
	cols := make([]int, 0, len(names))
	for _, name := range names {
		if !inputs[name] {
			return nil, errors.NewValidationError("features", "not an input feature of the model", name)
		}
		cols = append(cols, spec.ColumnIndex(name))
	}
	return cols, nil
}

func outputNames(m model.Model) []string {
	if m.Task() == model.Regression {
		return []string{m.Label()}
	}
	spec := m.DataSpec()
	vocab := spec.Columns[spec.ColumnIndex(m.Label())].Vocabulary
	if len(vocab) == 3 {
		return []string{vocab[2]}
	}
	return vocab[1:]
}

// importance shuffles column col rounds times. The permutations only depend
// on the seed and the feature position, whatever the scheduling.
func importance(ctx context.Context, m model.Model, ds *dataset.VerticalDataset, col, position int, sc *scorer, baseline float64, o *options) (*VariableImportance, error) {
	rng := rand.New(rand.NewPCG(o.seed, uint64(position)))
	drops := make([]float64, o.rounds)
	for r := range drops {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		shuffled, err := ds.PermuteColumn(col, rng.Perm(ds.NumRows()))
		if err != nil {
			return nil, err
		}
		pred, err := m.Predict(shuffled)
		if err != nil {
			return nil, err
		}
		s, err := sc.score(pred)
		if err != nil {
			return nil, err
		}
		if sc.classification {
			drops[r] = baseline - s
		} else {
			drops[r] = s - baseline
		}
	}
	vi := &VariableImportance{Feature: ds.Spec().Columns[col].Name}
	if len(drops) == 1 {
		vi.Mean = drops[0]
	} else {
		vi.Mean, vi.StdDev = stat.MeanStdDev(drops, nil)
	}
	return vi, nil
}

// quantileGrid returns up to n distinct quantiles of the non-missing values.
func quantileGrid(values []float64, n int) []float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Float64s(sorted)
	grid := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		q := stat.Quantile((float64(i)+0.5)/float64(n), stat.Empirical, sorted, nil)
		if len(grid) == 0 || q > grid[len(grid)-1] {
			grid = append(grid, q)
		}
	}
	return grid
}

func partialDependence(ctx context.Context, m model.Model, ds *dataset.VerticalDataset, col int, grid []float64) (*PartialDependence, error) {
	pdp := &PartialDependence{
		Feature:     ds.Spec().Columns[col].Name,
		Grid:        grid,
		Predictions: make([][]float64, len(grid)),
	}
	constant := make([]float64, ds.NumRows())
	for i, v := range grid {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		for r := range constant {
			constant[r] = v
		}
		forced, err := ds.WithNumerical(col, constant)
		if err != nil {
			return nil, err
		}
		pred, err := m.Predict(forced)
		if err != nil {
			return nil, err
		}
		pdp.Predictions[i] = columnMeans(pred, nil)
	}
	return pdp, nil
}

func conditionalExpectation(m model.Model, ds *dataset.VerticalDataset, col int, grid []float64, pred *mat.Dense) *ConditionalExpectation {
	// bin boundaries are the midpoints between grid points
	bounds := make([]float64, len(grid)-1)
	for i := range bounds {
		bounds[i] = (grid[i] + grid[i+1]) / 2
	}
	bins := make([][]int, len(grid))
	for r, v := range ds.Numerical(col) {
		if math.IsNaN(v) {
			continue
		}
		b := sort.SearchFloat64s(bounds, v)
		bins[b] = append(bins[b], r)
	}

	labelCol := ds.ColumnIndex(m.Label())
	labelSpec := &ds.Spec().Columns[labelCol]
	withLabels := m.Task() == model.Regression || labelSpec.NumClasses() == 3

	cep := &ConditionalExpectation{Feature: ds.Spec().Columns[col].Name}
	for b, rows := range bins {
		if len(rows) == 0 {
			continue
		}
		cep.Grid = append(cep.Grid, grid[b])
		cep.NumExamples = append(cep.NumExamples, len(rows))
		cep.Predictions = append(cep.Predictions, columnMeans(pred, rows))
		if withLabels {
			cep.Labels = append(cep.Labels, meanLabel(ds, labelCol, rows))
		}
	}
	return cep
}

// meanLabel is NaN when none of the rows has a label.
func meanLabel(ds *dataset.VerticalDataset, labelCol int, rows []int) float64 {
	var values []float64
	if ds.Spec().Columns[labelCol].Semantic == dataset.Categorical {
		labels := ds.Categorical(labelCol)
		for _, r := range rows {
			if labels[r] > 0 {
				values = append(values, b2f(labels[r] == 2))
			}
		}
	} else {
		labels := ds.Numerical(labelCol)
		for _, r := range rows {
			if !math.IsNaN(labels[r]) {
				values = append(values, labels[r])
			}
		}
	}
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

// columnMeans averages the prediction columns over rows, or over every row
// when rows is nil.
func columnMeans(pred *mat.Dense, rows []int) []float64 {
	n, k := pred.Dims()
	means := make([]float64, k)
	col := make([]float64, n)
	for j := range means {
		mat.Col(col, j, pred)
		if rows == nil {
			means[j] = stat.Mean(col, nil)
			continue
		}
		var sum float64
		for _, r := range rows {
			sum += col[r]
		}
		means[j] = sum / float64(len(rows))
	}
	return means
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// scorer measures the quality of predictions on the labelled rows: the
// accuracy for classification, the RMSE for regression.
type scorer struct {
	classification bool
	rows           []int
	truth          *mat.VecDense
}

func newScorer(m model.Model, ds *dataset.VerticalDataset) *scorer {
	labelCol := ds.ColumnIndex(m.Label())
	if labelCol < 0 {
		return nil
	}
	sc := &scorer{classification: m.Task() == model.Classification}
	var truth []float64
	if sc.classification {
		for r, l := range ds.Categorical(labelCol) {
			if l > 0 {
				sc.rows = append(sc.rows, r)
				truth = append(truth, float64(l-1))
			}
		}
	} else {
		for r, y := range ds.Numerical(labelCol) {
			if !math.IsNaN(y) {
				sc.rows = append(sc.rows, r)
				truth = append(truth, y)
			}
		}
	}
	if len(sc.rows) == 0 {
		return nil
	}
	sc.truth = mat.NewVecDense(len(truth), truth)
	return sc
}

func (sc *scorer) metricName() string {
	if sc.classification {
		return MeanDecreaseInAccuracy
	}
	return MeanIncreaseInRMSE
}

func (sc *scorer) score(pred *mat.Dense) (float64, error) {
	_, k := pred.Dims()
	yPred := mat.NewVecDense(len(sc.rows), nil)
	row := make([]float64, k)
	for i, r := range sc.rows {
		switch {
		case !sc.classification:
			yPred.SetVec(i, pred.At(r, 0))
		case k == 1:
			// binary: probability of the second class
			yPred.SetVec(i, b2f(pred.At(r, 0) > 0.5))
		default:
			mat.Row(row, r, pred)
			yPred.SetVec(i, float64(floats.MaxIdx(row)))
		}
	}
	if sc.classification {
		return metrics.Accuracy(sc.truth, yPred)
	}
	return metrics.RMSE(sc.truth, yPred)
}
