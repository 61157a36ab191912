package forest

import (
	"fmt"
	"time"

	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
	"github.com/YuminosukeSato/goforest/serving"
)

type benchmarkOptions struct {
	warmup    time.Duration
	duration  time.Duration
	batchSize int
}

// BenchmarkOption configures Benchmark.
type BenchmarkOption func(*benchmarkOptions)

// WithWarmupDuration sets how long the engine runs before timing starts.
func WithWarmupDuration(d time.Duration) BenchmarkOption {
	return func(o *benchmarkOptions) { o.warmup = d }
}

// WithBenchmarkDuration sets the minimum timed duration.
func WithBenchmarkDuration(d time.Duration) BenchmarkOption {
	return func(o *benchmarkOptions) { o.duration = d }
}

// WithBatchSize sets the number of examples per Predict call.
func WithBatchSize(n int) BenchmarkOption {
	return func(o *benchmarkOptions) { o.batchSize = n }
}

// BenchmarkResult is the measured inference speed of a model.
type BenchmarkResult struct {
	// Engine is the serving engine used.
	Engine      string
	NumExamples int
	BatchSize   int
	// NumRuns is the number of full passes over the dataset.
	NumRuns int
	// Duration is the total timed duration.
	Duration time.Duration
	// PerExample is the wall-clock time of one run divided by the number of
	// examples. Engines predict on every core, so it is not a per-core cost.
	PerExample time.Duration
}

func (r *BenchmarkResult) String() string {
	return fmt.Sprintf("Inference time per example (wall clock, all cpu cores): %.3f us (microseconds)\n"+
		"Estimated over %d runs over %.3f seconds.\n"+
		"* Measured with the %q inference engine.",
		float64(r.PerExample.Nanoseconds())/1e3, r.NumRuns, r.Duration.Seconds(), r.Engine)
}

// Benchmark measures the inference speed of the fastest engine compatible
// with the model.
func (m *GenericModel) Benchmark(ds *dataset.VerticalDataset, opts ...BenchmarkOption) (res *BenchmarkResult, err error) {
	defer errors.Recover(&err, "forest.Benchmark")
	h, err := m.bound("Benchmark")
	if err != nil {
		return nil, err
	}
	o := &benchmarkOptions{warmup: time.Second, duration: 3 * time.Second, batchSize: 100}
	for _, opt := range opts {
		opt(o)
	}
	switch {
	case o.batchSize < 1:
		return nil, errors.NewValidationError("batch_size", "must be at least 1", o.batchSize)
	case o.warmup < 0:
		return nil, errors.NewValidationError("warmup_duration", "must not be negative", o.warmup)
	case o.duration <= 0:
		return nil, errors.NewValidationError("benchmark_duration", "must be positive", o.duration)
	}
	if ds == nil || ds.NumRows() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "nothing to benchmark")
	}
	ds, err = ds.Project(h.DataSpec())
	if err != nil {
		return nil, err
	}

	engine, err := serving.BuildFastEngine(h)
	if err != nil {
		return nil, err
	}

	batches := make([]*dataset.VerticalDataset, 0, ds.NumRows()/o.batchSize+1)
	for begin := 0; begin < ds.NumRows(); begin += o.batchSize {
		end := min(begin+o.batchSize, ds.NumRows())
		rows := make([]int, end-begin)
		for i := range rows {
			rows[i] = begin + i
		}
		batches = append(batches, ds.Subset(rows))
	}
	run := func() error {
		for _, b := range batches {
			if _, err := engine.Predict(b); err != nil {
				return err
			}
		}
		return nil
	}

	for start := time.Now(); time.Since(start) < o.warmup; {
		if err := run(); err != nil {
			return nil, err
		}
	}

	runs := 0
	start := time.Now()
	for runs == 0 || time.Since(start) < o.duration {
		if err := run(); err != nil {
			return nil, err
		}
		runs++
	}
	elapsed := time.Since(start)

	res = &BenchmarkResult{
		Engine:      engine.Name(),
		NumExamples: ds.NumRows(),
		BatchSize:   o.batchSize,
		NumRuns:     runs,
		Duration:    elapsed,
		PerExample:  elapsed / time.Duration(runs*ds.NumRows()),
	}
	m.log().Debug("Benchmark done",
		log.ModelNameKey, h.Name(),
		log.EngineKey, res.Engine,
		log.SamplesKey, res.NumExamples,
		log.DurationMsKey, elapsed.Milliseconds(),
	)
	return res, nil
}
