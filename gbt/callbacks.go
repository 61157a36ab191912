package gbt

import (
	"time"

	"github.com/YuminosukeSato/goforest/pkg/log"
)

// Names of the values in CallbackEnv.EvalResults.
const (
	EvalTrainingLoss   = "loss"
	EvalValidationLoss = "validation_loss"
)

// CallbackEnv is passed to the callbacks after every iteration.
type CallbackEnv struct {
	// Iteration is the 1-based number of completed iterations.
	Iteration     int
	NumIterations int
	BeginTime     time.Time
	EvalResults   map[string]float64
	StopTraining  bool
}

// Callback is called after each boosting iteration. Returning an error
// aborts the training.
type Callback func(env *CallbackEnv) error

// LogEvaluation logs the evaluation results every period iterations.
func LogEvaluation(period int) Callback {
	logger := log.GetLoggerWithName("gbt")
	return func(env *CallbackEnv) error {
		if period > 0 && env.Iteration%period == 0 {
			fields := []any{log.IterationKey, env.Iteration}
			if v, ok := env.EvalResults[EvalTrainingLoss]; ok {
				fields = append(fields, log.LossKey, v)
			}
			if v, ok := env.EvalResults[EvalValidationLoss]; ok {
				fields = append(fields, log.ValidationLossKey, v)
			}
			logger.Info("Boosting iteration", fields...)
		}
		return nil
	}
}

// RecordEvaluation appends every evaluation result to history.
func RecordEvaluation(history *map[string][]float64) Callback {
	return func(env *CallbackEnv) error {
		if *history == nil {
			*history = make(map[string][]float64)
		}
		for name, value := range env.EvalResults {
			(*history)[name] = append((*history)[name], value)
		}
		return nil
	}
}

// TimeLimit stops the training once maxDuration has elapsed since the
// first iteration started.
func TimeLimit(maxDuration time.Duration) Callback {
	return func(env *CallbackEnv) error {
		if time.Since(env.BeginTime) > maxDuration {
			log.GetLoggerWithName("gbt").Info("Time limit reached", log.IterationKey, env.Iteration)
			env.StopTraining = true
		}
		return nil
	}
}

// callbackList runs the callbacks in order.
type callbackList struct {
	callbacks []Callback
	env       *CallbackEnv
}

func newCallbackList(numIterations int, callbacks []Callback) *callbackList {
	return &callbackList{
		callbacks: callbacks,
		env: &CallbackEnv{
			NumIterations: numIterations,
			BeginTime:     time.Now(),
		},
	}
}

func (cl *callbackList) afterIteration(iteration int, evalResults map[string]float64) error {
	cl.env.Iteration = iteration
	cl.env.EvalResults = evalResults
	for _, cb := range cl.callbacks {
		if err := cb(cl.env); err != nil {
			return err
		}
	}
	return nil
}

func (cl *callbackList) shouldStop() bool {
	return cl.env.StopTraining
}
