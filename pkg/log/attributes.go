// Standard attribute keys for decision forest operations.
//
// Keys follow a hierarchical naming convention ("model.name",
// "data.samples") so that records from every package can be filtered the
// same way.

package log

// Model and operation context.
const (
	// ModelNameKey is the registered engine name, e.g. "GRADIENT_BOOSTED_TREES".
	ModelNameKey = "model.name"

	// ModelIDKey is the unique identifier stamped into a model header.
	ModelIDKey = "model.id"

	// LearnerKey identifies the learner, e.g. "RANDOM_FOREST".
	LearnerKey = "model.learner"

	// TaskKey is the model task, "CLASSIFICATION" or "REGRESSION".
	TaskKey = "model.task"

	// LabelKey is the label column.
	LabelKey = "model.label"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package emits the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the model lifecycle.
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	// SamplesKey is the number of rows.
	SamplesKey = "data.samples"

	// FeaturesKey is the number of input features.
	FeaturesKey = "data.features"

	// ColumnKey names a single column.
	ColumnKey = "data.column"

	// PathKey is a file or directory on disk.
	PathKey = "data.path"
)

// Forest structure.
const (
	NumTreesKey  = "forest.num_trees"
	NumNodesKey  = "forest.num_nodes"
	MaxDepthKey  = "forest.max_depth"
	TreeIndexKey = "forest.tree_index"
)

// Performance and quality metrics.
const (
	// DurationMsKey records the execution time in milliseconds.
	DurationMsKey = "perf.duration_ms"

	AccuracyKey = "metrics.accuracy"

	// LossKey is the training loss.
	LossKey = "metrics.loss"

	// ValidationLossKey is the loss on the validation split.
	ValidationLossKey = "metrics.validation_loss"

	RMSEKey = "metrics.rmse"

	// IterationKey is the boosting iteration.
	IterationKey = "training.iteration"
)

// Prediction context.
const (
	PredsKey  = "preds.count"
	EngineKey = "preds.engine"
)

// Error context.
const (
	// ErrorKey holds the error message.
	ErrorKey = "error"

	// ErrorTypeKey categorizes the error, e.g. "InvalidStateError".
	ErrorTypeKey = "error.type"

	// StacktraceKey contains the stack recorded by cockroachdb/errors.
	StacktraceKey = "error.stacktrace"

	// SuggestionKey gives a hint for resolving the issue.
	SuggestionKey = "error.suggestion"
)

// Configuration.
const (
	HyperParamsKey  = "model.hyperparams"
	LearningRateKey = "hyperparams.shrinkage"
	RandomSeedKey   = "config.random_seed"
)

// Standard values.
const (
	OperationTrain    = "train"
	OperationPredict  = "predict"
	OperationEvaluate = "evaluate"
	OperationAnalyze  = "analyze"
	OperationLoad     = "load"
	OperationSave     = "save"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseInference  = "inference"
)
