// Package goforest provides decision forest models in pure Go: gradient
// boosted trees, random forests and CART, designed for backend services
// that train, evaluate and serve models in-process.
//
// # Features
//
//   - Gradient boosted trees with a held-out validation loss and early stopping
//   - Random forests with out-of-bag evaluation, and single CART trees
//   - Numerical, categorical and boolean features with missing values
//   - Evaluation with bootstrapped confidence intervals
//   - Model analysis: permutation importance and partial dependence, as HTML
//   - Fast serving engines instrumented with Prometheus
//   - Models saved as plain JSON files
//
// # Installation
//
//	go get github.com/YuminosukeSato/goforest
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/goforest/dataset"
//	    "github.com/YuminosukeSato/goforest/forest"
//	    "github.com/YuminosukeSato/goforest/gbt"
//	)
//
//	func main() {
//	    ds, err := dataset.ReadCSVFile("adult.csv")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    learner := forest.NewGradientBoostedTreesLearner("income",
//	        gbt.WithNumTrees(200),
//	        gbt.WithValidationRatio(0.1),
//	    )
//	    m, err := learner.Train(context.Background(), ds)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    loss, err := m.(*forest.GradientBoostedTreesModel).ValidationLoss()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("Validation loss:", loss)
//
//	    if err := m.Save("/tmp/model"); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Packages
//
//   - forest: Model wrappers, learners, Load and Save
//   - dataset: Vertical datasets, data specs and CSV reading
//   - decisiontree: Tree representation and CART growth
//   - gbt: Gradient boosted trees engine
//   - randomforest: Random forest and CART engine
//   - evaluation: Model evaluation
//   - analysis: Model analysis and HTML reports
//   - serving: Inference engines and Prometheus instrumentation
//   - metrics: Accuracy, log loss, RMSE, ROC and PR curves
//   - config: Learner configuration from YAML, TOML and the environment
//   - core/model: Engine capabilities, registry and persistence
//   - core/parallel: Parallel processing utilities
//
// # Errors
//
// Errors are built with pkg/errors and identified with errors.Is and
// errors.As:
//
//	_, err := m.ValidationLoss()
//	switch {
//	case errors.Is(err, errors.ErrNoValidationLoss):
//	    // trained with validation_ratio=0
//	case errors.Is(err, errors.ErrUnboundModel):
//	    // the wrapper holds no model
//	}
//
// # License
//
// goforest is released under the MIT License.
package goforest
