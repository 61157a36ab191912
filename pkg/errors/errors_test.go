package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Train",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "goforest: Train: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not trained",
			err:     nil,
			wantMsg: "goforest: Predict: not trained",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			assert.Contains(t, formatted, "errors_test.go")

			var modelErr *ModelError
			assert.True(t, As(err, &modelErr))
		})
	}
}

func TestNewInvalidStateError(t *testing.T) {
	err := NewInvalidStateError("ValidationLoss", "model trained without validation", ErrNoValidationLoss)

	assert.True(t, Is(err, ErrNoValidationLoss))
	assert.False(t, Is(err, ErrUnboundModel))
	assert.Contains(t, err.Error(), "invalid state")
	assert.Contains(t, err.Error(), "no validation data")

	var stateErr *InvalidStateError
	require.True(t, As(err, &stateErr))
	assert.Equal(t, "ValidationLoss", stateErr.Op)
}

func TestInvalidStateErrorWithoutCause(t *testing.T) {
	err := NewInvalidStateError("Describe", "handle released", nil)
	assert.Equal(t, "goforest: Describe: invalid state: handle released", err.Error())
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 12, 0)

	want := "goforest: Predict: dimension mismatch on axis 0 (rows). Expected 10, got 12"
	assert.Equal(t, want, err.Error())

	var dimErr *DimensionError
	assert.True(t, As(err, &dimErr))
}

func TestInputShapeError(t *testing.T) {
	err := NewFeatureShapeError("dataset", "age", []int{10}, []int{9})
	assert.Contains(t, err.Error(), "for feature 'age'")

	err = NewInputShapeError("prediction", []int{3, 2}, []int{3, 1})
	assert.Equal(t, "goforest: input shape mismatch in prediction phase. Expected shape [3 2], got [3 1]", err.Error())
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrNotImplemented, "in GenericModel.Distance")

	assert.True(t, Is(wrapped, ErrNotImplemented))
	assert.True(t, strings.Contains(wrapped.Error(), "in GenericModel.Distance"))
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Predict", 10, 5)

	assert.True(t, Is(wrapped, ErrEmptyData))
	assert.Contains(t, wrapped.Error(), "in Predict: expected 10, got 5")
}

func TestWarnRouting(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(w error) {})

	Warn(NewUndefinedMetricWarning("roc_auc", "a single class in labels", 0.5))
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error(), "'roc_auc' is ill-defined")

	var hooked []error
	SetZerologWarnFunc(func(w error) { hooked = append(hooked, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewConvergenceWarning("GradientBoostedTrees", 12, "early stopping"))
	assert.Len(t, got, 1, "zerolog hook takes precedence over the handler")
	assert.Len(t, hooked, 1)
}

func TestNumericalHelpers(t *testing.T) {
	assert.NoError(t, CheckScalar("loss", 0.3, 1))
	assert.Error(t, CheckNumericalStability("loss", []float64{1, nan()}, 2))

	assert.InDelta(t, 0.5, Sigmoid(0), 1e-12)
	assert.InDelta(t, 1.0, Sigmoid(1000), 1e-12)
	assert.InDelta(t, 0.0, Sigmoid(-1000), 1e-12)

	p := Softmax([]float64{1, 1, 1, 1})
	for _, v := range p {
		assert.InDelta(t, 0.25, v, 1e-12)
	}
	assert.Equal(t, 0.0, SafeDivide(1, 0))
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
