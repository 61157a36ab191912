package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

func TestWeightedMSE(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   *mat.VecDense
		yPred   *mat.VecDense
		weights []float64
		want    float64
	}{
		{
			name:  "perfect prediction",
			yTrue: vec(1, 2, 3),
			yPred: vec(1, 2, 3),
			want:  0,
		},
		{
			name:  "uniform weights",
			yTrue: vec(1, 2, 3),
			yPred: vec(2, 2, 5),
			want:  5.0 / 3.0, // (1 + 0 + 4) / 3
		},
		{
			name:    "weights shift the mean",
			yTrue:   vec(1, 2, 3),
			yPred:   vec(2, 2, 5),
			weights: []float64{3, 1, 1},
			want:    7.0 / 5.0, // (3*1 + 0 + 4) / 5
		},
		{
			name:    "unit weights match the unweighted value",
			yTrue:   vec(10, 20, 30),
			yPred:   vec(12, 18, 33),
			weights: []float64{1, 1, 1},
			want:    17.0 / 3.0,
		},
		{
			name:    "zero weight drops an example",
			yTrue:   vec(0, 0),
			yPred:   vec(1, 100),
			weights: []float64{1, 0},
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeightedMSE(tt.yTrue, tt.yPred, tt.weights)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	t.Run("MSE is WeightedMSE with nil weights", func(t *testing.T) {
		a, err := MSE(vec(1, 2, 3), vec(2, 2, 5))
		require.NoError(t, err)
		b, err := WeightedMSE(vec(1, 2, 3), vec(2, 2, 5), nil)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestRegressionInputErrors(t *testing.T) {
	metrics := map[string]func(yTrue, yPred *mat.VecDense) (float64, error){
		"MSE":                    MSE,
		"RMSE":                   RMSE,
		"MAE":                    MAE,
		"R2Score":                R2Score,
		"MAPE":                   MAPE,
		"ExplainedVarianceScore": ExplainedVarianceScore,
	}

	for name, metric := range metrics {
		t.Run(name, func(t *testing.T) {
			var valueErr *errors.ValueError
			var dimErr *errors.DimensionError

			_, err := metric(nil, vec(1))
			assert.True(t, errors.As(err, &valueErr), "nil yTrue: %v", err)

			_, err = metric(vec(1), nil)
			assert.True(t, errors.As(err, &valueErr), "nil yPred: %v", err)

			_, err = metric(&mat.VecDense{}, &mat.VecDense{})
			assert.True(t, errors.As(err, &valueErr), "empty: %v", err)

			_, err = metric(vec(1, 2, 3), vec(1, 2))
			require.True(t, errors.As(err, &dimErr), "mismatch: %v", err)
			assert.Equal(t, 3, dimErr.Expected)
			assert.Equal(t, 2, dimErr.Got)
		})
	}

	t.Run("weights of the wrong length", func(t *testing.T) {
		_, err := WeightedMSE(vec(1, 2), vec(1, 2), []float64{1, 2, 3})
		var dimErr *errors.DimensionError
		assert.True(t, errors.As(err, &dimErr))
	})
}

func TestRMSEAndMAE(t *testing.T) {
	yTrue := vec(1, 2, 3)
	yPred := vec(2, 2, 5)

	rmse, err := RMSE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(5.0/3.0), rmse, 1e-12)

	mae, err := MAE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mae, 1e-12)

	// RMSE weighs the large error more than MAE
	assert.Greater(t, rmse, mae)
}

func TestR2Score(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   *mat.VecDense
		yPred   *mat.VecDense
		want    float64
		wantErr bool
	}{
		{name: "perfect prediction", yTrue: vec(1, 2, 3, 4), yPred: vec(1, 2, 3, 4), want: 1},
		{name: "predicting the mean", yTrue: vec(1, 2, 3, 4), yPred: vec(2.5, 2.5, 2.5, 2.5), want: 0},
		// rss = 4, tss = 5
		{name: "constant offset", yTrue: vec(1, 2, 3, 4), yPred: vec(2, 3, 4, 5), want: 0.2},
		{name: "worse than the mean", yTrue: vec(1, 2, 3), yPred: vec(3, 2, 1), want: -3},
		{name: "no variance in yTrue", yTrue: vec(2, 2, 2), yPred: vec(1, 2, 3), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := R2Score(tt.yTrue, tt.yPred)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestExplainedVarianceScore(t *testing.T) {
	// diff = (0, 0, 0, -1): variance 0.1875 against 1.25
	got, err := ExplainedVarianceScore(vec(1, 2, 3, 4), vec(1, 2, 3, 5))
	require.NoError(t, err)
	assert.InDelta(t, 0.85, got, 1e-12)
}

func TestMSEMatrix(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   mat.Matrix
		yPred   mat.Matrix
		want    float64
		wantErr bool
	}{
		{
			name:  "column vectors",
			yTrue: mat.NewDense(3, 1, []float64{1, 2, 3}),
			yPred: mat.NewDense(3, 1, []float64{2, 2, 5}),
			want:  5.0 / 3.0,
		},
		{
			name:  "VecDense is a column",
			yTrue: vec(0, 0),
			yPred: vec(1, 3),
			want:  5,
		},
		{
			name:    "more than one column",
			yTrue:   mat.NewDense(2, 2, []float64{1, 2, 3, 4}),
			yPred:   mat.NewDense(2, 2, []float64{1, 2, 3, 4}),
			wantErr: true,
		},
		{
			name:    "row count mismatch",
			yTrue:   mat.NewDense(3, 1, []float64{1, 2, 3}),
			yPred:   mat.NewDense(2, 1, []float64{1, 2}),
			wantErr: true,
		},
		{
			name:    "empty matrix",
			yTrue:   &mat.Dense{},
			yPred:   &mat.Dense{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MSEMatrix(tt.yTrue, tt.yPred)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestColumnVector(t *testing.T) {
	v, err := columnVector("test", mat.NewDense(3, 2, []float64{1, 9, 2, 9, 3, 9}))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, values(v))

	var valueErr *errors.ValueError
	_, err = columnVector("test", nil)
	assert.True(t, errors.As(err, &valueErr))

	_, err = columnVector("test", &mat.Dense{})
	assert.True(t, errors.As(err, &valueErr))
}

func BenchmarkWeightedMSE(b *testing.B) {
	const size = 10000
	yTrue := mat.NewVecDense(size, nil)
	yPred := mat.NewVecDense(size, nil)
	weights := make([]float64, size)
	for i := 0; i < size; i++ {
		yTrue.SetVec(i, float64(i))
		yPred.SetVec(i, float64(i)+0.1*float64(i%10))
		weights[i] = float64(1 + i%3)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = WeightedMSE(yTrue, yPred, weights)
	}
}
