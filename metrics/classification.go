package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// logLossEpsilon は log(0) を避けるための確率のクリップ幅
const logLossEpsilon = 1e-15

// Accuracy は正解率を計算する。ラベルはクラス番号。
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	return WeightedAccuracy(yTrue, yPred, nil)
}

// WeightedAccuracy は重み付き正解率を計算する
func WeightedAccuracy(yTrue, yPred *mat.VecDense, weights []float64) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if weights != nil && len(weights) != n {
		return 0, errors.NewDimensionError("Accuracy", n, len(weights), 0)
	}
	hits := make([]float64, n)
	for i := range hits {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			hits[i] = 1
		}
	}
	return stat.Mean(hits, weights), nil
}

// ClassificationError は誤分類率 1 - Accuracy を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// checkBinary はラベルが 0 または 1 であることを検証する
func checkBinary(op string, yTrue *mat.VecDense) error {
	for i := 0; i < yTrue.Len(); i++ {
		if v := yTrue.AtVec(i); v != 0 && v != 1 {
			return errors.NewValidationError("yTrue", "labels must be 0 or 1 in "+op, v)
		}
	}
	return nil
}

// BinaryLogLoss は二値分類の平均対数損失を計算する。
// yPred は正例の確率で、[eps, 1-eps] にクリップされる。
func BinaryLogLoss(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}
	var sum float64
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yPred.AtVec(i), logLossEpsilon, 1-logLossEpsilon)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// ROCCurve は閾値を降順に並べた ROC 曲線を返す。
// 先頭は閾値 +Inf の点 (0, 0)。
func ROCCurve(yTrue, yScore *mat.VecDense, weights []float64) (fpr, tpr, thresholds []float64, err error) {
	n, err := checkPair("ROCCurve", yTrue, yScore)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkBinary("ROCCurve", yTrue); err != nil {
		return nil, nil, nil, err
	}
	if weights != nil && len(weights) != n {
		return nil, nil, nil, errors.NewDimensionError("ROCCurve", n, len(weights), 0)
	}

	scores := values(yScore)
	classes := make([]bool, n)
	for i := range classes {
		classes[i] = yTrue.AtVec(i) == 1
	}
	var w []float64
	if weights != nil {
		w = append([]float64(nil), weights...)
	}
	stat.SortWeightedLabeled(scores, classes, w)
	tpr, fpr, thresholds = stat.ROC(nil, scores, classes, w)
	return fpr, tpr, thresholds, nil
}

// AUC は ROC 曲線下の面積を台形則で計算する。
// 片方のクラスしか存在しない場合は未定義のため 0.5 を返し、警告を出す。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	return WeightedAUC(yTrue, yScore, nil)
}

// WeightedAUC は重み付きの AUC を計算する
func WeightedAUC(yTrue, yScore *mat.VecDense, weights []float64) (float64, error) {
	fpr, tpr, _, err := ROCCurve(yTrue, yScore, weights)
	if err != nil {
		return 0, err
	}
	if !bothClasses(yTrue) {
		errors.Warn(errors.NewUndefinedMetricWarning("AUC", "only one class present in yTrue", 0.5))
		return 0.5, nil
	}
	return integrate.Trapezoidal(fpr, tpr), nil
}

// AUCMatrix は行列の先頭列に対して AUC を計算する
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	a, err := columnVector("AUCMatrix", yTrue)
	if err != nil {
		return 0, err
	}
	b, err := columnVector("AUCMatrix", yScore)
	if err != nil {
		return 0, err
	}
	return AUC(a, b)
}

func bothClasses(yTrue *mat.VecDense) bool {
	var pos, neg bool
	for i := 0; i < yTrue.Len(); i++ {
		if yTrue.AtVec(i) == 1 {
			pos = true
		} else {
			neg = true
		}
	}
	return pos && neg
}

// PRAUC は適合率-再現率曲線下の面積を台形則で計算する。
// 同じスコアの例は一つの閾値としてまとめる。
func PRAUC(yTrue, yScore *mat.VecDense, weights []float64) (float64, error) {
	n, err := checkPair("PRAUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("PRAUC", yTrue); err != nil {
		return 0, err
	}
	if weights != nil && len(weights) != n {
		return 0, errors.NewDimensionError("PRAUC", n, len(weights), 0)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return yScore.AtVec(order[a]) > yScore.AtVec(order[b]) })

	weight := func(i int) float64 {
		if weights == nil {
			return 1
		}
		return weights[i]
	}
	var totalPos float64
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			totalPos += weight(i)
		}
	}
	if totalPos == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("PRAUC", "no positive example in yTrue", 0))
		return 0, nil
	}

	var recall, precision []float64
	var tp, fp float64
	for k := 0; k < n; {
		score := yScore.AtVec(order[k])
		for ; k < n && yScore.AtVec(order[k]) == score; k++ {
			if yTrue.AtVec(order[k]) == 1 {
				tp += weight(order[k])
			} else {
				fp += weight(order[k])
			}
		}
		recall = append(recall, tp/totalPos)
		precision = append(precision, errors.SafeDivide(tp, tp+fp))
	}
	// 再現率 0 の点は最初の閾値の適合率で補う
	recall = append([]float64{0}, recall...)
	precision = append([]float64{precision[0]}, precision...)
	return integrate.Trapezoidal(recall, precision), nil
}
