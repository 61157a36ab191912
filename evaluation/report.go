package evaluation

import (
	"fmt"
	"strings"

	"github.com/YuminosukeSato/goforest/core/model"
)

const indent = "    "

// String renders the evaluation as a text report.
func (e *Evaluation) String() string {
	var sb strings.Builder
	if e.Task == model.Classification {
		fmt.Fprintf(&sb, "accuracy: %.6g\n", e.Accuracy)
		if e.AccuracyCI95Bootstrap != nil {
			fmt.Fprintf(&sb, "accuracy CI95[B]: [%.6g, %.6g]\n", e.AccuracyCI95Bootstrap.Lower, e.AccuracyCI95Bootstrap.Upper)
		}
		if e.ConfusionMatrix != nil {
			sb.WriteString("confusion matrix:\n")
			sb.WriteString(e.ConfusionMatrix.table(indent))
		}
		if len(e.Characteristics) > 0 {
			sb.WriteString("characteristics:\n")
			for _, c := range e.Characteristics {
				fmt.Fprintf(&sb, "%sname: '%s' vs others\n", indent, c.Name)
				fmt.Fprintf(&sb, "%sROC AUC: %.6g\n", indent, c.ROCAUC)
				fmt.Fprintf(&sb, "%sPR AUC: %.6g\n", indent, c.PRAUC)
				fmt.Fprintf(&sb, "%sNum thresholds: %d\n", indent, c.NumThresholds)
			}
		}
		fmt.Fprintf(&sb, "loss: %.6g\n", e.Loss)
	} else {
		fmt.Fprintf(&sb, "RMSE: %.6g\n", e.RMSE)
		if e.RMSECI95Bootstrap != nil {
			fmt.Fprintf(&sb, "RMSE 95%% CI [B]: [%.6g, %.6g]\n", e.RMSECI95Bootstrap.Lower, e.RMSECI95Bootstrap.Upper)
		}
	}
	fmt.Fprintf(&sb, "num examples: %d\n", e.NumExamples)
	fmt.Fprintf(&sb, "num examples (weighted): %.6g\n", e.NumExamplesWeighted)
	return sb.String()
}

// table draws the matrix with the labels as rows and the predictions as
// columns.
func (c *ConfusionMatrix) table(prefix string) string {
	cells := make([][]string, len(c.Classes)+1)
	cells[0] = append([]string{""}, c.Classes...)
	for i, name := range c.Classes {
		row := []string{name}
		for _, v := range c.Counts[i] {
			row = append(row, fmt.Sprintf("%.6g", v))
		}
		cells[i+1] = row
	}
	width := 0
	for _, row := range cells {
		for _, cell := range row {
			width = max(width, len(cell))
		}
	}

	border := prefix + "+" + strings.Repeat(strings.Repeat("-", width+2)+"+", len(cells[0])) + "\n"
	var sb strings.Builder
	sb.WriteString(prefix + "label (row) \\ prediction (col)\n")
	sb.WriteString(border)
	for _, row := range cells {
		sb.WriteString(prefix + "|")
		for _, cell := range row {
			fmt.Fprintf(&sb, " %*s |", width, cell)
		}
		sb.WriteString("\n")
		sb.WriteString(border)
	}
	return sb.String()
}
