package analysis

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"math"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	_ "gonum.org/v1/plot/vg/vgsvg"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

const (
	plotWidth  = 5 * vg.Inch
	plotHeight = 3 * vg.Inch
)

var reportTemplate = template.Must(template.New("analysis").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Analysis of {{.ModelName}}</title>
<style>
body { font-family: sans-serif; margin: 1em 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 2px 8px; text-align: right; }
.plot { display: inline-block; margin: 4px; }
</style>
</head>
<body>
<h1>Analysis of {{.ModelName}}</h1>
<p>Task: {{.Task}} &middot; Label: {{.Label}} &middot; Examples: {{.NumExamples}}</p>
{{- if .Importances}}
<h2>Permutation Variable Importance</h2>
<p>{{.Metric}} (baseline: {{printf "%.6g" .Baseline}})</p>
<div class="plot">{{.ImportancePlot}}</div>
<table>
<tr><th>Feature</th><th>Mean</th><th>Std dev</th></tr>
{{- range .Importances}}
<tr><td>{{.Feature}}</td><td>{{printf "%.6g" .Mean}}</td><td>{{printf "%.6g" .StdDev}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- if .PDPs}}
<h2>Partial Dependence Plot</h2>
{{- range .PDPs}}
<div class="plot">{{.}}</div>
{{- end}}
{{- end}}
{{- if .CEPs}}
<h2>Conditional Expectation Plot</h2>
{{- range .CEPs}}
<div class="plot">{{.}}</div>
{{- end}}
{{- end}}
</body>
</html>
`))

type reportData struct {
	ModelName      string
	Task           string
	Label          string
	NumExamples    int
	Metric         string
	Baseline       float64
	Importances    []VariableImportance
	ImportancePlot template.HTML
	PDPs           []template.HTML
	CEPs           []template.HTML
}

// HTML renders the analysis as a standalone HTML page with inline SVG
// plots.
func (a *Analysis) HTML() (string, error) {
	var buf bytes.Buffer
	if err := a.WriteHTML(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteHTML writes the HTML report to w.
func (a *Analysis) WriteHTML(w io.Writer) (err error) {
	defer errors.Recover(&err, "analysis.WriteHTML")

	data := reportData{
		ModelName:   a.ModelName,
		Task:        a.Task.String(),
		Label:       a.Label,
		NumExamples: a.NumExamples,
		Metric:      a.ImportanceMetric,
		Baseline:    a.BaselineScore,
		Importances: a.VariableImportances,
	}
	if len(a.VariableImportances) > 0 {
		if data.ImportancePlot, err = renderSVG(a.importancePlot()); err != nil {
			return err
		}
	}
	for _, pdp := range a.PartialDependences {
		p, err := a.dependencePlot(pdp.Feature, "Partial dependence", pdp.Grid, pdp.Predictions, nil)
		if err != nil {
			return err
		}
		svg, err := renderSVG(p)
		if err != nil {
			return err
		}
		data.PDPs = append(data.PDPs, svg)
	}
	for _, cep := range a.ConditionalExpectations {
		p, err := a.dependencePlot(cep.Feature, "Conditional expectation", cep.Grid, cep.Predictions, cep.Labels)
		if err != nil {
			return err
		}
		svg, err := renderSVG(p)
		if err != nil {
			return err
		}
		data.CEPs = append(data.CEPs, svg)
	}
	return errors.WithStack(reportTemplate.Execute(w, data))
}

// importancePlot draws horizontal bars, the most important feature on top.
func (a *Analysis) importancePlot() *plot.Plot {
	n := len(a.VariableImportances)
	values := make(plotter.Values, n)
	names := make([]string, n)
	for i, vi := range a.VariableImportances {
		values[n-1-i] = vi.Mean
		names[n-1-i] = vi.Feature
	}
	p := plot.New()
	p.Title.Text = a.ImportanceMetric
	bars, err := plotter.NewBarChart(values, vg.Points(10))
	if err != nil {
		// NewBarChart only rejects NaN or infinite values
		panic(err)
	}
	bars.Horizontal = true
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalY(names...)
	return p
}

func (a *Analysis) dependencePlot(feature, title string, grid []float64, predictions [][]float64, labels []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s", title, feature)
	p.X.Label.Text = feature
	p.Y.Label.Text = "prediction"
	p.Add(plotter.NewGrid())

	for k, name := range a.Outputs {
		xys := make(plotter.XYs, len(grid))
		for i, x := range grid {
			xys[i].X, xys[i].Y = x, predictions[i][k]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, errors.Wrapf(err, "plotting %s", feature)
		}
		line.Color = plotutil.Color(k)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	if labels != nil {
		var xys plotter.XYs
		for i, y := range labels {
			if !math.IsNaN(y) {
				xys = append(xys, plotter.XY{X: grid[i], Y: y})
			}
		}
		if len(xys) > 0 {
			points, err := plotter.NewScatter(xys)
			if err != nil {
				return nil, errors.Wrapf(err, "plotting %s", feature)
			}
			points.Color = plotutil.Color(len(a.Outputs))
			p.Add(points)
			p.Legend.Add("label", points)
		}
	}
	return p, nil
}

// renderSVG returns the plot as an inline <svg> element.
func renderSVG(p *plot.Plot) (template.HTML, error) {
	wt, err := p.WriterTo(plotWidth, plotHeight, "svg")
	if err != nil {
		return "", errors.WithStack(err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return "", errors.WithStack(err)
	}
	svg := buf.String()
	// drop the XML prolog, invalid inside an HTML document
	if i := strings.Index(svg, "<svg"); i > 0 {
		svg = svg[i:]
	}
	return template.HTML(svg), nil
}
