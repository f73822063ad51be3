package monitor

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/heatgrid/internal/db"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// heat colours run from cold to hot.
var heatColors = []string{"#313695", "#4575b4", "#74add1", "#abd9e9", "#e0f3f8", "#fee090", "#fdae61", "#f46d43", "#d73027", "#a50026"}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>heatgrid runs</title></head>
<body>
<h1>heatgrid runs</h1>
<p><a href="/charts/runs">iterations chart</a> | <a href="/debug/tailsql/">tailsql</a></p>
<table border="1" cellpadding="4">
<tr><th>run</th><th>profile</th><th>ranks</th><th>grid</th><th>state</th><th>iterations</th><th>global delta</th><th>elapsed</th><th>charts</th></tr>
{{range .}}<tr>
<td><a href="/api/runs/{{.RunID}}">{{.RunID}}</a></td><td>{{.Profile}}</td><td>{{.Ranks}}</td>
<td>{{.GlobalRows}}x{{.Columns}}</td><td>{{.State}}</td><td>{{.Iterations}}</td>
<td>{{printf "%.6f" .GlobalDelta}}</td><td>{{.Elapsed}}</td>
<td><a href="/charts/runs/{{.RunID}}/convergence">convergence</a> <a href="/charts/runs/{{.RunID}}/temperature">temperature</a></td>
</tr>{{end}}
</table>
</body></html>
`))

func (ws *WebServer) writeHTML(w http.ResponseWriter, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := ws.runs.List(listLimit(r))
	if err != nil {
		ws.writeStoreError(w, err)
		return
	}
	ws.writeHTML(w, func(buf *bytes.Buffer) error {
		return indexTemplate.Execute(buf, runs)
	})
}

// handleRunsChart renders iterations per run as a bar chart, oldest first.
func (ws *WebServer) handleRunsChart(w http.ResponseWriter, r *http.Request) {
	runs, err := ws.runs.List(listLimit(r))
	if err != nil {
		ws.writeStoreError(w, err)
		return
	}

	x := make([]string, 0, len(runs))
	y := make([]opts.BarData, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		label := run.RunID
		if len(label) > 8 {
			label = label[:8]
		}
		x = append(x, label)
		y = append(y, opts.BarData{Name: run.State, Value: run.Iterations})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "heatgrid runs", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Iterations per run", Subtitle: fmt.Sprintf("runs=%d", len(runs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("iterations", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)
	ws.writeHTML(w, func(buf *bytes.Buffer) error { return page.Render(buf) })
}

// handleConvergenceChart renders the sampled global delta of one run. The
// y axis is logarithmic unless a sample is zero.
func (ws *WebServer) handleConvergenceChart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := ws.runs.Get(id)
	if err != nil {
		ws.writeStoreError(w, err)
		return
	}
	points, err := ws.runs.History(id)
	if err != nil {
		ws.writeStoreError(w, err)
		return
	}
	if len(points) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no history recorded for run")
		return
	}

	x := make([]string, len(points))
	y := make([]opts.LineData, len(points))
	yType := "log"
	for i, p := range points {
		x[i] = strconv.Itoa(p.Iteration)
		y[i] = opts.LineData{Value: p.GlobalDelta}
		if p.GlobalDelta <= 0 {
			yType = "value"
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "heatgrid convergence", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Convergence",
			Subtitle: fmt.Sprintf("run=%s state=%s threshold=%g", run.RunID, run.State, run.Threshold),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "global delta", Type: yType}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).AddSeries("delta", y,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	ws.writeHTML(w, func(buf *bytes.Buffer) error { return line.Render(buf) })
}

// handleTemperatureChart renders the stored grid snapshot as a heat map.
func (ws *WebServer) handleTemperatureChart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := ws.runs.Snapshot(id)
	if err != nil {
		ws.writeStoreError(w, err)
		return
	}
	ws.writeHTML(w, func(buf *bytes.Buffer) error {
		return temperatureHeatMap(id, snap).Render(buf)
	})
}

func temperatureHeatMap(runID string, snap *db.Snapshot) *charts.HeatMap {
	xs := make([]string, snap.Cols)
	for j := range xs {
		xs[j] = strconv.Itoa(j)
	}
	ys := make([]string, snap.Rows)
	data := make([]opts.HeatMapData, 0, snap.Rows*snap.Cols)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, row := range snap.Values {
		// echarts draws category 0 at the bottom.
		y := snap.Rows - 1 - i
		ys[y] = strconv.Itoa(i)
		for j, v := range row {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			data = append(data, opts.HeatMapData{Value: [3]interface{}{j, y, v}})
		}
	}
	if !(hi > lo) {
		hi = lo + 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "heatgrid temperature", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Temperature", Subtitle: fmt.Sprintf("run=%s blocks=%dx%d", runID, snap.Rows, snap.Cols)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xs}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: heatColors},
		}),
	)
	hm.SetXAxis(xs).AddSeries("temperature", data)
	return hm
}
