package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/fatigue.report/internal/db"
	"github.com/banshee-data/fatigue.report/internal/httputil"
)

// showChart renders the journaled score and event rates of the current
// session as an HTML line chart.
// Query params:
//   - limit (optional; default 120) number of most recent cycles
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultCycleLimit, 1, maxLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	cycles, err := s.journal.Cycles(s.session.ID(), limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve cycles: "+err.Error())
		return
	}

	var buf bytes.Buffer
	if err := scoreChart(s.session.ID(), cycles).Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func scoreChart(sessionID string, cycles []db.CycleRecord) *charts.Line {
	xs := make([]string, len(cycles))
	score := make([]opts.LineData, len(cycles))
	blink := make([]opts.LineData, len(cycles))
	yawn := make([]opts.LineData, len(cycles))
	nod := make([]opts.LineData, len(cycles))
	for i, c := range cycles {
		xs[i] = c.At.Format("15:04:05")
		score[i] = opts.LineData{Value: c.Score}
		blink[i] = opts.LineData{Value: c.BlinkRate}
		yawn[i] = opts.LineData{Value: c.YawnRate}
		nod[i] = opts.LineData{Value: c.NodRate}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fatigue score", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Fatigue score and event rates", Subtitle: fmt.Sprintf("session=%s cycles=%d", sessionID, len(cycles))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "score", Min: 0, Max: 100}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "events/s", Min: 0})
	line.SetXAxis(xs).
		AddSeries("score", score).
		AddSeries("blink", blink, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1, Smooth: opts.Bool(true)})).
		AddSeries("yawn", yawn, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1, Smooth: opts.Bool(true)})).
		AddSeries("nod", nod, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1, Smooth: opts.Bool(true)}))
	return line
}
