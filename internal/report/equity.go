package report

import (
	"fmt"
	"os"
	"path/filepath"

	"quantmem/internal/memory"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteEquityReport 把账本记录渲染成权益曲线 + 回撤曲线的自包含 HTML。
// 只用已结算记录；没有可用记录时返回错误而不是写空文件。
func WriteEquityReport(path string, outcomes []*memory.TradeOutcome) error {
	var (
		labels   []string
		equity   []opts.LineData
		drawdown []opts.LineData
		running  float64
		peak     float64
	)
	for _, o := range outcomes {
		if !o.Completed() {
			continue
		}
		running += *o.PnL
		if running > peak {
			peak = running
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - running) / peak
		}
		label := o.ExitTime
		if label == "" {
			label = o.ID
		}
		labels = append(labels, label)
		equity = append(equity, opts.LineData{Value: running})
		drawdown = append(drawdown, opts.LineData{Value: -dd})
	}
	if len(equity) == 0 {
		return fmt.Errorf("report: 没有已结算记录可渲染")
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Equity Curve"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(labels)
	line.AddSeries("Cumulative PnL", equity, charts.WithLineStyleOpts(opts.LineStyle{Width: 2}))

	ddLine := charts.NewLine()
	ddLine.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Drawdown"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	ddLine.SetXAxis(labels)
	ddLine.AddSeries("Drawdown", drawdown, charts.WithLineStyleOpts(opts.LineStyle{Width: 2}))

	page := components.NewPage()
	page.AddCharts(line, ddLine)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create file failed: %w", err)
	}
	defer f.Close()
	return page.Render(f)
}
