package memory

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// annualizationFactor 统一使用 √250 年化（每年约 250 个交易周期）。
var annualizationFactor = math.Sqrt(250)

// GroupStats 是按决策来源或 regime 聚合的分项统计。
type GroupStats struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
}

// PerformanceSnapshot 是账本某一时刻的全量统计，创建后不再修改。
// Sharpe/Sortino 为 nil 表示样本不足或离差为零，属"无数据"而非 0。
type PerformanceSnapshot struct {
	Timestamp     time.Time             `json:"timestamp"`
	TotalTrades   int                   `json:"total_trades"`
	WinningTrades int                   `json:"winning_trades"`
	LosingTrades  int                   `json:"losing_trades"`
	WinRate       float64               `json:"win_rate"`
	TotalPnL      float64               `json:"total_pnl"`
	AvgWin        float64               `json:"avg_win"`
	AvgLoss       float64               `json:"avg_loss"`
	ProfitFactor  float64               `json:"profit_factor"`
	MaxDrawdown   float64               `json:"max_drawdown"`
	Sharpe        *float64              `json:"sharpe,omitempty"`
	Sortino       *float64              `json:"sortino,omitempty"`
	ByProvider    map[string]GroupStats `json:"by_provider"`
	ByRegime      map[string]GroupStats `json:"by_regime"`
}

// PerformanceAnalyzer 对账本做纯读取的统计计算，可与写入并发。
type PerformanceAnalyzer struct {
	ledger          *TradeLedger
	regimeWindow    int
	minRegimeTrades int
}

func NewPerformanceAnalyzer(ledger *TradeLedger) *PerformanceAnalyzer {
	return &PerformanceAnalyzer{ledger: ledger, regimeWindow: 20, minRegimeTrades: 10}
}

// SetRegimeWindow 调整 regime 检测的回看窗口与最小样本数。
func (a *PerformanceAnalyzer) SetRegimeWindow(window, minTrades int) {
	if window > 0 {
		a.regimeWindow = window
	}
	if minTrades > 0 && minTrades <= a.regimeWindow {
		a.minRegimeTrades = minTrades
	}
}

// Analyze 基于账本当前内容生成一份 PerformanceSnapshot。
// 空账本返回零值统计而不是错误。
func (a *PerformanceAnalyzer) Analyze() *PerformanceSnapshot {
	snap := &PerformanceSnapshot{
		Timestamp:  time.Now(),
		ByProvider: make(map[string]GroupStats),
		ByRegime:   make(map[string]GroupStats),
	}
	var (
		grossProfit = decimal.Zero
		grossLoss   = decimal.Zero
		totalPnL    = decimal.Zero
		returns     []float64
		cumulative  []float64
		running     float64
	)
	for _, o := range a.ledger.All() {
		if !o.Completed() {
			continue
		}
		pnl := *o.PnL
		snap.TotalTrades++
		totalPnL = totalPnL.Add(decimal.NewFromFloat(pnl))
		if pnl > 0 {
			snap.WinningTrades++
			grossProfit = grossProfit.Add(decimal.NewFromFloat(pnl))
		} else {
			snap.LosingTrades++
			grossLoss = grossLoss.Add(decimal.NewFromFloat(pnl).Abs())
		}
		if r, ok := o.ReturnPct(); ok {
			returns = append(returns, r)
		}
		running += pnl
		cumulative = append(cumulative, running)

		provider := o.Provider
		if provider == "" {
			provider = "unknown"
		}
		bumpGroup(snap.ByProvider, provider, pnl)
		bumpGroup(snap.ByRegime, o.Regime(), pnl)
	}
	if snap.TotalTrades == 0 {
		return snap
	}
	snap.WinRate = float64(snap.WinningTrades) / float64(snap.TotalTrades)
	snap.TotalPnL = totalPnL.InexactFloat64()
	if snap.WinningTrades > 0 {
		snap.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(snap.WinningTrades))).InexactFloat64()
	}
	if snap.LosingTrades > 0 {
		snap.AvgLoss = grossLoss.Neg().Div(decimal.NewFromInt(int64(snap.LosingTrades))).InexactFloat64()
	}
	if grossLoss.IsPositive() {
		snap.ProfitFactor = grossProfit.Div(grossLoss).InexactFloat64()
	}
	snap.MaxDrawdown = maxDrawdown(cumulative)
	snap.Sharpe = sharpeRatio(returns)
	snap.Sortino = sortinoRatio(returns)
	return snap
}

func bumpGroup(m map[string]GroupStats, key string, pnl float64) {
	g := m[key]
	g.Trades++
	if pnl > 0 {
		g.Wins++
	} else {
		g.Losses++
	}
	g.TotalPnL += pnl
	g.WinRate = float64(g.Wins) / float64(g.Trades)
	m[key] = g
}

// maxDrawdown 计算累计盈亏序列的最大峰谷回撤，按峰值比例表示。
func maxDrawdown(cumulative []float64) float64 {
	var peak, maxDD float64
	for _, v := range cumulative {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func sharpeRatio(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	mean, std := meanStd(returns)
	if std == 0 {
		return nil
	}
	v := mean / std * annualizationFactor
	return &v
}

// sortinoRatio 仅用负收益计算下行离差。
func sortinoRatio(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	mean, _ := meanStd(returns)
	var downSq float64
	var downs int
	for _, r := range returns {
		if r < 0 {
			downSq += r * r
			downs++
		}
	}
	if downs == 0 {
		return nil
	}
	downDev := math.Sqrt(downSq / float64(downs))
	if downDev == 0 {
		return nil
	}
	v := mean / downDev * annualizationFactor
	return &v
}

func meanStd(values []float64) (mean, std float64) {
	n := float64(len(values))
	for _, v := range values {
		mean += v
	}
	mean /= n
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std = math.Sqrt(sq / n)
	return mean, std
}

// DetectRegime 对最近窗口内的已结算交易做收益均值/波动分桶。
// 样本不足返回 insufficient_data，与三个常规 regime 区分开。
func (a *PerformanceAnalyzer) DetectRegime() string {
	recent := a.ledger.Recent(a.regimeWindow)
	var returns []float64
	for _, o := range recent {
		if r, ok := o.ReturnPct(); ok {
			returns = append(returns, r)
		}
	}
	if len(returns) < a.minRegimeTrades {
		return RegimeInsufficient
	}
	mean, std := meanStd(returns)
	switch {
	case std > 3.0:
		return RegimeVolatile
	case mean > 1.0:
		return RegimeTrending
	case mean < -1.0:
		return RegimeDeclining
	default:
		return RegimeRanging
	}
}
