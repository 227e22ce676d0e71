package memory

import (
	"strings"
	"time"
)

// ContextOptions 控制 GenerateContext 的可选部分。
type ContextOptions struct {
	// IncludeLookback 附带更长回看周期的统计，默认 90 条。
	IncludeLookback bool
	LookbackTrades  int
	// Symbol 非空时附带该标的的分项统计。
	Symbol string
}

// StreakInfo 描述当前连胜/连亏。Wins 为 true 表示连胜。
type StreakInfo struct {
	Wins  bool `json:"wins"`
	Count int  `json:"count"`
}

// PeriodSummary 是一段记录的简要表现汇总。
type PeriodSummary struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
}

// MemoryContext 是提供给下游决策/prompt 构建的历史上下文包。
type MemoryContext struct {
	GeneratedAt time.Time             `json:"generated_at"`
	TotalTrades int                   `json:"total_trades"`
	Recent      PeriodSummary         `json:"recent"`
	ByAction    map[string]GroupStats `json:"by_action"`
	ByProvider  map[string]GroupStats `json:"by_provider"`
	Streak      StreakInfo            `json:"streak"`
	Lookback    *PeriodSummary        `json:"lookback,omitempty"`
	SymbolStats *GroupStats           `json:"symbol_stats,omitempty"`
	Regime      string                `json:"regime"`
}

const defaultLookbackTrades = 90

// GenerateContext 汇总账本历史，供外部构建决策材料。纯读取。
func (m *PortfolioMemory) GenerateContext(opts ContextOptions) *MemoryContext {
	all := m.ledger.All()
	ctx := &MemoryContext{
		GeneratedAt: time.Now(),
		ByAction:    make(map[string]GroupStats),
		ByProvider:  make(map[string]GroupStats),
		Regime:      m.analyzer.DetectRegime(),
	}
	var completed []*TradeOutcome
	for _, o := range all {
		if !o.Completed() {
			continue
		}
		completed = append(completed, o)
		pnl := *o.PnL
		bumpGroup(ctx.ByAction, strings.ToLower(o.Action), pnl)
		provider := o.Provider
		if provider == "" {
			provider = "unknown"
		}
		bumpGroup(ctx.ByProvider, provider, pnl)
	}
	ctx.TotalTrades = len(completed)
	ctx.Recent = summarize(tail(completed, 10))
	ctx.Streak = currentStreak(completed)

	if opts.IncludeLookback {
		n := opts.LookbackTrades
		if n <= 0 {
			n = defaultLookbackTrades
		}
		s := summarize(tail(completed, n))
		ctx.Lookback = &s
	}
	if symbol := strings.TrimSpace(opts.Symbol); symbol != "" {
		stats := GroupStats{}
		for _, o := range completed {
			if !strings.EqualFold(o.Symbol, symbol) {
				continue
			}
			stats.Trades++
			if o.Won() {
				stats.Wins++
			} else {
				stats.Losses++
			}
			stats.TotalPnL += *o.PnL
		}
		if stats.Trades > 0 {
			stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
		}
		ctx.SymbolStats = &stats
	}
	return ctx
}

func tail(outcomes []*TradeOutcome, n int) []*TradeOutcome {
	if n >= len(outcomes) {
		return outcomes
	}
	return outcomes[len(outcomes)-n:]
}

func summarize(outcomes []*TradeOutcome) PeriodSummary {
	s := PeriodSummary{Trades: len(outcomes)}
	for _, o := range outcomes {
		if o.Won() {
			s.Wins++
		}
		s.TotalPnL += *o.PnL
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	return s
}

// currentStreak 从最新记录往回数连续同向的结果。
func currentStreak(completed []*TradeOutcome) StreakInfo {
	if len(completed) == 0 {
		return StreakInfo{}
	}
	last := completed[len(completed)-1]
	streak := StreakInfo{Wins: last.Won()}
	for i := len(completed) - 1; i >= 0; i-- {
		if completed[i].Won() != streak.Wins {
			break
		}
		streak.Count++
	}
	return streak
}
