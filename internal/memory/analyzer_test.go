package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzer_EmptyLedger(t *testing.T) {
	ledger := NewTradeLedger(10)
	snap := NewPerformanceAnalyzer(ledger).Analyze()

	assert.Equal(t, 0, snap.TotalTrades)
	assert.Zero(t, snap.WinRate)
	assert.Zero(t, snap.TotalPnL)
	assert.Zero(t, snap.ProfitFactor)
	assert.Zero(t, snap.MaxDrawdown)
	// 无数据时比率缺席，而不是 NaN 或报错
	assert.Nil(t, snap.Sharpe)
	assert.Nil(t, snap.Sortino)
}

func TestAnalyzer_BasicScenario(t *testing.T) {
	ledger := NewTradeLedger(10)
	for _, pnl := range []float64{200, -50, 75} {
		require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "local", pnl)))
	}
	snap := NewPerformanceAnalyzer(ledger).Analyze()

	assert.Equal(t, 3, snap.TotalTrades)
	assert.Equal(t, 2, snap.WinningTrades)
	assert.Equal(t, 1, snap.LosingTrades)
	assert.InDelta(t, 0.667, snap.WinRate, 0.001)
	assert.InDelta(t, 225, snap.TotalPnL, 1e-9)
	assert.InDelta(t, 137.5, snap.AvgWin, 1e-9)
	assert.InDelta(t, -50, snap.AvgLoss, 1e-9)
	// gross_profit=275, gross_loss=50
	assert.InDelta(t, 5.5, snap.ProfitFactor, 1e-9)

	local, ok := snap.ByProvider["local"]
	require.True(t, ok)
	assert.Equal(t, 3, local.Trades)
	assert.Equal(t, 2, local.Wins)
}

func TestAnalyzer_ProfitFactorNoLosses(t *testing.T) {
	ledger := NewTradeLedger(10)
	require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "local", 10)))
	require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "local", 20)))
	snap := NewPerformanceAnalyzer(ledger).Analyze()
	assert.Zero(t, snap.ProfitFactor)
}

func TestAnalyzer_MaxDrawdown(t *testing.T) {
	ledger := NewTradeLedger(10)
	// 累计序列: 100, 200, 100, 50, 150 → 峰值 200, 谷 50, 回撤 0.75
	for _, pnl := range []float64{100, 100, -100, -50, 100} {
		require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "local", pnl)))
	}
	snap := NewPerformanceAnalyzer(ledger).Analyze()
	assert.InDelta(t, 0.75, snap.MaxDrawdown, 1e-9)
}

func TestAnalyzer_RatiosNeedTwoReturns(t *testing.T) {
	ledger := NewTradeLedger(10)
	require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "local", 10)))
	snap := NewPerformanceAnalyzer(ledger).Analyze()
	assert.Nil(t, snap.Sharpe)
	assert.Nil(t, snap.Sortino)
}

func TestAnalyzer_ZeroDeviationRatios(t *testing.T) {
	ledger := NewTradeLedger(10)
	// 完全相同的收益 → 离差为零，比率无定义
	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "local", 10)))
	}
	snap := NewPerformanceAnalyzer(ledger).Analyze()
	assert.Nil(t, snap.Sharpe)
	// 全为正收益时没有下行离差
	assert.Nil(t, snap.Sortino)
}

func TestAnalyzer_SharpePositiveWhenMixed(t *testing.T) {
	ledger := NewTradeLedger(20)
	for _, pnl := range []float64{50, -20, 80, -10, 60, 30} {
		require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "local", pnl)))
	}
	snap := NewPerformanceAnalyzer(ledger).Analyze()
	require.NotNil(t, snap.Sharpe)
	require.NotNil(t, snap.Sortino)
	assert.Greater(t, *snap.Sharpe, 0.0)
	assert.Greater(t, *snap.Sortino, 0.0)
}

func TestAnalyzer_SkipsIncompleteTrades(t *testing.T) {
	ledger := NewTradeLedger(10)
	require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "local", 10)))
	open := completedOutcome("BTC/USDT", "local", 0)
	open.PnL = nil
	open.PnLPct = nil
	require.NoError(t, ledger.Record(open))

	snap := NewPerformanceAnalyzer(ledger).Analyze()
	assert.Equal(t, 1, snap.TotalTrades)
}

func TestDetectRegime(t *testing.T) {
	newAnalyzer := func(returns []float64) *PerformanceAnalyzer {
		ledger := NewTradeLedger(100)
		for _, r := range returns {
			o := completedOutcome("BTC/USDT", "local", r*10)
			o.PnLPct = pnlPtr(r)
			require.NoError(t, ledger.Record(o))
		}
		return NewPerformanceAnalyzer(ledger)
	}

	t.Run("insufficient data", func(t *testing.T) {
		a := newAnalyzer([]float64{1, 2, 1})
		assert.Equal(t, RegimeInsufficient, a.DetectRegime())
	})

	t.Run("trending", func(t *testing.T) {
		returns := make([]float64, 12)
		for i := range returns {
			returns[i] = 2.0 // 均值 2%，零波动
		}
		a := newAnalyzer(returns)
		assert.Equal(t, RegimeTrending, a.DetectRegime())
	})

	t.Run("declining", func(t *testing.T) {
		returns := make([]float64, 12)
		for i := range returns {
			returns[i] = -2.0
		}
		a := newAnalyzer(returns)
		assert.Equal(t, RegimeDeclining, a.DetectRegime())
	})

	t.Run("ranging", func(t *testing.T) {
		returns := make([]float64, 12)
		for i := range returns {
			if i%2 == 0 {
				returns[i] = 0.5
			} else {
				returns[i] = -0.5
			}
		}
		a := newAnalyzer(returns)
		assert.Equal(t, RegimeRanging, a.DetectRegime())
	})

	t.Run("volatile", func(t *testing.T) {
		returns := make([]float64, 12)
		for i := range returns {
			if i%2 == 0 {
				returns[i] = 8
			} else {
				returns[i] = -8
			}
		}
		a := newAnalyzer(returns)
		assert.Equal(t, RegimeVolatile, a.DetectRegime())
	})
}
