package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pnlPtr(v float64) *float64 { return &v }

func completedOutcome(symbol, provider string, pnl float64) *TradeOutcome {
	return &TradeOutcome{
		Symbol:       symbol,
		Action:       ActionBuy,
		Provider:     provider,
		EntryPrice:   100,
		ExitPrice:    100 + pnl/10,
		PositionSize: 10,
		EntryTime:    time.Now().Add(-time.Hour).Format(time.RFC3339),
		ExitTime:     time.Now().Format(time.RFC3339),
		PnL:          pnlPtr(pnl),
		PnLPct:       pnlPtr(pnl / 10),
	}
}

func TestTradeLedger_FIFOEviction(t *testing.T) {
	ledger := NewTradeLedger(5)
	for i := 0; i < 8; i++ {
		o := completedOutcome("BTC/USDT", "local", float64(i))
		o.ID = fmt.Sprintf("trade-%d", i)
		require.NoError(t, ledger.Record(o))
	}
	assert.Equal(t, 5, ledger.Count())

	all := ledger.All()
	require.Len(t, all, 5)
	// 只保留最近 capacity 条
	assert.Equal(t, "trade-3", all[0].ID)
	assert.Equal(t, "trade-7", all[4].ID)
}

func TestTradeLedger_CountNeverExceedsCapacity(t *testing.T) {
	ledger := NewTradeLedger(50)
	for n := 1; n <= 120; n++ {
		require.NoError(t, ledger.Record(completedOutcome("ETH/USDT", "local", 1)))
		want := n
		if want > 50 {
			want = 50
		}
		assert.Equal(t, want, ledger.Count())
	}
}

func TestTradeLedger_RecentOrderAndClamp(t *testing.T) {
	ledger := NewTradeLedger(10)
	for i := 0; i < 4; i++ {
		o := completedOutcome("BTC/USDT", "local", float64(i))
		o.ID = fmt.Sprintf("t-%d", i)
		require.NoError(t, ledger.Record(o))
	}

	recent := ledger.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "t-3", recent[0].ID)
	assert.Equal(t, "t-2", recent[1].ID)

	// n 超过现有数量时按现有数量截断
	assert.Len(t, ledger.Recent(100), 4)
	assert.Nil(t, ledger.Recent(0))
}

func TestTradeLedger_RejectsMalformed(t *testing.T) {
	ledger := NewTradeLedger(10)
	require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "local", 5)))

	cases := []*TradeOutcome{
		nil,
		{Action: ActionBuy},                     // 缺 symbol
		{Symbol: "BTC/USDT", Action: "launch"},  // 非法 action
		{Symbol: "BTC/USDT", Action: ActionBuy, PositionSize: -1},
	}
	for _, bad := range cases {
		err := ledger.Record(bad)
		require.Error(t, err)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	}
	// 非法记录不破坏已存内容
	assert.Equal(t, 1, ledger.Count())
}

func TestTradeLedger_ByProvider(t *testing.T) {
	ledger := NewTradeLedger(10)
	require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "alpha", 1)))
	require.NoError(t, ledger.Record(completedOutcome("BTC/USDT", "beta", 1)))
	ensemble := completedOutcome("BTC/USDT", "meta", 1)
	ensemble.Providers = []string{"alpha", "beta"}
	require.NoError(t, ledger.Record(ensemble))

	assert.Len(t, ledger.ByProvider("alpha"), 2)
	assert.Len(t, ledger.ByProvider("beta"), 2)
	assert.Len(t, ledger.ByProvider("meta"), 1)
	assert.Empty(t, ledger.ByProvider("gamma"))
}

func TestTradeLedger_InPeriodSkipsBadTimestamps(t *testing.T) {
	ledger := NewTradeLedger(10)

	recent := completedOutcome("BTC/USDT", "local", 1)
	recent.ExitTime = time.Now().Add(-time.Hour).Format(time.RFC3339)
	require.NoError(t, ledger.Record(recent))

	old := completedOutcome("BTC/USDT", "local", 1)
	old.ExitTime = time.Now().Add(-90 * 24 * time.Hour).Format(time.RFC3339)
	require.NoError(t, ledger.Record(old))

	broken := completedOutcome("BTC/USDT", "local", 1)
	broken.ExitTime = "not-a-timestamp"
	require.NoError(t, ledger.Record(broken))

	got := ledger.InPeriod(24 * time.Hour)
	// 坏时间戳被跳过而不是让查询失败
	require.Len(t, got, 1)
}

func TestTradeLedger_ClearAndIDAssignment(t *testing.T) {
	ledger := NewTradeLedger(10)
	o := completedOutcome("BTC/USDT", "local", 1)
	o.ID = ""
	require.NoError(t, ledger.Record(o))
	all := ledger.All()
	require.Len(t, all, 1)
	assert.NotEmpty(t, all[0].ID)

	ledger.Clear()
	assert.Equal(t, 0, ledger.Count())
}
