package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantmem/internal/memory"
)

func reportOutcome(pnl float64, at time.Time) *memory.TradeOutcome {
	return &memory.TradeOutcome{
		Symbol:   "BTC/USDT",
		Action:   memory.ActionBuy,
		ExitTime: at.Format(time.RFC3339),
		PnL:      &pnl,
	}
}

func TestWriteEquityReport(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	outcomes := []*memory.TradeOutcome{
		reportOutcome(100, base),
		reportOutcome(-40, base.Add(time.Hour)),
		reportOutcome(70, base.Add(2*time.Hour)),
	}
	path := filepath.Join(t.TempDir(), "sub", "equity.html")
	require.NoError(t, WriteEquityReport(path, outcomes))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)
	assert.True(t, strings.Contains(html, "Equity Curve"))
	assert.True(t, strings.Contains(html, "Drawdown"))
}

func TestWriteEquityReport_NoCompletedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "equity.html")
	open := reportOutcome(0, time.Now())
	open.PnL = nil
	err := WriteEquityReport(path, []*memory.TradeOutcome{open})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
