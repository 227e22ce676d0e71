package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandit_CallbackInvocation(t *testing.T) {
	bandit := NewBanditIntegrator()
	var gotProvider, gotRegime string
	var gotWon bool
	calls := 0
	require.NoError(t, bandit.RegisterCallback(func(provider string, won bool, regime string) {
		calls++
		gotProvider, gotWon, gotRegime = provider, won, regime
	}))

	o := completedOutcome("BTC/USDT", "A", 100)
	o.Trend = "up"
	bandit.OnOutcome(o)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "A", gotProvider)
	assert.True(t, gotWon)
	assert.Equal(t, RegimeTrending, gotRegime)

	weights := bandit.Recommendations()
	require.Len(t, weights, 1)
	assert.InDelta(t, 1.0, weights["A"], 1e-9)
}

func TestBandit_IncompleteOutcomeIsNoop(t *testing.T) {
	bandit := NewBanditIntegrator()
	calls := 0
	require.NoError(t, bandit.RegisterCallback(func(string, bool, string) { calls++ }))

	open := completedOutcome("BTC/USDT", "A", 0)
	open.PnL = nil
	bandit.OnOutcome(open)

	assert.Zero(t, calls)
	assert.Empty(t, bandit.ProviderTallies())
}

func TestBandit_PanickingCallbackIsolated(t *testing.T) {
	bandit := NewBanditIntegrator()
	secondCalled := false
	require.NoError(t, bandit.RegisterCallback(func(string, bool, string) {
		panic("consumer bug")
	}))
	require.NoError(t, bandit.RegisterCallback(func(string, bool, string) {
		secondCalled = true
	}))

	bandit.OnOutcome(completedOutcome("BTC/USDT", "A", 10))

	// 前一个回调 panic 不影响后续回调，也不破坏计数
	assert.True(t, secondCalled)
	tallies := bandit.ProviderTallies()
	assert.Equal(t, 1, tallies["A"].Wins)
}

func TestBandit_RejectsNilCallback(t *testing.T) {
	bandit := NewBanditIntegrator()
	err := bandit.RegisterCallback(nil)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestBandit_NormalizedWeights(t *testing.T) {
	bandit := NewBanditIntegrator()
	// A: 2 胜 0 负；B: 1 胜 1 负
	bandit.OnOutcome(completedOutcome("BTC/USDT", "A", 10))
	bandit.OnOutcome(completedOutcome("BTC/USDT", "A", 10))
	bandit.OnOutcome(completedOutcome("BTC/USDT", "B", 10))
	bandit.OnOutcome(completedOutcome("BTC/USDT", "B", -10))

	weights := bandit.Recommendations()
	require.Len(t, weights, 2)
	var sum float64
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// 胜率 1.0 vs 0.5 → 权重 2/3 vs 1/3
	assert.InDelta(t, 2.0/3.0, weights["A"], 1e-9)
	assert.InDelta(t, 1.0/3.0, weights["B"], 1e-9)
}

func TestBandit_AllLosersEqualWeight(t *testing.T) {
	bandit := NewBanditIntegrator()
	bandit.OnOutcome(completedOutcome("BTC/USDT", "A", -10))
	bandit.OnOutcome(completedOutcome("BTC/USDT", "B", -10))

	weights := bandit.Recommendations()
	assert.InDelta(t, 0.5, weights["A"], 1e-9)
	assert.InDelta(t, 0.5, weights["B"], 1e-9)
}

func TestBandit_RegimeTallies(t *testing.T) {
	bandit := NewBanditIntegrator()
	up := completedOutcome("BTC/USDT", "A", 10)
	up.Trend = "up"
	bandit.OnOutcome(up)
	down := completedOutcome("BTC/USDT", "A", -10)
	down.Trend = "down"
	bandit.OnOutcome(down)

	regimes := bandit.RegimeTallies()
	assert.Equal(t, 1, regimes[RegimeTrending].Wins)
	assert.Equal(t, 1, regimes[RegimeDeclining].Losses)
}

func TestBandit_RestoreRoundTrip(t *testing.T) {
	bandit := NewBanditIntegrator()
	bandit.OnOutcome(completedOutcome("BTC/USDT", "A", 10))
	providers := bandit.ProviderTallies()
	regimes := bandit.RegimeTallies()

	restored := NewBanditIntegrator()
	restored.Restore(providers, regimes)
	assert.Equal(t, providers, restored.ProviderTallies())
	assert.Equal(t, regimes, restored.RegimeTallies())
}
