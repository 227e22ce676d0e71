package memory

import (
	"sort"
	"sync"

	"quantmem/internal/logger"
)

// OutcomeCallback 在每条已结算记录入账后收到 (来源, 是否盈利, regime)。
type OutcomeCallback func(provider string, won bool, regime string)

// Tally 记录某个 key 下的胜负计数。
type Tally struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

func (t Tally) Total() int { return t.Wins + t.Losses }

func (t Tally) WinRate() float64 {
	if t.Total() == 0 {
		return 0
	}
	return float64(t.Wins) / float64(t.Total())
}

// BanditIntegrator 按决策来源与 regime 维护胜负计数，并推导归一化权重。
// 所有计数由内部锁串行化，只通过 OnOutcome 变更。
type BanditIntegrator struct {
	mu        sync.Mutex
	providers map[string]Tally
	regimes   map[string]Tally
	callbacks []OutcomeCallback
}

func NewBanditIntegrator() *BanditIntegrator {
	return &BanditIntegrator{
		providers: make(map[string]Tally),
		regimes:   make(map[string]Tally),
	}
}

// RegisterCallback 注册结果回调；nil 回调被拒绝。
func (b *BanditIntegrator) RegisterCallback(fn OutcomeCallback) error {
	if fn == nil {
		return &ValidationError{Field: "callback", Reason: "is nil"}
	}
	b.mu.Lock()
	b.callbacks = append(b.callbacks, fn)
	b.mu.Unlock()
	return nil
}

// OnOutcome 对未结算记录不做任何事；否则更新计数并逐个触发回调。
// 单个回调 panic 会被捕获记日志，不影响其余回调和计数。
func (b *BanditIntegrator) OnOutcome(o *TradeOutcome) {
	if !o.Completed() {
		return
	}
	provider := o.Provider
	if provider == "" {
		provider = "unknown"
	}
	won := o.Won()
	regime := o.Regime()

	b.mu.Lock()
	t := b.providers[provider]
	if won {
		t.Wins++
	} else {
		t.Losses++
	}
	b.providers[provider] = t

	r := b.regimes[regime]
	if won {
		r.Wins++
	} else {
		r.Losses++
	}
	b.regimes[regime] = r
	fns := append([]OutcomeCallback(nil), b.callbacks...)
	b.mu.Unlock()

	for i, fn := range fns {
		invokeCallback(i, fn, provider, won, regime)
	}
}

func invokeCallback(idx int, fn OutcomeCallback, provider string, won bool, regime string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("bandit 回调 #%d panic，已跳过: %v", idx, r)
		}
	}()
	fn(provider, won, regime)
}

// Recommendations 返回按胜率比例归一化的来源权重，总和为 1。
// 没有任何观察时返回空表；全部胜率为 0 时在已知来源间均分。
func (b *BanditIntegrator) Recommendations() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.providers) == 0 {
		return map[string]float64{}
	}
	rates := make(map[string]float64, len(b.providers))
	var sum float64
	for name, t := range b.providers {
		rate := t.WinRate()
		rates[name] = rate
		sum += rate
	}
	out := make(map[string]float64, len(rates))
	if sum == 0 {
		equal := 1.0 / float64(len(rates))
		for name := range rates {
			out[name] = equal
		}
		return out
	}
	for name, rate := range rates {
		out[name] = rate / sum
	}
	return out
}

// ProviderTallies 返回来源计数的拷贝。
func (b *BanditIntegrator) ProviderTallies() map[string]Tally {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyTallies(b.providers)
}

// RegimeTallies 返回 regime 计数的拷贝。
func (b *BanditIntegrator) RegimeTallies() map[string]Tally {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyTallies(b.regimes)
}

// Restore 以快照内容整体替换计数，用于状态恢复。
func (b *BanditIntegrator) Restore(providers, regimes map[string]Tally) {
	b.mu.Lock()
	b.providers = copyTallies(providers)
	b.regimes = copyTallies(regimes)
	if b.providers == nil {
		b.providers = make(map[string]Tally)
	}
	if b.regimes == nil {
		b.regimes = make(map[string]Tally)
	}
	b.mu.Unlock()
}

func (b *BanditIntegrator) Clear() {
	b.mu.Lock()
	b.providers = make(map[string]Tally)
	b.regimes = make(map[string]Tally)
	b.mu.Unlock()
}

func copyTallies(src map[string]Tally) map[string]Tally {
	if src == nil {
		return nil
	}
	out := make(map[string]Tally, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// RankedProviders 按权重降序返回来源名，权重相同时按名称稳定排序。
func (b *BanditIntegrator) RankedProviders() []string {
	weights := b.Recommendations()
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if weights[names[i]] != weights[names[j]] {
			return weights[names[i]] > weights[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
