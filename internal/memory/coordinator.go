package memory

import (
	"fmt"
	"sync"
	"time"

	"quantmem/internal/logger"
)

// Archiver 把已结算记录写入长期归档，失败由调用方记日志而不回滚内存状态。
type Archiver interface {
	Append(o *TradeOutcome) error
}

// PortfolioMemory 是子系统唯一的对外入口：每条新结果按固定顺序
// 扇出到账本、bandit、veto 三个服务，再尽力写归档。
// 只有 normal / readonly 两个状态。
type PortfolioMemory struct {
	ledger   *TradeLedger
	analyzer *PerformanceAnalyzer
	bandit   *BanditIntegrator
	veto     *VetoTracker
	persist  Persistence
	archive  Archiver

	mu       sync.RWMutex
	readonly bool
}

// Options 控制 PortfolioMemory 的构建。零值全部取默认。
type Options struct {
	LedgerCapacity  int
	RegimeWindow    int
	MinRegimeTrades int
	Persistence     Persistence
	Archive         Archiver
}

func NewPortfolioMemory(opts Options) *PortfolioMemory {
	ledger := NewTradeLedger(opts.LedgerCapacity)
	analyzer := NewPerformanceAnalyzer(ledger)
	if opts.RegimeWindow > 0 {
		analyzer.SetRegimeWindow(opts.RegimeWindow, opts.MinRegimeTrades)
	}
	return &PortfolioMemory{
		ledger:   ledger,
		analyzer: analyzer,
		bandit:   NewBanditIntegrator(),
		veto:     NewVetoTracker(),
		persist:  opts.Persistence,
		archive:  opts.Archive,
	}
}

// Ledger 暴露底层账本（只应做读取）。
func (m *PortfolioMemory) Ledger() *TradeLedger { return m.ledger }

// Bandit 暴露权重集成器，供外部注册回调。
func (m *PortfolioMemory) Bandit() *BanditIntegrator { return m.bandit }

// Veto 暴露否决评估器。
func (m *PortfolioMemory) Veto() *VetoTracker { return m.veto }

// Analyzer 暴露统计引擎。
func (m *PortfolioMemory) Analyzer() *PerformanceAnalyzer { return m.analyzer }

// RecordOutcome 校验并补全一条记录，然后按固定顺序写入各服务。
// readonly 模式下返回同样补全的记录，但不产生任何可观察的状态变更。
func (m *PortfolioMemory) RecordOutcome(o *TradeOutcome) (*TradeOutcome, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	enriched := o.Clone()
	if enriched.Completed() {
		enriched.WasProfitable = enriched.Won()
		if enriched.VetoCorrect == nil {
			correct := enriched.VetoApplied != enriched.Won()
			enriched.VetoCorrect = &correct
		}
	}

	m.mu.RLock()
	readonly := m.readonly
	m.mu.RUnlock()
	if readonly {
		return enriched, nil
	}

	if err := m.ledger.Record(enriched); err != nil {
		return nil, err
	}
	m.bandit.OnOutcome(enriched)
	m.veto.Evaluate(enriched)
	if m.archive != nil && enriched.Completed() {
		if err := m.archive.Append(enriched); err != nil {
			logger.Warnf("归档写入失败（不影响内存状态）: %v", err)
		}
	}
	return enriched, nil
}

// AnalyzePerformance 生成统计快照；非 readonly 时顺带落盘。
// 快照保存失败只记日志，不影响返回结果。
func (m *PortfolioMemory) AnalyzePerformance() *PerformanceSnapshot {
	snap := m.analyzer.Analyze()
	m.mu.RLock()
	readonly := m.readonly
	m.mu.RUnlock()
	if !readonly && m.persist != nil {
		if _, err := m.persist.SaveSnapshot(snap); err != nil {
			logger.Warnf("保存绩效快照失败: %v", err)
		}
	}
	return snap
}

// SetReadonly 切换只读模式，持久化层的写保护同步切换。
func (m *PortfolioMemory) SetReadonly(v bool) {
	m.mu.Lock()
	m.readonly = v
	m.mu.Unlock()
	if m.persist != nil {
		m.persist.SetReadonly(v)
	}
}

func (m *PortfolioMemory) IsReadonly() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readonly
}

// Clear 重置四个服务的内存状态；已落盘的内容不受影响。
func (m *PortfolioMemory) Clear() {
	m.ledger.Clear()
	m.bandit.Clear()
	m.veto.Clear()
}

// SaveState 把聚合状态写入状态文件。
func (m *PortfolioMemory) SaveState() error {
	if m.persist == nil {
		return fmt.Errorf("no persistence configured")
	}
	return m.persist.Save(m.buildState())
}

func (m *PortfolioMemory) buildState() *State {
	return &State{
		Version: SchemaVersion,
		SavedAt: time.Now(),
		Ledger: LedgerSummary{
			Count:    m.ledger.Count(),
			Capacity: m.ledger.Capacity(),
		},
		Bandit: BanditState{
			Providers: m.bandit.ProviderTallies(),
			Regimes:   m.bandit.RegimeTallies(),
		},
		Veto: m.veto.Export(),
	}
}

// LoadState 从状态文件恢复计数类状态；没有保存过状态时不做任何事。
// 账本完整记录不在状态文件里（由归档负责），这里只恢复可恢复的部分。
func (m *PortfolioMemory) LoadState() error {
	if m.persist == nil {
		return fmt.Errorf("no persistence configured")
	}
	state, err := m.persist.Load()
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	m.bandit.Restore(state.Bandit.Providers, state.Bandit.Regimes)
	m.veto.Restore(state.Veto)
	return nil
}

// ExportCheckpoint 深拷贝导出全部状态（含账本记录），供离线回放恢复。
func (m *PortfolioMemory) ExportCheckpoint() *Checkpoint {
	return &Checkpoint{
		TakenAt:  time.Now(),
		Outcomes: m.ledger.All(),
		Bandit: BanditState{
			Providers: m.bandit.ProviderTallies(),
			Regimes:   m.bandit.RegimeTallies(),
		},
		Veto: m.veto.Export(),
	}
}

// ImportCheckpoint 用检查点内容整体替换当前内存状态。
// readonly 模式下拒绝，避免回放场景误覆盖实时状态。
func (m *PortfolioMemory) ImportCheckpoint(cp *Checkpoint) error {
	if cp == nil {
		return &ValidationError{Field: "checkpoint", Reason: "is nil"}
	}
	m.mu.RLock()
	readonly := m.readonly
	m.mu.RUnlock()
	if readonly {
		return fmt.Errorf("cannot import checkpoint in readonly mode")
	}
	m.ledger.Clear()
	for _, o := range cp.Outcomes {
		if err := m.ledger.Record(o); err != nil {
			logger.Warnf("检查点恢复跳过非法记录: %v", err)
		}
	}
	m.bandit.Restore(cp.Bandit.Providers, cp.Bandit.Regimes)
	m.veto.Restore(cp.Veto)
	return nil
}
