package memory

import "time"

// SchemaVersion 标记持久化状态文件的兼容版本。
const SchemaVersion = 1

// LedgerSummary 是账本的持久化摘要（完整记录由 archive 负责长期保存）。
type LedgerSummary struct {
	Count    int `json:"count"`
	Capacity int `json:"capacity"`
}

// BanditState 是 bandit 计数的可序列化形式。
type BanditState struct {
	Providers map[string]Tally `json:"providers,omitempty"`
	Regimes   map[string]Tally `json:"regimes,omitempty"`
}

// State 是写入状态文件的聚合结构，带版本号与保存时间。
type State struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Ledger  LedgerSummary `json:"ledger"`
	Bandit  BanditState   `json:"bandit"`
	Veto    VetoState     `json:"veto"`
}

// Checkpoint 是四个服务状态的深拷贝导出，含账本全部记录，
// 用于离线回放时的快照/恢复（避免前视泄漏）。
type Checkpoint struct {
	TakenAt  time.Time       `json:"taken_at"`
	Outcomes []*TradeOutcome `json:"outcomes"`
	Bandit   BanditState     `json:"bandit"`
	Veto     VetoState       `json:"veto"`
}

// Persistence 是 coordinator 依赖的持久化边界。
type Persistence interface {
	Save(state *State) error
	Load() (*State, error)
	SaveSnapshot(snap *PerformanceSnapshot) (string, error)
	SetReadonly(v bool)
	IsReadonly() bool
}
