package memory

import (
	"strings"
	"sync"
	"time"

	"quantmem/internal/logger"

	"github.com/google/uuid"
)

// DefaultLedgerCapacity 未显式配置时的账本上限。
const DefaultLedgerCapacity = 1000

// TradeLedger 是有界的 FIFO 交易账本，作为"发生过什么"的唯一事实来源。
// 容量打满后追加新记录会淘汰最旧的一条。
type TradeLedger struct {
	mu       sync.RWMutex
	capacity int
	entries  []*TradeOutcome
}

func NewTradeLedger(capacity int) *TradeLedger {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	return &TradeLedger{capacity: capacity}
}

func (l *TradeLedger) Capacity() int {
	return l.capacity
}

// Record 校验并追加一条记录；ID 为空时补一个 uuid。
// 校验失败在任何状态变更之前返回，已存记录不受影响。
func (l *TradeLedger) Record(o *TradeOutcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	entry := o.Clone()
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.capacity {
		drop := len(l.entries) - l.capacity + 1
		l.entries = append(l.entries[:0], l.entries[drop:]...)
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *TradeLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// All 按写入顺序返回全部记录的拷贝。
func (l *TradeLedger) All() []*TradeOutcome {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*TradeOutcome, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Clone())
	}
	return out
}

// Recent 返回最近 n 条，最新在前；n 超出现有数量时按现有数量截断。
func (l *TradeLedger) Recent(n int) []*TradeOutcome {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]*TradeOutcome, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i].Clone())
	}
	return out
}

// ByProvider 过滤出指定决策来源的记录（含 ensemble 成员匹配）。
func (l *TradeLedger) ByProvider(name string) []*TradeOutcome {
	name = strings.TrimSpace(name)
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*TradeOutcome
	for _, e := range l.entries {
		if e.Provider == name {
			out = append(out, e.Clone())
			continue
		}
		for _, p := range e.Providers {
			if p == name {
				out = append(out, e.Clone())
				break
			}
		}
	}
	return out
}

// InPeriod 返回退出时间落在最近 d 内的记录。
// 时间戳解析失败的记录跳过并记日志，不让整个查询失败。
func (l *TradeLedger) InPeriod(d time.Duration) []*TradeOutcome {
	cutoff := time.Now().Add(-d)
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*TradeOutcome
	for _, e := range l.entries {
		ts, err := e.ExitAt()
		if err != nil {
			logger.Warnf("账本时间过滤跳过记录 %s: %v", e.ID, err)
			continue
		}
		if !ts.Before(cutoff) {
			out = append(out, e.Clone())
		}
	}
	return out
}

func (l *TradeLedger) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
