package replay

import (
	"context"
	"fmt"
	"time"

	"quantmem/internal/logger"
	"quantmem/internal/memory"
	"quantmem/internal/report"

	"github.com/google/uuid"
)

// ArchiveSource 提供按时间区间读取归档记录的能力。
type ArchiveSource interface {
	ListRange(startMs, endMs int64, limit int) ([]*memory.TradeOutcome, error)
}

// Options 描述一次回放：可选的起始检查点、时间窗口与临时账本容量。
// ReportPath 非空时会把回放后的权益曲线渲染成 HTML。
type Options struct {
	Checkpoint     *memory.Checkpoint
	StartMs        int64
	EndMs          int64
	LedgerCapacity int
	ReportPath     string
}

// Result 是一次回放会话的产出。
type Result struct {
	RunID       string                       `json:"run_id"`
	Outcomes    int                          `json:"outcomes"`
	Snapshot    *memory.PerformanceSnapshot  `json:"snapshot"`
	Weights     map[string]float64           `json:"weights"`
	VetoMetrics memory.VetoMetrics           `json:"veto_metrics"`
	ByProvider  map[string]memory.GroupStats `json:"by_provider"`
}

// Evaluator 把归档记录按时间顺序喂给一个全新的 PortfolioMemory，
// 与实时状态完全隔离（独立实例 + 不接持久化），避免前视泄漏。
type Evaluator struct {
	source ArchiveSource
	runs   *RunStore
}

func NewEvaluator(source ArchiveSource, runs *RunStore) *Evaluator {
	return &Evaluator{source: source, runs: runs}
}

// Run 执行一次回放会话并落库。
func (e *Evaluator) Run(ctx context.Context, opts Options) (*Result, error) {
	if e.source == nil {
		return nil, fmt.Errorf("replay: 缺少归档数据源")
	}
	rec := &RunRecord{
		ID:      uuid.NewString(),
		StartTs: opts.StartMs,
		EndTs:   opts.EndMs,
		Status:  "running",
	}
	if opts.Checkpoint != nil {
		rec.CheckpointAt = opts.Checkpoint.TakenAt.UnixMilli()
	}
	if e.runs != nil {
		if err := e.runs.Insert(ctx, rec); err != nil {
			return nil, fmt.Errorf("replay: 记录会话失败: %w", err)
		}
	}

	result, err := e.replay(ctx, opts)
	if e.runs != nil {
		if err != nil {
			rec.Status = "failed"
			rec.Message = err.Error()
		} else {
			rec.Status = "completed"
			rec.Outcomes = result.Outcomes
			rec.WinRate = result.Snapshot.WinRate
			rec.TotalPnL = result.Snapshot.TotalPnL
			rec.MaxDrawdown = result.Snapshot.MaxDrawdown
		}
		if cerr := e.runs.Complete(ctx, rec); cerr != nil {
			logger.Warnf("replay 会话状态落库失败: %v", cerr)
		}
	}
	if err != nil {
		return nil, err
	}
	result.RunID = rec.ID
	return result, nil
}

func (e *Evaluator) replay(ctx context.Context, opts Options) (*Result, error) {
	outcomes, err := e.source.ListRange(opts.StartMs, opts.EndMs, 0)
	if err != nil {
		return nil, fmt.Errorf("replay: 读取归档失败: %w", err)
	}
	scratch := memory.NewPortfolioMemory(memory.Options{LedgerCapacity: opts.LedgerCapacity})
	if opts.Checkpoint != nil {
		if err := scratch.ImportCheckpoint(opts.Checkpoint); err != nil {
			return nil, fmt.Errorf("replay: 恢复检查点失败: %w", err)
		}
	}
	replayed := 0
	start := time.Now()
	for _, o := range outcomes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, err := scratch.RecordOutcome(o); err != nil {
			logger.Warnf("replay 跳过非法归档记录 %s: %v", o.ID, err)
			continue
		}
		replayed++
	}
	snap := scratch.AnalyzePerformance()
	if opts.ReportPath != "" {
		if rerr := report.WriteEquityReport(opts.ReportPath, scratch.Ledger().All()); rerr != nil {
			logger.Warnf("replay 权益报告生成失败: %v", rerr)
		}
	}
	logger.Infof("replay 完成：%d 条记录，耗时 %s", replayed, time.Since(start).Round(time.Millisecond))
	return &Result{
		Outcomes:    replayed,
		Snapshot:    snap,
		Weights:     scratch.Bandit().Recommendations(),
		VetoMetrics: scratch.Veto().Metrics(),
		ByProvider:  snap.ByProvider,
	}, nil
}
