package memory

import (
	"fmt"
	"strings"
	"time"
)

// 交易动作取值与 regime 标签。
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"

	RegimeTrending     = "trending"
	RegimeDeclining    = "declining"
	RegimeRanging      = "ranging"
	RegimeVolatile     = "volatile"
	RegimeUnknown      = "unknown"
	RegimeInsufficient = "insufficient_data"
)

// volatileRegimeThreshold 超过该波动率直接归为 volatile（与单笔 regime 判定共用）。
const volatileRegimeThreshold = 0.03

// TradeOutcome 是一笔已平仓交易的完整记录，创建后不再修改。
// PnL 为 nil 表示交易尚未结算（此类记录会被统计与学习组件跳过）。
// 时间戳保持外部系统传入的 RFC3339 字符串原样，解析失败的记录在
// 时间过滤时被跳过而不是让整个查询失败。
type TradeOutcome struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Action string `json:"action"`

	EntryTime    string  `json:"entry_time"`
	ExitTime     string  `json:"exit_time"`
	EntryPrice   float64 `json:"entry_price"`
	ExitPrice    float64 `json:"exit_price"`
	PositionSize float64 `json:"position_size"`

	PnL       *float64 `json:"pnl,omitempty"`
	PnLPct    *float64 `json:"pnl_pct,omitempty"`
	HoldingMs int64    `json:"holding_ms"`

	// 决策归因
	Provider   string   `json:"provider"`
	Providers  []string `json:"providers,omitempty"`
	Confidence float64  `json:"confidence"`

	// 市场上下文（用于 regime 分桶）
	Sentiment  string  `json:"sentiment"`
	Volatility float64 `json:"volatility"`
	Trend      string  `json:"trend"`

	// 结果分类
	WasProfitable bool `json:"was_profitable"`
	StopLossHit   bool `json:"stop_loss_hit"`
	TakeProfitHit bool `json:"take_profit_hit"`

	// 否决信息
	VetoApplied   bool    `json:"veto_applied"`
	VetoSource    string  `json:"veto_source,omitempty"`
	VetoScore     float64 `json:"veto_score"`
	VetoThreshold float64 `json:"veto_threshold"`
	VetoCorrect   *bool   `json:"veto_correct,omitempty"`
}

// ValidationError 表示记录不满足最低形状要求，拒绝发生在任何状态变更之前。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trade outcome: %s %s", e.Field, e.Reason)
}

var validActions = map[string]bool{ActionBuy: true, ActionSell: true, ActionHold: true}

// Validate 校验记录形状。通过校验的记录才允许进入账本。
func (o *TradeOutcome) Validate() error {
	if o == nil {
		return &ValidationError{Field: "outcome", Reason: "is nil"}
	}
	if strings.TrimSpace(o.Symbol) == "" {
		return &ValidationError{Field: "symbol", Reason: "is empty"}
	}
	action := strings.ToLower(strings.TrimSpace(o.Action))
	if !validActions[action] {
		return &ValidationError{Field: "action", Reason: fmt.Sprintf("%q not in buy/sell/hold", o.Action)}
	}
	if o.PositionSize < 0 {
		return &ValidationError{Field: "position_size", Reason: "is negative"}
	}
	if o.PnL != nil && o.PnLPct == nil && o.EntryPrice <= 0 && o.PositionSize <= 0 {
		return &ValidationError{Field: "pnl_pct", Reason: "missing and not derivable"}
	}
	return nil
}

// Completed 表示已有实际盈亏的记录。
func (o *TradeOutcome) Completed() bool {
	return o != nil && o.PnL != nil
}

// Won 仅对已结算记录有意义。
func (o *TradeOutcome) Won() bool {
	return o.Completed() && *o.PnL > 0
}

// ReturnPct 返回百分比收益（单位：百分点）。缺失时从绝对盈亏推导。
func (o *TradeOutcome) ReturnPct() (float64, bool) {
	if !o.Completed() {
		return 0, false
	}
	if o.PnLPct != nil {
		return *o.PnLPct, true
	}
	notional := o.EntryPrice * o.PositionSize
	if notional <= 0 {
		return 0, false
	}
	return *o.PnL / notional * 100, true
}

// Regime 根据记录携带的市场上下文给出单笔的 regime 标签。
func (o *TradeOutcome) Regime() string {
	if o == nil {
		return RegimeUnknown
	}
	if o.Volatility >= volatileRegimeThreshold {
		return RegimeVolatile
	}
	switch strings.ToLower(strings.TrimSpace(o.Trend)) {
	case "up", "bull", "bullish", "trending", "uptrend":
		return RegimeTrending
	case "down", "bear", "bearish", "declining", "downtrend":
		return RegimeDeclining
	case "flat", "sideways", "ranging", "neutral":
		return RegimeRanging
	}
	if strings.TrimSpace(o.Trend) == "" && strings.TrimSpace(o.Sentiment) == "" {
		return RegimeUnknown
	}
	return RegimeRanging
}

// ExitAt 解析退出时间戳。
func (o *TradeOutcome) ExitAt() (time.Time, error) {
	return parseOutcomeTime(o.ExitTime)
}

func parseOutcomeTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", raw)
}

// Clone 返回记录的深拷贝，切片与指针字段均独立。
func (o *TradeOutcome) Clone() *TradeOutcome {
	if o == nil {
		return nil
	}
	dup := *o
	if o.Providers != nil {
		dup.Providers = append([]string(nil), o.Providers...)
	}
	if o.PnL != nil {
		v := *o.PnL
		dup.PnL = &v
	}
	if o.PnLPct != nil {
		v := *o.PnLPct
		dup.PnLPct = &v
	}
	if o.VetoCorrect != nil {
		v := *o.VetoCorrect
		dup.VetoCorrect = &v
	}
	return &dup
}
