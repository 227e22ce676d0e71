package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quantmem/internal/memory"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OutcomeModel 是归档表结构。金额列存 decimal 字符串避免浮点漂移，
// 市场上下文与否决信息整体存 JSON 列。
type OutcomeModel struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	OutcomeID string         `gorm:"column:outcome_id;uniqueIndex"`
	Symbol    string         `gorm:"column:symbol;index"`
	Action    string         `gorm:"column:action"`
	Provider  string         `gorm:"column:provider;index"`
	Providers datatypes.JSON `gorm:"column:providers"`
	Regime    string         `gorm:"column:regime"`

	EntryTime  string `gorm:"column:entry_time"`
	ExitTime   string `gorm:"column:exit_time"`
	ExitUnixMs int64  `gorm:"column:exit_unix_ms;index"`

	EntryPrice   string `gorm:"column:entry_price"`
	ExitPrice    string `gorm:"column:exit_price"`
	PositionSize string `gorm:"column:position_size"`
	PnL          string `gorm:"column:pnl"`
	PnLPct       string `gorm:"column:pnl_pct"`

	WasProfitable bool           `gorm:"column:was_profitable"`
	Context       datatypes.JSON `gorm:"column:context"`
	Veto          datatypes.JSON `gorm:"column:veto"`

	CreatedAtUnix int64 `gorm:"column:created_at"`
}

func (OutcomeModel) TableName() string { return "trade_outcomes" }

type outcomeContext struct {
	Sentiment  string  `json:"sentiment,omitempty"`
	Volatility float64 `json:"volatility,omitempty"`
	Trend      string  `json:"trend,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type outcomeVeto struct {
	Applied   bool    `json:"applied"`
	Source    string  `json:"source,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Correct   *bool   `json:"correct,omitempty"`
}

// Store 是已结算交易的长期归档：账本淘汰后记录依然可查，也是回放的数据源。
type Store struct {
	db *gorm.DB
}

var _ memory.Archiver = (*Store)(nil)

// NewStore 打开（必要时建库）归档数据库。
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("archive: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: open db failed: %w", err)
	}
	if err := db.AutoMigrate(&OutcomeModel{}); err != nil {
		return nil, fmt.Errorf("archive: migrate failed: %w", err)
	}
	return &Store{db: db}, nil
}

// Append 归档一条已结算记录。重复 outcome_id 视为已归档，忽略。
func (s *Store) Append(o *memory.TradeOutcome) error {
	if !o.Completed() {
		return nil
	}
	model, err := toModel(o)
	if err != nil {
		return err
	}
	res := s.db.Where("outcome_id = ?", model.OutcomeID).FirstOrCreate(model)
	if res.Error != nil {
		return fmt.Errorf("archive: append failed: %w", res.Error)
	}
	return nil
}

func toModel(o *memory.TradeOutcome) (*OutcomeModel, error) {
	m := &OutcomeModel{
		OutcomeID:     o.ID,
		Symbol:        strings.ToUpper(strings.TrimSpace(o.Symbol)),
		Action:        o.Action,
		Provider:      o.Provider,
		Regime:        o.Regime(),
		EntryTime:     o.EntryTime,
		ExitTime:      o.ExitTime,
		EntryPrice:    decimal.NewFromFloat(o.EntryPrice).String(),
		ExitPrice:     decimal.NewFromFloat(o.ExitPrice).String(),
		PositionSize:  decimal.NewFromFloat(o.PositionSize).String(),
		WasProfitable: o.Won(),
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	if o.PnL != nil {
		m.PnL = decimal.NewFromFloat(*o.PnL).String()
	}
	if o.PnLPct != nil {
		m.PnLPct = decimal.NewFromFloat(*o.PnLPct).String()
	}
	if ts, err := o.ExitAt(); err == nil {
		m.ExitUnixMs = ts.UnixMilli()
	}
	if len(o.Providers) > 0 {
		raw, err := json.Marshal(o.Providers)
		if err != nil {
			return nil, err
		}
		m.Providers = datatypes.JSON(raw)
	}
	ctxRaw, err := json.Marshal(outcomeContext{
		Sentiment:  o.Sentiment,
		Volatility: o.Volatility,
		Trend:      o.Trend,
		Confidence: o.Confidence,
	})
	if err != nil {
		return nil, err
	}
	m.Context = datatypes.JSON(ctxRaw)
	vetoRaw, err := json.Marshal(outcomeVeto{
		Applied:   o.VetoApplied,
		Source:    o.VetoSource,
		Score:     o.VetoScore,
		Threshold: o.VetoThreshold,
		Correct:   o.VetoCorrect,
	})
	if err != nil {
		return nil, err
	}
	m.Veto = datatypes.JSON(vetoRaw)
	return m, nil
}

func fromModel(m *OutcomeModel) *memory.TradeOutcome {
	o := &memory.TradeOutcome{
		ID:         m.OutcomeID,
		Symbol:     m.Symbol,
		Action:     m.Action,
		Provider:   m.Provider,
		EntryTime:  m.EntryTime,
		ExitTime:   m.ExitTime,
		EntryPrice: mustFloat(m.EntryPrice),
		ExitPrice:  mustFloat(m.ExitPrice),
	}
	o.PositionSize = mustFloat(m.PositionSize)
	if m.PnL != "" {
		v := mustFloat(m.PnL)
		o.PnL = &v
	}
	if m.PnLPct != "" {
		v := mustFloat(m.PnLPct)
		o.PnLPct = &v
	}
	o.WasProfitable = m.WasProfitable
	if len(m.Providers) > 0 {
		_ = json.Unmarshal(m.Providers, &o.Providers)
	}
	if len(m.Context) > 0 {
		var ctx outcomeContext
		if err := json.Unmarshal(m.Context, &ctx); err == nil {
			o.Sentiment = ctx.Sentiment
			o.Volatility = ctx.Volatility
			o.Trend = ctx.Trend
			o.Confidence = ctx.Confidence
		}
	}
	if len(m.Veto) > 0 {
		var veto outcomeVeto
		if err := json.Unmarshal(m.Veto, &veto); err == nil {
			o.VetoApplied = veto.Applied
			o.VetoSource = veto.Source
			o.VetoScore = veto.Score
			o.VetoThreshold = veto.Threshold
			o.VetoCorrect = veto.Correct
		}
	}
	return o
}

func mustFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// Count 返回归档总条数。
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.Model(&OutcomeModel{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// ListRange 按退出时间升序返回 [start, end] 毫秒区间内的记录。
// limit <= 0 表示不限制。
func (s *Store) ListRange(startMs, endMs int64, limit int) ([]*memory.TradeOutcome, error) {
	q := s.db.Model(&OutcomeModel{}).Order("exit_unix_ms ASC, id ASC")
	if startMs > 0 {
		q = q.Where("exit_unix_ms >= ?", startMs)
	}
	if endMs > 0 {
		q = q.Where("exit_unix_ms <= ?", endMs)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []OutcomeModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("archive: range query failed: %w", err)
	}
	out := make([]*memory.TradeOutcome, 0, len(models))
	for i := range models {
		out = append(out, fromModel(&models[i]))
	}
	return out, nil
}

// ListBySymbol 返回某标的的全部归档记录（退出时间升序）。
func (s *Store) ListBySymbol(symbol string, limit int) ([]*memory.TradeOutcome, error) {
	q := s.db.Model(&OutcomeModel{}).Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Order("exit_unix_ms ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []OutcomeModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*memory.TradeOutcome, 0, len(models))
	for i := range models {
		out = append(out, fromModel(&models[i]))
	}
	return out, nil
}

// ListByProvider 返回某决策来源的全部归档记录（退出时间升序）。
func (s *Store) ListByProvider(provider string, limit int) ([]*memory.TradeOutcome, error) {
	q := s.db.Model(&OutcomeModel{}).Where("provider = ?", strings.TrimSpace(provider)).
		Order("exit_unix_ms ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []OutcomeModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*memory.TradeOutcome, 0, len(models))
	for i := range models {
		out = append(out, fromModel(&models[i]))
	}
	return out, nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
