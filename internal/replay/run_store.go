package replay

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord 是一次离线回放会话的落库记录。
type RunRecord struct {
	ID           string  `json:"id"`
	CheckpointAt int64   `json:"checkpoint_at"`
	StartTs      int64   `json:"start_ts"`
	EndTs        int64   `json:"end_ts"`
	Outcomes     int     `json:"outcomes"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Status       string  `json:"status"`
	Message      string  `json:"message"`
	CreatedAt    int64   `json:"created_at"`
	CompletedAt  int64   `json:"completed_at"`
}

// RunStore 管理 replay_runs 表。
type RunStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewRunStore(path string) (*RunStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("replay: run store 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureRunSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &RunStore{db: db, path: path}, nil
}

func ensureRunSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS replay_runs (
		id TEXT PRIMARY KEY,
		checkpoint_at INTEGER NOT NULL DEFAULT 0,
		start_ts INTEGER NOT NULL DEFAULT 0,
		end_ts INTEGER NOT NULL DEFAULT 0,
		outcomes INTEGER NOT NULL DEFAULT 0,
		win_rate REAL NOT NULL DEFAULT 0,
		total_pnl REAL NOT NULL DEFAULT 0,
		max_drawdown REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		message TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);`)
	return err
}

// Insert 写入一条新会话（status=running）。
func (s *RunStore) Insert(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("replay: run record 缺少 id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replay_runs (id, checkpoint_at, start_ts, end_ts, outcomes, win_rate, total_pnl, max_drawdown, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CheckpointAt, rec.StartTs, rec.EndTs, rec.Outcomes,
		rec.WinRate, rec.TotalPnL, rec.MaxDrawdown, rec.Status, rec.Message, rec.CreatedAt)
	return err
}

// Complete 更新会话的最终统计与状态。
func (s *RunStore) Complete(ctx context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CompletedAt == 0 {
		rec.CompletedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE replay_runs
		SET outcomes = ?, win_rate = ?, total_pnl = ?, max_drawdown = ?, status = ?, message = ?, completed_at = ?
		WHERE id = ?`,
		rec.Outcomes, rec.WinRate, rec.TotalPnL, rec.MaxDrawdown, rec.Status, rec.Message, rec.CompletedAt, rec.ID)
	return err
}

// List 按创建时间倒序返回最近的会话。
func (s *RunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, checkpoint_at, start_ts, end_ts, outcomes, win_rate, total_pnl, max_drawdown, status,
		       COALESCE(message, ''), created_at, COALESCE(completed_at, 0)
		FROM replay_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.CheckpointAt, &r.StartTs, &r.EndTs, &r.Outcomes, &r.WinRate,
			&r.TotalPnL, &r.MaxDrawdown, &r.Status, &r.Message, &r.CreatedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
