package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quantmem/internal/memory"

	"github.com/tidwall/gjson"
)

const (
	stateFileName = "state.json"
	snapshotsDir  = "snapshots"
)

// Service 提供聚合状态与绩效快照的原子落盘。
// 所有文件系统操作由内部锁串行化，快照目录上的操作互不竞争。
type Service struct {
	mu       sync.Mutex
	dir      string
	readonly bool
}

var _ memory.Persistence = (*Service)(nil)

// NewService 初始化数据目录与快照子目录。
func NewService(dir string) (*Service, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("persistence dir 不能为空")
	}
	if err := os.MkdirAll(filepath.Join(dir, snapshotsDir), 0o755); err != nil {
		return nil, err
	}
	return &Service{dir: dir}, nil
}

func (s *Service) statePath() string {
	return filepath.Join(s.dir, stateFileName)
}

func (s *Service) snapshotsPath() string {
	return filepath.Join(s.dir, snapshotsDir)
}

// SetReadonly 切换写保护。
func (s *Service) SetReadonly(v bool) {
	s.mu.Lock()
	s.readonly = v
	s.mu.Unlock()
}

func (s *Service) IsReadonly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readonly
}

// Save 序列化状态并原子写入：先写同目录临时文件，fsync 后 rename 覆盖。
// 只读模式下立即失败，磁盘上的旧状态保持原样。
func (s *Service) Save(state *memory.State) error {
	if state == nil {
		return fmt.Errorf("state 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readonly {
		return fmt.Errorf("save state: %w", ErrReadonly)
	}
	state.Version = memory.SchemaVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state failed: %w", err)
	}
	return atomicWrite(s.statePath(), data)
}

// Load 返回最近一次保存的状态；从未保存过时返回 (nil, nil)。
// 文件存在但通不过版本探测 / schema 校验 / 解码的，一律按损坏上抛。
func (s *Service) Load() (*memory.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.statePath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state failed: %w", err)
	}
	if err := validateStateBytes(path, data); err != nil {
		return nil, err
	}
	var state memory.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	return &state, nil
}

// validateStateBytes 先用 gjson 探测版本号，再做 schema 形状校验，
// 这样老版本/半截文件能在反序列化前被识别出来。
func validateStateBytes(path string, data []byte) error {
	if !gjson.ValidBytes(data) {
		return &CorruptionError{Path: path, Err: fmt.Errorf("not valid json")}
	}
	version := gjson.GetBytes(data, "version")
	if !version.Exists() {
		return &CorruptionError{Path: path, Err: fmt.Errorf("missing version tag")}
	}
	if version.Int() != memory.SchemaVersion {
		return &CorruptionError{Path: path, Err: fmt.Errorf("unsupported schema version %d", version.Int())}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &CorruptionError{Path: path, Err: err}
	}
	if err := stateSchema.Validate(doc); err != nil {
		return &CorruptionError{Path: path, Err: err}
	}
	return nil
}

// atomicWrite 同目录临时文件 + rename，保证读者永远看不到半截文件。
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file failed: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file failed: %w", err)
	}
	return nil
}
