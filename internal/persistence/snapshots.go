package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"quantmem/internal/memory"
)

// SnapshotInfo 描述快照目录里的一个文件。
type SnapshotInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// SaveSnapshot 以时间戳派生的文件名把绩效快照写入快照子目录，返回文件名。
func (s *Service) SaveSnapshot(snap *memory.PerformanceSnapshot) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("snapshot 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readonly {
		return "", fmt.Errorf("save snapshot: %w", ErrReadonly)
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	name := fmt.Sprintf("perf_%013d.json", ts.UnixMilli())
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot failed: %w", err)
	}
	if err := atomicWrite(filepath.Join(s.snapshotsPath(), name), data); err != nil {
		return "", err
	}
	return name, nil
}

// ListSnapshots 枚举快照文件，最新在前。
func (s *Service) ListSnapshots() ([]SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.snapshotsPath())
	if err != nil {
		return nil, fmt.Errorf("read snapshots dir failed: %w", err)
	}
	var out []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, SnapshotInfo{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// LoadSnapshot 按名加载单个快照。名称先做路径安全校验，
// 解析严格限制在快照目录内，越界在打开任何文件之前被拒绝。
func (s *Service) LoadSnapshot(name string) (*memory.PerformanceSnapshot, error) {
	path, err := s.resolveSnapshotPath(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %q: %w", name, ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("read snapshot failed: %w", err)
	}
	var snap memory.PerformanceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	return &snap, nil
}

func (s *Service) resolveSnapshotPath(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", &PathSecurityError{Name: name}
	}
	if filepath.IsAbs(trimmed) || strings.Contains(trimmed, "..") {
		return "", &PathSecurityError{Name: name}
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return "", &PathSecurityError{Name: name}
	}
	base := s.snapshotsPath()
	resolved := filepath.Clean(filepath.Join(base, trimmed))
	if resolved == base || !strings.HasPrefix(resolved, base+string(filepath.Separator)) {
		return "", &PathSecurityError{Name: name}
	}
	return resolved, nil
}

// DeleteOld 只保留最新的 keep 个快照，删除其余。
func (s *Service) DeleteOld(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	list, err := s.ListSnapshots()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readonly {
		return 0, fmt.Errorf("delete snapshots: %w", ErrReadonly)
	}
	removed := 0
	for i := keep; i < len(list); i++ {
		if err := os.Remove(filepath.Join(s.snapshotsPath(), list[i].Name)); err != nil {
			return removed, fmt.Errorf("remove snapshot %s failed: %w", list[i].Name, err)
		}
		removed++
	}
	return removed, nil
}
