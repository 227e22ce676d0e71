package persistence

import (
	"errors"
	"fmt"
)

// ErrReadonly 表示在只读模式下发起了写操作，总是直接上抛。
var ErrReadonly = errors.New("persistence is in readonly mode")

// ErrSnapshotNotFound 表示按名加载的快照不存在（硬失败）。
var ErrSnapshotNotFound = errors.New("snapshot not found")

// CorruptionError 表示磁盘上的状态存在但无法解析，必须上抛而不是静默当作空。
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupted state file %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// PathSecurityError 表示快照名试图逃逸快照目录，在任何文件系统访问之前拒绝。
type PathSecurityError struct {
	Name string
}

func (e *PathSecurityError) Error() string {
	return fmt.Sprintf("snapshot name %q escapes the snapshots directory", e.Name)
}
