package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantmem/internal/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(t.TempDir())
	require.NoError(t, err)
	return svc
}

func sampleState() *memory.State {
	return &memory.State{
		Version: memory.SchemaVersion,
		SavedAt: time.Now(),
		Ledger:  memory.LedgerSummary{Count: 2, Capacity: 1000},
		Bandit: memory.BanditState{
			Providers: map[string]memory.Tally{"deepseek": {Wins: 3, Losses: 1}},
			Regimes:   map[string]memory.Tally{"trending": {Wins: 2, Losses: 0}},
		},
		Veto: memory.VetoState{
			Matrix: memory.ConfusionMatrix{TruePositive: 1, TrueNegative: 2},
		},
	}
}

func TestService_SaveLoadRoundTrip(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Save(sampleState()))

	loaded, err := svc.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, memory.SchemaVersion, loaded.Version)
	assert.Equal(t, 3, loaded.Bandit.Providers["deepseek"].Wins)
	assert.Equal(t, 1, loaded.Veto.Matrix.TruePositive)
}

func TestService_LoadWithoutFile(t *testing.T) {
	svc := newTestService(t)
	loaded, err := svc.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestService_ReadonlyLeavesFileUntouched(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(dir)
	require.NoError(t, err)
	require.NoError(t, svc.Save(sampleState()))
	before, err := os.ReadFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	svc.SetReadonly(true)
	assert.True(t, svc.IsReadonly())

	other := sampleState()
	other.Ledger.Count = 99
	err = svc.Save(other)
	require.ErrorIs(t, err, ErrReadonly)

	_, err = svc.SaveSnapshot(&memory.PerformanceSnapshot{Timestamp: time.Now()})
	require.ErrorIs(t, err, ErrReadonly)

	_, err = svc.DeleteOld(0)
	require.ErrorIs(t, err, ErrReadonly)

	// 磁盘上的状态逐字节不变
	after, err := os.ReadFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestService_LoadCorruptState(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"truncated json", `{"version": 1, "saved`},
		{"missing version", `{"saved_at": "2026-01-01T00:00:00Z"}`},
		{"future schema version", `{"version": 99, "saved_at": "2026-01-01T00:00:00Z", "ledger": {"count": 0, "capacity": 10}}`},
		{"wrong shape", `{"version": 1, "ledger": "not-an-object"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			svc, err := NewService(dir)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte(tc.data), 0o644))

			_, err = svc.Load()
			var corrupt *CorruptionError
			require.ErrorAs(t, err, &corrupt)
		})
	}
}

func TestService_SnapshotLifecycle(t *testing.T) {
	svc := newTestService(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var names []string
	for i := 0; i < 3; i++ {
		snap := &memory.PerformanceSnapshot{
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			TotalTrades: i + 1,
		}
		name, err := svc.SaveSnapshot(snap)
		require.NoError(t, err)
		names = append(names, name)
	}

	list, err := svc.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, list, 3)
	// 最新在前
	assert.Equal(t, names[2], list[0].Name)

	loaded, err := svc.LoadSnapshot(names[1])
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.TotalTrades)

	removed, err := svc.DeleteOld(1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err = svc.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, names[2], list[0].Name)
}

func TestService_LoadSnapshotNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.LoadSnapshot("perf_0000000000000.json")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestService_SnapshotPathSecurity(t *testing.T) {
	svc := newTestService(t)
	for _, name := range []string{
		"",
		"   ",
		"../../etc/passwd",
		"/etc/passwd",
		"..",
		"a/../b.json",
		`sub\evil.json`,
		"nested/evil.json",
	} {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := svc.LoadSnapshot(name)
			var pathErr *PathSecurityError
			require.ErrorAs(t, err, &pathErr)
		})
	}
}

func TestService_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(dir)
	require.NoError(t, err)
	name := "perf_0000000000001.json"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshots", name), []byte("{broken"), 0o644))

	_, err = svc.LoadSnapshot(name)
	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
}

func TestService_SaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(dir)
	require.NoError(t, err)
	require.NoError(t, svc.Save(sampleState()))

	second := sampleState()
	second.Ledger.Count = 7
	require.NoError(t, svc.Save(second))

	loaded, err := svc.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Ledger.Count)

	// 没有残留的临时文件
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}
