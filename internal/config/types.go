package config

import "fmt"

// Config 汇总 portfolio memory 子系统的全部可配置项。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Veto        VetoConfig        `mapstructure:"veto"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Server      ServerConfig      `mapstructure:"server"`
	Replay      ReplayConfig      `mapstructure:"replay"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

// MemoryConfig 控制账本容量与 regime 判定窗口。
// LedgerCapacity 只在启动时生效，热更新不会调整已有账本。
type MemoryConfig struct {
	LedgerCapacity  int `mapstructure:"ledger_capacity"`
	RegimeWindow    int `mapstructure:"regime_window"`
	MinRegimeTrades int `mapstructure:"min_regime_trades"`
}

type VetoConfig struct {
	DefaultThreshold float64 `mapstructure:"default_threshold"`
	MinSamples       int     `mapstructure:"min_samples"`
}

type PersistenceConfig struct {
	DataDir           string `mapstructure:"data_dir"`
	SnapshotRetention int    `mapstructure:"snapshot_retention"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type ReplayConfig struct {
	RunDBPath string `mapstructure:"run_db_path"`
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Memory.LedgerCapacity <= 0 {
		c.Memory.LedgerCapacity = 1000
	}
	if c.Memory.RegimeWindow <= 0 {
		c.Memory.RegimeWindow = 20
	}
	if c.Memory.MinRegimeTrades <= 0 {
		c.Memory.MinRegimeTrades = 10
	}
	if c.Veto.DefaultThreshold <= 0 {
		c.Veto.DefaultThreshold = 0.7
	}
	if c.Veto.MinSamples <= 0 {
		c.Veto.MinSamples = 5
	}
	if c.Persistence.DataDir == "" {
		c.Persistence.DataDir = "data/memory"
	}
	if c.Persistence.SnapshotRetention <= 0 {
		c.Persistence.SnapshotRetention = 50
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		c.Archive.Path = "data/memory/archive.db"
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		c.Server.Listen = ":9992"
	}
	if c.Replay.RunDBPath == "" {
		c.Replay.RunDBPath = "data/memory/replay.db"
	}
}

func validate(c *Config) error {
	if c.Memory.LedgerCapacity < 10 {
		return fmt.Errorf("memory.ledger_capacity 不能小于 10（当前 %d）", c.Memory.LedgerCapacity)
	}
	if c.Memory.MinRegimeTrades > c.Memory.RegimeWindow {
		return fmt.Errorf("memory.min_regime_trades 不能大于 regime_window")
	}
	if c.Veto.DefaultThreshold <= 0 || c.Veto.DefaultThreshold > 1 {
		return fmt.Errorf("veto.default_threshold 需在 (0,1] 区间")
	}
	if c.Persistence.SnapshotRetention < 1 {
		return fmt.Errorf("persistence.snapshot_retention 至少为 1")
	}
	return nil
}
