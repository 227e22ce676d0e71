package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load 读取 YAML 配置，应用默认值并校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回一份应用默认值后的配置，无需配置文件即可使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// WriteExample 在指定路径生成示例配置（已存在则报错，避免覆盖手工配置）。
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	cfg := Default()
	cfg.Archive.Enabled = true
	cfg.Archive.Path = "data/memory/archive.db"
	cfg.Server.Enabled = true
	cfg.Server.Listen = ":9992"
	out := map[string]any{
		"app": map[string]any{
			"env":       cfg.App.Env,
			"log_level": cfg.App.LogLevel,
			"log_path":  "logs/quantmem.log",
		},
		"memory": map[string]any{
			"ledger_capacity":   cfg.Memory.LedgerCapacity,
			"regime_window":     cfg.Memory.RegimeWindow,
			"min_regime_trades": cfg.Memory.MinRegimeTrades,
		},
		"veto": map[string]any{
			"default_threshold": cfg.Veto.DefaultThreshold,
			"min_samples":       cfg.Veto.MinSamples,
		},
		"persistence": map[string]any{
			"data_dir":           cfg.Persistence.DataDir,
			"snapshot_retention": cfg.Persistence.SnapshotRetention,
		},
		"archive": map[string]any{
			"enabled": cfg.Archive.Enabled,
			"path":    cfg.Archive.Path,
		},
		"server": map[string]any{
			"enabled": cfg.Server.Enabled,
			"listen":  cfg.Server.Listen,
		},
		"replay": map[string]any{
			"run_db_path": cfg.Replay.RunDBPath,
		},
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
