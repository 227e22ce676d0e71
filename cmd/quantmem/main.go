package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"quantmem/internal/app"
	qmcfg "quantmem/internal/config"
	"quantmem/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("QUANTMEM_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := qmcfg.WriteExample(cfgPath); err != nil {
			log.Fatalf("生成示例配置失败: %v", err)
		}
		log.Printf("示例配置已写入 %s", cfgPath)
		return
	}

	cfg, err := qmcfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，账本容量=%d）", cfg.App.Env, cfg.Memory.LedgerCapacity)

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}

	watcher := qmcfg.NewWatcher(cfgPath)
	watcher.OnReload(application.ApplyReload)
	if err := watcher.Start(); err != nil {
		logger.Warnf("配置热更新不可用: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
