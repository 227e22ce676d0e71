package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	qmcfg "quantmem/internal/config"
	"quantmem/internal/logger"
	"quantmem/internal/memory"
	"quantmem/internal/persistence"
	"quantmem/internal/store/archive"
	memoryapi "quantmem/internal/transport/http/memoryapi"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：配置 → 持久化/归档 → PortfolioMemory → HTTP 服务。
type App struct {
	cfg     *qmcfg.Config
	mem     *memory.PortfolioMemory
	persist *persistence.Service
	arch    *archive.Store
	server  *memoryapi.Server

	snapshotRetention atomic.Int64
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *qmcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	persist, err := persistence.NewService(cfg.Persistence.DataDir)
	if err != nil {
		return nil, fmt.Errorf("初始化持久化失败: %w", err)
	}

	var arch *archive.Store
	if cfg.Archive.Enabled {
		arch, err = archive.NewStore(cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("初始化归档失败: %w", err)
		}
	}

	mem := memory.NewPortfolioMemory(memory.Options{
		LedgerCapacity:  cfg.Memory.LedgerCapacity,
		RegimeWindow:    cfg.Memory.RegimeWindow,
		MinRegimeTrades: cfg.Memory.MinRegimeTrades,
		Persistence:     persist,
		Archive:         archiverOrNil(arch),
	})
	mem.Veto().SetRecommendationPolicy(cfg.Veto.DefaultThreshold, cfg.Veto.MinSamples)
	if err := mem.LoadState(); err != nil {
		return nil, fmt.Errorf("恢复历史状态失败: %w", err)
	}

	app := &App{cfg: cfg, mem: mem, persist: persist, arch: arch}
	app.snapshotRetention.Store(int64(cfg.Persistence.SnapshotRetention))

	if cfg.Server.Enabled {
		srv, err := memoryapi.NewServer(memoryapi.ServerConfig{
			Addr:    cfg.Server.Listen,
			Memory:  mem,
			Persist: persist,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
		}
		app.server = srv
	}
	return app, nil
}

func archiverOrNil(s *archive.Store) memory.Archiver {
	if s == nil {
		return nil
	}
	return s
}

// Memory 暴露核心入口，供宿主进程直接调用。
func (a *App) Memory() *memory.PortfolioMemory { return a.mem }

// Persistence 暴露持久化服务（快照管理等）。
func (a *App) Persistence() *persistence.Service { return a.persist }

// Archive 暴露归档存储，未启用时为 nil。
func (a *App) Archive() *archive.Store { return a.arch }

// ApplyReload 消费配置热更新中运行期可调的部分。
func (a *App) ApplyReload(cfg *qmcfg.Config) {
	a.snapshotRetention.Store(int64(cfg.Persistence.SnapshotRetention))
	a.mem.Veto().SetRecommendationPolicy(cfg.Veto.DefaultThreshold, cfg.Veto.MinSamples)
}

// Run 启动 HTTP 服务与快照保留清理循环，直到 ctx 取消。
// 退出前把聚合状态落盘一次（只读模式下跳过）。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		group.Go(func() error {
			logger.Infof("memory http 服务监听 %s", a.server.Addr())
			if err := a.server.Start(ctx); err != nil {
				return fmt.Errorf("memory http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		a.retentionLoop(ctx)
		return nil
	})

	err := group.Wait()
	a.shutdown()
	return err
}

// retentionLoop 周期清理多余快照；只读模式下这一轮跳过。
func (a *App) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.persist.IsReadonly() {
				continue
			}
			keep := int(a.snapshotRetention.Load())
			removed, err := a.persist.DeleteOld(keep)
			if err != nil {
				logger.Warnf("快照清理失败: %v", err)
				continue
			}
			if removed > 0 {
				logger.Infof("快照清理完成，删除 %d 个（保留 %d）", removed, keep)
			}
		}
	}
}

func (a *App) shutdown() {
	if !a.mem.IsReadonly() {
		if err := a.mem.SaveState(); err != nil {
			logger.Warnf("退出时保存状态失败: %v", err)
		}
	}
	if a.arch != nil {
		if err := a.arch.Close(); err != nil {
			logger.Warnf("关闭归档失败: %v", err)
		}
	}
}
