package config

import (
	"strings"
	"sync"

	"quantmem/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReloadFunc 在配置文件变更后收到重新解析的配置。
// 只有运行期可调的字段（log_level、snapshot_retention 等）应当被消费，
// 账本容量等启动期字段的变更会被忽略。
type ReloadFunc func(cfg *Config)

// Watcher 监听配置文件变化并触发热更新。
type Watcher struct {
	path string
	v    *viper.Viper

	mu  sync.Mutex
	fns []ReloadFunc
}

func NewWatcher(path string) *Watcher {
	return &Watcher{path: path}
}

func (w *Watcher) OnReload(fn ReloadFunc) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.fns = append(w.fns, fn)
	w.mu.Unlock()
}

// Start 开始监听。解析失败只告警，保留旧配置继续运行。
func (w *Watcher) Start() error {
	v := viper.New()
	v.SetConfigFile(w.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	w.v = v
	v.OnConfigChange(func(evt fsnotify.Event) {
		if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := Load(w.path)
		if err != nil {
			logger.Warnf("配置热更新失败（%s），沿用旧配置: %v", evt.Name, err)
			return
		}
		logger.SetLevel(cfg.App.LogLevel)
		logger.Infof("配置已热更新: %s", strings.TrimSpace(evt.Name))
		w.mu.Lock()
		fns := append([]ReloadFunc(nil), w.fns...)
		w.mu.Unlock()
		for _, fn := range fns {
			fn(cfg)
		}
	})
	v.WatchConfig()
	return nil
}
