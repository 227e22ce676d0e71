package memoryapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"quantmem/internal/logger"
	"quantmem/internal/memory"
	"quantmem/internal/persistence"

	"github.com/gin-gonic/gin"
)

// Server 提供只读的 /api/memory 检视接口与一个外部执行器回报结果的入口。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 memory HTTP 服务依赖。
type ServerConfig struct {
	Addr    string
	Memory  *memory.PortfolioMemory
	Persist *persistence.Service
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Memory == nil {
		return nil, errors.New("memory http server requires a portfolio memory")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	registerRoutes(router.Group("/api"), cfg.Memory, cfg.Persist)

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler 暴露底层路由，便于测试。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("http %s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
