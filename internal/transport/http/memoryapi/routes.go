package memoryapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"quantmem/internal/memory"
	"quantmem/internal/persistence"

	"github.com/gin-gonic/gin"
)

func registerRoutes(group *gin.RouterGroup, mem *memory.PortfolioMemory, persist *persistence.Service) {
	api := group.Group("/memory")

	api.GET("/stats", func(c *gin.Context) {
		// 纯读取：不触发快照落盘
		c.JSON(http.StatusOK, mem.Analyzer().Analyze())
	})

	api.GET("/context", func(c *gin.Context) {
		opts := memory.ContextOptions{Symbol: c.Query("symbol")}
		if v := strings.TrimSpace(c.Query("lookback")); v != "" {
			opts.IncludeLookback = true
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				opts.LookbackTrades = n
			}
		}
		c.JSON(http.StatusOK, mem.GenerateContext(opts))
	})

	api.GET("/weights", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"weights": mem.Bandit().Recommendations(),
			"ranked":  mem.Bandit().RankedProviders(),
		})
	})

	api.GET("/veto", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"metrics":               mem.Veto().Metrics(),
			"by_source":             mem.Veto().MetricsBySource(),
			"recommended_threshold": mem.Veto().RecommendThreshold(),
		})
	})

	api.GET("/regime", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"regime": mem.Analyzer().DetectRegime()})
	})

	if persist != nil {
		api.GET("/snapshots", func(c *gin.Context) {
			list, err := persist.ListSnapshots()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"snapshots": list})
		})

		api.GET("/snapshots/:name", func(c *gin.Context) {
			snap, err := persist.LoadSnapshot(c.Param("name"))
			if err != nil {
				c.JSON(snapshotErrStatus(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, snap)
		})
	}

	group.POST("/outcomes", func(c *gin.Context) {
		var outcome memory.TradeOutcome
		if err := c.ShouldBindJSON(&outcome); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		recorded, err := mem.RecordOutcome(&outcome)
		if err != nil {
			var verr *memory.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, recorded)
	})
}

func snapshotErrStatus(err error) int {
	var pathErr *persistence.PathSecurityError
	switch {
	case errors.As(err, &pathErr):
		return http.StatusBadRequest
	case errors.Is(err, persistence.ErrSnapshotNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
