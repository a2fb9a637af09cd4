package dashboard

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/empatia/internal/db"
	"github.com/zulandar/empatia/internal/pipeline"
)

const defaultLimit = 50

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := router.Group("/api")
	api.GET("/status", handleStatusList(opts))
	api.GET("/status/:pipeline", handleStatus(opts))
	api.GET("/runs", handleRuns(opts))
	api.GET("/runs/:pipeline/dates", handleDates(opts))
	api.GET("/events", handleSSE(opts.DB))
}

func handleStatusList(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]*PipelineStatus, 0, len(opts.Pipelines))
		for _, id := range opts.Pipelines {
			st, err := Status(opts.DB, opts.Store, id, opts.Today())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, st)
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleStatus(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := Status(opts.DB, opts.Store, c.Param("pipeline"), opts.Today())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func handleRuns(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := db.RecentRuns(opts.DB, c.Query("pipeline"), limitParam(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, runs)
	}
}

func handleDates(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome := c.Query("outcome")
		switch pipeline.Outcome(outcome) {
		case "", pipeline.Skipped, pipeline.Succeeded, pipeline.PartiallyFailed, pipeline.Failed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown outcome " + strconv.Quote(outcome)})
			return
		}
		rows, err := db.DateRuns(opts.DB, c.Param("pipeline"), outcome, limitParam(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > 1000 {
		return defaultLimit
	}
	return n
}
