// Package dashboard serves pipeline status over HTTP: checkpoints, recorded
// runs, Prometheus metrics and a run event stream.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/logging"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB        *gorm.DB
	Store     *checkpoint.Store
	Pipelines []string     // pipeline ids listed by /api/status
	Metrics   http.Handler // served at /metrics when set
	Port      int
	Log       zerolog.Logger
	Today     func() civil.Date
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return errors.New("dashboard: db is required")
	}
	if opts.Store == nil {
		return errors.New("dashboard: checkpoint store is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(opts)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log := logging.Component(opts.Log, "dashboard")
	log.Info().Int("port", opts.Port).Msg("dashboard listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func newRouter(opts StartOpts) *gin.Engine {
	if opts.Today == nil {
		opts.Today = func() civil.Date { return civil.DateOf(time.Now()) }
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
