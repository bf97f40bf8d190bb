package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yanqian/sunspot/internal/infra/config"
	"github.com/yanqian/sunspot/internal/infra/queue"
	"github.com/yanqian/sunspot/internal/infra/scheduler"
	"github.com/yanqian/sunspot/internal/infra/windowcache"
)

// App encapsulates the HTTP server and the lifecycle of its background workers.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	server    *http.Server
	scheduler *scheduler.Scheduler
	queue     queue.HandlerQueue
	cache     *windowcache.Tiered
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, sched *scheduler.Scheduler, q queue.HandlerQueue, cache *windowcache.Tiered) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With("component", "bootstrap"),
		server:    server,
		scheduler: sched,
		queue:     q,
		cache:     cache,
	}
}

// Run starts the scheduler and HTTP server and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Start(); err != nil {
			return err
		}
		a.logger.Info("scheduler started", "jobs", a.scheduler.Tags())
	}
	defer a.stopBackground()

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutdown signal received")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *App) stopBackground() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	a.logger.Info("background workers stopped")
}
