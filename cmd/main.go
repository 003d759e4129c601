package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/nmoretto/shipdeck/internal/artifact"
	"github.com/nmoretto/shipdeck/internal/auth"
	"github.com/nmoretto/shipdeck/internal/config"
	"github.com/nmoretto/shipdeck/internal/httpapi"
	"github.com/nmoretto/shipdeck/internal/jobs"
	"github.com/nmoretto/shipdeck/internal/persistence"
	"github.com/nmoretto/shipdeck/internal/service"
	"github.com/nmoretto/shipdeck/pkg/log"
)

const shutdownGrace = 10 * time.Second

type scheduler interface {
	Schedule() error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	// .env is optional; deployments usually set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	level := log.ParseLevel(cfg.System.LogLevel)
	if cfg.System.LogFile != "" {
		fl, err := log.InitFileLogger(cfg.System.LogFile, level)
		if err != nil {
			log.Fatal("Failed to open log file: %v", err)
		}
		defer fl.Close()
	} else {
		log.InitLogger(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		log.Fatal("Failed to open state store: %v", err)
	}

	artifacts, err := artifact.NewStore(cfg.ArtifactsDir())
	if err != nil {
		log.Fatal("Failed to open artifact store: %v", err)
	}

	registry, err := jobs.NewRegistry(store, cfg.Jobs.MaxQueuedJobs)
	if err != nil {
		log.Fatal("Failed to load job registry: %v", err)
	}

	executor := jobs.NewExecutor(registry, cfg.Jobs.WorkerCount, cfg.JobTimeout())
	sessions := auth.NewManager(store, cfg.SessionTTL())
	cronRunner := cron.New()
	svc := service.New(*cfg, registry, executor, artifacts, store, sessions, cronRunner)

	executor.Start()
	svc.ResubmitPending(ctx)

	httpSrv := httpapi.NewServer(svc, httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled))

	runErr := runWithComponents(ctx, cfg, svc, cronRunner, httpSrv)

	// HTTP and cron are down; drain the workers, then release the database.
	executor.Stop()
	if err := store.Close(); err != nil {
		log.Warn("Closing state store: %v", err)
	}
	if runErr != nil {
		log.Fatal("Server error: %v", runErr)
	}
	log.Info("Shutdown complete")
}

// runWithComponents starts the sweep schedule and the HTTP API, then blocks
// until the context is cancelled or the listener fails. On return the HTTP
// server and the cron engine are stopped, in that order.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, cronRunner cronEngine, httpSrv httpServer) error {
	if err := sched.Schedule(); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	cronRunner.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		// The listener failed before any shutdown was requested.
		cronRunner.Stop()
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
	<-errCh
	cronRunner.Stop()
	return nil
}
