package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/lgops/internal/api"
	"github.com/punchamoorthee/lgops/internal/approval"
	"github.com/punchamoorthee/lgops/internal/collab"
	"github.com/punchamoorthee/lgops/internal/config"
	"github.com/punchamoorthee/lgops/internal/instruction"
	"github.com/punchamoorthee/lgops/internal/renewal"
	"github.com/punchamoorthee/lgops/internal/scheduler"
	"github.com/punchamoorthee/lgops/internal/store"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx := context.Background()
	dbPool, err := pgxpool.New(ctx, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbPool.Close()

	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, dbPool); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	}

	// Initialize Layers
	st := store.NewPostgresFromPool(dbPool)
	clock := collab.SystemClock{}
	cfgProvider := collab.NewStaticConfig(collab.DefaultThresholds())
	renderer := collab.NewTemplateRenderer()
	notifier := &collab.LogNotifier{Log: log}
	docs := collab.NewMemoryDocumentStore()

	emitter := instruction.NewEmitter(renderer, log)
	gate := approval.NewGate(st, cfgProvider, st, notifier, emitter, clock, log)
	engine := renewal.NewEngine(st, cfgProvider, st, emitter, clock, log)

	passes := &scheduler.Passes{
		Store:   st,
		Cfg:     cfgProvider,
		Notify:  notifier,
		Renewal: engine,
		Clock:   clock,
		Log:     log,
	}
	runner := scheduler.NewRunner(log, passes.Jobs(cfg.SchedulerInterval)...)
	if cfg.SchedulerEnabled {
		runner.Start(ctx)
	}

	handler := api.NewHandler(st, gate, engine, passes, docs, log)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(handler),
	}

	go func() {
		log.Infof("Server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	if cfg.SchedulerEnabled {
		runner.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Shutdown error: %v", err)
	}
}
