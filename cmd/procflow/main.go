package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/procflow/procflow/internal/api"
	"github.com/procflow/procflow/internal/api/handlers"
	"github.com/procflow/procflow/internal/callable"
	"github.com/procflow/procflow/internal/definition"
	"github.com/procflow/procflow/internal/events"
	"github.com/procflow/procflow/internal/events/kafka"
	"github.com/procflow/procflow/internal/platform/config"
	"github.com/procflow/procflow/internal/platform/database"
	"github.com/procflow/procflow/internal/platform/logger"
	"github.com/procflow/procflow/internal/platform/metrics"
	"github.com/procflow/procflow/internal/runtime"
	"github.com/procflow/procflow/internal/store"
	"github.com/procflow/procflow/internal/store/postgres"
	"github.com/procflow/procflow/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("Starting workflow service", "version", cfg.Version, "port", cfg.HTTP.Port)

	m := metrics.New("procflow")

	var (
		definitions    store.DefinitionStore
		executions     store.ExecutionStore
		nodeExecutions store.NodeExecutionStore
		db             *database.DB
	)
	if cfg.Database.Enabled {
		db, err = database.New(cfg.Database)
		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.Migrate(ctx); err != nil {
			cancel()
			log.Fatal("failed to migrate database", "error", err)
		}
		cancel()

		definitions = postgres.NewDefinitionStore(db)
		executions = postgres.NewExecutionStore(db)
		nodeExecutions = postgres.NewNodeExecutionStore(db)
	} else {
		log.Info("database disabled, using in-memory stores")
		definitions = store.NewMemoryDefinitionStore()
		executions = store.NewMemoryExecutionStore()
		nodeExecutions = store.NewMemoryNodeExecutionStore()
	}

	var queue tracker.EventQueue
	if cfg.Redis.Enabled {
		queue, err = tracker.NewRedisQueue(cfg.Redis)
		if err != nil {
			log.Fatal("failed to connect to Redis", "error", err)
		}
	} else {
		queue = tracker.NewMemoryQueue()
	}
	sink := tracker.NewSink(queue, nodeExecutions, m, log)

	hub := handlers.NewHub(log)
	sink.Subscribe(hub.BroadcastNodeExecution)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err = kafka.NewPublisher(cfg.Kafka, log)
		if err != nil {
			log.Fatal("failed to create Kafka publisher", "error", err)
		}
	}

	registry := callable.NewRegistry()
	builder := definition.NewBuilder(registry)

	manager := runtime.New(runtime.Options{
		Config:         *cfg,
		Logger:         log,
		Metrics:        m,
		Publisher:      publisher,
		Definitions:    definitions,
		Executions:     executions,
		NodeExecutions: nodeExecutions,
		Builder:        builder,
		Sink:           sink,
	})

	if cfg.Retention.ReconcileOnBoot && cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := manager.Reconcile(ctx); err != nil {
			log.Warn("boot reconciliation failed", "error", err)
		}
		cancel()
	}

	if err := manager.Start(); err != nil {
		log.Fatal("failed to start manager", "error", err)
	}

	srv := api.New(*cfg, log, manager, m, hub)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	manager.Stop()
	if err := sink.Close(); err != nil {
		log.Error("tracker shutdown error", "error", err)
	}
	if err := publisher.Close(); err != nil {
		log.Error("publisher shutdown error", "error", err)
	}

	log.Info("shutdown complete")
}
