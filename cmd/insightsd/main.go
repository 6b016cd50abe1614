package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/portalkit/insights/pkg/batch"
	"github.com/portalkit/insights/pkg/config"
	"github.com/portalkit/insights/pkg/event"
	"github.com/portalkit/insights/pkg/ingest"
	"github.com/portalkit/insights/pkg/observability"
	"github.com/portalkit/insights/pkg/partition"
	"github.com/portalkit/insights/pkg/store"
)

func main() {
	log := logrus.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	db, dialect, err := openDatabase(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("failed to ping database")
	}

	appLog := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	adapter := store.NewAdapter(db, dialect, appLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := adapter.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("failed to ensure schema")
	}

	processor := batch.NewProcessor(batch.Config{
		BatchSize:     cfg.Batch.BatchSize,
		FlushInterval: cfg.Batch.FlushInterval,
		MaxRetries:    cfg.Batch.MaxRetries,
		Debug:         cfg.Batch.Debug,
	}, adapter, appLog, metrics)
	processor.Start(ctx)

	admission := ingest.NewService(processor, dialect.JSONSupported(), appLog, metrics)

	scheduler := cron.New()
	if dialect.PartitionSupported() {
		manager := partition.NewManager(db, appLog, metrics, cfg.Partition.MaxRetries)
		if _, err := manager.Schedule(ctx, scheduler); err != nil {
			log.WithError(err).Fatal("failed to prepare event partitions")
		}
	}
	scheduler.Start()

	server := &http.Server{
		Addr:    ":" + cfg.Server.HealthPort,
		Handler: newRouter(admission, registry, cfg.Observability.MetricsEnabled),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.WithField("port", cfg.Server.HealthPort).Info("insights worker started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http server shutdown failed")
		}

		cronCtx := scheduler.Stop()
		<-cronCtx.Done()

		processor.Stop()
		processor.Drain(shutdownCtx)
		return nil
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Fatal("insights worker failed")
	}
	log.Info("insights worker stopped")
}

// openDatabase opens the configured store and pairs it with its dialect.
func openDatabase(cfg config.DatabaseConfig) (*sql.DB, store.Dialect, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.Path)
		return db, store.NewSQLiteDialect(), err
	default:
		db, err := sql.Open("postgres", cfg.URL)
		return db, store.NewPostgresDialect(), err
	}
}

// newRouter builds the worker's operational HTTP surface: event intake,
// liveness, and Prometheus metrics.
func newRouter(admission *ingest.Service, registry *prometheus.Registry, metricsEnabled bool) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		var rawEvents []event.RawEvent
		if err := json.NewDecoder(r.Body).Decode(&rawEvents); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
			return
		}

		if err := admission.Submit(rawEvents); err != nil {
			var verr *event.ValidationError
			if errors.As(err, &verr) {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": verr.Fields})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "ingestion failed"})
			return
		}

		// Fire-and-forget: admission success is final from the caller's
		// perspective regardless of eventual flush outcome.
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted"})
	}).Methods(http.MethodPost)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	if metricsEnabled {
		router.Handle("/metrics", observability.Handler(registry)).Methods(http.MethodGet)
	}

	return router
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
