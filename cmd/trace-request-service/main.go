package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/ldp-health/platform/pkg/common/config"
	"github.com/ldp-health/platform/pkg/common/database"
	"github.com/ldp-health/platform/pkg/common/logger"
	"github.com/ldp-health/platform/pkg/matching"
	"github.com/ldp-health/platform/pkg/pseudonym"
	"github.com/ldp-health/platform/pkg/trace"
)

type RequestApp struct {
	service *trace.RequestService
}

func main() {
	logger.Init()
	cfg := config.Load()

	if cfg.LookupBaseURL == "" {
		logger.Log.Fatal("LOOKUP_BASE_URL must be set for the trace request service")
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	statusRepo := trace.NewStatusRepository(db)
	if err := statusRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate trace status table")
	}

	patientRepo := matching.NewRepository(db)

	var reid trace.Reidentifier
	if cfg.PseudonymMasterKey != "" {
		vault := pseudonym.NewRepository(db)
		svc, err := pseudonym.NewService(vault, cfg.PseudonymMasterKey, cfg.PseudonymKeyVersion)
		if err != nil {
			logger.Log.WithError(err).Fatal("invalid pseudonym configuration")
		}
		reid = svc
	}

	cache := trace.NewRedisBatchCache(database.GetRedis(), cfg.TraceBatchCacheTTL)
	defer database.CloseRedis()

	client := trace.NewLookupClient(cfg)
	app := &RequestApp{service: trace.NewRequestService(patientRepo, statusRepo, client, reid, cache)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.submitLoop(ctx, cfg.TraceSubmitInterval)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/trace/submit", app.handleSubmit).Methods(http.MethodPost)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8082"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":     cfg.ServerHost,
			"port":     "8082",
			"interval": cfg.TraceSubmitInterval.String(),
		}).Info("Trace Request Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Trace Request Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Trace Request Service stopped")
}

// submitLoop runs a submission cycle on start and then on every tick. A
// failed cycle is only logged, the next tick retries from the status table.
func (a *RequestApp) submitLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.submitOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.submitOnce(ctx)
		}
	}
}

func (a *RequestApp) submitOnce(ctx context.Context) {
	if _, err := a.service.Submit(ctx); err != nil {
		logger.Log.WithError(err).Error("trace submission cycle failed")
	}
}

// handleSubmit triggers a submission cycle outside the schedule.
func (a *RequestApp) handleSubmit(w http.ResponseWriter, r *http.Request) {
	submission, err := a.service.Submit(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("manual trace submission failed")
		http.Error(w, "submission failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(submission)
}
