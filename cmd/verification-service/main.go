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
	"github.com/ldp-health/platform/pkg/common/kafka"
	"github.com/ldp-health/platform/pkg/common/logger"
	"github.com/ldp-health/platform/pkg/common/models"
	"github.com/ldp-health/platform/pkg/matching"
	"github.com/ldp-health/platform/pkg/trace"
	"github.com/ldp-health/platform/pkg/verification"
)

type VerificationApp struct {
	service  *verification.Service
	consumer *kafka.Consumer
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := matching.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate patient tables")
	}

	guard := verification.NewRedisReplayGuard(database.GetRedis(), cfg.TraceBatchCacheTTL)
	defer database.CloseRedis()

	app := &VerificationApp{service: verification.NewService(repo, guard)}
	app.consumer = kafka.NewConsumer(cfg.TraceCompletedTopic, "verification-service")
	defer app.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := app.consumer.Consume(ctx, app.handleEvent); err != nil && err != context.Canceled {
			logger.Log.WithError(err).Fatal("consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/verify", app.handleVerify).Methods(http.MethodPost)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8084"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  "8084",
			"topic": cfg.TraceCompletedTopic,
		}).Info("Verification Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Verification Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Verification Service stopped")
}

func (a *VerificationApp) handleEvent(ctx context.Context, event models.Event) error {
	if event.Type != trace.EventTraceCompleted {
		return nil
	}
	completion, err := parseCompletion(event.Data)
	if err != nil {
		return err
	}
	_, err = a.service.Verify(ctx, completion)
	return err
}

// handleVerify applies a completion directly, for replaying a trace by hand.
func (a *VerificationApp) handleVerify(w http.ResponseWriter, r *http.Request) {
	var completion models.TraceCompletion
	if err := json.NewDecoder(r.Body).Decode(&completion); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if completion.TraceID == "" {
		http.Error(w, "trace_id is required", http.StatusBadRequest)
		return
	}

	result, err := a.service.Verify(r.Context(), completion)
	if err != nil {
		logger.Log.WithError(err).WithField("trace_id", completion.TraceID).Error("verification failed")
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func parseCompletion(data map[string]interface{}) (models.TraceCompletion, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.TraceCompletion{}, err
	}
	var completion models.TraceCompletion
	if err := json.Unmarshal(raw, &completion); err != nil {
		return models.TraceCompletion{}, err
	}
	if completion.TraceID == "" {
		return models.TraceCompletion{}, fmt.Errorf("trace completion payload missing trace_id")
	}
	return completion, nil
}
