package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ldp-health/platform/pkg/common/config"
	"github.com/ldp-health/platform/pkg/common/database"
	"github.com/ldp-health/platform/pkg/common/logger"
	"github.com/ldp-health/platform/pkg/common/models"
	"github.com/ldp-health/platform/pkg/feed"
	"github.com/ldp-health/platform/pkg/matching"
	"github.com/ldp-health/platform/pkg/pseudonym"
	"github.com/ldp-health/platform/pkg/trace"
)

type MatchingApp struct {
	service        *matching.Service
	maxRequestBody int64
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

	feedCfg, err := feed.Load(cfg.FeedConfigPath)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.FeedConfigPath).Fatal("failed to load feed config")
	}
	cohort, err := feed.LoadCohort(cfg.CohortPath)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.CohortPath).Fatal("failed to load cohort")
	}
	logger.Log.WithFields(map[string]interface{}{
		"feed":   feedCfg.Name,
		"cohort": cohort.Size(),
	}).Info("feed configuration loaded")

	var pseudo matching.Pseudonymiser
	if cfg.PseudonymMasterKey != "" {
		vault := pseudonym.NewRepository(db)
		if err := vault.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate pseudonym vault")
		}
		svc, err := pseudonym.NewService(vault, cfg.PseudonymMasterKey, cfg.PseudonymKeyVersion)
		if err != nil {
			logger.Log.WithError(err).Fatal("invalid pseudonym configuration")
		}
		pseudo = svc
	}

	var strategy matching.Strategy
	switch cfg.MatchingStrategy {
	case "probabilistic":
		strategy = matching.NewProbabilisticStrategy(repo, cfg.MatchThreshold, cfg.MatchCandidatePool)
	default:
		strategy = matching.NewExactMatchStrategy(db)
	}
	logger.Log.WithField("strategy", cfg.MatchingStrategy).Info("matching strategy configured")

	var submitter matching.BatchSubmitter
	if cfg.LookupBaseURL != "" {
		submitter = trace.NewLookupClient(cfg)
	}

	svc := matching.NewService(repo, strategy, matching.NewNormaliser(feedCfg), pseudo, submitter, cohort)
	app := &MatchingApp{service: svc, maxRequestBody: cfg.MaxRequestBody}

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/match", app.handleMatch).Methods(http.MethodPost)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8081"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": "8081",
		}).Info("Matching Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Matching Service...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Matching Service stopped")
}

func (a *MatchingApp) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req models.MatchRequest
	body := http.MaxBytesReader(w, r.Body, a.maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	requestID := uuid.New().String()
	rows, report, err := a.service.Match(r.Context(), req.Patients)
	if err != nil {
		if errors.Is(err, matching.ErrEmptyBatch) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).WithField("request_id", requestID).Error("match request failed")
		http.Error(w, "matching failed", http.StatusInternalServerError)
		return
	}

	logger.Log.WithFields(map[string]interface{}{
		"request_id": requestID,
		"total":      report.Counts.Total,
		"single":     report.Counts.Single,
		"zero":       report.Counts.Zero,
	}).Info("match request processed")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.MatchResponse{
		Message:   "batch matched",
		RequestID: requestID,
		Counts:    report.Counts,
		Data:      rows,
	})
}
