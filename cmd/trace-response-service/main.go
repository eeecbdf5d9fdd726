package main

import (
	"context"
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
	"github.com/ldp-health/platform/pkg/trace"
)

type ResponseApp struct {
	service *trace.ResponseService
}

// fallbackPublisher routes events that the primary topic rejects onto the
// dead-letter topic so a broker hiccup never loses a completion.
type fallbackPublisher struct {
	primary *kafka.Producer
	dlq     *kafka.Producer
}

func (p *fallbackPublisher) PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error {
	err := p.primary.PublishEvent(ctx, eventType, source, data)
	if err == nil {
		return nil
	}
	if p.dlq != nil {
		if dlqErr := p.dlq.PublishEvent(ctx, eventType, source, data); dlqErr == nil {
			logger.Log.WithError(err).Warn("event routed to dead-letter topic")
			return nil
		}
	}
	return err
}

func main() {
	logger.Init()
	cfg := config.Load()

	if cfg.LookupBaseURL == "" {
		logger.Log.Fatal("LOOKUP_BASE_URL must be set for the trace response service")
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	statusRepo := trace.NewStatusRepository(db)
	if err := statusRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate trace status table")
	}

	producer := kafka.NewProducer(cfg.TraceCompletedTopic)
	defer producer.Close()

	publisher := &fallbackPublisher{primary: producer}
	if cfg.TraceDLQTopic != "" {
		publisher.dlq = kafka.NewProducer(cfg.TraceDLQTopic)
		defer publisher.dlq.Close()
	}

	cache := trace.NewRedisBatchCache(database.GetRedis(), cfg.TraceBatchCacheTTL)
	defer database.CloseRedis()

	client := trace.NewLookupClient(cfg)
	app := &ResponseApp{service: trace.NewResponseService(client, statusRepo, publisher, cache)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.pollLoop(ctx, cfg.TracePollInterval)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8083"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":     cfg.ServerHost,
			"port":     "8083",
			"interval": cfg.TracePollInterval.String(),
		}).Info("Trace Response Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Trace Response Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Trace Response Service stopped")
}

func (a *ResponseApp) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *ResponseApp) pollOnce(ctx context.Context) {
	if _, err := a.service.Poll(ctx); err != nil {
		logger.Log.WithError(err).Error("trace response poll failed")
	}
}
