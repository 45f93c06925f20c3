// Package articlepush assembles the article push service: the HTTP surface on
// a go-microservice-base BaseServer, the optional article event pipeline and
// the metrics listener.
package articlepush

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-article-push-service/articlepush/config"
	"github.com/tinywideclouds/go-article-push-service/internal/api"
	"github.com/tinywideclouds/go-article-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
)

// Dependencies are the collaborators built in main.
type Dependencies struct {
	Notifier  api.Notifier
	Profiles  dispatch.ProfileStore
	TokenRule dispatch.TokenRule

	// Consumer is nil when no subscription is configured.
	Consumer messagepipeline.MessageConsumer

	AdminAuth func(http.Handler) http.Handler
	UserAuth  func(http.Handler) http.Handler

	// Health backs /healthz on the metrics listener; nil means always healthy.
	Health func(ctx context.Context) error
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.ArticleEvent]
	metricsServer   *http.Server
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Notifier == nil || deps.Profiles == nil {
		return nil, fmt.Errorf("notifier and profile store are required")
	}
	if deps.AdminAuth == nil || deps.UserAuth == nil {
		return nil, fmt.Errorf("auth middleware is required")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	w := &Wrapper{
		BaseServer: baseServer,
		logger:     logger,
	}

	// 2. Article event pipeline
	if deps.Consumer != nil {
		processor := pipeline.NewProcessor(deps.Notifier, logger)
		streamingService, err := messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			deps.Consumer,
			pipeline.ArticleEventTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
		w.pipelineService = streamingService
	}

	// 3. Metrics listener
	if cfg.MetricsAddr != "" {
		w.metricsServer = newMetricsServer(cfg.MetricsAddr, deps.Health)
	}

	// 4. Routes
	notificationAPI := api.NewNotificationAPI(deps.Notifier, logger)
	deviceAPI := api.NewDeviceAPI(deps.Profiles, deps.TokenRule, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	admin := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(deps.AdminAuth(handlerFunc)))
	}
	user := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(deps.UserAuth(handlerFunc)))
	}

	// Admin panel
	admin("POST /api/v1/notifications", notificationAPI.NotifyNewArticle)
	admin("POST /api/v1/notifications/targeted", notificationAPI.NotifyTargeted)
	admin("POST /api/v1/notifications/topic", notificationAPI.NotifyTopic)

	// Mobile app
	user("PUT /api/v1/devices", deviceAPI.Register)
	user("DELETE /api/v1/devices", deviceAPI.Unregister)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return w, nil
}

// Start runs the pipeline (when configured) and the metrics listener, then
// blocks serving HTTP.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Article event pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	} else {
		w.logger.Info("No subscription configured; article event pipeline disabled")
	}
	if w.metricsServer != nil {
		serveMetrics(w.metricsServer, w.logger)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if w.metricsServer != nil {
		if err := w.metricsServer.Shutdown(ctx); err != nil {
			w.logger.Error("Metrics server shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
