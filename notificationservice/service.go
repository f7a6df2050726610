// Package notificationservice assembles the push router service: the ingest pipeline,
// the endpoint and report APIs and the metrics endpoint on one base server.
package notificationservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-router/internal/api"
	"github.com/tinywideclouds/go-push-router/internal/metrics"
	"github.com/tinywideclouds/go-push-router/internal/pipeline"
	"github.com/tinywideclouds/go-push-router/notificationservice/config"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// Components are the domain parts the service is assembled from.
type Components struct {
	Dispatcher pipeline.Dispatcher
	Builders   map[string]pipeline.PayloadBuilder
	Store      dispatch.EndpointStore
	// Validators lists the platforms endpoints may be registered for.
	Validators map[string]api.EndpointValidator
	// Reports is optional; without it the report route is not mounted.
	Reports         api.ReportResolver
	ReportsPlatform string
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.Request]
	logger          *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	components Components,
	registry *prometheus.Registry,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {
	if components.Dispatcher == nil || components.Store == nil {
		return nil, errors.New("dispatcher and endpoint store are required")
	}

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	dispatchMetrics, err := metrics.NewDispatchMetrics(registry)
	if err != nil {
		return nil, err
	}

	processor := pipeline.NewProcessor(
		components.Dispatcher,
		components.Builders,
		components.Store,
		dispatchMetrics,
		logger,
	)

	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.DispatchRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	endpointAPI := api.NewEndpointAPI(components.Store, components.Validators, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/endpoints", endpointAPI.Register)
	handle("POST /api/v1/endpoints/unregister", endpointAPI.Unregister)

	if components.Reports != nil {
		reportAPI := api.NewReportAPI(components.Reports, components.ReportsPlatform, logger)
		handle("POST /api/v1/reports/"+components.ReportsPlatform, reportAPI.Resolve)
	}

	// CORS preflight for the API namespace.
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
