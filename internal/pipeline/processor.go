package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-router/internal/router"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// PayloadBuilder turns a platform-neutral message into the payload of one platform.
type PayloadBuilder func(dispatch.Message) (dispatch.Payload, error)

// Adapt wraps a platform package's typed BuildPayload as a PayloadBuilder.
func Adapt[P dispatch.Payload](build func(dispatch.Message) (P, error)) PayloadBuilder {
	return func(m dispatch.Message) (dispatch.Payload, error) {
		p, err := build(m)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Dispatcher is the routing step the processor hands resolved endpoints to.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoints []dispatch.Endpoint, payloads dispatch.Payloads) (*router.Outcome, error)
}

// Recorder receives the metrics of each processed request.
type Recorder interface {
	ObserveOutcome(outcome *router.Outcome, elapsed time.Duration, dispatchErr error)
	ObserveRequest(err error)
	ObserveUnregistered(ep dispatch.Endpoint)
}

type endpointKey struct {
	platform string
	id       string
}

// NewProcessor creates the stage that fans a request out to the router.
//
// Recipients are resolved through the store, explicit endpoints are appended and the
// messages are turned into payloads with the builder registered for their platform.
// Delivery outcomes never fail the message: only a store lookup failure is returned,
// so the subscription can redeliver. Endpoints the platform reports as invalid are
// removed from the store.
func NewProcessor(
	dispatcher Dispatcher,
	builders map[string]PayloadBuilder,
	store dispatch.EndpointStore,
	recorder Recorder,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.Request] {
	logger = logger.With("component", "processor")

	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.Request) (err error) {
		procLogger := logger.With(
			"request_id", request.RequestID,
			"pubsub_msg_id", original.ID,
		)
		if recorder != nil {
			defer func() { recorder.ObserveRequest(err) }()
		}

		endpoints, owners, err := resolveEndpoints(ctx, store, request, procLogger)
		if err != nil {
			procLogger.Error("Failed to fetch endpoints", "err", err)
			return err
		}

		payloads := buildPayloads(request.Messages, builders, procLogger)

		start := time.Now()
		outcome, dispatchErr := dispatcher.Dispatch(ctx, endpoints, payloads)
		if recorder != nil {
			recorder.ObserveOutcome(outcome, time.Since(start), dispatchErr)
		}
		if dispatchErr != nil {
			// A sender refused a payload it was built for. Redelivery cannot fix that.
			procLogger.Error("Dispatch reported sender errors", "err", dispatchErr)
		}
		if outcome == nil {
			return nil
		}

		unregisterInvalid(ctx, store, outcome.EndpointsByStatus(dispatch.InvalidEndpoint), owners, recorder, procLogger)
		logSummary(procLogger, outcome)
		return nil
	}
}

// resolveEndpoints fetches the endpoints of every recipient and appends the explicit
// ones. An endpoint reachable twice is dispatched once. owners records which users an
// endpoint was fetched for.
func resolveEndpoints(
	ctx context.Context,
	store dispatch.EndpointStore,
	request *dispatch.Request,
	logger *slog.Logger,
) ([]dispatch.Endpoint, map[endpointKey][]urn.URN, error) {
	var endpoints []dispatch.Endpoint
	owners := make(map[endpointKey][]urn.URN)
	seen := make(map[endpointKey]bool)

	add := func(ep dispatch.Endpoint) {
		k := endpointKey{platform: ep.Platform, id: ep.ID}
		if seen[k] {
			return
		}
		seen[k] = true
		endpoints = append(endpoints, ep)
	}

	for _, recipient := range request.Recipients {
		user, err := urn.Parse(recipient)
		if err != nil {
			logger.Warn("Skipping invalid recipient", "recipient", recipient, "err", err)
			continue
		}
		eps, err := store.Fetch(ctx, user)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch endpoints for %s: %w", user, err)
		}
		if len(eps) == 0 {
			logger.Info("No endpoints registered for recipient", "recipient", recipient)
		}
		for _, ep := range eps {
			k := endpointKey{platform: ep.Platform, id: ep.ID}
			owners[k] = append(owners[k], user)
			add(ep)
		}
	}
	for _, ep := range request.Endpoints {
		add(ep)
	}
	return endpoints, owners, nil
}

// buildPayloads builds one payload per (platform, payload type). A platform without a
// builder or a message that fails to build leaves the pairing absent, so its endpoints
// are reported NotHandled.
func buildPayloads(messages map[string]map[string]dispatch.Message, builders map[string]PayloadBuilder, logger *slog.Logger) dispatch.Payloads {
	payloads := dispatch.Payloads{}
	for platform, byType := range messages {
		build, ok := builders[platform]
		if !ok {
			logger.Warn("No payload builder for platform", "platform", platform)
			continue
		}
		for payloadType, msg := range byType {
			p, err := build(msg)
			if err != nil {
				logger.Warn("Failed to build payload", "platform", platform, "payload_type", payloadType, "err", err)
				continue
			}
			payloads.Set(platform, payloadType, p)
		}
	}
	return payloads
}

func unregisterInvalid(
	ctx context.Context,
	store dispatch.EndpointStore,
	invalid []dispatch.Endpoint,
	owners map[endpointKey][]urn.URN,
	recorder Recorder,
	logger *slog.Logger,
) {
	if len(invalid) == 0 {
		return
	}
	logger.Info("Cleaning up invalid endpoints", "count", len(invalid))
	for _, ep := range invalid {
		for _, user := range owners[endpointKey{platform: ep.Platform, id: ep.ID}] {
			if err := store.Unregister(ctx, user, ep); err != nil {
				logger.Warn("Failed to delete endpoint", "platform", ep.Platform, "user", user.String(), "err", err)
				continue
			}
			if recorder != nil {
				recorder.ObserveUnregistered(ep)
			}
		}
	}
}

func logSummary(logger *slog.Logger, outcome *router.Outcome) {
	attrs := []any{"endpoints", outcome.Len()}
	for _, s := range dispatch.AllStatuses() {
		if n := len(outcome.EndpointsByStatus(s)); n > 0 {
			attrs = append(attrs, s.String(), n)
		}
	}
	for status, byPlatform := range outcome.BroadcastStatuses() {
		for platform, byType := range byPlatform {
			for payloadType := range byType {
				attrs = append(attrs, "broadcast."+platform+"."+payloadType, status.String())
			}
		}
	}
	logger.Info("Request dispatched", attrs...)
}
