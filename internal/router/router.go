// Package router fans a set of endpoints and per-platform payloads out to the
// registered platform senders and folds their answers into one Outcome.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hashicorp/go-multierror"
	"github.com/tinywideclouds/go-push-router/internal/batch"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/tinywideclouds/go-push-router/internal/router")

type Option func(*Router)

// WithConcurrency bounds how many platforms are dispatched at the same time.
func WithConcurrency(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// Router is stateless between calls; every Dispatch builds its own Outcome, so one
// Router can serve concurrent callers.
type Router struct {
	registry    *Registry
	concurrency int
	logger      *slog.Logger
}

func New(registry *Registry, logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		registry:    registry,
		concurrency: batch.DefaultConcurrency,
		logger:      logger.With("component", "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type groupKey struct {
	platform    string
	payloadType string
}

// groups holds endpoints by (platform, payload type) in first-seen order.
type groups struct {
	order  []groupKey
	byKey  map[groupKey][]dispatch.Endpoint
	byPlat map[string][]groupKey
}

func groupEndpoints(endpoints []dispatch.Endpoint) *groups {
	g := &groups{
		byKey:  make(map[groupKey][]dispatch.Endpoint),
		byPlat: make(map[string][]groupKey),
	}
	for _, ep := range endpoints {
		key := groupKey{platform: ep.Platform, payloadType: ep.PayloadType}
		if _, seen := g.byKey[key]; !seen {
			g.order = append(g.order, key)
			g.byPlat[key.platform] = append(g.byPlat[key.platform], key)
		}
		g.byKey[key] = append(g.byKey[key], ep)
	}
	return g
}

// partial is what one platform task hands back.
type partial struct {
	statuses   *dispatch.EndpointStatuses
	broadcasts *dispatch.BroadcastStatuses
	claimed    []groupKey
	errs       []error
}

func newPartial() *partial {
	return &partial{
		statuses:   dispatch.NewEndpointStatuses(),
		broadcasts: dispatch.NewBroadcastStatuses(),
	}
}

// Dispatch sends payloads to endpoints and reports where every endpoint and broadcast
// ended up. The Outcome always accounts for each input endpoint exactly once. The error
// is non-nil only when a sender rejected a call outright (for example
// dispatch.ErrUnsupportedPayload); the affected endpoints are filed as NotHandled.
func (r *Router) Dispatch(ctx context.Context, endpoints []dispatch.Endpoint, payloads dispatch.Payloads) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "router.Dispatch", trace.WithAttributes(
		attribute.Int("endpoints", len(endpoints)),
		attribute.Int("platforms", len(payloads)),
	))
	defer span.End()

	grouped := groupEndpoints(endpoints)

	platforms := make([]string, 0, len(payloads))
	for p := range payloads {
		platforms = append(platforms, p)
	}
	slices.Sort(platforms)

	partials := make([]*partial, len(platforms))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, platform := range platforms {
		g.Go(func() error {
			partials[i] = r.dispatchPlatform(ctx, platform, payloads[platform], grouped)
			return nil
		})
	}
	_ = g.Wait()

	outcome := newOutcome()
	claimed := make(map[groupKey]bool)
	var merr *multierror.Error
	for _, p := range partials {
		outcome.statuses.Merge(p.statuses)
		outcome.broadcasts.Merge(p.broadcasts)
		for _, key := range p.claimed {
			claimed[key] = true
		}
		for _, err := range p.errs {
			merr = multierror.Append(merr, err)
		}
	}

	for _, key := range grouped.order {
		if claimed[key] {
			continue
		}
		eps := grouped.byKey[key]
		r.logger.Warn("No payload for endpoint group, marking not handled",
			"platform", key.platform, "payloadType", key.payloadType, "count", len(eps))
		outcome.statuses.Add(dispatch.NotHandled, eps...)
	}

	err := merr.ErrorOrNil()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sender rejected dispatch")
	}
	return outcome, err
}

func (r *Router) dispatchPlatform(ctx context.Context, platform string, byType map[string]dispatch.Payload, grouped *groups) *partial {
	out := newPartial()
	keys := grouped.byPlat[platform]

	payloadTypes := make([]string, 0, len(byType))
	hasBroadcast := false
	for payloadType, payload := range byType {
		if payload == nil {
			continue
		}
		payloadTypes = append(payloadTypes, payloadType)
		if payload.IsBroadcast() {
			hasBroadcast = true
		}
	}
	slices.Sort(payloadTypes)

	if len(keys) == 0 && !hasBroadcast {
		return out
	}

	log := r.logger.With("platform", platform)

	sender, ok := r.registry.Lookup(platform)
	if !ok {
		log.Warn("No sender registered for platform, marking not handled", "endpointGroups", len(keys))
		for _, key := range keys {
			out.statuses.Add(dispatch.NotHandled, grouped.byKey[key]...)
			out.claimed = append(out.claimed, key)
		}
		for _, payloadType := range payloadTypes {
			if payload := byType[payloadType]; payload.IsBroadcast() {
				out.broadcasts.Add(dispatch.NotHandled, platform, payloadType, payload)
			}
		}
		return out
	}

	if err := ctx.Err(); err != nil {
		log.Warn("Context done before platform dispatch started", "err", err)
		for _, payloadType := range payloadTypes {
			payload := byType[payloadType]
			key := groupKey{platform: platform, payloadType: payloadType}
			if payload.IsBroadcast() {
				out.broadcasts.Add(dispatch.TemporaryError, platform, payloadType, payload)
				continue
			}
			if eps, ok := grouped.byKey[key]; ok {
				out.statuses.Add(dispatch.TemporaryError, eps...)
				out.claimed = append(out.claimed, key)
			}
		}
		return out
	}

	_, isMulti := sender.(dispatch.MultiSender)

	for _, payloadType := range payloadTypes {
		payload := byType[payloadType]
		key := groupKey{platform: platform, payloadType: payloadType}
		gLog := log.With("payloadType", payloadType)

		if payload.IsBroadcast() {
			status, err := r.pushBroadcast(ctx, sender, payload)
			if err != nil {
				gLog.Warn("Sender rejected broadcast", "err", err)
				out.errs = append(out.errs, fmt.Errorf("platform %s payload type %s: %w", platform, payloadType, err))
			}
			out.broadcasts.Add(status, platform, payloadType, payload)
			continue
		}

		eps, ok := grouped.byKey[key]
		if !ok {
			continue
		}
		out.claimed = append(out.claimed, key)

		var err error
		if isMulti {
			err = r.pushMulti(ctx, sender, payload, eps, out.statuses)
		} else {
			err = r.pushEach(ctx, sender, payload, eps, out.statuses)
		}
		if err != nil {
			gLog.Warn("Sender rejected dispatch, marking group not handled", "err", err)
			out.errs = append(out.errs, fmt.Errorf("platform %s payload type %s: %w", platform, payloadType, err))
		}
	}
	return out
}

func (r *Router) pushBroadcast(ctx context.Context, sender dispatch.Sender, payload dispatch.Payload) (dispatch.Status, error) {
	res, err := sender.Push(ctx, payload, []dispatch.Endpoint{})
	if err == nil && res == nil {
		err = ErrNoResult
	}
	if err != nil {
		return dispatch.NotHandled, err
	}
	if br, ok := res.(dispatch.BroadcastReporter); ok {
		return br.BroadcastStatus(), nil
	}
	return dispatch.Unknown, nil
}

func (r *Router) pushMulti(ctx context.Context, sender dispatch.Sender, payload dispatch.Payload, eps []dispatch.Endpoint, dst *dispatch.EndpointStatuses) error {
	res, err := sender.Push(ctx, payload, slices.Clone(eps))
	if err == nil && res == nil {
		err = ErrNoResult
	}
	if err != nil {
		dst.Add(dispatch.NotHandled, eps...)
		return err
	}
	dispatch.FoldInto(dst, res, eps)
	return nil
}

// pushEach sends one call per endpoint. The first rejection stops the group; the
// rejected endpoint and everything after it are filed as NotHandled.
func (r *Router) pushEach(ctx context.Context, sender dispatch.Sender, payload dispatch.Payload, eps []dispatch.Endpoint, dst *dispatch.EndpointStatuses) error {
	for i, ep := range eps {
		single := []dispatch.Endpoint{ep}
		res, err := sender.Push(ctx, payload, single)
		if err == nil && res == nil {
			err = ErrNoResult
		}
		if err != nil {
			dst.Add(dispatch.NotHandled, eps[i:]...)
			return err
		}
		dispatch.FoldInto(dst, res, single)
	}
	return nil
}
