package jpush

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/tinywideclouds/go-push-router/internal/batch"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// Report API per-registration codes.
const (
	reportDelivered     = 0
	reportNotYet        = 1
	reportNotRegistered = 2
	reportNotTarget     = 3
	reportSystemError   = 4
)

// Resolver turns Deferred endpoints into final statuses by querying the JPush report API.
type Resolver struct {
	transport Transport
	creds     Credentials
	opts      options
	logger    *slog.Logger
}

func NewResolver(transport Transport, creds Credentials, logger *slog.Logger, opts ...Option) *Resolver {
	return &Resolver{
		transport: transport,
		creds:     creds,
		opts:      applyOptions(opts),
		logger:    logger.With("component", "JPushResolver"),
	}
}

type reportRequest struct {
	MsgID           json.Number `json:"msg_id"`
	RegistrationIDs []string    `json:"registration_ids"`
}

type reportEntry struct {
	Status *int `json:"status"`
}

func reportStatus(code int) dispatch.Status {
	switch code {
	case reportDelivered:
		return dispatch.Success
	case reportNotYet:
		return dispatch.Unknown
	case reportNotRegistered:
		return dispatch.InvalidEndpoint
	case reportNotTarget:
		return dispatch.Error
	case reportSystemError:
		return dispatch.TemporaryError
	default:
		return dispatch.Error
	}
}

// Resolve asks for the delivery state of messageID on every endpoint. Endpoints the
// report does not mention come back Unknown.
func (r *Resolver) Resolve(ctx context.Context, messageID string, endpoints []dispatch.Endpoint) *dispatch.StatusMap {
	result := dispatch.NewStatusMap()
	if len(endpoints) == 0 {
		return result
	}

	log := r.logger.With("msgID", messageID)
	if _, err := strconv.ParseUint(messageID, 10, 64); err != nil {
		log.Warn("Cannot resolve non-numeric JPush message id", "endpoints", len(endpoints))
		for _, ep := range endpoints {
			result.Set(ep.ID, dispatch.Unknown)
		}
		return result
	}

	partials := batch.Run(ctx, batch.Split(endpoints, r.opts.maxEndpoints), r.opts.concurrency,
		func(ctx context.Context, chunk []dispatch.Endpoint) *dispatch.StatusMap {
			return r.resolveChunk(ctx, log, messageID, chunk)
		})
	for _, part := range partials {
		result.Merge(part)
	}
	return result
}

func (r *Resolver) resolveChunk(ctx context.Context, log *slog.Logger, messageID string, chunk []dispatch.Endpoint) *dispatch.StatusMap {
	part := dispatch.NewStatusMap()
	fill := func(status dispatch.Status) *dispatch.StatusMap {
		for _, ep := range chunk {
			part.Set(ep.ID, status)
		}
		return part
	}

	ids := make([]string, len(chunk))
	for i, ep := range chunk {
		ids[i] = ep.ID
	}
	body, err := json.Marshal(reportRequest{MsgID: json.Number(messageID), RegistrationIDs: ids})
	if err != nil {
		log.Warn("Failed to encode JPush report request", "err", err)
		return fill(dispatch.Unknown)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	resp, err := r.transport.Post(ctx, r.opts.reportURL, r.creds.header(), body)
	if err == nil && resp == nil {
		err = errors.New("transport returned no response")
	}
	if err != nil || !isSuccess(resp.StatusCode) {
		status, verr := triage(resp, err)
		switch {
		case err != nil:
			log.Warn("JPush report transport failed", "endpoints", len(chunk), "err", err)
		case isAuthFailure(resp.StatusCode):
			log.Warn("JPush rejected report credentials, check app key and master secret", "status", resp.StatusCode)
		default:
			args := []any{"status", resp.StatusCode, "endpoints", len(chunk)}
			if verr != nil {
				args = append(args, "vendorCode", verr.Code, "vendorMessage", verr.Message)
			}
			log.Warn("JPush report call failed", args...)
		}
		return fill(status)
	}

	var report map[string]reportEntry
	if err := json.Unmarshal(resp.Body, &report); err != nil {
		log.Warn("Unparseable JPush report", "err", err)
		return fill(dispatch.Unknown)
	}

	for _, ep := range chunk {
		entry, ok := report[ep.ID]
		if !ok || entry.Status == nil {
			part.Set(ep.ID, dispatch.Unknown)
			continue
		}
		status := reportStatus(*entry.Status)
		if status != dispatch.Success {
			log.Warn("JPush reported undelivered endpoint", "endpoint", ep.ID, "code", *entry.Status, "result", status.String())
		}
		part.Set(ep.ID, status)
	}
	return part
}

// ResolveStatuses returns a copy of statuses whose Deferred bucket, for this resolver's
// platform, has been replaced by report results. Deferred endpoints without a message id
// cannot be resolved and are filed as Unknown. Everything else is carried over.
func (r *Resolver) ResolveStatuses(ctx context.Context, statuses *dispatch.EndpointStatuses) *dispatch.EndpointStatuses {
	out := dispatch.NewEndpointStatuses()
	for _, s := range dispatch.AllStatuses() {
		if s != dispatch.Deferred {
			out.Add(s, statuses.Endpoints(s)...)
		}
	}

	var order []string
	byMessage := make(map[string][]dispatch.Endpoint)
	for _, ep := range statuses.Endpoints(dispatch.Deferred) {
		switch {
		case ep.Platform != r.opts.platform:
			out.Add(dispatch.Deferred, ep)
		case ep.MessageID == "":
			out.Add(dispatch.Unknown, ep)
		default:
			if _, seen := byMessage[ep.MessageID]; !seen {
				order = append(order, ep.MessageID)
			}
			byMessage[ep.MessageID] = append(byMessage[ep.MessageID], ep)
		}
	}

	for _, id := range order {
		eps := byMessage[id]
		dispatch.FoldInto(out, r.Resolve(ctx, id, eps), eps)
	}
	return out
}
