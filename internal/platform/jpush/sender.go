package jpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-router/internal/batch"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// Sender pushes one payload to many registration ids per call. JPush only accepts
// the request synchronously; delivery is confirmed later through the report API, so
// accepted endpoints come back Deferred with the vendor message id.
type Sender struct {
	transport Transport
	creds     Credentials
	opts      options
	logger    *slog.Logger
}

func NewSender(transport Transport, creds Credentials, logger *slog.Logger, opts ...Option) *Sender {
	return &Sender{
		transport: transport,
		creds:     creds,
		opts:      applyOptions(opts),
		logger:    logger.With("component", "JPushSender"),
	}
}

func (s *Sender) MaxEndpoints() int {
	return s.opts.maxEndpoints
}

type audience struct {
	RegistrationIDs []string `json:"registration_id,omitempty"`
	Tags            []string `json:"tag,omitempty"`
}

type pushRequest struct {
	Platform     string        `json:"platform"`
	Audience     any           `json:"audience"`
	Notification *Notification `json:"notification,omitempty"`
	Message      *InAppMessage `json:"message,omitempty"`
	Options      *Options      `json:"options,omitempty"`
}

func newPushRequest(p *Payload, aud any) pushRequest {
	return pushRequest{
		Platform:     "all",
		Audience:     aud,
		Notification: p.Notification,
		Message:      p.Message,
		Options:      p.Options,
	}
}

// Push sends payload to endpoints in chunks of at most MaxEndpoints. A repeated
// registration id is sent once and every copy gets its status. Vendor and
// transport failures are reported per endpoint; the error is only set for payloads
// this sender cannot encode.
func (s *Sender) Push(ctx context.Context, payload dispatch.Payload, endpoints []dispatch.Endpoint) (dispatch.Result, error) {
	p, ok := payload.(*Payload)
	if !ok || p == nil {
		return nil, fmt.Errorf("jpush sender got %T: %w", payload, dispatch.ErrUnsupportedPayload)
	}

	result := dispatch.NewStatusMap()

	if p.IsBroadcast() {
		var aud any = "all"
		if p.Tag != "" {
			aud = audience{Tags: []string{p.Tag}}
		}
		body, err := json.Marshal(newPushRequest(p, aud))
		if err != nil {
			return nil, fmt.Errorf("jpush encode: %v: %w", err, dispatch.ErrUnsupportedPayload)
		}
		status, _ := s.send(ctx, body, 0)
		// Accepted broadcasts have no per-device report to wait for.
		if status == dispatch.Deferred {
			status = dispatch.Success
		}
		result.SetBroadcast(status)
		return result, nil
	}

	type call struct {
		endpoints []dispatch.Endpoint
		body      []byte
	}
	chunks := batch.Split(dispatch.DistinctIDs(endpoints), s.opts.maxEndpoints)
	calls := make([]call, len(chunks))
	for i, chunk := range chunks {
		ids := make([]string, len(chunk))
		for j, ep := range chunk {
			ids[j] = ep.ID
		}
		body, err := json.Marshal(newPushRequest(p, audience{RegistrationIDs: ids}))
		if err != nil {
			return nil, fmt.Errorf("jpush encode: %v: %w", err, dispatch.ErrUnsupportedPayload)
		}
		calls[i] = call{endpoints: chunk, body: body}
	}

	partials := batch.Run(ctx, calls, s.opts.concurrency, func(ctx context.Context, c call) *dispatch.StatusMap {
		status, msgID := s.send(ctx, c.body, len(c.endpoints))
		part := dispatch.NewStatusMap()
		for _, ep := range c.endpoints {
			if status == dispatch.Deferred {
				part.SetDeferred(ep.ID, msgID)
				continue
			}
			part.Set(ep.ID, status)
		}
		return part
	})
	for _, part := range partials {
		result.Merge(part)
	}
	return result, nil
}

// send performs one vendor call and classifies it. size is the number of addressed
// endpoints, zero for broadcasts.
func (s *Sender) send(ctx context.Context, body []byte, size int) (dispatch.Status, string) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	log := s.logger.With("endpoints", size)

	resp, err := s.transport.Post(ctx, s.opts.pushURL, s.creds.header(), body)
	if err == nil && resp == nil {
		err = errors.New("transport returned no response")
	}
	if err == nil && isSuccess(resp.StatusCode) {
		var pr pushResponse
		if err := json.Unmarshal(resp.Body, &pr); err != nil || pr.MsgID == "" {
			log.Warn("JPush accepted push without a usable msg_id", "status", resp.StatusCode)
			return dispatch.Unknown, ""
		}
		return dispatch.Deferred, string(pr.MsgID)
	}

	status, verr := triage(resp, err)
	switch {
	case err != nil:
		log.Warn("JPush transport failed", "err", err)
	case isAuthFailure(resp.StatusCode):
		log.Warn("JPush rejected credentials, check app key and master secret", "status", resp.StatusCode)
	default:
		args := []any{"status", resp.StatusCode, "result", status.String()}
		if verr != nil {
			args = append(args, "vendorCode", verr.Code, "vendorMessage", verr.Message)
		}
		log.Warn("JPush rejected push", args...)
	}
	return status, ""
}
