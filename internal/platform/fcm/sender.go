// Package fcm sends notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-router/internal/batch"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

const (
	// MaxMulticastTokens is the FCM limit of tokens per multicast call.
	MaxMulticastTokens = 500
	DefaultTimeout     = 15 * time.Second
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it; tests mock it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Option func(*Sender)

func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Sender) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Sender is a multi-endpoint sender that also broadcasts to topics.
type Sender struct {
	client      MessagingClient
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

func NewSender(client MessagingClient, logger *slog.Logger, opts ...Option) *Sender {
	s := &Sender{
		client:      client,
		timeout:     DefaultTimeout,
		concurrency: batch.DefaultConcurrency,
		logger:      logger.With("component", "FCMSender"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) MaxEndpoints() int {
	return MaxMulticastTokens
}

func (s *Sender) Push(ctx context.Context, payload dispatch.Payload, endpoints []dispatch.Endpoint) (dispatch.Result, error) {
	p, ok := payload.(*Payload)
	if !ok || p == nil {
		return nil, fmt.Errorf("fcm sender got %T: %w", payload, dispatch.ErrUnsupportedPayload)
	}

	result := dispatch.NewStatusMap()
	if p.IsBroadcast() {
		result.SetBroadcast(s.broadcast(ctx, p))
		return result, nil
	}

	parts := batch.Run(ctx, batch.Split(dispatch.DistinctIDs(endpoints), MaxMulticastTokens), s.concurrency,
		func(ctx context.Context, chunk []dispatch.Endpoint) *dispatch.StatusMap {
			return s.sendChunk(ctx, p, chunk)
		})
	for _, part := range parts {
		result.Merge(part)
	}
	return result, nil
}

func (s *Sender) broadcast(ctx context.Context, p *Payload) dispatch.Status {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.Send(ctx, &messaging.Message{
		Topic:        p.Topic,
		Data:         p.Data,
		Notification: p.Notification,
		Android:      p.Android,
		Webpush:      p.Webpush,
		APNS:         p.APNS,
	})
	if err != nil {
		status := callErrorStatus(err)
		s.logger.Warn("FCM topic send failed", "topic", p.Topic, "result", status.String(), "err", err)
		return status
	}
	return dispatch.Success
}

func (s *Sender) sendChunk(ctx context.Context, p *Payload, chunk []dispatch.Endpoint) *dispatch.StatusMap {
	part := dispatch.NewStatusMap()

	tokens := make([]string, len(chunk))
	for i, ep := range chunk {
		tokens[i] = ep.ID
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	br, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Data:         p.Data,
		Notification: p.Notification,
		Android:      p.Android,
		Webpush:      p.Webpush,
		APNS:         p.APNS,
	})
	if err != nil {
		status := callErrorStatus(err)
		s.logger.Warn("FCM rejected batch", "tokens", len(tokens), "result", status.String(), "err", err)
		for _, ep := range chunk {
			part.Set(ep.ID, status)
		}
		return part
	}

	// Responses are in token order. Tokens without a response stay Unknown.
	for idx, resp := range br.Responses {
		if idx >= len(chunk) {
			break
		}
		ep := chunk[idx]
		if resp.Success {
			part.Set(ep.ID, dispatch.Success)
			continue
		}
		status := tokenErrorStatus(resp.Error)
		s.logger.Warn("FCM rejected token", "token", ep.ID, "result", status.String(), "err", resp.Error)
		part.Set(ep.ID, status)
	}
	return part
}

// callErrorStatus classifies a failure of the whole call.
func callErrorStatus(err error) dispatch.Status {
	switch {
	case messaging.IsInvalidArgument(err):
		// The message itself was rejected; resending it unchanged cannot succeed.
		return dispatch.ClientError
	case messaging.IsThirdPartyAuthError(err), messaging.IsSenderIDMismatch(err):
		return dispatch.Error
	default:
		// Unavailable, internal, quota and network failures.
		return dispatch.TemporaryError
	}
}

// tokenErrorStatus classifies the failure of one token inside a batch.
func tokenErrorStatus(err error) dispatch.Status {
	switch {
	case err == nil:
		return dispatch.Unknown
	case messaging.IsUnregistered(err), messaging.IsInvalidArgument(err), messaging.IsSenderIDMismatch(err):
		return dispatch.InvalidEndpoint
	case messaging.IsUnavailable(err), messaging.IsInternal(err), messaging.IsQuotaExceeded(err):
		return dispatch.TemporaryError
	default:
		return dispatch.Error
	}
}
