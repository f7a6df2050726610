// Package web sends Web Push (VAPID) notifications. Endpoint ids are JSON-serialized
// push subscriptions as produced by PushSubscription.toJSON() in the browser.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-router/notificationservice/config"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

const DefaultTimeout = 10 * time.Second

type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client
}

func NewSender(cfg config.VapidConfig, logger *slog.Logger) *Sender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		timeout:    timeout,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: &http.Client{},
	}
}

// ParseSubscription decodes an endpoint id into a push subscription.
func ParseSubscription(id string) (*webpush.Subscription, error) {
	var s webpush.Subscription
	if err := json.Unmarshal([]byte(id), &s); err != nil {
		return nil, fmt.Errorf("malformed subscription: %w", err)
	}
	if s.Endpoint == "" || s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return nil, fmt.Errorf("malformed subscription: missing endpoint or keys")
	}
	return &s, nil
}

func (s *Sender) Push(ctx context.Context, payload dispatch.Payload, endpoints []dispatch.Endpoint) (dispatch.Result, error) {
	p, ok := payload.(*Payload)
	if !ok || p == nil {
		return nil, fmt.Errorf("web sender got %T: %w", payload, dispatch.ErrUnsupportedPayload)
	}

	result := dispatch.NewStatusMap()
	for _, ep := range endpoints {
		result.Set(ep.ID, s.pushOne(ctx, p, ep.ID))
	}
	return result, nil
}

func (s *Sender) pushOne(ctx context.Context, p *Payload, id string) dispatch.Status {
	sub, err := ParseSubscription(id)
	if err != nil {
		// Nothing we store for this endpoint can ever be delivered to.
		s.logger.Warn("WebPush subscription unusable", "err", err)
		return dispatch.InvalidEndpoint
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, p.Body, sub, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             p.TTL,
		Urgency:         p.Urgency,
		Topic:           p.Topic,
		HTTPClient:      s.httpClient,
	})
	if err != nil {
		// Transport error (DNS, Timeout) or local encryption failure
		s.logger.Warn("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return dispatch.TemporaryError
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	status := responseStatus(resp.StatusCode)
	switch {
	case status == dispatch.Success:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		s.logger.Warn("WebPush rejected VAPID credentials, check the key pair and subscriber", "status", resp.StatusCode)
	default:
		s.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint, "result", status.String())
	}
	return status
}

func responseStatus(code int) dispatch.Status {
	switch {
	case code >= 200 && code < 300:
		return dispatch.Success
	case code == http.StatusNotFound, code == http.StatusGone:
		// Subscription expired or was revoked.
		return dispatch.InvalidEndpoint
	case code == http.StatusTooManyRequests, code >= 500:
		return dispatch.TemporaryError
	case code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge:
		return dispatch.ClientError
	case code >= 400:
		return dispatch.Error
	default:
		return dispatch.Unknown
	}
}
