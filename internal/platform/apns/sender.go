// Package apns provides the sender for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

const DefaultTimeout = 10 * time.Second

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	// Development targets the sandbox gateway.
	Development bool
	Timeout     time.Duration
}

// Sender pushes to one device token per request; the APNs HTTP/2 API has no
// multicast endpoint.
type Sender struct {
	client  APNSClient
	topic   string // The App Bundle ID (e.g. com.tinywide.messenger)
	timeout time.Duration
	logger  *slog.Logger
}

// NewSender creates a configured APNs sender.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Development {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newSender(client, cfg.BundleID, cfg.Timeout, logger), nil
}

func newSender(client APNSClient, topic string, timeout time.Duration, logger *slog.Logger) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		client:  client,
		topic:   topic,
		timeout: timeout,
		logger:  logger.With("component", "APNSSender"),
	}
}

// Push sends payload to each endpoint in turn. The router hands single-dispatch senders
// one endpoint per call, but longer slices work too.
func (s *Sender) Push(ctx context.Context, payload dispatch.Payload, endpoints []dispatch.Endpoint) (dispatch.Result, error) {
	p, ok := payload.(*Payload)
	if !ok || p == nil || p.Body == nil {
		return nil, fmt.Errorf("apns sender got %T: %w", payload, dispatch.ErrUnsupportedPayload)
	}

	result := dispatch.NewStatusMap()
	for _, ep := range endpoints {
		result.Set(ep.ID, s.pushOne(ctx, p, ep.ID))
	}
	return result, nil
}

func (s *Sender) pushOne(ctx context.Context, p *Payload, deviceToken string) dispatch.Status {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       s.topic,
		Payload:     p.Body,
		PushType:    p.PushType,
		Priority:    p.Priority,
		CollapseID:  p.CollapseID,
	}

	res, err := s.client.PushWithContext(ctx, notification)
	if err != nil {
		// Network/Transport Failure
		s.logger.Warn("APNs transport failed", "token", deviceToken, "err", err)
		return dispatch.TemporaryError
	}
	if res.Sent() {
		return dispatch.Success
	}

	status := reasonStatus(res)
	if status == dispatch.Error && isCredentialReason(res.Reason) {
		s.logger.Warn("APNs rejected provider credentials, check key id, team id and p8 key",
			"reason", res.Reason, "status", res.StatusCode)
		return status
	}
	s.logger.Warn("APNs rejected notification",
		"token", deviceToken, "reason", res.Reason, "status", res.StatusCode, "result", status.String())
	return status
}

func isCredentialReason(reason string) bool {
	switch reason {
	case apns2.ReasonExpiredProviderToken, apns2.ReasonInvalidProviderToken, apns2.ReasonMissingProviderToken,
		apns2.ReasonBadCertificate, apns2.ReasonBadCertificateEnvironment, apns2.ReasonForbidden:
		return true
	}
	return false
}

// reasonStatus maps an APNs rejection to a status.
// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
func reasonStatus(res *apns2.Response) dispatch.Status {
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		// Token is dead.
		return dispatch.InvalidEndpoint
	case apns2.ReasonTooManyRequests, apns2.ReasonTooManyProviderTokenUpdates, apns2.ReasonInternalServerError,
		apns2.ReasonServiceUnavailable, apns2.ReasonShutdown, apns2.ReasonIdleTimeout:
		return dispatch.TemporaryError
	case apns2.ReasonPayloadTooLarge, apns2.ReasonPayloadEmpty, apns2.ReasonBadTopic, apns2.ReasonTopicDisallowed,
		apns2.ReasonBadPriority, apns2.ReasonBadExpirationDate, apns2.ReasonBadCollapseID, apns2.ReasonMissingTopic,
		apns2.ReasonBadMessageID, apns2.ReasonDuplicateHeaders:
		return dispatch.ClientError
	}
	if isCredentialReason(res.Reason) {
		return dispatch.Error
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests, res.StatusCode >= 500:
		return dispatch.TemporaryError
	case res.StatusCode >= 400:
		return dispatch.Error
	default:
		return dispatch.Unknown
	}
}
