// Package chat broadcasts notifications to chat and webhook services (Slack, Telegram,
// Discord, generic webhooks, ...) through shoutrrr service URLs.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

const DefaultTimeout = 10 * time.Second

// Payload is a chat message. Chat services have no per-device addressing, so every
// payload is a broadcast.
type Payload struct {
	Title   string
	Message string
}

func (p *Payload) IsBroadcast() bool {
	return true
}

func BuildPayload(m dispatch.Message) (*Payload, error) {
	message := m.Body
	if message == "" {
		message = m.Title
	}
	if message == "" {
		return nil, errors.New("chat: message has neither title nor body")
	}
	return &Payload{Title: m.Title, Message: message}, nil
}

// Notifier is the part of the shoutrrr router we use.
type Notifier interface {
	Send(message string, params *types.Params) []error
}

type Sender struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewSender builds one shoutrrr router over all urls. Bad URLs fail here, at startup.
func NewSender(urls []string, timeout time.Duration, logger *slog.Logger) (*Sender, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one chat service URL is required")
	}
	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat sender: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	router.Timeout = timeout
	router.SetLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return newSender(router, logger), nil
}

func newSender(notifier Notifier, logger *slog.Logger) *Sender {
	return &Sender{
		notifier: notifier,
		logger:   logger.With("component", "ChatSender"),
	}
}

// Push delivers a broadcast to every configured service. Endpoints are never attempted
// and report Unknown. The broadcast fails if any service fails.
func (s *Sender) Push(ctx context.Context, payload dispatch.Payload, _ []dispatch.Endpoint) (dispatch.Result, error) {
	p, ok := payload.(*Payload)
	if !ok || p == nil {
		return nil, fmt.Errorf("chat sender got %T: %w", payload, dispatch.ErrUnsupportedPayload)
	}

	result := dispatch.NewStatusMap()
	// shoutrrr applies its own timeout per service and takes no context.
	if err := ctx.Err(); err != nil {
		s.logger.Warn("Context done before chat broadcast", "err", err)
		result.SetBroadcast(dispatch.TemporaryError)
		return result, nil
	}

	params := types.Params{}
	if p.Title != "" {
		params.SetTitle(p.Title)
	}

	failed := 0
	for i, err := range s.notifier.Send(p.Message, &params) {
		if err != nil {
			failed++
			s.logger.Warn("Chat service rejected broadcast", "service", i, "err", err)
		}
	}
	if failed > 0 {
		result.SetBroadcast(dispatch.TemporaryError)
		return result, nil
	}
	result.SetBroadcast(dispatch.Success)
	return result, nil
}
