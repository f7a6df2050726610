// Package pipeline contains the message processing stages of the push router: the
// transformer that decodes ingested dispatch requests and the processor that resolves
// endpoints and hands them to the router.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

var (
	errNoMessages   = errors.New("request has no messages")
	errNoAudience   = errors.New("request has no recipients, endpoints or broadcast messages")
	errBadRecipient = errors.New("invalid recipient urn")
)

// DispatchRequestTransformer unmarshals and validates a raw message payload into a
// dispatch.Request. Malformed requests are skipped with an error so the streaming
// service can nack them to the dead letter topic.
func DispatchRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.Request, bool, error) {
	var req dispatch.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal dispatch request from message %s: %w", msg.ID, err)
	}

	if err := validateRequest(&req); err != nil {
		return nil, true, fmt.Errorf("rejected dispatch request from message %s: %w", msg.ID, err)
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return &req, false, nil
}

func validateRequest(req *dispatch.Request) error {
	if len(req.Messages) == 0 {
		return errNoMessages
	}
	if len(req.Recipients) == 0 && len(req.Endpoints) == 0 && !req.HasBroadcast() {
		return errNoAudience
	}
	for _, r := range req.Recipients {
		if _, err := urn.Parse(r); err != nil {
			return fmt.Errorf("%w %q: %v", errBadRecipient, r, err)
		}
	}
	return nil
}
