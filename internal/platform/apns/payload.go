package apns

import (
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// Payload is an APNs request body plus the headers that depend on it.
type Payload struct {
	Body       *payload.Payload
	PushType   apns2.EPushType
	Priority   int
	CollapseID string
}

// IsBroadcast is always false: APNs only addresses device tokens.
func (p *Payload) IsBroadcast() bool {
	return false
}

// BuildPayload converts a platform-neutral message. A message without title and body
// becomes a background push.
func BuildPayload(m dispatch.Message) (*Payload, error) {
	if m.Broadcast {
		return nil, fmt.Errorf("apns: %w", dispatch.ErrBroadcastUnsupported)
	}

	// We use the builder pattern to construct the correct JSON structure
	builder := payload.NewPayload()
	p := &Payload{Body: builder}

	if m.Title == "" && m.Body == "" {
		builder.ContentAvailable()
		p.PushType = apns2.PushTypeBackground
		p.Priority = apns2.PriorityLow
	} else {
		builder.AlertTitle(m.Title).AlertBody(m.Body)
		if m.Sound != "" {
			builder.Sound(m.Sound)
		}
		p.PushType = apns2.PushTypeAlert
		p.Priority = apns2.PriorityHigh
		if m.Priority == "low" {
			p.Priority = apns2.PriorityLow
		}
	}

	for k, v := range m.Data {
		builder.Custom(k, v)
	}
	return p, nil
}
