package web

import (
	"encoding/json"
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

const DefaultTTL = 60

// Payload is the encrypted-to-be body of a Web Push message and its delivery headers.
type Payload struct {
	Body    []byte
	TTL     int
	Urgency webpush.Urgency
	Topic   string
}

// IsBroadcast is always false: Web Push only addresses subscriptions.
func (p *Payload) IsBroadcast() bool {
	return false
}

// BuildPayload renders the JSON body the service worker expects.
func BuildPayload(m dispatch.Message) (*Payload, error) {
	if m.Broadcast {
		return nil, fmt.Errorf("web: %w", dispatch.ErrBroadcastUnsupported)
	}

	body, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": m.Title,
			"body":  m.Body,
		},
		"data": m.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	p := &Payload{Body: body, TTL: DefaultTTL, Urgency: webpush.UrgencyNormal, Topic: m.Topic}
	if m.Priority == "high" {
		p.Urgency = webpush.UrgencyHigh
	}
	return p, nil
}
