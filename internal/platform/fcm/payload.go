package fcm

import (
	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// DefaultBroadcastTopic is the topic every app instance subscribes to.
const DefaultBroadcastTopic = "all"

// Payload carries the platform sections of an FCM message. Tokens or topic are
// filled in by the Sender.
type Payload struct {
	Notification *messaging.Notification
	Data         map[string]string
	Android      *messaging.AndroidConfig
	Webpush      *messaging.WebpushConfig
	APNS         *messaging.APNSConfig

	Broadcast bool
	Topic     string
}

func (p *Payload) IsBroadcast() bool {
	return p != nil && p.Broadcast
}

// BuildPayload converts a platform-neutral message. Messages without title and body are
// sent as data-only.
func BuildPayload(m dispatch.Message) (*Payload, error) {
	p := &Payload{
		Data:      m.Data,
		Broadcast: m.Broadcast,
		Topic:     m.Topic,
	}
	if p.Broadcast && p.Topic == "" {
		p.Topic = DefaultBroadcastTopic
	}

	if m.Priority == "high" {
		p.Android = &messaging.AndroidConfig{Priority: "high"}
	}

	if m.Title == "" && m.Body == "" {
		return p, nil
	}

	p.Notification = &messaging.Notification{
		Title: m.Title,
		Body:  m.Body,
	}
	p.Webpush = &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: m.Title,
			Body:  m.Body,
			Icon:  "/assets/icons/icon-192x192.png",
		},
	}
	if m.Sound != "" {
		p.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: m.Sound}},
		}
	}
	return p, nil
}
