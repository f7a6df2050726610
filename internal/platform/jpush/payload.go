package jpush

import "github.com/tinywideclouds/go-push-router/pkg/dispatch"

// Payload is the JPush v3 push body minus platform and audience, which the sender
// fills in per call.
type Payload struct {
	Notification *Notification `json:"notification,omitempty"`
	Message      *InAppMessage `json:"message,omitempty"`
	Options      *Options      `json:"options,omitempty"`

	// Broadcast payloads go to the whole app, or to Tag when it is set.
	Broadcast bool   `json:"-"`
	Tag       string `json:"-"`
}

func (p *Payload) IsBroadcast() bool {
	return p != nil && p.Broadcast
}

type Notification struct {
	Alert   string               `json:"alert,omitempty"`
	Android *AndroidNotification `json:"android,omitempty"`
	IOS     *IOSNotification     `json:"ios,omitempty"`
}

type AndroidNotification struct {
	Alert    string            `json:"alert,omitempty"`
	Title    string            `json:"title,omitempty"`
	Priority int               `json:"priority,omitempty"`
	Extras   map[string]string `json:"extras,omitempty"`
}

type IOSNotification struct {
	Alert  string            `json:"alert,omitempty"`
	Sound  string            `json:"sound,omitempty"`
	Extras map[string]string `json:"extras,omitempty"`
}

// InAppMessage is a JPush "custom message": delivered to the app, never displayed by the OS.
type InAppMessage struct {
	MsgContent string            `json:"msg_content"`
	Title      string            `json:"title,omitempty"`
	Extras     map[string]string `json:"extras,omitempty"`
}

type Options struct {
	TimeToLive     int  `json:"time_to_live,omitempty"`
	APNsProduction bool `json:"apns_production"`
}

// BuildPayload converts a platform-neutral message. A message without a body becomes a
// custom message carrying only data.
func BuildPayload(m dispatch.Message) (*Payload, error) {
	p := &Payload{
		Broadcast: m.Broadcast,
		Tag:       m.Topic,
	}

	if m.Body == "" {
		content := m.Title
		if content == "" {
			content = "data"
		}
		p.Message = &InAppMessage{MsgContent: content, Title: m.Title, Extras: m.Data}
		return p, nil
	}

	android := &AndroidNotification{Alert: m.Body, Title: m.Title, Extras: m.Data}
	if m.Priority == "high" {
		android.Priority = 2
	}
	p.Notification = &Notification{
		Alert:   m.Body,
		Android: android,
		IOS:     &IOSNotification{Alert: m.Body, Sound: m.Sound, Extras: m.Data},
	}
	return p, nil
}
