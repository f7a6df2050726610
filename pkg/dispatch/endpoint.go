package dispatch

// Endpoint is one recipient on one platform: an opaque platform-specific identifier
// (device token, registration id, serialized web push subscription) tagged with the
// platform key and the payload variant it expects.
type Endpoint struct {
	ID          string `json:"id" firestore:"id"`
	Platform    string `json:"platform" firestore:"platform"`
	PayloadType string `json:"payload_type" firestore:"payload_type"`
	// MessageID is only set on endpoints filed as Deferred.
	MessageID string `json:"message_id,omitempty" firestore:"-"`
}

// DistinctIDs returns endpoints with repeated ids removed, keeping the first
// occurrence of each. Senders keyed by id call it so an id is sent once and every
// copy reads the same status.
func DistinctIDs(endpoints []Endpoint) []Endpoint {
	seen := make(map[string]struct{}, len(endpoints))
	out := make([]Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if _, dup := seen[ep.ID]; dup {
			continue
		}
		seen[ep.ID] = struct{}{}
		out = append(out, ep)
	}
	return out
}

// Payload is platform-specific message content. The router only needs to know
// whether it targets endpoints or the whole platform.
type Payload interface {
	IsBroadcast() bool
}

// Payloads maps platform -> payload type -> payload for one dispatch call.
type Payloads map[string]map[string]Payload

// Set stores p under (platform, payloadType), creating the inner map as needed.
func (ps Payloads) Set(platform, payloadType string, p Payload) {
	inner, ok := ps[platform]
	if !ok {
		inner = make(map[string]Payload)
		ps[platform] = inner
	}
	inner[payloadType] = p
}

// Get returns the payload for (platform, payloadType). A nil payload counts as absent.
func (ps Payloads) Get(platform, payloadType string) (Payload, bool) {
	p, ok := ps[platform][payloadType]
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}
