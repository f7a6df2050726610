package dispatch

// Message is the platform-neutral content a payload builder turns into a Payload.
type Message struct {
	Title    string            `json:"title,omitempty"`
	Body     string            `json:"body,omitempty"`
	Sound    string            `json:"sound,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"`
	// Broadcast messages go to every device of the platform (or Topic) instead of endpoints.
	Broadcast bool   `json:"broadcast,omitempty"`
	Topic     string `json:"topic,omitempty"`
}

// Request is the ingest contract: who to notify and what to send per platform and
// payload type. Recipients are user URNs resolved through the EndpointStore; Endpoints
// are addressed directly.
type Request struct {
	RequestID  string                        `json:"request_id,omitempty"`
	Recipients []string                      `json:"recipients,omitempty"`
	Endpoints  []Endpoint                    `json:"endpoints,omitempty"`
	Messages   map[string]map[string]Message `json:"messages"`
}

// HasBroadcast reports whether any message in the request is a broadcast.
func (r *Request) HasBroadcast() bool {
	for _, byType := range r.Messages {
		for _, m := range byType {
			if m.Broadcast {
				return true
			}
		}
	}
	return false
}
