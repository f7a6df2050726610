package dispatch

// StatusMap is the Result implementation shared by the bundled senders. It records
// statuses by endpoint id, the message id of deferred endpoints and, for broadcasts,
// one platform-wide status. It satisfies Result, DeferredReporter and BroadcastReporter.
//
// A StatusMap is not safe for concurrent writes; concurrent producers build their own
// and Merge them afterwards.
type StatusMap struct {
	statuses   map[string]Status
	messageIDs map[string]string
	broadcast  Status
}

func NewStatusMap() *StatusMap {
	return &StatusMap{
		statuses:   make(map[string]Status),
		messageIDs: make(map[string]string),
	}
}

// Set records status for the endpoint id, dropping any message id recorded before.
func (m *StatusMap) Set(id string, status Status) {
	m.statuses[id] = status
	delete(m.messageIDs, id)
}

// SetDeferred records id as Deferred under messageID.
func (m *StatusMap) SetDeferred(id, messageID string) {
	m.statuses[id] = Deferred
	m.messageIDs[id] = messageID
}

func (m *StatusMap) SetBroadcast(status Status) {
	m.broadcast = status
}

func (m *StatusMap) Status(endpoint Endpoint) Status {
	s, ok := m.statuses[endpoint.ID]
	if !ok {
		return Unknown
	}
	return s
}

func (m *StatusMap) MessageID(endpoint Endpoint) (string, bool) {
	if m.statuses[endpoint.ID] != Deferred {
		return "", false
	}
	id, ok := m.messageIDs[endpoint.ID]
	return id, ok && id != ""
}

func (m *StatusMap) BroadcastStatus() Status {
	return m.broadcast
}

// Merge copies every per-endpoint entry of other into m. Broadcast status is left alone.
func (m *StatusMap) Merge(other *StatusMap) {
	if other == nil {
		return
	}
	for id, s := range other.statuses {
		m.statuses[id] = s
		delete(m.messageIDs, id)
	}
	for id, msgID := range other.messageIDs {
		m.messageIDs[id] = msgID
	}
}

// Len is the number of endpoint ids with a recorded status.
func (m *StatusMap) Len() int {
	return len(m.statuses)
}

// Fold files endpoints into a fresh EndpointStatuses using result.
func Fold(result Result, endpoints []Endpoint) *EndpointStatuses {
	out := NewEndpointStatuses()
	FoldInto(out, result, endpoints)
	return out
}

// FoldInto files endpoints into dst using result, attaching message ids to Deferred
// entries when result reports them. Input order is kept per bucket.
func FoldInto(dst *EndpointStatuses, result Result, endpoints []Endpoint) {
	deferred, _ := result.(DeferredReporter)
	for _, ep := range endpoints {
		status := result.Status(ep)
		ep.MessageID = ""
		if status == Deferred && deferred != nil {
			if id, ok := deferred.MessageID(ep); ok {
				ep.MessageID = id
			}
		}
		dst.Add(status, ep)
	}
}
