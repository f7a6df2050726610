package dispatch

import (
	"encoding/json"
	"slices"
)

// EndpointStatuses buckets endpoints by delivery status. Every status key is present
// from construction, so readers never have to check for a missing bucket.
type EndpointStatuses struct {
	buckets map[Status][]Endpoint
}

// NewEndpointStatuses returns a container with an empty bucket for every status.
func NewEndpointStatuses() *EndpointStatuses {
	buckets := make(map[Status][]Endpoint, len(allStatuses))
	for _, s := range allStatuses {
		buckets[s] = []Endpoint{}
	}
	return &EndpointStatuses{buckets: buckets}
}

// Add appends endpoints to the bucket for status. Undeclared statuses are filed as Unknown.
func (r *EndpointStatuses) Add(status Status, endpoints ...Endpoint) {
	if !status.IsValid() {
		status = Unknown
	}
	r.buckets[status] = append(r.buckets[status], endpoints...)
}

// Merge appends every bucket of other onto r, keeping other's order.
func (r *EndpointStatuses) Merge(other *EndpointStatuses) {
	if other == nil {
		return
	}
	for _, s := range allStatuses {
		r.buckets[s] = append(r.buckets[s], other.buckets[s]...)
	}
}

// Endpoints concatenates the buckets of the given statuses in argument order.
func (r *EndpointStatuses) Endpoints(statuses ...Status) []Endpoint {
	var out []Endpoint
	for _, s := range statuses {
		out = append(out, r.buckets[s]...)
	}
	return out
}

// Len counts endpoints across all buckets.
func (r *EndpointStatuses) Len() int {
	n := 0
	for _, eps := range r.buckets {
		n += len(eps)
	}
	return n
}

// Map returns a copy of the buckets.
func (r *EndpointStatuses) Map() map[Status][]Endpoint {
	out := make(map[Status][]Endpoint, len(r.buckets))
	for s, eps := range r.buckets {
		out[s] = append([]Endpoint{}, eps...)
	}
	return out
}

func (r *EndpointStatuses) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.buckets)
}

// BroadcastStatuses buckets broadcast payloads by status, then platform, then payload type.
type BroadcastStatuses struct {
	buckets map[Status]Payloads
}

// NewBroadcastStatuses returns a container with an empty bucket for every status.
func NewBroadcastStatuses() *BroadcastStatuses {
	buckets := make(map[Status]Payloads, len(allStatuses))
	for _, s := range allStatuses {
		buckets[s] = Payloads{}
	}
	return &BroadcastStatuses{buckets: buckets}
}

func (r *BroadcastStatuses) Add(status Status, platform, payloadType string, p Payload) {
	if !status.IsValid() {
		status = Unknown
	}
	r.buckets[status].Set(platform, payloadType, p)
}

func (r *BroadcastStatuses) Merge(other *BroadcastStatuses) {
	if other == nil {
		return
	}
	for _, s := range allStatuses {
		for platform, byType := range other.buckets[s] {
			for payloadType, p := range byType {
				r.buckets[s].Set(platform, payloadType, p)
			}
		}
	}
}

// Get returns the broadcast bucket for status.
func (r *BroadcastStatuses) Get(status Status) Payloads {
	return r.buckets[status]
}

// Len counts (platform, payload type) entries across all buckets.
func (r *BroadcastStatuses) Len() int {
	n := 0
	for _, byPlatform := range r.buckets {
		for _, byType := range byPlatform {
			n += len(byType)
		}
	}
	return n
}

// Map returns a shallow copy of the buckets.
func (r *BroadcastStatuses) Map() map[Status]Payloads {
	out := make(map[Status]Payloads, len(r.buckets))
	for s, byPlatform := range r.buckets {
		cp := Payloads{}
		for platform, byType := range byPlatform {
			for payloadType, p := range byType {
				cp.Set(platform, payloadType, p)
			}
		}
		out[s] = cp
	}
	return out
}

// MarshalJSON reports which (platform, payload type) pairs landed in each status.
// Payload bodies are platform-specific and are left out.
func (r *BroadcastStatuses) MarshalJSON() ([]byte, error) {
	out := make(map[Status]map[string][]string, len(r.buckets))
	for s, byPlatform := range r.buckets {
		entry := make(map[string][]string, len(byPlatform))
		for platform, byType := range byPlatform {
			for payloadType := range byType {
				entry[platform] = append(entry[platform], payloadType)
			}
			slices.Sort(entry[platform])
		}
		out[s] = entry
	}
	return json.Marshal(out)
}
