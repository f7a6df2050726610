package router

import (
	"encoding/json"

	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// Outcome is the result of one Dispatch call. It is not modified after Dispatch returns.
type Outcome struct {
	statuses   *dispatch.EndpointStatuses
	broadcasts *dispatch.BroadcastStatuses
}

func newOutcome() *Outcome {
	return &Outcome{
		statuses:   dispatch.NewEndpointStatuses(),
		broadcasts: dispatch.NewBroadcastStatuses(),
	}
}

// Statuses returns a copy of the per-endpoint result. Every status has a key.
func (o *Outcome) Statuses() map[dispatch.Status][]dispatch.Endpoint {
	return o.statuses.Map()
}

// BroadcastStatuses returns a copy of the broadcast result. Every status has a key.
func (o *Outcome) BroadcastStatuses() map[dispatch.Status]dispatch.Payloads {
	return o.broadcasts.Map()
}

// EndpointsByStatus concatenates the buckets of the given statuses in argument order.
// Callers wanting a retry pass dispatch.TemporaryError and dispatch.Deferred.
func (o *Outcome) EndpointsByStatus(statuses ...dispatch.Status) []dispatch.Endpoint {
	return o.statuses.Endpoints(statuses...)
}

// Len is the number of endpoints filed, which always equals the number dispatched.
func (o *Outcome) Len() int {
	return o.statuses.Len()
}

func (o *Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Endpoints  *dispatch.EndpointStatuses  `json:"endpoints"`
		Broadcasts *dispatch.BroadcastStatuses `json:"broadcasts"`
	}{o.statuses, o.broadcasts})
}
