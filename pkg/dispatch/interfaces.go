package dispatch

import (
	"context"
	"errors"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// ErrUnsupportedPayload is wrapped by senders handed a payload they cannot encode.
// It signals a wiring bug, never a delivery outcome.
var ErrUnsupportedPayload = errors.New("unsupported payload for sender")

// ErrBroadcastUnsupported is returned by payload builders of platforms that can only
// address individual endpoints.
var ErrBroadcastUnsupported = errors.New("platform does not support broadcast")

// Sender is the one operation every platform integration implements.
//
// Push must not return an error for transport or vendor failures; those are reported
// as statuses on the Result. The callee may attempt only a subset of endpoints, in
// which case the remaining ones report Unknown. Broadcast payloads are pushed with
// an empty endpoint slice.
type Sender interface {
	Push(ctx context.Context, payload Payload, endpoints []Endpoint) (Result, error)
}

// MultiSender is implemented by senders that take many endpoints in one Push.
// MaxEndpoints is the vendor limit per transport call (0 means no limit); the sender
// is responsible for splitting larger sets.
type MultiSender interface {
	Sender
	MaxEndpoints() int
}

// Result reports the per-endpoint outcome of one Push.
type Result interface {
	Status(endpoint Endpoint) Status
}

// BroadcastReporter is implemented by results of senders that support broadcast payloads.
type BroadcastReporter interface {
	BroadcastStatus() Status
}

// DeferredReporter is implemented by results of senders with asynchronous delivery
// confirmation. The id is only reported for endpoints whose status is Deferred.
type DeferredReporter interface {
	MessageID(endpoint Endpoint) (string, bool)
}

// EndpointStore is the endpoint directory: where to reach a user on each platform.
type EndpointStore interface {
	// Register adds or replaces an endpoint for the user (upsert on platform + id).
	Register(ctx context.Context, user urn.URN, endpoint Endpoint) error
	// Unregister removes an endpoint. Removing an unknown endpoint is not an error.
	Unregister(ctx context.Context, user urn.URN, endpoint Endpoint) error
	// Fetch returns every endpoint registered for the user.
	Fetch(ctx context.Context, user urn.URN) ([]Endpoint, error)
}
