// Package dispatch contains the public domain model and contracts of the push router:
// the closed set of delivery statuses, the per-call result containers and the
// capability interfaces a platform integration implements.
package dispatch

import "fmt"

// Status is the outcome of a delivery attempt for one endpoint or one broadcast.
type Status int

const (
	// Unknown means the platform gave no usable answer.
	Unknown Status = iota
	Success
	// TemporaryError means the platform or the network failed in a way that may clear up.
	TemporaryError
	// InvalidEndpoint means the platform reported the endpoint as dead or not registered.
	InvalidEndpoint
	// ClientError means the platform rejected the request itself (bad payload, bad topic).
	ClientError
	Error
	// NotHandled means no sender is registered for the platform or no payload matched the endpoint.
	NotHandled
	// Deferred means the platform accepted the request; the final status has to be
	// resolved later with the attached message id.
	Deferred
)

var allStatuses = []Status{
	Unknown,
	Success,
	TemporaryError,
	InvalidEndpoint,
	ClientError,
	Error,
	NotHandled,
	Deferred,
}

// AllStatuses returns every status in declaration order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Success:
		return "success"
	case TemporaryError:
		return "temporary_error"
	case InvalidEndpoint:
		return "invalid_endpoint"
	case ClientError:
		return "client_error"
	case Error:
		return "error"
	case NotHandled:
		return "not_handled"
	case Deferred:
		return "deferred"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// IsValid reports whether s is one of the declared statuses.
func (s Status) IsValid() bool {
	return s >= Unknown && s <= Deferred
}

// ParseStatus is the inverse of String.
func ParseStatus(v string) (Status, error) {
	for _, s := range allStatuses {
		if s.String() == v {
			return s, nil
		}
	}
	return Unknown, fmt.Errorf("unknown status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
