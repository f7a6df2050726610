package router

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

var (
	ErrInvalidRegistration = errors.New("invalid sender registration")
	ErrDuplicateSender     = errors.New("sender already registered for platform")
	ErrNoResult            = errors.New("sender returned no result")
)

// Registry maps platform keys to senders. It is filled once during setup and read
// without locking afterwards.
type Registry struct {
	senders map[string]dispatch.Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]dispatch.Sender)}
}

// Register binds sender to platform. A platform can be bound only once.
func (r *Registry) Register(platform string, sender dispatch.Sender) error {
	if platform == "" {
		return fmt.Errorf("%w: empty platform key", ErrInvalidRegistration)
	}
	if sender == nil {
		return fmt.Errorf("%w: nil sender for platform %q", ErrInvalidRegistration, platform)
	}
	if _, exists := r.senders[platform]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateSender, platform)
	}
	r.senders[platform] = sender
	return nil
}

func (r *Registry) Lookup(platform string) (dispatch.Sender, bool) {
	s, ok := r.senders[platform]
	return s, ok
}

// Platforms returns the registered platform keys, sorted.
func (r *Registry) Platforms() []string {
	keys := make([]string, 0, len(r.senders))
	for k := range r.senders {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
