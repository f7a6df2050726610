package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-router/internal/pipeline"
	"github.com/tinywideclouds/go-push-router/internal/router"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockEndpointStore struct {
	mock.Mock
}

func (m *mockEndpointStore) Register(ctx context.Context, user urn.URN, ep dispatch.Endpoint) error {
	return m.Called(ctx, user, ep).Error(0)
}

func (m *mockEndpointStore) Unregister(ctx context.Context, user urn.URN, ep dispatch.Endpoint) error {
	return m.Called(ctx, user, ep).Error(0)
}

func (m *mockEndpointStore) Fetch(ctx context.Context, user urn.URN) ([]dispatch.Endpoint, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.Endpoint), args.Error(1)
}

type textPayload struct {
	text      string
	broadcast bool
}

func (p *textPayload) IsBroadcast() bool { return p.broadcast }

func buildText(m dispatch.Message) (*textPayload, error) {
	if m.Body == "" {
		return nil, errors.New("empty body")
	}
	return &textPayload{text: m.Body, broadcast: m.Broadcast}, nil
}

// statusSender files every endpoint under a fixed status, except ids listed in invalid.
type statusSender struct {
	mu      sync.Mutex
	status  dispatch.Status
	invalid map[string]bool
	pushed  []string
	texts   []string
}

func (s *statusSender) Push(_ context.Context, p dispatch.Payload, eps []dispatch.Endpoint) (dispatch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, p.(*textPayload).text)
	res := dispatch.NewStatusMap()
	for _, ep := range eps {
		s.pushed = append(s.pushed, ep.ID)
		if s.invalid[ep.ID] {
			res.Set(ep.ID, dispatch.InvalidEndpoint)
			continue
		}
		res.Set(ep.ID, s.status)
	}
	return res, nil
}

func (s *statusSender) Pushed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pushed...)
}

type fakeRecorder struct {
	outcomes     []*router.Outcome
	requests     []error
	unregistered []dispatch.Endpoint
}

func (r *fakeRecorder) ObserveOutcome(o *router.Outcome, _ time.Duration, _ error) {
	r.outcomes = append(r.outcomes, o)
}
func (r *fakeRecorder) ObserveRequest(err error) { r.requests = append(r.requests, err) }
func (r *fakeRecorder) ObserveUnregistered(ep dispatch.Endpoint) {
	r.unregistered = append(r.unregistered, ep)
}

func newRouter(t *testing.T, senders map[string]dispatch.Sender) *router.Router {
	t.Helper()
	registry := router.NewRegistry()
	for platform, s := range senders {
		require.NoError(t, registry.Register(platform, s))
	}
	return router.New(registry, newTestLogger())
}

func TestAdapt(t *testing.T) {
	build := pipeline.Adapt(buildText)

	p, err := build(dispatch.Message{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", p.(*textPayload).text)

	p, err = build(dispatch.Message{})
	require.Error(t, err)
	assert.Nil(t, p, "a failed build must not return a typed nil payload")
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	alice, err := urn.Parse("urn:sm:user:alice")
	require.NoError(t, err)
	bob, err := urn.Parse("urn:sm:user:bob")
	require.NoError(t, err)

	builders := map[string]pipeline.PayloadBuilder{
		"fcm":   pipeline.Adapt(buildText),
		"jpush": pipeline.Adapt(buildText),
	}

	t.Run("Routes fetched and explicit endpoints", func(t *testing.T) {
		fcm := &statusSender{status: dispatch.Success}
		jpush := &statusSender{status: dispatch.Deferred}
		r := newRouter(t, map[string]dispatch.Sender{"fcm": fcm, "jpush": jpush})

		store := new(mockEndpointStore)
		store.On("Fetch", mock.Anything, alice).Return([]dispatch.Endpoint{
			{ID: "a-phone", Platform: "fcm", PayloadType: "alert"},
			{ID: "a-watch", Platform: "apns", PayloadType: "alert"},
		}, nil)

		recorder := &fakeRecorder{}
		processor := pipeline.NewProcessor(r, builders, store, recorder, logger)

		req := &dispatch.Request{
			RequestID:  "req-1",
			Recipients: []string{alice.String()},
			Endpoints:  []dispatch.Endpoint{{ID: "reg-1", Platform: "jpush", PayloadType: "alert"}},
			Messages: map[string]map[string]dispatch.Message{
				"fcm":   {"alert": {Body: "hi from fcm"}},
				"jpush": {"alert": {Body: "hi from jpush"}},
			},
		}
		err := processor(ctx, messagepipeline.Message{}, req)
		require.NoError(t, err)

		assert.Equal(t, []string{"a-phone"}, fcm.Pushed())
		assert.Equal(t, []string{"reg-1"}, jpush.Pushed())
		assert.Equal(t, []string{"hi from fcm"}, fcm.texts)

		require.Len(t, recorder.outcomes, 1)
		outcome := recorder.outcomes[0]
		assert.Equal(t, 3, outcome.Len())
		assert.Equal(t, []dispatch.Endpoint{{ID: "a-watch", Platform: "apns", PayloadType: "alert"}},
			outcome.EndpointsByStatus(dispatch.NotHandled))
		assert.Equal(t, []error{nil}, recorder.requests)
		store.AssertExpectations(t)
	})

	t.Run("Self-healing removes invalid endpoints from every owner", func(t *testing.T) {
		shared := dispatch.Endpoint{ID: "shared-tablet", Platform: "fcm", PayloadType: "alert"}
		fcm := &statusSender{status: dispatch.Success, invalid: map[string]bool{"shared-tablet": true}}
		r := newRouter(t, map[string]dispatch.Sender{"fcm": fcm})

		store := new(mockEndpointStore)
		store.On("Fetch", mock.Anything, alice).Return([]dispatch.Endpoint{shared}, nil)
		store.On("Fetch", mock.Anything, bob).Return([]dispatch.Endpoint{shared, {ID: "b-phone", Platform: "fcm", PayloadType: "alert"}}, nil)
		store.On("Unregister", mock.Anything, alice, shared).Return(nil)
		store.On("Unregister", mock.Anything, bob, shared).Return(errors.New("firestore down"))

		recorder := &fakeRecorder{}
		processor := pipeline.NewProcessor(r, builders, store, recorder, logger)

		req := &dispatch.Request{
			Recipients: []string{alice.String(), bob.String()},
			Messages:   map[string]map[string]dispatch.Message{"fcm": {"alert": {Body: "x"}}},
		}
		require.NoError(t, processor(ctx, messagepipeline.Message{}, req))

		assert.Equal(t, []string{"shared-tablet", "b-phone"}, fcm.Pushed(), "a shared endpoint is pushed once")
		assert.Equal(t, []dispatch.Endpoint{shared}, recorder.unregistered)
		store.AssertExpectations(t)
	})

	t.Run("Store failure is returned for redelivery", func(t *testing.T) {
		fcm := &statusSender{status: dispatch.Success}
		r := newRouter(t, map[string]dispatch.Sender{"fcm": fcm})

		store := new(mockEndpointStore)
		store.On("Fetch", mock.Anything, alice).Return(nil, errors.New("unavailable"))

		recorder := &fakeRecorder{}
		processor := pipeline.NewProcessor(r, builders, store, recorder, logger)

		req := &dispatch.Request{
			Recipients: []string{alice.String()},
			Messages:   map[string]map[string]dispatch.Message{"fcm": {"alert": {Body: "x"}}},
		}
		err := processor(ctx, messagepipeline.Message{}, req)
		require.Error(t, err)
		assert.Empty(t, fcm.Pushed())
		require.Len(t, recorder.requests, 1)
		assert.Error(t, recorder.requests[0])
	})

	t.Run("Unbuildable message leaves its endpoints not handled", func(t *testing.T) {
		fcm := &statusSender{status: dispatch.Success}
		r := newRouter(t, map[string]dispatch.Sender{"fcm": fcm})

		recorder := &fakeRecorder{}
		processor := pipeline.NewProcessor(r, builders, new(mockEndpointStore), recorder, logger)

		ep := dispatch.Endpoint{ID: "e1", Platform: "fcm", PayloadType: "alert"}
		req := &dispatch.Request{
			Endpoints: []dispatch.Endpoint{ep},
			Messages:  map[string]map[string]dispatch.Message{"fcm": {"alert": {Title: "no body"}}},
		}
		require.NoError(t, processor(ctx, messagepipeline.Message{}, req))

		assert.Empty(t, fcm.Pushed())
		require.Len(t, recorder.outcomes, 1)
		assert.Equal(t, []dispatch.Endpoint{ep}, recorder.outcomes[0].EndpointsByStatus(dispatch.NotHandled))
	})

	t.Run("Works without a recorder", func(t *testing.T) {
		fcm := &statusSender{status: dispatch.Success}
		r := newRouter(t, map[string]dispatch.Sender{"fcm": fcm})
		processor := pipeline.NewProcessor(r, builders, new(mockEndpointStore), nil, logger)

		req := &dispatch.Request{
			Endpoints: []dispatch.Endpoint{{ID: "e1", Platform: "fcm", PayloadType: "alert"}},
			Messages:  map[string]map[string]dispatch.Message{"fcm": {"alert": {Body: "x"}}},
		}
		require.NoError(t, processor(ctx, messagepipeline.Message{}, req))
		assert.Equal(t, []string{"e1"}, fcm.Pushed())
	})
}
