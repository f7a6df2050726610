package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

type fakeNotifier struct {
	errs    []error
	message string
	title   string
}

func (f *fakeNotifier) Send(message string, params *types.Params) []error {
	f.message = message
	if params != nil {
		f.title, _ = params.Title()
	}
	return f.errs
}

var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSender_Push(t *testing.T) {
	payload, err := BuildPayload(dispatch.Message{Title: "Deploy", Body: "v2 is live", Broadcast: true})
	require.NoError(t, err)
	assert.True(t, payload.IsBroadcast())

	t.Run("All services accept", func(t *testing.T) {
		n := &fakeNotifier{errs: []error{nil, nil}}
		res, err := newSender(n, nopLogger).Push(context.Background(), payload, nil)
		require.NoError(t, err)

		assert.Equal(t, dispatch.Success, res.(dispatch.BroadcastReporter).BroadcastStatus())
		assert.Equal(t, "v2 is live", n.message)
		assert.Equal(t, "Deploy", n.title)
	})

	t.Run("One service fails", func(t *testing.T) {
		n := &fakeNotifier{errs: []error{nil, errors.New("401 from webhook")}}
		res, err := newSender(n, nopLogger).Push(context.Background(), payload, nil)
		require.NoError(t, err)
		assert.Equal(t, dispatch.TemporaryError, res.(dispatch.BroadcastReporter).BroadcastStatus())
	})

	t.Run("Cancelled context skips sending", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		n := &fakeNotifier{}
		res, err := newSender(n, nopLogger).Push(ctx, payload, nil)
		require.NoError(t, err)
		assert.Equal(t, dispatch.TemporaryError, res.(dispatch.BroadcastReporter).BroadcastStatus())
		assert.Empty(t, n.message)
	})

	t.Run("Foreign payload", func(t *testing.T) {
		_, err := newSender(&fakeNotifier{}, nopLogger).Push(context.Background(), otherPayload{}, nil)
		assert.ErrorIs(t, err, dispatch.ErrUnsupportedPayload)
	})
}

type otherPayload struct{}

func (otherPayload) IsBroadcast() bool { return true }

func TestNewSender_RejectsBadURLs(t *testing.T) {
	_, err := NewSender(nil, 0, nopLogger)
	assert.Error(t, err)

	_, err = NewSender([]string{"nosuchservice://token@host"}, 0, nopLogger)
	assert.Error(t, err)
}

func TestBuildPayload(t *testing.T) {
	p, err := BuildPayload(dispatch.Message{Title: "Only a title"})
	require.NoError(t, err)
	assert.Equal(t, "Only a title", p.Message)

	_, err = BuildPayload(dispatch.Message{Data: map[string]string{"k": "v"}})
	assert.Error(t, err)
}
