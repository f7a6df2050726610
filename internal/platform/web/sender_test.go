package web_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-router/internal/platform/web"
	"github.com/tinywideclouds/go-push-router/notificationservice/config"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// subscriptionFor builds a serialized browser subscription with real keys pointing at url.
func subscriptionFor(t *testing.T, url string) dispatch.Endpoint {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	raw, err := json.Marshal(webpush.Subscription{
		Endpoint: url,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	})
	require.NoError(t, err)
	return dispatch.Endpoint{ID: string(raw), Platform: "web", PayloadType: "alert"}
}

func TestPush_Lifecycle(t *testing.T) {
	// 1. Setup Mock Push Service (Simulates Google/Mozilla Push Server)
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify VAPID Headers exist
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("TTL"))

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated) // 201
		case "/expired":
			w.WriteHeader(http.StatusGone) // 410
		case "/error":
			w.WriteHeader(http.StatusInternalServerError) // 500
		case "/too-large":
			w.WriteHeader(http.StatusRequestEntityTooLarge) // 413
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	sender := web.NewSender(config.VapidConfig{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "mailto:test-runner@tinywideclouds.com",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	payload, err := web.BuildPayload(dispatch.Message{Title: "Test", Body: "Body", Data: map[string]string{"id": "1"}})
	require.NoError(t, err)

	valid := subscriptionFor(t, mockServer.URL+"/success")
	expired := subscriptionFor(t, mockServer.URL+"/expired")
	failing := subscriptionFor(t, mockServer.URL+"/error")
	tooLarge := subscriptionFor(t, mockServer.URL+"/too-large")
	garbage := dispatch.Endpoint{ID: "not-json", Platform: "web", PayloadType: "alert"}

	eps := []dispatch.Endpoint{valid, expired, failing, tooLarge, garbage}
	res, err := sender.Push(context.Background(), payload, eps)

	// Should not error on 410/500, just report it
	require.NoError(t, err)

	assert.Equal(t, dispatch.Success, res.Status(valid))
	assert.Equal(t, dispatch.InvalidEndpoint, res.Status(expired))
	assert.Equal(t, dispatch.TemporaryError, res.Status(failing))
	assert.Equal(t, dispatch.ClientError, res.Status(tooLarge))
	assert.Equal(t, dispatch.InvalidEndpoint, res.Status(garbage))
}

func TestParseSubscription(t *testing.T) {
	_, err := web.ParseSubscription(`{"endpoint":"https://push.example/abc"}`)
	assert.Error(t, err)

	sub, err := web.ParseSubscription(`{"endpoint":"https://push.example/abc","keys":{"p256dh":"k","auth":"a"}}`)
	require.NoError(t, err)
	assert.Equal(t, "https://push.example/abc", sub.Endpoint)
}

func TestBuildPayload(t *testing.T) {
	_, err := web.BuildPayload(dispatch.Message{Broadcast: true})
	assert.ErrorIs(t, err, dispatch.ErrBroadcastUnsupported)

	p, err := web.BuildPayload(dispatch.Message{Title: "T", Body: "B", Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, webpush.UrgencyHigh, p.Urgency)
	assert.Equal(t, web.DefaultTTL, p.TTL)
	assert.JSONEq(t, `{"notification":{"title":"T","body":"B"},"data":null}`, string(p.Body))
}
