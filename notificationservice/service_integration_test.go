//go:build integration

package notificationservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-router/internal/api"
	"github.com/tinywideclouds/go-push-router/internal/pipeline"
	"github.com/tinywideclouds/go-push-router/internal/router"
	"github.com/tinywideclouds/go-push-router/notificationservice"
	"github.com/tinywideclouds/go-push-router/notificationservice/config"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
	"google.golang.org/protobuf/types/known/durationpb"

	fsStore "github.com/tinywideclouds/go-push-router/internal/storage/firestore"
)

// --- FAKES ---

type recordingPayload struct {
	body string
}

func (p *recordingPayload) IsBroadcast() bool { return false }

func buildRecording(m dispatch.Message) (*recordingPayload, error) {
	return &recordingPayload{body: m.Body}, nil
}

// recordingSender is a multi sender that reports every endpoint as delivered.
type recordingSender struct {
	mu        sync.Mutex
	callCount int
	lastIDs   []string
	invalid   map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{invalid: map[string]bool{}}
}

func (s *recordingSender) Push(_ context.Context, _ dispatch.Payload, eps []dispatch.Endpoint) (dispatch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCount++
	s.lastIDs = nil
	res := dispatch.NewStatusMap()
	for _, ep := range eps {
		s.lastIDs = append(s.lastIDs, ep.ID)
		if s.invalid[ep.ID] {
			res.Set(ep.ID, dispatch.InvalidEndpoint)
			continue
		}
		res.Set(ep.ID, dispatch.Success)
	}
	return res, nil
}

func (s *recordingSender) MaxEndpoints() int { return 0 }

func (s *recordingSender) GetCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *recordingSender) GetLastIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIDs
}

func newComponents(t *testing.T, sender dispatch.Sender, store dispatch.EndpointStore, logger *slog.Logger) notificationservice.Components {
	t.Helper()
	registry := router.NewRegistry()
	require.NoError(t, registry.Register("fcm", sender))
	return notificationservice.Components{
		Dispatcher: router.New(registry, logger),
		Builders:   map[string]pipeline.PayloadBuilder{"fcm": pipeline.Adapt(buildRecording)},
		Store:      store,
		Validators: map[string]api.EndpointValidator{"fcm": nil},
	}
}

// --- TEST ---

func TestNotificationService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { fsClient.Close() })

	endpointStore := fsStore.NewFirestoreStore(fsClient, logger)

	t.Run("Full Lifecycle: Register -> Process -> Dispatch -> Self-heal", func(t *testing.T) {
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		sender := newRecordingSender()
		sender.invalid["android-token-dead"] = true

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := notificationservice.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			newComponents(t, sender, endpointStore, logger),
			prometheus.NewRegistry(),
			func(h http.Handler) http.Handler { return h },
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { svc.Start(svcCtx) }()
		t.Cleanup(func() { svc.Shutdown(context.Background()) })

		// Step A: register endpoints directly in the store.
		userURN, err := urn.Parse("urn:sm:user:integ-user")
		require.NoError(t, err)
		live := dispatch.Endpoint{ID: "android-token-999", Platform: "fcm", PayloadType: "alert"}
		dead := dispatch.Endpoint{ID: "android-token-dead", Platform: "fcm", PayloadType: "alert"}
		require.NoError(t, endpointStore.Register(ctx, userURN, live))
		require.NoError(t, endpointStore.Register(ctx, userURN, dead))

		// Step B: publish a request naming only the recipient.
		req := dispatch.Request{
			Recipients: []string{userURN.String()},
			Messages: map[string]map[string]dispatch.Message{
				"fcm": {"alert": {Title: "Hello", Body: "World"}},
			},
		}
		payload, err := json.Marshal(req)
		require.NoError(t, err)
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return sender.GetCallCount() == 1
		}, 10*time.Second, 100*time.Millisecond)
		assert.ElementsMatch(t, []string{"android-token-999", "android-token-dead"}, sender.GetLastIDs())

		// Step C: the dead endpoint is removed from the directory.
		require.Eventually(t, func() bool {
			eps, err := endpointStore.Fetch(ctx, userURN)
			return err == nil && len(eps) == 1 && eps[0].ID == live.ID
		}, 10*time.Second, 100*time.Millisecond)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
