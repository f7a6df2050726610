package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-router/internal/api"
	"github.com/tinywideclouds/go-push-router/internal/pipeline"
	"github.com/tinywideclouds/go-push-router/internal/platform/apns"
	"github.com/tinywideclouds/go-push-router/internal/platform/chat"
	"github.com/tinywideclouds/go-push-router/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-router/internal/platform/jpush"
	"github.com/tinywideclouds/go-push-router/internal/platform/web"
	"github.com/tinywideclouds/go-push-router/internal/router"
	"github.com/tinywideclouds/go-push-router/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-router/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-router/notificationservice"
	"github.com/tinywideclouds/go-push-router/notificationservice/config"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

//go:embed local.yaml
var configFile []byte

const (
	platformFCM  = "fcm"
	platformAPNS = "apns"
	platformWeb  = "web"
	platformChat = "chat"
)

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-router")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Endpoint Store (Decorated) ---
	var cacheClient cache.CacheClient
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		cacheClient = redisClient
	} else {
		localClient := cache.NewLocalClient(cfg.EndpointCacheTTL, 10*time.Minute)
		defer localClient.Close()
		cacheClient = localClient
	}
	endpointStore := cache.NewCachedEndpointStore(
		fsStore.NewFirestoreStore(fsClient, logger), cacheClient, cfg.EndpointCacheTTL, logger,
	)
	logger.Info("EndpointStore initialized", "type", "cached_firestore", "redis", cfg.Redis.Enabled)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Senders ---
	components, err := newComponents(ctx, cfg, endpointStore, logger)
	if err != nil {
		logger.Error("Sender setup failed", "err", err)
		os.Exit(1)
	}

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer setup failed", "err", err)
		os.Exit(1)
	}

	service, err := notificationservice.New(cfg, consumer, components, registry, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newComponents registers a sender for every platform whose credentials are present.
// Platforms left out are reported NotHandled by the router.
func newComponents(ctx context.Context, cfg *config.Config, store dispatch.EndpointStore, logger *slog.Logger) (notificationservice.Components, error) {
	registry := router.NewRegistry()
	builders := make(map[string]pipeline.PayloadBuilder)
	validators := make(map[string]api.EndpointValidator)
	components := notificationservice.Components{Store: store}

	register := func(platform string, sender dispatch.Sender, build pipeline.PayloadBuilder, validate api.EndpointValidator) error {
		if err := registry.Register(platform, sender); err != nil {
			return err
		}
		builders[platform] = build
		validators[platform] = validate
		logger.Info("Sender enabled", "platform", platform)
		return nil
	}

	// A. Mobile (FCM)
	if cfg.FCM.Enabled {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return components, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return components, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		sender := fcm.NewSender(fcmMessaging, logger, fcm.WithTimeout(cfg.FCM.Timeout))
		if err := register(platformFCM, sender, pipeline.Adapt(fcm.BuildPayload), nil); err != nil {
			return components, err
		}
	} else {
		logger.Warn("FCM disabled; fcm endpoints will not be handled")
	}

	// B. Apple (APNs)
	if cfg.APNS.Enabled() {
		sender, err := apns.NewSender(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8KeyContent,
			Development:  cfg.APNS.Development,
			Timeout:      cfg.APNS.Timeout,
		}, logger)
		if err != nil {
			return components, err
		}
		if err := register(platformAPNS, sender, pipeline.Adapt(apns.BuildPayload), nil); err != nil {
			return components, err
		}
	} else {
		logger.Warn("APNs key missing; apns endpoints will not be handled")
	}

	// C. Web (VAPID)
	if cfg.Vapid.Enabled() {
		validate := func(id string) error {
			_, err := web.ParseSubscription(id)
			return err
		}
		if err := register(platformWeb, web.NewSender(cfg.Vapid, logger), pipeline.Adapt(web.BuildPayload), validate); err != nil {
			return components, err
		}
	} else {
		logger.Warn("VAPID keys missing; web endpoints will not be handled")
	}

	// D. JPush, with deferred delivery reports
	if cfg.JPush.Enabled() {
		transport := jpush.NewHTTPTransport(&http.Client{})
		creds := jpush.Credentials{AppKey: cfg.JPush.AppKey, MasterSecret: cfg.JPush.MasterSecret}
		opts := []jpush.Option{
			jpush.WithPushURL(cfg.JPush.PushURL),
			jpush.WithReportURL(cfg.JPush.ReportURL),
			jpush.WithMaxEndpoints(cfg.JPush.MaxEndpoints),
			jpush.WithTimeout(cfg.JPush.Timeout),
			jpush.WithPlatform(jpush.Platform),
		}
		sender := jpush.NewSender(transport, creds, logger, opts...)
		if err := register(jpush.Platform, sender, pipeline.Adapt(jpush.BuildPayload), nil); err != nil {
			return components, err
		}
		components.Reports = jpush.NewResolver(transport, creds, logger, opts...)
		components.ReportsPlatform = jpush.Platform
	} else {
		logger.Warn("JPush credentials missing; jpush endpoints will not be handled")
	}

	// E. Chat services (broadcast only, no endpoints)
	if cfg.Chat.Enabled() {
		sender, err := chat.NewSender(cfg.Chat.URLs, cfg.Chat.Timeout, logger)
		if err != nil {
			return components, err
		}
		if err := registry.Register(platformChat, sender); err != nil {
			return components, err
		}
		builders[platformChat] = pipeline.Adapt(chat.BuildPayload)
		logger.Info("Sender enabled", "platform", platformChat, "services", len(cfg.Chat.URLs))
	}

	components.Dispatcher = router.New(registry, logger, router.WithConcurrency(cfg.RouterConcurrency))
	components.Builders = builders
	components.Validators = validators
	return components, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
