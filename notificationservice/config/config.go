package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	DefaultEndpointCacheTTL  = 24 * time.Hour
	DefaultRouterConcurrency = 4
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	Timeout         time.Duration
}

// Enabled reports whether both VAPID keys are present.
func (c VapidConfig) Enabled() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Development  bool
	Timeout      time.Duration
}

func (c APNSConfig) Enabled() bool {
	return c.P8KeyContent != ""
}

type FCMConfig struct {
	Enabled bool
	Timeout time.Duration
}

type JPushConfig struct {
	AppKey       string
	MasterSecret string
	PushURL      string
	ReportURL    string
	MaxEndpoints int
	Timeout      time.Duration
}

func (c JPushConfig) Enabled() bool {
	return c.AppKey != "" && c.MasterSecret != ""
}

// ChatConfig lists the shoutrrr service URLs that receive chat broadcasts.
type ChatConfig struct {
	URLs    []string
	Timeout time.Duration
}

func (c ChatConfig) Enabled() bool {
	return len(c.URLs) > 0
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	RouterConcurrency      int
	EndpointCacheTTL       time.Duration

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	APNS       APNSConfig
	FCM        FCMConfig
	JPush      JPushConfig
	Chat       ChatConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envSeconds(key string, logger *slog.Logger) (time.Duration, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(val)
	if err != nil || secs <= 0 {
		logger.Warn("Ignoring invalid duration override", "key", key, "value", val)
		return 0, false
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	return time.Duration(secs) * time.Second, true
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("ROUTER_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "ROUTER_CONCURRENCY", "source", "env")
			cfg.RouterConcurrency = n
		}
	}
	if ttl, ok := envSeconds("ENDPOINT_CACHE_TTL_SECONDS", logger); ok {
		cfg.EndpointCacheTTL = ttl
	}

	// Redis
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Web Push
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// APNs
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_ID", "source", "env")
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TEAM_ID", "source", "env")
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_BUNDLE_ID", "source", "env")
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("APNS_DEVELOPMENT"); val != "" {
		dev, _ := strconv.ParseBool(val)
		cfg.APNS.Development = dev
	}

	// FCM
	if val := os.Getenv("FCM_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.FCM.Enabled = enabled
	}

	// JPush
	if val := os.Getenv("JPUSH_APP_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "JPUSH_APP_KEY", "source", "env")
		cfg.JPush.AppKey = val
	}
	if val := os.Getenv("JPUSH_MASTER_SECRET"); val != "" {
		logger.Debug("Overriding config value", "key", "JPUSH_MASTER_SECRET", "source", "env")
		cfg.JPush.MasterSecret = val
	}
	if val := os.Getenv("JPUSH_PUSH_URL"); val != "" {
		cfg.JPush.PushURL = val
	}
	if val := os.Getenv("JPUSH_REPORT_URL"); val != "" {
		cfg.JPush.ReportURL = val
	}

	// Chat
	if val := os.Getenv("CHAT_URLS"); val != "" {
		logger.Debug("Overriding config value", "key", "CHAT_URLS", "source", "env")
		cfg.Chat.URLs = splitList(val)
	}

	// CORS
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		cfg.CorsConfig.AllowedOrigins = splitList(corsOrigins)
	}

	// Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if (cfg.JPush.AppKey == "") != (cfg.JPush.MasterSecret == "") {
		return nil, fmt.Errorf("jpush requires both app_key and master_secret")
	}
	if cfg.APNS.Enabled() && (cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "") {
		return nil, fmt.Errorf("apns requires key_id, team_id and bundle_id when a p8 key is set")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.RouterConcurrency <= 0 {
		cfg.RouterConcurrency = DefaultRouterConcurrency
	}
	if cfg.EndpointCacheTTL <= 0 {
		cfg.EndpointCacheTTL = DefaultEndpointCacheTTL
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
