package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

type YamlAPNSConfig struct {
	KeyID          string `yaml:"key_id"`
	TeamID         string `yaml:"team_id"`
	BundleID       string `yaml:"bundle_id"`
	P8KeyContent   string `yaml:"p8_key"`
	Development    bool   `yaml:"development"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type YamlFCMConfig struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

type YamlJPushConfig struct {
	AppKey         string `yaml:"app_key"`
	MasterSecret   string `yaml:"master_secret"`
	PushURL        string `yaml:"push_url"`
	ReportURL      string `yaml:"report_url"`
	MaxEndpoints   int    `yaml:"max_endpoints"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type YamlChatConfig struct {
	URLs           []string `yaml:"urls"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID               string          `yaml:"project_id"`
	ListenAddr              string          `yaml:"listen_addr"`
	TopicID                 string          `yaml:"topic_id"`
	SubscriptionID          string          `yaml:"subscription_id"`
	SubscriptionDLQTopicID  string          `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers      int             `yaml:"num_pipeline_workers"`
	RouterConcurrency       int             `yaml:"router_concurrency"`
	EndpointCacheTTLSeconds int             `yaml:"endpoint_cache_ttl_seconds"`
	CorsConfig              YamlCorsConfig  `yaml:"cors"`
	RedisConfig             YamlRedisConfig `yaml:"redis"`
	VapidConfig             YamlVapidConfig `yaml:"vapid"`
	APNSConfig              YamlAPNSConfig  `yaml:"apns"`
	FCMConfig               YamlFCMConfig   `yaml:"fcm"`
	JPushConfig             YamlJPushConfig `yaml:"jpush"`
	ChatConfig              YamlChatConfig  `yaml:"chat"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:         baseCfg.ProjectID,
		ListenAddr:        baseCfg.ListenAddr,
		TopicID:           baseCfg.TopicID,
		SubscriptionID:    baseCfg.SubscriptionID,
		RouterConcurrency: baseCfg.RouterConcurrency,
		EndpointCacheTTL:  seconds(baseCfg.EndpointCacheTTLSeconds),
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
			Timeout:         seconds(baseCfg.VapidConfig.TimeoutSeconds),
		},
		APNS: APNSConfig{
			KeyID:        baseCfg.APNSConfig.KeyID,
			TeamID:       baseCfg.APNSConfig.TeamID,
			BundleID:     baseCfg.APNSConfig.BundleID,
			P8KeyContent: baseCfg.APNSConfig.P8KeyContent,
			Development:  baseCfg.APNSConfig.Development,
			Timeout:      seconds(baseCfg.APNSConfig.TimeoutSeconds),
		},
		FCM: FCMConfig{
			Enabled: baseCfg.FCMConfig.Enabled,
			Timeout: seconds(baseCfg.FCMConfig.TimeoutSeconds),
		},
		JPush: JPushConfig{
			AppKey:       baseCfg.JPushConfig.AppKey,
			MasterSecret: baseCfg.JPushConfig.MasterSecret,
			PushURL:      baseCfg.JPushConfig.PushURL,
			ReportURL:    baseCfg.JPushConfig.ReportURL,
			MaxEndpoints: baseCfg.JPushConfig.MaxEndpoints,
			Timeout:      seconds(baseCfg.JPushConfig.TimeoutSeconds),
		},
		Chat: ChatConfig{
			URLs:    baseCfg.ChatConfig.URLs,
			Timeout: seconds(baseCfg.ChatConfig.TimeoutSeconds),
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"jpush", cfg.JPush.Enabled(),
		"apns", cfg.APNS.Enabled(),
		"fcm", cfg.FCM.Enabled,
		"web", cfg.Vapid.Enabled(),
		"chat", cfg.Chat.Enabled(),
	)

	return cfg, nil
}
