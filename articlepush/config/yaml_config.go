package config

import (
	"fmt"
	"log/slog"
	"strings"
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
	TTL      string `yaml:"ttl"`
}

type YamlPushConfig struct {
	Provider             string  `yaml:"provider"`
	BatchSize            int     `yaml:"batch_size"`
	BatchTimeout         string  `yaml:"batch_timeout"`
	MaxConcurrentBatches int     `yaml:"max_concurrent_batches"`
	RatePerSecond        float64 `yaml:"rate_per_second"`
	Burst                int     `yaml:"burst"`
	AppName              string  `yaml:"app_name"`
	Title                string  `yaml:"title"`
	ChannelID            string  `yaml:"channel_id"`
	ExpoURL              string  `yaml:"expo_url"`
}

type YamlAPNSConfig struct {
	KeyID       string `yaml:"key_id"`
	TeamID      string `yaml:"team_id"`
	BundleID    string `yaml:"bundle_id"`
	Sandbox     bool   `yaml:"sandbox"`
	Concurrency int    `yaml:"concurrency"`
}

type YamlAuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DevUserID string `yaml:"dev_user_id"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Secrets (Expo access token, APNs key) are only read from the environment.
type YamlConfig struct {
	ProjectID              string          `yaml:"project_id"`
	ListenAddr             string          `yaml:"listen_addr"`
	MetricsAddr            string          `yaml:"metrics_addr"`
	TopicID                string          `yaml:"topic_id"`
	SubscriptionID         string          `yaml:"subscription_id"`
	SubscriptionDLQTopicID string          `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int             `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig  `yaml:"cors"`
	RedisConfig            YamlRedisConfig `yaml:"redis"`
	PushConfig             YamlPushConfig  `yaml:"push"`
	APNSConfig             YamlAPNSConfig  `yaml:"apns"`
	AuthConfig             YamlAuthConfig  `yaml:"auth"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	redisTTL, err := parseDuration("redis.ttl", baseCfg.RedisConfig.TTL)
	if err != nil {
		return nil, err
	}
	batchTimeout, err := parseDuration("push.batch_timeout", baseCfg.PushConfig.BatchTimeout)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:   baseCfg.ProjectID,
		ListenAddr:  baseCfg.ListenAddr,
		MetricsAddr: baseCfg.MetricsAddr,
		TopicID:     baseCfg.TopicID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      redisTTL,
		},
		Push: PushConfig{
			Provider:             strings.ToLower(baseCfg.PushConfig.Provider),
			BatchSize:            baseCfg.PushConfig.BatchSize,
			BatchTimeout:         batchTimeout,
			MaxConcurrentBatches: baseCfg.PushConfig.MaxConcurrentBatches,
			RatePerSecond:        baseCfg.PushConfig.RatePerSecond,
			Burst:                baseCfg.PushConfig.Burst,
			AppName:              baseCfg.PushConfig.AppName,
			Title:                baseCfg.PushConfig.Title,
			ChannelID:            baseCfg.PushConfig.ChannelID,
			ExpoURL:              baseCfg.PushConfig.ExpoURL,
		},
		APNS: APNSConfig{
			KeyID:       baseCfg.APNSConfig.KeyID,
			TeamID:      baseCfg.APNSConfig.TeamID,
			BundleID:    baseCfg.APNSConfig.BundleID,
			Sandbox:     baseCfg.APNSConfig.Sandbox,
			Concurrency: baseCfg.APNSConfig.Concurrency,
		},
		Auth: AuthConfig{
			Enabled:   baseCfg.AuthConfig.Enabled,
			DevUserID: baseCfg.AuthConfig.DevUserID,
		},
		SubscriptionID:         baseCfg.SubscriptionID,
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
		"push_provider", cfg.Push.Provider,
	)

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
