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

// Push providers.
const (
	ProviderExpo = "expo"
	ProviderFCM  = "fcm"
	ProviderAPNS = "apns"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// PushConfig selects the provider and tunes the batch fan-out.
type PushConfig struct {
	Provider             string
	BatchSize            int
	BatchTimeout         time.Duration
	MaxConcurrentBatches int
	RatePerSecond        float64
	Burst                int

	AppName   string
	Title     string
	ChannelID string

	ExpoURL         string
	ExpoAccessToken string
}

type APNSConfig struct {
	KeyID       string
	TeamID      string
	BundleID    string
	P8Key       string
	Sandbox     bool
	Concurrency int
}

// AuthConfig controls Firebase ID token checks. With auth disabled every
// request runs as DevUserID; only meant for local development.
type AuthConfig struct {
	Enabled   bool
	DevUserID string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	MetricsAddr            string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Push       PushConfig
	APNS       APNSConfig
	Auth       AuthConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether article events should be consumed.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("METRICS_ADDR"); val != "" {
		logger.Debug("Overriding config value", "key", "METRICS_ADDR", "source", "env")
		cfg.MetricsAddr = val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
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

	// Redis Overrides
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
	if val := os.Getenv("REDIS_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_TTL %q: %w", val, err)
		}
		cfg.Redis.TTL = ttl
	}

	// Push Overrides
	if val := os.Getenv("PUSH_PROVIDER"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_PROVIDER", "source", "env")
		cfg.Push.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("PUSH_BATCH_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			cfg.Push.BatchSize = size
		}
	}
	if val := os.Getenv("PUSH_BATCH_TIMEOUT"); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid PUSH_BATCH_TIMEOUT %q: %w", val, err)
		}
		cfg.Push.BatchTimeout = timeout
	}
	if val := os.Getenv("PUSH_MAX_CONCURRENT_BATCHES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			cfg.Push.MaxConcurrentBatches = n
		}
	}
	if val := os.Getenv("PUSH_RATE_PER_SECOND"); val != "" {
		if r, err := strconv.ParseFloat(val, 64); err == nil && r >= 0 {
			cfg.Push.RatePerSecond = r
		}
	}
	if val := os.Getenv("EXPO_PUSH_URL"); val != "" {
		cfg.Push.ExpoURL = val
	}
	if val := os.Getenv("EXPO_ACCESS_TOKEN"); val != "" {
		logger.Debug("Overriding config value", "key", "EXPO_ACCESS_TOKEN", "source", "env")
		cfg.Push.ExpoAccessToken = val
	}

	// APNs Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.APNS.P8Key = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

	// Auth Overrides
	if val := os.Getenv("AUTH_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Auth.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Minute
	}

	switch cfg.Push.Provider {
	case "":
		cfg.Push.Provider = ProviderExpo
	case ProviderExpo, ProviderFCM:
	case ProviderAPNS:
		if cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" || cfg.APNS.P8Key == "" {
			return nil, fmt.Errorf("apns provider requires key_id, team_id, bundle_id and p8_key")
		}
	default:
		return nil, fmt.Errorf("unknown push provider %q (expected expo, fcm or apns)", cfg.Push.Provider)
	}

	if cfg.Auth.DevUserID == "" {
		cfg.Auth.DevUserID = "local-dev"
	}
	if !cfg.Auth.Enabled {
		logger.Warn("Authentication is disabled; every request runs as the dev user", "user", cfg.Auth.DevUserID)
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
