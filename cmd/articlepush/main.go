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

	"github.com/tinywideclouds/go-article-push-service/articlepush"
	"github.com/tinywideclouds/go-article-push-service/articlepush/config"
	"github.com/tinywideclouds/go-article-push-service/internal/auth"
	"github.com/tinywideclouds/go-article-push-service/internal/fanout"
	"github.com/tinywideclouds/go-article-push-service/internal/platform/apns"
	"github.com/tinywideclouds/go-article-push-service/internal/platform/expo"
	"github.com/tinywideclouds/go-article-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-article-push-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-article-push-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

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
	})).With("service", "go-article-push-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}

	// --- Push Transport ---
	transport, err := newTransport(ctx, cfg, fbApp, logger)
	if err != nil {
		logger.Error("Push transport failed", "provider", cfg.Push.Provider, "err", err)
		os.Exit(1)
	}
	rule := transport.TokenRule()
	logger.Info("Push transport initialized", "provider", transport.Name(), "token_field", rule.Field)

	// --- Stores (Decorated) ---
	var profiles dispatch.ProfileStore = fsStore.NewProfileStore(fsClient, rule.Field, logger)
	articles := fsStore.NewArticleStore(fsClient)
	logger.Info("ProfileStore initialized", "type", "firestore")

	var health func(context.Context) error
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		profiles = cache.NewCachedProfileStore(profiles, redisClient, rule.Field, cfg.Redis.TTL, logger)
		health = redisClient.Ping
		logger.Info("ProfileStore upgraded", "type", "redis_cached_firestore", "ttl", cfg.Redis.TTL)
	}

	// --- Auth ---
	adminAuth, userAuth, err := newAuth(ctx, cfg, fbApp, logger)
	if err != nil {
		logger.Error("Auth setup failed", "err", err)
		os.Exit(1)
	}

	// --- Fan-out ---
	notifier := fanout.NewNotifier(profiles, articles, transport, fanout.Config{
		Dispatcher: fanout.DispatcherConfig{
			BatchSize:            cfg.Push.BatchSize,
			BatchTimeout:         cfg.Push.BatchTimeout,
			MaxConcurrentBatches: cfg.Push.MaxConcurrentBatches,
			RatePerSecond:        cfg.Push.RatePerSecond,
			Burst:                cfg.Push.Burst,
		},
		Template: fanout.MessageTemplate{
			AppName:   cfg.Push.AppName,
			Title:     cfg.Push.Title,
			ChannelID: cfg.Push.ChannelID,
		},
	}, logger)

	// --- Consumer & Service ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Article event consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := articlepush.New(cfg, articlepush.Dependencies{
		Notifier:  notifier,
		Profiles:  profiles,
		TokenRule: rule,
		Consumer:  consumer,
		AdminAuth: adminAuth,
		UserAuth:  userAuth,
		Health:    health,
	}, logger)
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

func newTransport(ctx context.Context, cfg *config.Config, fbApp *firebase.App, logger *slog.Logger) (dispatch.Transport, error) {
	switch cfg.Push.Provider {
	case config.ProviderFCM:
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		return fcm.NewDispatcher(fcmMessaging, fcm.DefaultStyle(), logger), nil
	case config.ProviderAPNS:
		d, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8Key,
			Sandbox:      cfg.APNS.Sandbox,
			Concurrency:  cfg.APNS.Concurrency,
		}, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return expo.NewDispatcher(&http.Client{Timeout: 30 * time.Second}, expo.Config{
			URL:         cfg.Push.ExpoURL,
			AccessToken: cfg.Push.ExpoAccessToken,
		}, logger), nil
	}
}

func newAuth(ctx context.Context, cfg *config.Config, fbApp *firebase.App, logger *slog.Logger) (admin, user func(http.Handler) http.Handler, err error) {
	if !cfg.Auth.Enabled {
		pass := auth.Passthrough(cfg.Auth.DevUserID)
		return pass, pass, nil
	}
	authClient, err := fbApp.Auth(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Firebase auth client: %w", err)
	}
	mw := auth.NewMiddleware(authClient, logger)
	return mw.RequireAdmin, mw.RequireUser, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")

	if cfg.TopicID != "" {
		subConfig := &pubsubpb.Subscription{
			Name:                  sub,
			Topic:                 convertPubsub(cfg.ProjectID, cfg.TopicID, "topics"),
			AckDeadlineSeconds:    30,
			EnableMessageOrdering: false,
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
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(sub), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
