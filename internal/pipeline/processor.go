package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// ArticleNotifier is the part of the fan-out facade the processor needs.
type ArticleNotifier interface {
	NotifyNewArticle(ctx context.Context, payload notification.ArticlePayload) (*notification.Outcome, error)
}

// NewProcessor creates the stage that turns an article event into a fan-out.
//
// Push delivery is best effort: validation errors, unknown articles and failed
// outcomes are logged and the message is acked. Redelivery would only repeat
// pushes to the devices that already got one.
func NewProcessor(notifier ArticleNotifier, logger *slog.Logger) messagepipeline.StreamProcessor[ArticleEvent] {
	logger = logger.With("component", "ArticleEventProcessor")

	return func(ctx context.Context, original messagepipeline.Message, event *ArticleEvent) error {
		procLogger := logger.With(
			"article_id", event.ArticleID,
			"event", event.Event,
			"pubsub_msg_id", original.ID,
		)

		out, err := notifier.NotifyNewArticle(ctx, event.ArticlePayload)
		if err != nil {
			if notification.IsValidation(err) || notification.IsNotFound(err) {
				procLogger.Warn("Dropping article event", "err", err)
				return nil
			}
			procLogger.Error("Article notification failed", "err", err)
			return err
		}

		if !out.Success {
			procLogger.Error("Article notification reported failure", "err", out.Error, "tokens", out.TokensCount)
			return nil
		}
		procLogger.Info("Article notification dispatched", "tokens", out.TokensCount, "message", out.Message)
		return nil
	}
}
