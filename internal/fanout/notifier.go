package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// DefaultArticleTitle is used when neither the caller nor the store has a title.
const DefaultArticleTitle = "New Article"

// Config bundles the dispatcher and message settings of a Notifier.
type Config struct {
	Dispatcher DispatcherConfig
	Template   MessageTemplate
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Notifier is the entry point for article notifications. It is built once at
// start-up and shared by the HTTP handlers and the article event pipeline.
type Notifier struct {
	profiles   dispatch.ProfileStore
	articles   dispatch.ArticleStore
	transport  dispatch.Transport
	dispatcher *Dispatcher
	template   MessageTemplate
	clock      func() time.Time
	logger     *slog.Logger
}

// NewNotifier wires the stores and the transport together.
func NewNotifier(
	profiles dispatch.ProfileStore,
	articles dispatch.ArticleStore,
	transport dispatch.Transport,
	cfg Config,
	logger *slog.Logger,
) *Notifier {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Notifier{
		profiles:   profiles,
		articles:   articles,
		transport:  transport,
		dispatcher: NewDispatcher(transport, cfg.Dispatcher, logger),
		template:   cfg.Template.withDefaults(),
		clock:      clock,
		logger:     logger.With("component", "Notifier", "provider", transport.Name()),
	}
}

// NotifyNewArticle notifies every interested device about an article.
//
// A missing article id is returned as a ValidationError and a missing article
// record as a NotFoundError, both before any push traffic. Every other failure
// is reported inside the outcome with Success=false.
func (n *Notifier) NotifyNewArticle(ctx context.Context, payload notification.ArticlePayload) (out *notification.Outcome, err error) {
	if err := payload.Validate(); err != nil {
		recordOutcome("article", "rejected")
		return nil, err
	}

	log := n.logger.With("dispatch_id", uuid.NewString(), "article_id", payload.ArticleID)
	defer n.guard(log, "article", &out, &err)

	payload, err = n.backfill(ctx, payload)
	if err != nil {
		if notification.IsNotFound(err) {
			recordOutcome("article", "rejected")
			return nil, err
		}
		log.Error("Failed to load article", "err", err)
		return notification.Failure(err), nil
	}

	profiles, err := n.profiles.ListProfiles(ctx)
	if err != nil {
		log.Error("Failed to read device profiles", "err", err)
		return notification.Failure(asStoreError("list profiles", err)), nil
	}
	if len(profiles) == 0 {
		log.Info("No users with push tokens found")
		return empty("No users to notify"), nil
	}

	tokens := SelectTokens(profiles, payload, n.transport.TokenRule())
	if len(tokens) == 0 {
		log.Info("No valid push tokens after preference filtering", "profiles", len(profiles))
		return empty("No matching recipients found"), nil
	}

	log.Info("Sending article notification", "tokens", len(tokens), "profiles", len(profiles))
	msg := n.template.ForArticle(payload, n.clock())
	return n.deliver(ctx, log, tokens, msg), nil
}

// NotifyTargeted sends a free-form notification to explicit tokens and to the
// devices of the listed users. Preferences are not consulted.
func (n *Notifier) NotifyTargeted(ctx context.Context, req notification.TargetedRequest) (out *notification.Outcome, err error) {
	if req.Title == "" || req.Body == "" {
		recordOutcome("targeted", "rejected")
		return nil, &notification.ValidationError{Field: "title and body", Reason: "are required"}
	}

	log := n.logger.With("dispatch_id", uuid.NewString(), "kind", "targeted")
	defer n.guard(log, "targeted", &out, &err)

	tokens := append([]string(nil), req.Tokens...)
	if len(req.UserIDs) > 0 {
		profiles, err := n.profiles.GetProfiles(ctx, req.UserIDs)
		if err != nil {
			log.Error("Failed to resolve user tokens", "err", err)
			return notification.Failure(asStoreError("get profiles", err)), nil
		}
		for _, p := range profiles {
			tokens = append(tokens, p.Token)
		}
	}

	tokens = dedupe(tokens, n.transport.TokenRule())
	if len(tokens) == 0 {
		return empty("No valid recipients found"), nil
	}

	log.Info("Sending targeted notification", "tokens", len(tokens))
	msg := n.template.ForTargeted(req, n.clock())
	return n.deliver(ctx, log, tokens, msg), nil
}

// NotifyTopic broadcasts to a provider topic. Only providers implementing
// dispatch.TopicTransport support it.
func (n *Notifier) NotifyTopic(ctx context.Context, req notification.TopicRequest) (out *notification.Outcome, err error) {
	if req.Topic == "" {
		return nil, &notification.ValidationError{Field: "topic", Reason: "is required"}
	}
	if req.Title == "" || req.Body == "" {
		return nil, &notification.ValidationError{Field: "title and body", Reason: "are required"}
	}
	topics, ok := n.transport.(dispatch.TopicTransport)
	if !ok {
		return nil, &notification.ValidationError{
			Field:  "topic",
			Reason: fmt.Sprintf("is not supported by the %s provider", n.transport.Name()),
		}
	}

	log := n.logger.With("dispatch_id", uuid.NewString(), "topic", req.Topic)
	defer n.guard(log, "topic", &out, &err)

	id, err := topics.SendTopic(ctx, req.Topic, n.template.ForTopic(req, n.clock()))
	if err != nil {
		log.Error("Topic send failed", "err", err)
		recordOutcome("topic", "failure")
		return notification.Failure(err), nil
	}
	recordOutcome("topic", "success")
	return &notification.Outcome{
		Success: true,
		Message: fmt.Sprintf("Notification sent to topic: %s (%s)", req.Topic, id),
		Details: &notification.OutcomeDetails{Success: true},
	}, nil
}

func (n *Notifier) deliver(ctx context.Context, log *slog.Logger, tokens []string, msg notification.Message) *notification.Outcome {
	results := n.dispatcher.Dispatch(ctx, tokens, msg)
	out := Reconcile(results)

	errCount := 0
	if out.Details != nil {
		errCount = len(out.Details.Errors)
	}
	if out.Success {
		recordOutcome("fanout", "success")
		log.Info("Notification dispatched", "tokens", out.TokensCount, "batches", len(results), "errors", errCount)
	} else {
		recordOutcome("fanout", "failure")
		log.Error("Notification dispatch failed", "tokens", out.TokensCount, "batches", len(results), "err", out.Error)
	}
	return out
}

// backfill loads the article when the caller left out its title or categories.
func (n *Notifier) backfill(ctx context.Context, p notification.ArticlePayload) (notification.ArticlePayload, error) {
	if p.Title != "" && len(p.Categories) > 0 {
		return p, nil
	}

	article, err := n.articles.GetArticle(ctx, p.ArticleID)
	if err != nil {
		return p, err
	}

	if p.Title == "" {
		p.Title = article.Title
		if p.Title == "" {
			p.Title = DefaultArticleTitle
		}
	}
	if len(p.Categories) == 0 {
		p.Categories = article.Categories
	}
	if len(p.Locations) == 0 {
		p.Locations = article.Locations
	}
	if p.ImageURL == "" {
		p.ImageURL = article.ImageURL
	}
	return p, nil
}

// guard turns a panic anywhere in a dispatch into a failed outcome.
func (n *Notifier) guard(log *slog.Logger, kind string, out **notification.Outcome, err *error) {
	if r := recover(); r != nil {
		log.Error("Recovered from panic during dispatch", "panic", r)
		recordOutcome(kind, "failure")
		*out = notification.Failure(fmt.Errorf("internal error: %v", r))
		*err = nil
	}
}

func empty(message string) *notification.Outcome {
	recordOutcome("fanout", "empty")
	return &notification.Outcome{
		Success:     true,
		TokensCount: 0,
		Message:     message,
	}
}

func asStoreError(op string, err error) error {
	var se *notification.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &notification.StoreError{Op: op, Err: err}
}
