// Package dispatch defines the seams between the fan-out core, the document
// store and the push providers.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// TokenRule describes where a provider's tokens live on a user record and what
// a well-formed token looks like.
type TokenRule struct {
	// Field is the user document field holding the token (e.g. "pushToken").
	Field string
	// Valid reports whether a token has the provider's expected shape.
	Valid func(token string) bool
}

// Accepts applies the rule, treating a nil Valid as "any non-empty token".
func (r TokenRule) Accepts(token string) bool {
	if token == "" {
		return false
	}
	if r.Valid == nil {
		return true
	}
	return r.Valid(token)
}

// Transport sends one batch to a push provider.
//
// Send never returns a raw provider response: the result is either a list of
// per-token receipts or a transport failure for the whole batch.
type Transport interface {
	Name() string
	TokenRule() TokenRule
	Send(ctx context.Context, batch notification.Batch, msg notification.Message) notification.BatchResult
}

// TopicTransport is implemented by providers that support topic broadcast.
type TopicTransport interface {
	SendTopic(ctx context.Context, topic string, msg notification.Message) (string, error)
}

// ProfileStore reads and maintains device registrations on user records.
type ProfileStore interface {
	// ListProfiles returns every user record carrying a token field. Shape
	// checks on the token are left to the caller.
	ListProfiles(ctx context.Context) ([]notification.Profile, error)

	// GetProfiles returns the profiles of the given users; unknown ids are skipped.
	GetProfiles(ctx context.Context, userIDs []string) ([]notification.Profile, error)

	RegisterDevice(ctx context.Context, userID string, device notification.Device) error
	UnregisterDevice(ctx context.Context, userID string) error
}

// ArticleStore reads article records.
type ArticleStore interface {
	GetArticle(ctx context.Context, articleID string) (*notification.Article, error)
}
