package fanout_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records every batch and answers through respond.
type fakeTransport struct {
	mu      sync.Mutex
	batches []notification.Batch
	msgs    []notification.Message
	respond func(ctx context.Context, b notification.Batch) notification.BatchResult
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) TokenRule() dispatch.TokenRule {
	return dispatch.TokenRule{
		Field: "pushToken",
		Valid: func(t string) bool { return strings.HasPrefix(t, "ExponentPushToken[") },
	}
}

func (f *fakeTransport) Send(ctx context.Context, b notification.Batch, msg notification.Message) notification.BatchResult {
	f.mu.Lock()
	f.batches = append(f.batches, b)
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(ctx, b)
	}
	return allOK(b)
}

func (f *fakeTransport) Batches() []notification.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification.Batch(nil), f.batches...)
}

func (f *fakeTransport) Messages() []notification.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification.Message(nil), f.msgs...)
}

// topicTransport adds topic support on top of fakeTransport.
type topicTransport struct {
	fakeTransport
	topic string
	err   error
}

func (t *topicTransport) SendTopic(_ context.Context, topic string, _ notification.Message) (string, error) {
	t.topic = topic
	if t.err != nil {
		return "", t.err
	}
	return "projects/p/messages/1", nil
}

func allOK(b notification.Batch) notification.BatchResult {
	receipts := make([]notification.Receipt, len(b.Tokens))
	for i, t := range b.Tokens {
		receipts[i] = notification.Receipt{Token: t, Status: notification.StatusOK, ID: fmt.Sprintf("r-%d-%d", b.Index, i)}
	}
	return notification.BatchSucceeded(b, receipts)
}

func expoTokens(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("ExponentPushToken[%04d]", i)
	}
	return tokens
}

func profilesFor(tokens []string) []notification.Profile {
	profiles := make([]notification.Profile, len(tokens))
	for i, t := range tokens {
		profiles[i] = notification.Profile{UserID: fmt.Sprintf("user-%d", i), Token: t}
	}
	return profiles
}

type mockProfileStore struct {
	mock.Mock
}

func (m *mockProfileStore) ListProfiles(ctx context.Context) ([]notification.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]notification.Profile), args.Error(1)
}

func (m *mockProfileStore) GetProfiles(ctx context.Context, ids []string) ([]notification.Profile, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]notification.Profile), args.Error(1)
}

func (m *mockProfileStore) RegisterDevice(ctx context.Context, userID string, d notification.Device) error {
	return m.Called(ctx, userID, d).Error(0)
}

func (m *mockProfileStore) UnregisterDevice(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockArticleStore struct {
	mock.Mock
}

func (m *mockArticleStore) GetArticle(ctx context.Context, id string) (*notification.Article, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notification.Article), args.Error(1)
}
