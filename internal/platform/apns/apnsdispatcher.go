// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// TokenField is the user document field holding APNs device tokens.
const TokenField = "apnsToken"

const defaultConcurrency = 10

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client      APNSClient
	topic       string // The App Bundle ID (e.g. com.thenewjeweller.app)
	concurrency int
	logger      *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	// Sandbox routes pushes to the development gateway.
	Sandbox bool
	// Concurrency bounds in-flight pushes per batch.
	Concurrency int
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newDispatcher(client, cfg.BundleID, cfg.Concurrency, logger), nil
}

func newDispatcher(client APNSClient, topic string, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Dispatcher{
		client:      client,
		topic:       topic,
		concurrency: concurrency,
		logger:      logger.With("component", "APNSDispatcher"),
	}
}

func (d *Dispatcher) Name() string { return "apns" }

func (d *Dispatcher) TokenRule() dispatch.TokenRule {
	return dispatch.TokenRule{Field: TokenField, Valid: ValidToken}
}

// ValidToken reports whether token is a hex encoded device token.
func ValidToken(token string) bool {
	if len(token) < 64 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

// Send pushes to every token of the batch. APNs has no multicast endpoint, so
// each token is a unary HTTP/2 request; requests run concurrently up to the
// configured limit. The batch fails only when no token got an answer.
func (d *Dispatcher) Send(ctx context.Context, batch notification.Batch, msg notification.Message) notification.BatchResult {
	if len(batch.Tokens) == 0 {
		return notification.BatchSucceeded(batch, nil)
	}

	body := buildPayload(msg)
	priority := apns2.PriorityLow
	if msg.Priority == "high" {
		priority = apns2.PriorityHigh
	}

	receipts := make([]notification.Receipt, len(batch.Tokens))
	transportErrs := make([]error, len(batch.Tokens))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, deviceToken := range batch.Tokens {
		g.Go(func() error {
			res, err := d.client.PushWithContext(ctx, &apns2.Notification{
				DeviceToken: deviceToken,
				Topic:       d.topic,
				Priority:    priority,
				Payload:     body,
			})
			if err != nil {
				transportErrs[i] = err
				receipts[i] = notification.Receipt{Token: deviceToken, Status: notification.StatusError, Message: err.Error()}
				return nil
			}
			receipts[i] = d.receiptFor(deviceToken, res)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range transportErrs {
		if err != nil {
			failed++
		}
	}
	if failed == len(batch.Tokens) {
		return notification.BatchFailed(batch, &notification.TransportError{
			Provider: d.Name(),
			Err:      errors.Join(transportErrs...),
		})
	}
	if failed > 0 {
		d.logger.Warn("APNs transport failed for part of the batch", "batch", batch.Index, "failed", failed)
	}
	return notification.BatchSucceeded(batch, receipts)
}

func (d *Dispatcher) receiptFor(deviceToken string, res *apns2.Response) notification.Receipt {
	if res.Sent() {
		return notification.Receipt{Token: deviceToken, Status: notification.StatusOK, ID: res.ApnsID}
	}

	r := notification.Receipt{
		Token:   deviceToken,
		Status:  notification.StatusError,
		ID:      res.ApnsID,
		Message: res.Reason,
		Details: map[string]any{"reason": res.Reason, "statusCode": res.StatusCode},
	}
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		// Token is dead.
		r.Details["error"] = "DeviceNotRegistered"
	default:
		// TopicDisallowed, PayloadEmpty and friends point at our configuration,
		// not the token.
		d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
	}
	return r
}

func buildPayload(msg notification.Message) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body)
	if msg.Sound != "" {
		p.Sound(msg.Sound)
	}
	if msg.Badge != nil {
		p.Badge(*msg.Badge)
	}
	if msg.ImageURL != "" {
		p.MutableContent()
		p.Custom("imageUrl", msg.ImageURL)
	}
	for k, v := range msg.Data {
		p.Custom(k, v)
	}
	return p
}
