// Package expo provides the batch transport for the Expo push gateway.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

const (
	// DefaultURL is the public Expo push endpoint.
	DefaultURL = "https://exp.host/--/api/v2/push/send"

	// TokenField is the user document field holding Expo tokens.
	TokenField = "pushToken"

	tokenPrefix = "ExponentPushToken["
	maxBodySize = 1 << 20
)

// HTTPClient is the subset of *http.Client the dispatcher needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the gateway endpoint and its circuit breaker.
type Config struct {
	URL string
	// AccessToken is sent as a bearer token when push security is enabled on
	// the Expo project.
	AccessToken string

	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
	// BreakerMinRequests is the number of calls before the failure ratio counts.
	BreakerMinRequests uint32
	// BreakerFailureRatio trips the breaker, e.g. 0.6 for 60% failed batches.
	BreakerFailureRatio float64
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = 5
	}
	if c.BreakerFailureRatio <= 0 {
		c.BreakerFailureRatio = 0.6
	}
	return c
}

// Dispatcher sends one batch per HTTP call to the Expo gateway.
type Dispatcher struct {
	client  HTTPClient
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewDispatcher creates the Expo transport. A nil client uses http.DefaultClient.
func NewDispatcher(client HTTPClient, cfg Config, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	cfg = cfg.withDefaults()
	logger = logger.With("component", "ExpoDispatcher")

	settings := gobreaker.Settings{
		Name:        "expo-push",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "circuit", name, "from", from.String(), "to", to.String())
		},
	}

	return &Dispatcher{
		client:  client,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (d *Dispatcher) Name() string { return "expo" }

func (d *Dispatcher) TokenRule() dispatch.TokenRule {
	return dispatch.TokenRule{Field: TokenField, Valid: ValidToken}
}

// ValidToken reports whether token looks like an Expo push token.
func ValidToken(token string) bool {
	return strings.HasPrefix(token, tokenPrefix)
}

// pushMessage is the gateway request body. "to" carries the whole batch.
type pushMessage struct {
	To                  []string       `json:"to"`
	Title               string         `json:"title"`
	Body                string         `json:"body"`
	Data                map[string]any `json:"data,omitempty"`
	Sound               string         `json:"sound,omitempty"`
	Badge               *int           `json:"badge,omitempty"`
	ChannelID           string         `json:"channelId,omitempty"`
	Priority            string         `json:"priority,omitempty"`
	MutableContent      bool           `json:"mutableContent,omitempty"`
	DisplayInForeground bool           `json:"_displayInForeground,omitempty"`
	Attachments         *attachment    `json:"attachments,omitempty"`
}

type attachment struct {
	URL string `json:"url"`
}

type ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pushResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gatewayError  `json:"errors"`
}

func newPushMessage(tokens []string, msg notification.Message) pushMessage {
	pm := pushMessage{
		To:        tokens,
		Title:     msg.Title,
		Body:      msg.Body,
		Data:      msg.Data,
		Sound:     msg.Sound,
		Badge:     msg.Badge,
		ChannelID: msg.ChannelID,
		Priority:  msg.Priority,
	}
	if msg.ImageURL != "" {
		pm.MutableContent = true
		pm.DisplayInForeground = true
		pm.Attachments = &attachment{URL: msg.ImageURL}
	}
	return pm
}

// Send posts one batch. Network errors, non-2xx answers, undecodable bodies and
// an open breaker fail the whole batch; anything else becomes per-token receipts.
func (d *Dispatcher) Send(ctx context.Context, batch notification.Batch, msg notification.Message) notification.BatchResult {
	if len(batch.Tokens) == 0 {
		return notification.BatchSucceeded(batch, nil)
	}

	body, err := json.Marshal(newPushMessage(batch.Tokens, msg))
	if err != nil {
		return notification.BatchFailed(batch, &notification.TransportError{Provider: d.Name(), Err: fmt.Errorf("failed to encode push message: %w", err)})
	}

	raw, err := d.breaker.Execute(func() (interface{}, error) {
		return d.post(ctx, body)
	})
	if err != nil {
		var te *notification.TransportError
		if !errors.As(err, &te) {
			err = &notification.TransportError{Provider: d.Name(), Err: err}
		}
		return notification.BatchFailed(batch, err)
	}

	var resp pushResponse
	if err := json.Unmarshal(raw.([]byte), &resp); err != nil {
		return notification.BatchFailed(batch, &notification.TransportError{Provider: d.Name(), Err: fmt.Errorf("failed to decode gateway response: %w", err)})
	}

	receipts, err := normalize(batch.Tokens, resp)
	if err != nil {
		return notification.BatchFailed(batch, &notification.TransportError{Provider: d.Name(), Err: err})
	}
	return notification.BatchSucceeded(batch, receipts)
}

func (d *Dispatcher) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.AccessToken)
	}

	res, err := d.client.Do(req)
	if err != nil {
		return nil, &notification.TransportError{Provider: d.Name(), Err: err}
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, &notification.TransportError{Provider: d.Name(), Status: res.StatusCode, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		d.logger.Warn("Expo gateway rejected batch", "status", res.StatusCode, "body", truncate(string(payload), 256))
		return nil, &notification.TransportError{
			Provider: d.Name(),
			Status:   res.StatusCode,
			Err:      fmt.Errorf("expo push API error: %s", http.StatusText(res.StatusCode)),
		}
	}
	return payload, nil
}

// normalize maps the gateway's answer onto one receipt per token. The gateway
// answers with a list of tickets, a single ticket for the whole request, or a
// top-level errors list.
func normalize(tokens []string, resp pushResponse) ([]notification.Receipt, error) {
	data := bytes.TrimSpace(resp.Data)

	switch {
	case len(data) > 0 && data[0] == '[':
		var tickets []ticket
		if err := json.Unmarshal(data, &tickets); err != nil {
			return nil, fmt.Errorf("failed to decode ticket list: %w", err)
		}
		receipts := make([]notification.Receipt, len(tokens))
		for i, tok := range tokens {
			if i >= len(tickets) {
				receipts[i] = notification.Receipt{Token: tok, Status: notification.StatusError, Message: "no ticket returned for token"}
				continue
			}
			receipts[i] = fromTicket(tok, tickets[i])
		}
		return receipts, nil

	case len(data) > 0 && data[0] == '{':
		var single ticket
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to decode ticket: %w", err)
		}
		receipts := make([]notification.Receipt, len(tokens))
		for i, tok := range tokens {
			receipts[i] = fromTicket(tok, single)
		}
		return receipts, nil

	case len(resp.Errors) > 0:
		first := resp.Errors[0]
		message := first.Message
		if message == "" {
			message = first.Code
		}
		receipts := make([]notification.Receipt, len(tokens))
		for i, tok := range tokens {
			receipts[i] = notification.Receipt{
				Token:   tok,
				Status:  notification.StatusError,
				Message: message,
				Details: map[string]any{"code": first.Code},
			}
		}
		return receipts, nil
	}

	receipts := make([]notification.Receipt, len(tokens))
	for i, tok := range tokens {
		receipts[i] = notification.Receipt{Token: tok, Status: notification.StatusOK}
	}
	return receipts, nil
}

func fromTicket(token string, t ticket) notification.Receipt {
	status := t.Status
	if status == "" {
		status = notification.StatusError
	}
	return notification.Receipt{
		Token:   token,
		Status:  status,
		ID:      t.ID,
		Message: t.Message,
		Details: t.Details,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
