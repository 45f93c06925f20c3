// Package notification contains the domain models shared by the article push
// fan-out: device profiles, article payloads, batches, receipts and outcomes.
package notification

import "strings"

// Receipt statuses. Providers that answer "success" are normalised to StatusOK.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// MaxBatchSize is the hard provider limit on tokens per transport call.
const MaxBatchSize = 100

// Profile is the notification view of one user record.
type Profile struct {
	UserID              string   `json:"userId"`
	Token               string   `json:"token"`
	CategoryPreferences []string `json:"categoryPreferences,omitempty"`
	LocationPreferences []string `json:"locationPreferences,omitempty"`
}

// Device is what a mobile client registers for itself.
type Device struct {
	Token      string   `json:"token"`
	Categories []string `json:"categories"`
	Locations  []string `json:"locations"`
}

// ArticlePayload describes the article that triggered a notification.
type ArticlePayload struct {
	ArticleID  string   `json:"articleId"`
	Title      string   `json:"title,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Locations  []string `json:"locations,omitempty"`
	ImageURL   string   `json:"imageUrl,omitempty"`
}

// Validate checks the only hard requirement: an article id.
func (p ArticlePayload) Validate() error {
	if strings.TrimSpace(p.ArticleID) == "" {
		return &ValidationError{Field: "articleId", Reason: "is required"}
	}
	return nil
}

// Article is a record from the articles collection after legacy field
// normalisation.
type Article struct {
	ID         string
	Title      string
	Categories []string
	Locations  []string
	ImageURL   string
}

// Message is the provider independent template shared by every batch of one
// dispatch.
type Message struct {
	Title     string
	Body      string
	Data      map[string]any
	Sound     string
	Badge     *int
	ChannelID string
	Priority  string
	ImageURL  string
}

// Batch is a bounded group of tokens sent in one transport call.
type Batch struct {
	Index  int
	Tokens []string
}

// Receipt is a per-token acknowledgement.
type Receipt struct {
	Token   string         `json:"token"`
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// OK reports whether the provider accepted the token.
func (r Receipt) OK() bool {
	return r.Status == StatusOK || r.Status == "success"
}

// BatchResult is either a set of receipts or a transport failure. Use
// BatchSucceeded and BatchFailed to build one.
type BatchResult struct {
	Batch    Batch
	Receipts []Receipt
	Err      error
}

// BatchSucceeded records a batch that completed at the transport level.
func BatchSucceeded(b Batch, receipts []Receipt) BatchResult {
	return BatchResult{Batch: b, Receipts: receipts}
}

// BatchFailed records a batch that never produced receipts.
func BatchFailed(b Batch, err error) BatchResult {
	return BatchResult{Batch: b, Err: err}
}

// Failed reports whether the batch failed at the transport level.
func (r BatchResult) Failed() bool {
	return r.Err != nil
}

// ErrorEntry is one per-token failure reported back to the caller.
type ErrorEntry struct {
	Batch   int            `json:"batch"`
	Token   string         `json:"token,omitempty"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// OutcomeDetails carries either a success marker or the collected errors.
type OutcomeDetails struct {
	Success bool         `json:"success,omitempty"`
	Errors  []ErrorEntry `json:"errors,omitempty"`
}

// Outcome is the aggregated result of one dispatch.
type Outcome struct {
	Success     bool            `json:"success"`
	TokensCount int             `json:"tokensCount"`
	Message     string          `json:"message,omitempty"`
	Details     *OutcomeDetails `json:"details,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Failure builds the outcome for a dispatch that could not run.
func Failure(err error) *Outcome {
	return &Outcome{Success: false, Error: err.Error()}
}

// TargetedRequest sends a free-form notification to explicit recipients.
type TargetedRequest struct {
	Tokens    []string       `json:"tokens"`
	UserIDs   []string       `json:"userIds"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data"`
	ChannelID string         `json:"channelId"`
	ImageURL  string         `json:"imageUrl"`
}

// TopicRequest sends a notification to every subscriber of a provider topic.
type TopicRequest struct {
	Topic    string         `json:"topic"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data"`
	ImageURL string         `json:"imageUrl"`
}
