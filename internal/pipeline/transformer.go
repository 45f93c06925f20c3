// Package pipeline contains the article event stream components: a transformer
// that decodes events published by the admin panel and a processor that hands
// them to the fan-out.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// Article lifecycle events.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// ArticleEvent is published whenever an article is written.
type ArticleEvent struct {
	Event string `json:"event"`
	notification.ArticlePayload
}

// ArticleEventTransformer is a dataflow Transformer that unmarshals a raw
// message payload into an ArticleEvent.
//
// Malformed payloads return an error with skip=true so the StreamingService
// handles the Nack/DLQ logic. Deletions are skipped silently.
func ArticleEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*ArticleEvent, bool, error) {
	var event ArticleEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal article event from message %s: %w", msg.ID, err)
	}
	if err := event.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid article event in message %s: %w", msg.ID, err)
	}

	switch strings.ToLower(event.Event) {
	case "", EventCreated, EventUpdated:
		return &event, false, nil
	case EventDeleted:
		return nil, true, nil
	default:
		return nil, true, fmt.Errorf("unknown article event %q in message %s", event.Event, msg.ID)
	}
}
