package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// TokenField is the user document field holding FCM registration tokens.
const TokenField = "fcmToken"

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Style holds the Android presentation defaults of the mobile app.
type Style struct {
	Icon        string
	Color       string
	ClickAction string
}

// DefaultStyle matches the resources shipped in the Android app.
func DefaultStyle() Style {
	return Style{
		Icon:        "ic_notification",
		Color:       "#e63946",
		ClickAction: "FLUTTER_NOTIFICATION_CLICK",
	}
}

type Dispatcher struct {
	client MessagingClient
	style  Style
	logger *slog.Logger
}

func NewDispatcher(client MessagingClient, style Style, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		style:  style,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

func (d *Dispatcher) Name() string { return "fcm" }

// TokenRule accepts any non-empty registration token; FCM tokens have no
// stable shape worth checking locally.
func (d *Dispatcher) TokenRule() dispatch.TokenRule {
	return dispatch.TokenRule{Field: TokenField}
}

// Send delivers one batch with SendEachForMulticast. A call-level error fails
// the batch; per-token errors become error receipts.
func (d *Dispatcher) Send(ctx context.Context, batch notification.Batch, msg notification.Message) notification.BatchResult {
	if len(batch.Tokens) == 0 {
		return notification.BatchSucceeded(batch, nil)
	}

	mm := &messaging.MulticastMessage{
		Tokens:       batch.Tokens,
		Data:         encodeData(msg.Data),
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Android:      d.androidConfig(msg),
		APNS:         apnsConfig(msg),
	}

	br, err := d.client.SendEachForMulticast(ctx, mm)
	if err != nil {
		return notification.BatchFailed(batch, &notification.TransportError{Provider: d.Name(), Err: err})
	}

	receipts := make([]notification.Receipt, len(batch.Tokens))
	for i, tok := range batch.Tokens {
		if i >= len(br.Responses) || br.Responses[i] == nil {
			receipts[i] = notification.Receipt{Token: tok, Status: notification.StatusError, Message: "no response for token"}
			continue
		}
		receipts[i] = receiptFor(tok, br.Responses[i])
	}

	if br.FailureCount > 0 {
		d.logger.Debug("FCM batch had token failures", "batch", batch.Index, "success", br.SuccessCount, "failure", br.FailureCount)
	}
	return notification.BatchSucceeded(batch, receipts)
}

// SendTopic broadcasts msg to every subscriber of topic and returns the FCM
// message name.
func (d *Dispatcher) SendTopic(ctx context.Context, topic string, msg notification.Message) (string, error) {
	id, err := d.client.Send(ctx, &messaging.Message{
		Topic:        topic,
		Data:         encodeData(msg.Data),
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Android:      d.androidConfig(msg),
		APNS:         apnsConfig(msg),
	})
	if err != nil {
		return "", fmt.Errorf("fcm topic send failed: %w", err)
	}
	return id, nil
}

func (d *Dispatcher) androidConfig(msg notification.Message) *messaging.AndroidConfig {
	return &messaging.AndroidConfig{
		Priority: msg.Priority,
		Notification: &messaging.AndroidNotification{
			Icon:        d.style.Icon,
			Color:       d.style.Color,
			ClickAction: d.style.ClickAction,
			ChannelID:   msg.ChannelID,
			Sound:       msg.Sound,
			ImageURL:    msg.ImageURL,
		},
	}
}

func apnsConfig(msg notification.Message) *messaging.APNSConfig {
	cfg := &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Badge: msg.Badge,
				Sound: msg.Sound,
			},
		},
	}
	if msg.ImageURL != "" {
		cfg.Payload.Aps.MutableContent = true
		cfg.FCMOptions = &messaging.APNSFCMOptions{ImageURL: msg.ImageURL}
	}
	return cfg
}

func receiptFor(token string, resp *messaging.SendResponse) notification.Receipt {
	if resp.Success {
		return notification.Receipt{Token: token, Status: notification.StatusOK, ID: resp.MessageID}
	}

	r := notification.Receipt{Token: token, Status: notification.StatusError}
	if resp.Error != nil {
		r.Message = resp.Error.Error()
	}
	switch {
	case messaging.IsRegistrationTokenNotRegistered(resp.Error):
		r.Details = map[string]any{"error": "DeviceNotRegistered"}
	case messaging.IsInvalidArgument(resp.Error):
		r.Details = map[string]any{"error": "InvalidArgument"}
	}
	return r
}

// encodeData flattens the message data into FCM's string-only map. Strings
// pass through; everything else is JSON encoded.
func encodeData(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprint(val)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
