package fanout

import (
	"maps"
	"time"

	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// NewArticleType is the data.type value the mobile app routes on.
const NewArticleType = "new_article"

// MessageTemplate holds the presentation defaults applied to every message.
type MessageTemplate struct {
	// AppName is used as the primary category when an article has none.
	AppName   string
	Title     string
	Sound     string
	Badge     int
	ChannelID string
	Priority  string
}

// DefaultMessageTemplate mirrors what the mobile app was built against.
func DefaultMessageTemplate() MessageTemplate {
	return MessageTemplate{
		AppName:   "TheNewJeweller",
		Title:     "From TheNewJeweller",
		Sound:     "default",
		Badge:     1,
		ChannelID: "new-articles",
		Priority:  "high",
	}
}

func (t MessageTemplate) withDefaults() MessageTemplate {
	d := DefaultMessageTemplate()
	if t.AppName == "" {
		t.AppName = d.AppName
	}
	if t.Title == "" {
		t.Title = d.Title
	}
	if t.Sound == "" {
		t.Sound = d.Sound
	}
	if t.Badge == 0 {
		t.Badge = d.Badge
	}
	if t.ChannelID == "" {
		t.ChannelID = d.ChannelID
	}
	if t.Priority == "" {
		t.Priority = d.Priority
	}
	return t
}

// ForArticle builds the shared message for a new-article dispatch.
func (t MessageTemplate) ForArticle(a notification.ArticlePayload, now time.Time) notification.Message {
	primary := t.AppName
	if len(a.Categories) > 0 {
		primary = a.Categories[0]
	}
	msg := notification.Message{
		Title: t.Title,
		Body:  a.Title,
		Data: map[string]any{
			"articleId":  a.ArticleID,
			"type":       NewArticleType,
			"category":   primary,
			"categories": nonNil(a.Categories),
			"locations":  nonNil(a.Locations),
			"timestamp":  now.UTC().Format(time.RFC3339Nano),
		},
		Sound:     t.Sound,
		ChannelID: t.ChannelID,
		Priority:  t.Priority,
		ImageURL:  a.ImageURL,
	}
	if t.Badge > 0 {
		badge := t.Badge
		msg.Badge = &badge
	}
	return msg
}

// ForTargeted builds a free-form message. Targeted sends do not touch the badge.
func (t MessageTemplate) ForTargeted(req notification.TargetedRequest, now time.Time) notification.Message {
	data := make(map[string]any, len(req.Data)+1)
	maps.Copy(data, req.Data)
	data["timestamp"] = now.UTC().Format(time.RFC3339Nano)

	channel := req.ChannelID
	if channel == "" {
		channel = t.ChannelID
	}
	return notification.Message{
		Title:     req.Title,
		Body:      req.Body,
		Data:      data,
		Sound:     t.Sound,
		ChannelID: channel,
		Priority:  t.Priority,
		ImageURL:  req.ImageURL,
	}
}

// ForTopic builds a topic broadcast message.
func (t MessageTemplate) ForTopic(req notification.TopicRequest, now time.Time) notification.Message {
	data := make(map[string]any, len(req.Data)+1)
	maps.Copy(data, req.Data)
	data["timestamp"] = now.UTC().Format(time.RFC3339Nano)

	msg := notification.Message{
		Title:     req.Title,
		Body:      req.Body,
		Data:      data,
		Sound:     t.Sound,
		ChannelID: t.ChannelID,
		Priority:  t.Priority,
		ImageURL:  req.ImageURL,
	}
	if t.Badge > 0 {
		badge := t.Badge
		msg.Badge = &badge
	}
	return msg
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
