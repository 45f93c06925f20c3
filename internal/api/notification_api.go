package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// Notifier is the fan-out facade the handlers drive.
type Notifier interface {
	NotifyNewArticle(ctx context.Context, payload notification.ArticlePayload) (*notification.Outcome, error)
	NotifyTargeted(ctx context.Context, req notification.TargetedRequest) (*notification.Outcome, error)
	NotifyTopic(ctx context.Context, req notification.TopicRequest) (*notification.Outcome, error)
}

type NotificationAPI struct {
	Notifier Notifier
	Logger   *slog.Logger
}

func NewNotificationAPI(notifier Notifier, logger *slog.Logger) *NotificationAPI {
	return &NotificationAPI{
		Notifier: notifier,
		Logger:   logger.With("component", "NotificationAPI"),
	}
}

// NotifyNewArticle handles POST /api/v1/notifications.
//
// Every outcome the facade produces is a 200, including success=false; only
// bad input (400) and an unknown article (404) change the status.
func (api *NotificationAPI) NotifyNewArticle(w http.ResponseWriter, r *http.Request) {
	defer api.recoverPanic(w)

	var payload notification.ArticlePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.ArticleID == "" || payload.Title == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "Missing required fields. articleId and title are required.")
		return
	}

	caller, _ := middleware.GetUserIDFromContext(r.Context())
	api.Logger.Info("Article notification requested", "article_id", payload.ArticleID, "caller", caller)

	out, err := api.Notifier.NotifyNewArticle(r.Context(), payload)
	if err != nil {
		api.writeFacadeError(w, err)
		return
	}
	writeJSON(w, api.Logger, http.StatusOK, out)
}

// NotifyTargeted handles POST /api/v1/notifications/targeted.
func (api *NotificationAPI) NotifyTargeted(w http.ResponseWriter, r *http.Request) {
	defer api.recoverPanic(w)

	var req notification.TargetedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Tokens) == 0 && len(req.UserIDs) == 0 {
		response.WriteJSONError(w, http.StatusBadRequest, "tokens or userIds are required")
		return
	}

	out, err := api.Notifier.NotifyTargeted(r.Context(), req)
	if err != nil {
		api.writeFacadeError(w, err)
		return
	}
	writeJSON(w, api.Logger, http.StatusOK, out)
}

// NotifyTopic handles POST /api/v1/notifications/topic.
func (api *NotificationAPI) NotifyTopic(w http.ResponseWriter, r *http.Request) {
	defer api.recoverPanic(w)

	var req notification.TopicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	out, err := api.Notifier.NotifyTopic(r.Context(), req)
	if err != nil {
		api.writeFacadeError(w, err)
		return
	}
	writeJSON(w, api.Logger, http.StatusOK, out)
}

func (api *NotificationAPI) writeFacadeError(w http.ResponseWriter, err error) {
	switch {
	case notification.IsValidation(err):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case notification.IsNotFound(err):
		response.WriteJSONError(w, http.StatusNotFound, "Article not found")
	default:
		api.Logger.Error("Unexpected facade error", "err", err)
		writeJSON(w, api.Logger, http.StatusInternalServerError, notification.Failure(err))
	}
}

func (api *NotificationAPI) recoverPanic(w http.ResponseWriter) {
	if r := recover(); r != nil {
		api.Logger.Error("Recovered from panic in notification handler", "panic", r)
		writeJSON(w, api.Logger, http.StatusInternalServerError, notification.Failure(errors.New("internal server error")))
	}
}
