package api

import (
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// DeviceAPI lets the mobile app register its push token and preferences for
// the signed-in user.
type DeviceAPI struct {
	Store  dispatch.ProfileStore
	Rule   dispatch.TokenRule
	Logger *slog.Logger
}

func NewDeviceAPI(store dispatch.ProfileStore, rule dispatch.TokenRule, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Store:  store,
		Rule:   rule,
		Logger: logger.With("component", "DeviceAPI"),
	}
}

// Register handles PUT /api/v1/devices.
func (api *DeviceAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok || userID == "" {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var device notification.Device
	if err := decodeJSON(w, r, &device); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if device.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	if !api.Rule.Accepts(device.Token) {
		api.Logger.Warn("Register: Validation failed", "reason", "token shape", "user", userID)
		response.WriteJSONError(w, http.StatusBadRequest, "token is not valid for the configured push provider")
		return
	}

	if err := api.Store.RegisterDevice(ctx, userID, device); err != nil {
		api.Logger.Error("failed to register device", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Register: Device registered", "user", userID,
		"categories", len(device.Categories), "locations", len(device.Locations))

	w.WriteHeader(http.StatusNoContent)
}

// Unregister handles DELETE /api/v1/devices.
func (api *DeviceAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok || userID == "" {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := api.Store.UnregisterDevice(ctx, userID); err != nil {
		api.Logger.Warn("failed to unregister device", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister device")
		return
	}
	api.Logger.Info("Unregister: Device removed", "user", userID)

	w.WriteHeader(http.StatusNoContent)
}
