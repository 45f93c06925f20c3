package expo_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-article-push-service/internal/platform/expo"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateway(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
			(*seen)["_auth"] = r.Header.Get("Authorization")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExpoSend_ResponseShapes(t *testing.T) {
	ctx := context.Background()
	batch := notification.Batch{Index: 0, Tokens: []string{"ExponentPushToken[a]", "ExponentPushToken[b]"}}
	msg := notification.Message{Title: "From Test", Body: "Fall Collection"}

	t.Run("Happy Path - ticket list", func(t *testing.T) {
		srv := newGateway(t, http.StatusOK, `{"data":[{"status":"ok","id":"t-1"},{"status":"ok","id":"t-2"}]}`, nil)
		d := expo.NewDispatcher(srv.Client(), expo.Config{URL: srv.URL}, newTestLogger())

		res := d.Send(ctx, batch, msg)

		require.False(t, res.Failed())
		require.Len(t, res.Receipts, 2)
		assert.Equal(t, "ExponentPushToken[b]", res.Receipts[1].Token)
		assert.Equal(t, "t-2", res.Receipts[1].ID)
		assert.True(t, res.Receipts[0].OK())
	})

	t.Run("Mixed ticket list keeps error details", func(t *testing.T) {
		srv := newGateway(t, http.StatusOK, `{"data":[
			{"status":"ok","id":"t-1"},
			{"status":"error","message":"not registered","details":{"error":"DeviceNotRegistered"}}
		]}`, nil)
		d := expo.NewDispatcher(srv.Client(), expo.Config{URL: srv.URL}, newTestLogger())

		res := d.Send(ctx, batch, msg)

		require.False(t, res.Failed())
		assert.True(t, res.Receipts[0].OK())
		assert.False(t, res.Receipts[1].OK())
		assert.Equal(t, "DeviceNotRegistered", res.Receipts[1].Details["error"])
	})

	t.Run("Single ticket object applies to every token", func(t *testing.T) {
		srv := newGateway(t, http.StatusOK, `{"data":{"status":"ok","id":"t-1"}}`, nil)
		d := expo.NewDispatcher(srv.Client(), expo.Config{URL: srv.URL}, newTestLogger())

		res := d.Send(ctx, batch, msg)

		require.False(t, res.Failed())
		require.Len(t, res.Receipts, 2)
		for i, r := range res.Receipts {
			assert.Equal(t, batch.Tokens[i], r.Token)
			assert.True(t, r.OK())
		}
	})

	t.Run("Top-level errors become error receipts", func(t *testing.T) {
		srv := newGateway(t, http.StatusOK, `{"errors":[{"code":"PUSH_TOO_MANY_EXPERIENCE_IDS","message":"mixed projects"}]}`, nil)
		d := expo.NewDispatcher(srv.Client(), expo.Config{URL: srv.URL}, newTestLogger())

		res := d.Send(ctx, batch, msg)

		require.False(t, res.Failed())
		require.Len(t, res.Receipts, 2)
		assert.Equal(t, "mixed projects", res.Receipts[0].Message)
		assert.Equal(t, "PUSH_TOO_MANY_EXPERIENCE_IDS", res.Receipts[0].Details["code"])
	})

	t.Run("Short ticket list flags the missing tokens", func(t *testing.T) {
		srv := newGateway(t, http.StatusOK, `{"data":[{"status":"ok"}]}`, nil)
		d := expo.NewDispatcher(srv.Client(), expo.Config{URL: srv.URL}, newTestLogger())

		res := d.Send(ctx, batch, msg)

		require.Len(t, res.Receipts, 2)
		assert.False(t, res.Receipts[1].OK())
	})
}

func TestExpoSend_TransportFailures(t *testing.T) {
	ctx := context.Background()
	batch := notification.Batch{Index: 2, Tokens: []string{"ExponentPushToken[a]"}}
	msg := notification.Message{Title: "t", Body: "b"}

	t.Run("Non-2xx fails the batch", func(t *testing.T) {
		srv := newGateway(t, http.StatusBadGateway, `upstream`, nil)
		d := expo.NewDispatcher(srv.Client(), expo.Config{URL: srv.URL}, newTestLogger())

		res := d.Send(ctx, batch, msg)

		require.True(t, res.Failed())
		var te *notification.TransportError
		require.True(t, errors.As(res.Err, &te))
		assert.Equal(t, http.StatusBadGateway, te.Status)
		assert.Equal(t, "expo", te.Provider)
	})

	t.Run("Undecodable body fails the batch", func(t *testing.T) {
		srv := newGateway(t, http.StatusOK, `<html>`, nil)
		d := expo.NewDispatcher(srv.Client(), expo.Config{URL: srv.URL}, newTestLogger())

		res := d.Send(ctx, batch, msg)

		assert.True(t, res.Failed())
	})

	t.Run("Unreachable gateway fails the batch", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		d := expo.NewDispatcher(nil, expo.Config{URL: url}, newTestLogger())

		res := d.Send(ctx, batch, msg)

		assert.True(t, res.Failed())
	})

	t.Run("Breaker opens after repeated failures", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)
		d := expo.NewDispatcher(srv.Client(), expo.Config{URL: srv.URL, BreakerMinRequests: 2, BreakerFailureRatio: 0.5}, newTestLogger())

		for range 4 {
			assert.True(t, d.Send(ctx, batch, msg).Failed())
		}

		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestExpoSend_RequestBody(t *testing.T) {
	var seen map[string]any
	srv := newGateway(t, http.StatusOK, `{"data":[{"status":"ok"}]}`, &seen)
	d := expo.NewDispatcher(srv.Client(), expo.Config{URL: srv.URL, AccessToken: "secret"}, newTestLogger())
	badge := 1

	res := d.Send(context.Background(), notification.Batch{Tokens: []string{"ExponentPushToken[a]"}}, notification.Message{
		Title:     "From TheNewJeweller",
		Body:      "Fall Collection",
		Data:      map[string]any{"articleId": "art-1", "type": "new_article"},
		Sound:     "default",
		Badge:     &badge,
		ChannelID: "new-articles",
		Priority:  "high",
		ImageURL:  "https://cdn.example.com/a.jpg",
	})

	require.False(t, res.Failed())
	assert.Equal(t, []any{"ExponentPushToken[a]"}, seen["to"])
	assert.Equal(t, "Fall Collection", seen["body"])
	assert.Equal(t, float64(1), seen["badge"])
	assert.Equal(t, "new-articles", seen["channelId"])
	assert.Equal(t, true, seen["mutableContent"])
	assert.Equal(t, true, seen["_displayInForeground"])
	assert.Equal(t, map[string]any{"url": "https://cdn.example.com/a.jpg"}, seen["attachments"])
	assert.Equal(t, "art-1", seen["data"].(map[string]any)["articleId"])
	assert.Equal(t, "Bearer secret", seen["_auth"])
}

func TestValidToken(t *testing.T) {
	assert.True(t, expo.ValidToken("ExponentPushToken[xxxxxxxx]"))
	assert.False(t, expo.ValidToken("fcm-token"))
	assert.False(t, expo.ValidToken(""))
}
