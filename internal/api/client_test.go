package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tipfeed/internal/notification"
	"tipfeed/internal/push"
	"tipfeed/pkg/logx"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{}, logx.Nop())
	assert.Error(t, err, "empty base url must be rejected")

	c, err := NewClient(Config{BaseURL: "https://api.example.com/"}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", c.cfg.BaseURL, "trailing slash is trimmed")
}

func TestGetPreferences(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/notifications/preferences", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		p := notification.DefaultPreferences()
		p.Frequency = notification.FrequencyDaily
		_ = json.NewEncoder(w).Encode(p)
	}))

	p, err := c.GetPreferences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, notification.FrequencyDaily, p.Frequency)
	assert.True(t, p.Push.Tips)
}

func TestMutationEndpoints(t *testing.T) {
	var calls []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	ctx := context.Background()

	require.NoError(t, c.MarkRead(ctx, "tip_42"))
	require.NoError(t, c.MarkAllRead(ctx))
	require.NoError(t, c.ClearAll(ctx))
	require.NoError(t, c.UpdatePreferences(ctx, notification.DefaultPreferences()))
	require.NoError(t, c.PushSubscribe(ctx, push.DeviceToken{Token: "dev_1"}))
	require.NoError(t, c.PushUnsubscribe(ctx, "dev_1"))

	assert.Equal(t, []string{
		"POST /api/notifications/tip_42/read",
		"POST /api/notifications/read-all",
		"DELETE /api/notifications",
		"PUT /api/notifications/preferences",
		"POST /api/notifications/subscribe",
		"POST /api/notifications/unsubscribe",
	}, calls)
}

func TestHistoryQueryParams(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "tip", q.Get("type"))
		assert.Equal(t, "true", q.Get("unread"))
		_ = json.NewEncoder(w).Encode(HistoryPage{
			Notifications: []notification.Record{{ID: "tip_1", Type: notification.TypeTip}},
			Total:         11,
			Page:          2,
			Pages:         2,
		})
	}))

	page, err := c.History(context.Background(), HistoryQuery{
		Page: 2, Limit: 10, Type: notification.TypeTip, UnreadOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, "tip_1", page.Notifications[0].ID)
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))

	err := c.MarkAllRead(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "token expired")
}
