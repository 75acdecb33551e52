// Package api is the REST client for the advisory backend. The daemon treats
// the backend as a best-effort collaborator: local state is authoritative and
// every call here has a bounded timeout.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tipfeed/internal/notification"
	"tipfeed/internal/push"
	"tipfeed/pkg/logx"
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration // per-request; default 10s
}

// Client talks to the notification endpoints of the advisory backend.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("api: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("api: invalid base url: %w", err)
	}
	cfg.BaseURL = base
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
	c.warnIfTokenExpired()
	return c, nil
}

// warnIfTokenExpired inspects the bearer token's exp claim without verifying
// the signature. A stale token still goes on the wire; the backend is the
// authority, this only makes the resulting 401s less mysterious.
func (c *Client) warnIfTokenExpired() {
	if c.cfg.Token == "" {
		return
	}
	tok, _, err := jwt.NewParser().ParseUnverified(c.cfg.Token, jwt.MapClaims{})
	if err != nil {
		return
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(time.Now()) {
		c.log.Warn("api token looks expired", logx.Time("exp", exp.Time))
	}
}

// HistoryQuery filters the paginated notification history.
type HistoryQuery struct {
	Page       int
	Limit      int
	Type       notification.Type // empty for all
	UnreadOnly bool
}

// HistoryPage is one page of server-side notification history.
type HistoryPage struct {
	Notifications []notification.Record `json:"notifications"`
	Total         int                   `json:"total"`
	Page          int                   `json:"page"`
	Pages         int                   `json:"pages"`
}

// History fetches a page of server-side notification history.
func (c *Client) History(ctx context.Context, q HistoryQuery) (HistoryPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	vals := url.Values{}
	vals.Set("page", strconv.Itoa(q.Page))
	vals.Set("limit", strconv.Itoa(q.Limit))
	if q.Type != "" {
		vals.Set("type", string(q.Type))
	}
	if q.UnreadOnly {
		vals.Set("unread", "true")
	}

	var page HistoryPage
	err := c.do(ctx, http.MethodGet, "/api/notifications?"+vals.Encode(), nil, &page)
	return page, err
}

func (c *Client) GetPreferences(ctx context.Context) (notification.Preferences, error) {
	var p notification.Preferences
	err := c.do(ctx, http.MethodGet, "/api/notifications/preferences", nil, &p)
	return p, err
}

func (c *Client) UpdatePreferences(ctx context.Context, p notification.Preferences) error {
	return c.do(ctx, http.MethodPut, "/api/notifications/preferences", p, nil)
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil)
}

func (c *Client) ClearAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications", nil, nil)
}

func (c *Client) PushSubscribe(ctx context.Context, t push.DeviceToken) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/subscribe", t, nil)
}

func (c *Client) PushUnsubscribe(ctx context.Context, token string) error {
	body := map[string]string{"token": token}
	return c.do(ctx, http.MethodPost, "/api/notifications/unsubscribe", body, nil)
}

// Simulate asks the backend to emit a test notification over the socket.
func (c *Client) Simulate(ctx context.Context, typ notification.Type, data any) error {
	body := map[string]any{"type": string(typ), "data": data}
	return c.do(ctx, http.MethodPost, "/api/notifications/simulate", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read keeps error messages useful without trusting the body.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("api: %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
