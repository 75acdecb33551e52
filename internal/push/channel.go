// Package push implements the out-of-band delivery channel: permission and
// device-token lifecycle, backend registration, and foreground message
// forwarding into the shared classification pipeline.
//
// Every failure here degrades the channel to disabled; it never affects the
// websocket transport.
package push

import (
	"context"
	"sync"
	"time"

	"tipfeed/internal/eventbus"
	"tipfeed/pkg/logx"
)

// Bus event types published by the channel.
const (
	EventPermission = "push.permission"
	EventMessage    = "push.message"
	EventToken      = "push.token"
)

// Backend registers and unregisters device tokens remotely.
type Backend interface {
	PushSubscribe(ctx context.Context, t DeviceToken) error
	PushUnsubscribe(ctx context.Context, token string) error
}

type Config struct {
	Enabled   bool
	UserAgent string
	TokenTTL  time.Duration // default 30 days
}

// Channel owns the push side of the pipeline.
type Channel struct {
	mu sync.Mutex

	log      logx.Logger
	bus      eventbus.Bus
	provider Provider
	store    TokenStore // may be nil
	backend  Backend    // may be nil

	cfg      Config
	perm     Permission
	token    *DeviceToken
	disabled bool
}

func NewChannel(cfg Config, provider Provider, store TokenStore, backend Backend, log logx.Logger, bus eventbus.Bus) *Channel {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "tipfeed"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{
		log:      log,
		bus:      bus,
		provider: provider,
		store:    store,
		backend:  backend,
		cfg:      cfg,
		perm:     PermissionDefault,
		disabled: !cfg.Enabled || provider == nil,
	}
}

// Enabled reports whether the channel is currently operational.
func (c *Channel) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disabled
}

// Permission returns the last observed permission state, without prompting.
func (c *Channel) Permission() Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perm
}

// RequestPermission triggers the platform prompt if undecided. On grant it
// mints a token, persists it, syncs it to the backend, and returns it. On
// denial or an unsupported/disabled platform it returns ("", false) without
// error.
func (c *Channel) RequestPermission(ctx context.Context) (string, bool) {
	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return "", false
	}
	provider := c.provider
	c.mu.Unlock()

	perm, err := provider.RequestPermission(ctx)
	if err != nil {
		c.disable("permission request failed", err)
		return "", false
	}
	c.setPermission(perm)
	if perm != PermissionGranted {
		c.log.Info("push permission not granted", logx.String("state", string(perm)))
		return "", false
	}

	raw, err := provider.MintToken(ctx)
	if err != nil {
		c.disable("token mint failed", err)
		return "", false
	}
	tok := DeviceToken{
		Token:     raw,
		Timestamp: time.Now(),
		UserAgent: c.cfg.UserAgent,
	}

	c.mu.Lock()
	c.token = &tok
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveDeviceToken(ctx, tok); err != nil {
			c.log.Warn("device token persist failed", logx.Err(err))
		}
	}
	c.syncBackend(ctx, tok)

	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: EventToken, Data: tok})
	}
	c.log.Info("push channel registered", logx.Time("acquired", tok.Timestamp))
	return tok.Token, true
}

// Token returns the current device token: the in-memory one when present, a
// persisted one when younger than the TTL, or a freshly requested one.
func (c *Channel) Token(ctx context.Context) (string, bool) {
	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return "", false
	}
	if c.token != nil && !c.token.Stale(time.Now(), c.cfg.TokenTTL) {
		t := c.token.Token
		c.mu.Unlock()
		return t, true
	}
	c.mu.Unlock()

	if c.store != nil {
		tok, ok, err := c.store.LoadDeviceToken(ctx)
		if err != nil {
			c.log.Warn("device token load failed", logx.Err(err))
		} else if ok && !tok.Stale(time.Now(), c.cfg.TokenTTL) {
			c.mu.Lock()
			c.token = &tok
			c.perm = PermissionGranted
			c.mu.Unlock()
			return tok.Token, true
		}
	}
	// No usable token: go through the full permission/mint path.
	return c.RequestPermission(ctx)
}

// Unsubscribe drops the token at the backend, clears local persistence, and
// forgets the in-memory state.
func (c *Channel) Unsubscribe(ctx context.Context) {
	c.mu.Lock()
	tok := c.token
	c.token = nil
	c.mu.Unlock()

	if tok != nil && c.backend != nil {
		if err := c.backend.PushUnsubscribe(ctx, tok.Token); err != nil {
			c.log.Warn("push unsubscribe failed", logx.Err(err))
		}
	}
	if c.store != nil {
		if err := c.store.DeleteDeviceToken(ctx); err != nil {
			c.log.Warn("device token delete failed", logx.Err(err))
		}
	}
	c.log.Info("push channel unsubscribed")
}

// Run forwards foreground messages onto the bus until ctx is canceled or the
// provider closes. Transport-origin and push-origin events then flow through
// the exact same classify→store→toast pipeline.
func (c *Channel) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return nil
	}
	msgs := c.provider.Messages()
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			c.log.Debug("foreground push received",
				logx.String("message_id", m.MessageID),
				logx.String("type", m.Type))
			if c.bus != nil {
				c.bus.Publish(eventbus.Event{Type: EventMessage, Data: m})
			}
		}
	}
}

func (c *Channel) Close() error {
	if c.provider != nil {
		return c.provider.Close()
	}
	return nil
}

func (c *Channel) setPermission(p Permission) {
	c.mu.Lock()
	changed := c.perm != p
	c.perm = p
	c.mu.Unlock()
	if changed && c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: EventPermission, Data: p})
	}
}

// syncBackend registers the token remotely; failure disables the channel
// rather than surfacing an error.
func (c *Channel) syncBackend(ctx context.Context, tok DeviceToken) {
	if c.backend == nil {
		return
	}
	if err := c.backend.PushSubscribe(ctx, tok); err != nil {
		c.disable("backend token sync failed", err)
	}
}

func (c *Channel) disable(what string, err error) {
	c.mu.Lock()
	c.disabled = true
	c.mu.Unlock()
	c.log.Warn("push channel disabled: "+what, logx.Err(err))
}
