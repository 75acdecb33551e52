// Package hub is the consumer-facing façade over the notification pipeline.
// It joins the domain feed with transport connectivity into one observable
// snapshot and delegates all mutations to the owning components.
package hub

import (
	"context"
	"sync"

	"tipfeed/internal/eventbus"
	"tipfeed/internal/notification"
	"tipfeed/internal/push"
	"tipfeed/internal/transport/ws"
	"tipfeed/pkg/logx"
)

// Snapshot is the full observable state handed to every listener.
type Snapshot struct {
	Notifications []notification.Record
	Unread        int
	Connected     bool
}

// Listener receives a fresh snapshot after every feed or connectivity change.
type Listener func(Snapshot)

// Hub wires the domain service, the push channel and the transport together
// behind one surface. It owns the service lifecycle (Init/Dispose); the
// components themselves are constructed and started by the app.
type Hub struct {
	mu sync.Mutex

	log  logx.Logger
	bus  eventbus.Bus
	svc  *notification.Service
	push *push.Channel

	connected bool
	listeners map[uint64]Listener
	lseq      uint64

	unsubFeed func()
	unsubBus  func()
}

func New(svc *notification.Service, pushCh *push.Channel, log logx.Logger, bus eventbus.Bus) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		log:       log,
		bus:       bus,
		svc:       svc,
		push:      pushCh,
		listeners: map[uint64]Listener{},
	}
}

// Start initializes the domain service and begins tracking feed and
// connectivity changes. The spawned goroutine exits when ctx is canceled.
func (h *Hub) Start(ctx context.Context) {
	h.svc.Init(ctx)

	h.mu.Lock()
	h.unsubFeed = h.svc.Subscribe(func(recs []notification.Record, unread int) {
		h.fanout()
	})
	h.mu.Unlock()

	if h.bus == nil {
		return
	}
	ch, unsub := h.bus.SubscribeTypes(16, ws.EventConnected, ws.EventDisconnected)
	h.mu.Lock()
	h.unsubBus = unsub
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				unsub()
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				h.setConnected(e.Type == ws.EventConnected)
			}
		}
	}()
}

// Stop persists state and detaches from the service and bus.
func (h *Hub) Stop(ctx context.Context) {
	h.mu.Lock()
	unsubFeed, unsubBus := h.unsubFeed, h.unsubBus
	h.unsubFeed, h.unsubBus = nil, nil
	h.listeners = map[uint64]Listener{}
	h.mu.Unlock()

	if unsubFeed != nil {
		unsubFeed()
	}
	if unsubBus != nil {
		unsubBus()
	}
	h.svc.Dispose(ctx)
}

// Subscribe registers a snapshot listener and immediately replays the current
// state to it. The returned function removes exactly this listener.
func (h *Hub) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	h.lseq++
	id := h.lseq
	h.listeners[id] = fn
	h.mu.Unlock()

	fn(h.Snapshot())

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Snapshot returns the current feed, unread count and connectivity.
func (h *Hub) Snapshot() Snapshot {
	recs, unread := h.svc.Snapshot()
	h.mu.Lock()
	connected := h.connected
	h.mu.Unlock()
	return Snapshot{Notifications: recs, Unread: unread, Connected: connected}
}

func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *Hub) UnreadCount() int { return h.svc.UnreadCount() }

func (h *Hub) Preferences() notification.Preferences { return h.svc.Preferences() }

func (h *Hub) MarkAsRead(ctx context.Context, id string) bool {
	return h.svc.MarkAsRead(ctx, id)
}

func (h *Hub) MarkAllAsRead(ctx context.Context) {
	h.svc.MarkAllAsRead(ctx)
}

func (h *Hub) ClearNotifications(ctx context.Context) {
	h.svc.ClearNotifications(ctx)
}

func (h *Hub) UpdatePreferences(ctx context.Context, p notification.Preferences) {
	h.svc.UpdatePreferences(ctx, p)
}

// RequestPushPermission runs the push channel's permission/token flow.
// It returns false when push is disabled or permission was not granted.
func (h *Hub) RequestPushPermission(ctx context.Context) (string, bool) {
	if h.push == nil {
		return "", false
	}
	return h.push.RequestPermission(ctx)
}

func (h *Hub) setConnected(up bool) {
	h.mu.Lock()
	changed := h.connected != up
	h.connected = up
	h.mu.Unlock()
	if changed {
		h.log.Debug("connectivity changed", logx.Bool("connected", up))
		h.fanout()
	}
}

func (h *Hub) fanout() {
	snap := h.Snapshot()
	h.mu.Lock()
	fns := make([]Listener, 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
