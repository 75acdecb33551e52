package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tipfeed/internal/eventbus"
	"tipfeed/internal/notification"
	"tipfeed/internal/transport/ws"
	"tipfeed/pkg/logx"
)

func newTestHub(t *testing.T) (*Hub, *notification.Service, eventbus.Bus, context.CancelFunc) {
	t.Helper()
	bus := eventbus.New()
	svc := notification.New(notification.Config{}, nil, nil, nil, logx.Nop(), bus)
	h := New(svc, nil, logx.Nop(), bus)

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.Stop(context.Background())
	})
	return h, svc, bus, cancel
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSnapshotTracksFeedAndConnectivity(t *testing.T) {
	h, svc, bus, _ := newTestHub(t)
	ctx := context.Background()

	snap := h.Snapshot()
	assert.Empty(t, snap.Notifications)
	assert.False(t, snap.Connected)

	svc.Ingest(ctx, notification.Inbound{Type: "tip", Source: notification.SourceTransport})
	snap = h.Snapshot()
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, 1, snap.Unread)

	bus.Publish(eventbus.Event{Type: ws.EventConnected})
	eventually(t, "connected", h.Connected)

	bus.Publish(eventbus.Event{Type: ws.EventDisconnected})
	eventually(t, "disconnected", func() bool { return !h.Connected() })
}

func TestSubscribeReplaysAndUpdates(t *testing.T) {
	h, svc, _, _ := newTestHub(t)
	ctx := context.Background()

	svc.Ingest(ctx, notification.Inbound{Type: "tip", Source: notification.SourceTransport})

	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	unsub := h.Subscribe(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	// Registration replays the current state immediately.
	mu.Lock()
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].Unread)
	mu.Unlock()

	svc.Ingest(ctx, notification.Inbound{Type: "tip", Source: notification.SourceTransport})
	mu.Lock()
	require.Len(t, snaps, 2)
	assert.Equal(t, 2, snaps[1].Unread)
	mu.Unlock()

	unsub()
	svc.Ingest(ctx, notification.Inbound{Type: "tip", Source: notification.SourceTransport})
	mu.Lock()
	assert.Len(t, snaps, 2, "unsubscribed listener must not fire")
	mu.Unlock()
}

func TestMutationsDelegate(t *testing.T) {
	h, svc, _, _ := newTestHub(t)
	ctx := context.Background()

	rec := svc.Ingest(ctx, notification.Inbound{Type: "tip", Source: notification.SourceTransport})
	svc.Ingest(ctx, notification.Inbound{Type: "tip", Source: notification.SourceTransport})

	assert.True(t, h.MarkAsRead(ctx, rec.ID))
	assert.Equal(t, 1, h.UnreadCount())

	h.MarkAllAsRead(ctx)
	assert.Equal(t, 0, h.UnreadCount())

	h.ClearNotifications(ctx)
	assert.Empty(t, h.Snapshot().Notifications)

	p := notification.DefaultPreferences()
	p.Frequency = notification.FrequencyWeekly
	h.UpdatePreferences(ctx, p)
	assert.Equal(t, notification.FrequencyWeekly, h.Preferences().Frequency)
}

func TestPushPermissionWithoutChannel(t *testing.T) {
	h, _, _, _ := newTestHub(t)
	tok, ok := h.RequestPushPermission(context.Background())
	assert.False(t, ok)
	assert.Empty(t, tok)
}
