package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tipfeed/internal/clock"
	"tipfeed/internal/eventbus"
	"tipfeed/pkg/logx"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte

	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(raw string) { c.in <- []byte(raw) }

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// fakeDialer fails the first failures dials, then hands out fresh fakeConns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func waitUntil(t *testing.T, what string, cond func() bool) {
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

func testConfig() Config {
	return Config{BaseURL: "https://api.example.com", Token: "tok"}
}

func TestReconnectBackoffSchedule(t *testing.T) {
	dialer := &fakeDialer{failures: 1 << 30} // never succeeds
	clk := clock.NewFake(time.Now())
	c := NewClient(testConfig(), dialer, clk, logx.Nop(), nil)

	c.Connect(context.Background())
	waitUntil(t, "first dial", func() bool { return dialer.dialCount() == 1 })

	wantDelays := []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		24 * time.Second,
	}
	for i, want := range wantDelays {
		waitUntil(t, "reconnect scheduled", func() bool {
			d := clk.PendingDelays()
			return len(d) == 1 && d[0] == want
		})
		clk.Advance(want)
		waitUntil(t, "next dial", func() bool { return dialer.dialCount() == i+2 })
	}

	// Sixth failure exhausts the retry limit: no further timer, stays disconnected.
	waitUntil(t, "give up", func() bool { return c.State() == StateDisconnected })
	if got := clk.PendingDelays(); len(got) != 0 {
		t.Fatalf("expected no pending reconnect, got %v", got)
	}
	if n := dialer.dialCount(); n != 6 {
		t.Fatalf("dials = %d, want 6", n)
	}

	// An explicit Connect starts over.
	c.Connect(context.Background())
	waitUntil(t, "manual reconnect", func() bool { return dialer.dialCount() == 7 })
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{failures: 1 << 30}
	clk := clock.NewFake(time.Now())
	c := NewClient(testConfig(), dialer, clk, logx.Nop(), nil)

	c.Connect(context.Background())
	waitUntil(t, "reconnect scheduled", func() bool { return len(clk.PendingDelays()) == 1 })

	c.Disconnect()
	if got := clk.PendingDelays(); len(got) != 0 {
		t.Fatalf("reconnect timer survived Disconnect: %v", got)
	}
	clk.Advance(time.Hour)
	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("dials after Disconnect = %d, want 1", n)
	}
	if st := c.State(); st != StateClosed {
		t.Fatalf("state = %s, want %s", st, StateClosed)
	}
}

func TestDisconnectWhileConnectedSuppressesReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clk := clock.NewFake(time.Now())
	c := NewClient(testConfig(), dialer, clk, logx.Nop(), nil)

	c.Connect(context.Background())
	waitUntil(t, "connected", func() bool { return c.State() == StateConnected })

	c.Disconnect()
	waitUntil(t, "closed", func() bool { return c.State() == StateClosed })
	clk.Advance(time.Hour)
	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("dials after Disconnect = %d, want 1", n)
	}
}

func TestSubscribeAndHeartbeat(t *testing.T) {
	dialer := &fakeDialer{}
	clk := clock.NewFake(time.Now())
	c := NewClient(testConfig(), dialer, clk, logx.Nop(), nil)

	c.Connect(context.Background())
	waitUntil(t, "connected", func() bool { return c.State() == StateConnected })
	conn := dialer.lastConn()

	waitUntil(t, "subscribe frame", func() bool { return len(conn.written()) >= 1 })
	var sub subscribeMessage
	if err := json.Unmarshal(conn.written()[0], &sub); err != nil {
		t.Fatalf("subscribe frame invalid: %v", err)
	}
	if sub.Type != "subscribe" || len(sub.Channels) != len(DefaultChannels) {
		t.Fatalf("unexpected subscribe frame: %+v", sub)
	}

	for i := 1; i <= 2; i++ {
		clk.Advance(30 * time.Second)
		waitUntil(t, "heartbeat frame", func() bool { return len(conn.written()) >= 1+i })
		var ping systemMessage
		if err := json.Unmarshal(conn.written()[i], &ping); err != nil {
			t.Fatalf("ping frame invalid: %v", err)
		}
		if ping.Type != "system" || ping.Data.Action != "ping" {
			t.Fatalf("unexpected ping frame: %+v", ping)
		}
	}
}

func TestInboundDispatchAndPongSwallow(t *testing.T) {
	dialer := &fakeDialer{}
	clk := clock.NewFake(time.Now())
	bus := eventbus.New()
	events, unsub := bus.SubscribeTypes(32, EventMessage)
	defer unsub()

	c := NewClient(testConfig(), dialer, clk, logx.Nop(), bus)
	c.Connect(context.Background())
	waitUntil(t, "connected", func() bool { return c.State() == StateConnected })
	conn := dialer.lastConn()

	conn.deliver(`{"type":"system","data":{"action":"pong"}}`)
	conn.deliver(`{oops not json`)
	conn.deliver(`{"type":"recommendation","data":{"symbol":"TCS"}}`)

	// Only the recommendation survives: the pong is swallowed and the
	// malformed frame is dropped without killing the connection.
	var got []eventbus.Event
	waitUntil(t, "dispatched events", func() bool {
		for {
			select {
			case e := <-events:
				got = append(got, e)
			default:
				return len(got) >= 2
			}
		}
	})
	if got[0].Type != EventMessage {
		t.Fatalf("event[0] = %s, want %s", got[0].Type, EventMessage)
	}
	if got[1].Type != MessagePrefix+"recommendation" {
		t.Fatalf("event[1] = %s, want %s", got[1].Type, MessagePrefix+"recommendation")
	}
	if c.State() != StateConnected {
		t.Fatalf("connection dropped by malformed frame")
	}
}

func TestSendRequiresConnection(t *testing.T) {
	c := NewClient(testConfig(), &fakeDialer{failures: 1}, clock.NewFake(time.Now()), logx.Nop(), nil)
	if err := c.Send(map[string]string{"k": "v"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	base := 3 * time.Second
	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 24 * time.Second, 24 * time.Second}
	for i, w := range want {
		if got := backoffDelay(base, i+1); got != w {
			t.Fatalf("backoffDelay(attempt=%d) = %v, want %v", i+1, got, w)
		}
	}
}
