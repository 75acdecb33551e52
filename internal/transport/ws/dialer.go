package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the minimal connection surface the client needs. It exists so tests
// can drive the state machine without a network.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to a websocket URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// NewDialer returns the production gorilla-backed dialer.
func NewDialer() Dialer {
	return gorillaDialer{d: websocket.DefaultDialer}
}

type gorillaDialer struct{ d *websocket.Dialer }

func (g gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := g.d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &gorillaConn{c: c}, nil
}

type gorillaConn struct {
	// gorilla allows at most one concurrent writer.
	writeMu sync.Mutex
	c       *websocket.Conn
}

func (g *gorillaConn) ReadMessage() ([]byte, error) {
	_, b, err := g.c.ReadMessage()
	return b, err
}

func (g *gorillaConn) WriteMessage(data []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.c.WriteMessage(websocket.TextMessage, data)
}

func (g *gorillaConn) Close() error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = g.c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return g.c.Close()
}
