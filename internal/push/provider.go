package push

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Permission mirrors the platform notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Message is a push delivered while the app is in the foreground. MessageID
// is the platform-assigned id and becomes the record id downstream.
type Message struct {
	MessageID string          `json:"messageId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Provider abstracts the platform push machinery (permission prompt, token
// issuance, foreground message stream) so the channel and domain logic are
// testable without a platform environment.
type Provider interface {
	// RequestPermission triggers the platform prompt if undecided and returns
	// the resulting state. It must not error on denial; denial is a state.
	RequestPermission(ctx context.Context) (Permission, error)
	// MintToken issues a fresh device token. Only valid after a grant.
	MintToken(ctx context.Context) (string, error)
	// Messages streams foreground pushes. The channel is closed by Close.
	Messages() <-chan Message
	Close() error
}

var ErrPermissionNotGranted = errors.New("push: permission not granted")

// LocalProvider is the built-in adapter: permission is decided by
// configuration, tokens are ULIDs, and foreground messages arrive via
// Deliver (wired to the debug server's simulate endpoint).
type LocalProvider struct {
	mu     sync.Mutex
	perm   Permission
	allow  bool
	msgs   chan Message
	closed bool
}

// NewLocalProvider returns a provider that will grant (or deny) the
// permission prompt based on allow.
func NewLocalProvider(allow bool) *LocalProvider {
	return &LocalProvider{
		perm:  PermissionDefault,
		allow: allow,
		msgs:  make(chan Message, 64),
	}
}

func (p *LocalProvider) RequestPermission(ctx context.Context) (Permission, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.perm == PermissionDefault {
		if p.allow {
			p.perm = PermissionGranted
		} else {
			p.perm = PermissionDenied
		}
	}
	return p.perm, nil
}

func (p *LocalProvider) MintToken(ctx context.Context) (string, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.perm != PermissionGranted {
		return "", ErrPermissionNotGranted
	}
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return "dev_" + id.String(), nil
}

func (p *LocalProvider) Messages() <-chan Message { return p.msgs }

// Deliver injects a foreground message. Full buffers drop (push is lossy by
// nature); delivery after Close is a no-op.
func (p *LocalProvider) Deliver(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if m.MessageID == "" {
		m.MessageID = "msg_" + ulid.Make().String()
	}
	select {
	case p.msgs <- m:
	default:
	}
}

func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.msgs)
	}
	return nil
}
