package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tipfeed/internal/notification"
	"tipfeed/internal/push"
	"tipfeed/pkg/logx"
)

// fileStore is a dependency-free snapshot backend: the whole client state
// lives in one JSON document, rewritten atomically (tmp + rename) on every
// save. State is tiny (≤50 records) so this is cheap and crash-safe.
type fileStore struct {
	log logx.Logger

	mu    sync.Mutex
	path  string
	state fileState
}

type fileState struct {
	Feed        []notification.Record     `json:"feed,omitempty"`
	Unread      int                       `json:"unread"`
	Preferences *notification.Preferences `json:"preferences,omitempty"`
	DeviceToken *push.DeviceToken         `json:"deviceToken,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path}

	// Missing or corrupt snapshots start empty, never fail.
	b, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(b, &s.state); err != nil {
			log.Warn("state snapshot corrupt; starting empty", logx.Err(err), logx.String("path", path))
			s.state = fileState{}
		}
	}
	return s, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) SaveFeed(ctx context.Context, recs []notification.Record, unread int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Feed = append([]notification.Record(nil), recs...)
	s.state.Unread = unread
	return s.writeLocked()
}

func (s *fileStore) LoadFeed(ctx context.Context) ([]notification.Record, int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Record(nil), s.state.Feed...), s.state.Unread, nil
}

func (s *fileStore) SavePreferences(ctx context.Context, p notification.Preferences) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Preferences = &p
	return s.writeLocked()
}

func (s *fileStore) LoadPreferences(ctx context.Context) (notification.Preferences, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Preferences == nil {
		return notification.Preferences{}, false, nil
	}
	return *s.state.Preferences, true, nil
}

func (s *fileStore) SaveDeviceToken(ctx context.Context, t push.DeviceToken) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DeviceToken = &t
	return s.writeLocked()
}

func (s *fileStore) LoadDeviceToken(ctx context.Context) (push.DeviceToken, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.DeviceToken == nil {
		return push.DeviceToken{}, false, nil
	}
	return *s.state.DeviceToken, true, nil
}

func (s *fileStore) DeleteDeviceToken(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DeviceToken = nil
	return s.writeLocked()
}

func (s *fileStore) writeLocked() error {
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
