package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tipfeed/internal/notification"
	"tipfeed/internal/push"
	"tipfeed/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// State lives in a small kv table; the feed and unread counter are the two
// keys named by the persistence contract, plus the token and preferences.
const (
	keyFeed        = "feed"
	keyUnread      = "unread"
	keyPreferences = "preferences"
	keyDeviceToken = "device_token"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveFeed(ctx context.Context, recs []notification.Record, unread int) error {
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := putKV(ctx, tx, keyFeed, string(b)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := putKV(ctx, tx, keyUnread, strconv.Itoa(unread)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadFeed(ctx context.Context) ([]notification.Record, int, error) {
	raw, ok, err := s.getKV(ctx, keyFeed)
	if err != nil || !ok {
		return nil, 0, err
	}
	var recs []notification.Record
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		s.log.Warn("persisted feed corrupt; starting empty", logx.Err(err))
		return nil, 0, nil
	}
	unread := 0
	if raw, ok, err := s.getKV(ctx, keyUnread); err == nil && ok {
		if n, err := strconv.Atoi(raw); err == nil {
			unread = n
		}
	}
	return recs, unread, nil
}

func (s *sqliteStore) SavePreferences(ctx context.Context, p notification.Preferences) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.putKV(ctx, keyPreferences, string(b))
}

func (s *sqliteStore) LoadPreferences(ctx context.Context) (notification.Preferences, bool, error) {
	raw, ok, err := s.getKV(ctx, keyPreferences)
	if err != nil || !ok {
		return notification.Preferences{}, false, err
	}
	var p notification.Preferences
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.log.Warn("persisted preferences corrupt; ignoring", logx.Err(err))
		return notification.Preferences{}, false, nil
	}
	return p, true, nil
}

func (s *sqliteStore) SaveDeviceToken(ctx context.Context, t push.DeviceToken) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.putKV(ctx, keyDeviceToken, string(b))
}

func (s *sqliteStore) LoadDeviceToken(ctx context.Context) (push.DeviceToken, bool, error) {
	raw, ok, err := s.getKV(ctx, keyDeviceToken)
	if err != nil || !ok {
		return push.DeviceToken{}, false, err
	}
	var t push.DeviceToken
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		s.log.Warn("persisted device token corrupt; ignoring", logx.Err(err))
		return push.DeviceToken{}, false, nil
	}
	return t, true, nil
}

func (s *sqliteStore) DeleteDeviceToken(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, keyDeviceToken)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putKV(ctx context.Context, e execer, key, value string) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) putKV(ctx context.Context, key, value string) error {
	return putKV(ctx, s.db, key, value)
}

func (s *sqliteStore) getKV(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
