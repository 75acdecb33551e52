package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config is the full daemon configuration. YAML and JSON are both accepted;
// YAML is coerced to JSON before strict decoding.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	API          APIConfig          `json:"api"`
	Websocket    WebsocketConfig    `json:"websocket"`
	Push         PushConfig         `json:"push,omitempty"`
	Notification NotificationConfig `json:"notification,omitempty"`
	Storage      StorageConfig      `json:"storage,omitempty"`
	Logging      LoggingConfig      `json:"logging,omitempty"`
	Debug        DebugConfig        `json:"debug,omitempty"`
}

// APIConfig points at the advisory backend.
type APIConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	// Token is the bearer token. "env:NAME" reads the named environment
	// variable at load time.
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type WebsocketConfig struct {
	// BaseURL defaults to api.base_url when empty; http(s) schemes are
	// rewritten to ws(s) automatically.
	BaseURL              string   `json:"base_url,omitempty"`
	Channels             []string `json:"channels,omitempty"`
	HeartbeatInterval    string   `json:"heartbeat_interval,omitempty"`
	ReconnectBase        string   `json:"reconnect_base,omitempty"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts,omitempty" validate:"gte=0,lte=100"`
}

type PushConfig struct {
	Enabled bool `json:"enabled"`
	// AutoGrant controls whether the built-in provider answers the permission
	// prompt with a grant.
	AutoGrant bool   `json:"auto_grant,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	TokenTTL  string `json:"token_ttl,omitempty"`
}

type NotificationConfig struct {
	MaxInMemory     int `json:"max_in_memory,omitempty" validate:"gte=0,lte=10000"`
	MaxPersisted    int `json:"max_persisted,omitempty" validate:"gte=0,lte=10000"`
	ToastRatePerSec int `json:"toast_rate_per_sec,omitempty" validate:"gte=0,lte=100"`
}

type StorageConfig struct {
	// Driver: "file", "sqlite", or "none".
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=file sqlite sqlite3 none"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool   `json:"console,omitempty"`
	File    string `json:"file,omitempty"`
}

type DebugConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints plus the duration strings the tag
// language cannot express.
func Validate(ctx context.Context, cfg *Config) error {
	_ = ctx
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"api.timeout", cfg.API.Timeout},
		{"websocket.heartbeat_interval", cfg.Websocket.HeartbeatInterval},
		{"websocket.reconnect_base", cfg.Websocket.ReconnectBase},
		{"push.token_ttl", cfg.Push.TokenTTL},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d != "" && d != "none" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver)
	}
	return nil
}

// ResolveToken expands "env:NAME" token references.
func ResolveToken(raw string) string {
	s := strings.TrimSpace(raw)
	if name, ok := strings.CutPrefix(s, "env:"); ok {
		return os.Getenv(name)
	}
	return s
}
