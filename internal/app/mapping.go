package app

import (
	"tipfeed/internal/api"
	"tipfeed/internal/config"
	"tipfeed/internal/debugsrv"
	"tipfeed/internal/notification"
	"tipfeed/internal/push"
	"tipfeed/internal/store"
	"tipfeed/internal/transport/ws"
	"tipfeed/pkg/logx"
)

// Mapping from the validated config tree to per-component configs. Duration
// strings were already validated; parse errors here fall back to defaults.

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || cfg.Logging.File == "",
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	}
}

func apiConfig(cfg *config.Config) api.Config {
	timeout, _ := config.ParseDurationField("api.timeout", cfg.API.Timeout)
	return api.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   config.ResolveToken(cfg.API.Token),
		Timeout: timeout,
	}
}

func wsConfig(cfg *config.Config) ws.Config {
	base := cfg.Websocket.BaseURL
	if base == "" {
		base = cfg.API.BaseURL
	}
	heartbeat, _ := config.ParseDurationField("websocket.heartbeat_interval", cfg.Websocket.HeartbeatInterval)
	reconnect, _ := config.ParseDurationField("websocket.reconnect_base", cfg.Websocket.ReconnectBase)
	return ws.Config{
		BaseURL:              base,
		Token:                config.ResolveToken(cfg.API.Token),
		Channels:             cfg.Websocket.Channels,
		HeartbeatInterval:    heartbeat,
		ReconnectBase:        reconnect,
		MaxReconnectAttempts: cfg.Websocket.MaxReconnectAttempts,
	}
}

func pushConfig(cfg *config.Config) push.Config {
	ttl, _ := config.ParseDurationField("push.token_ttl", cfg.Push.TokenTTL)
	return push.Config{
		Enabled:   cfg.Push.Enabled,
		UserAgent: cfg.Push.UserAgent,
		TokenTTL:  ttl,
	}
}

func notificationConfig(cfg *config.Config) notification.Config {
	return notification.Config{
		MaxInMemory:  cfg.Notification.MaxInMemory,
		MaxPersisted: cfg.Notification.MaxPersisted,
	}
}

func storeConfig(cfg *config.Config) store.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func debugConfig(cfg *config.Config) debugsrv.Config {
	return debugsrv.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          cfg.Debug.Addr,
		Token:         config.ResolveToken(cfg.Debug.Token),
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}
