// Package app assembles the pipeline: config, logging, storage, the backend
// client, both delivery channels, the domain service and the operator
// surfaces, with one supervisor owning every background goroutine.
package app

import (
	"context"
	"time"

	"tipfeed/internal/api"
	"tipfeed/internal/config"
	"tipfeed/internal/debugsrv"
	"tipfeed/internal/digest"
	"tipfeed/internal/eventbus"
	"tipfeed/internal/hub"
	"tipfeed/internal/notification"
	"tipfeed/internal/push"
	"tipfeed/internal/runtime/supervisor"
	"tipfeed/internal/store"
	"tipfeed/internal/transport/ws"
	"tipfeed/pkg/logx"
)

type App struct {
	log  logx.Logger
	logs *logx.Service
	mgr  *config.Manager
	bus  eventbus.Bus

	store    store.Store
	client   *api.Client
	provider *push.LocalProvider
	pushCh   *push.Channel
	svc      *notification.Service
	wsClient *ws.Client
	hub      *hub.Hub
	digest   *digest.Scheduler
	debug    *debugsrv.Server

	sup *supervisor.Supervisor
}

// New loads and validates the config file and wires every component.
// Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load(ctx)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logxConfig(cfg))
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	st, err := store.Open(storeConfig(cfg), log.With(logx.String("comp", "store")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	client, err := api.NewClient(apiConfig(cfg), log.With(logx.String("comp", "api")))
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		logs.Close()
		return nil, err
	}

	var (
		tokenStore push.TokenStore
		persister  notification.Persister
	)
	if st != nil {
		tokenStore = st
		persister = st
	}

	provider := push.NewLocalProvider(cfg.Push.AutoGrant)
	pushCh := push.NewChannel(pushConfig(cfg), provider, tokenStore, client,
		log.With(logx.String("comp", "push")), bus)

	emitter := notification.NewEmitter(log.With(logx.String("comp", "toast")), cfg.Notification.ToastRatePerSec)
	svc := notification.New(notificationConfig(cfg), persister, client, emitter,
		log.With(logx.String("comp", "notify")), bus)

	wsClient := ws.NewClient(wsConfig(cfg), nil, nil,
		log.With(logx.String("comp", "ws")), bus)

	h := hub.New(svc, pushCh, log.With(logx.String("comp", "hub")), bus)
	dig := digest.New(svc, emitter, log.With(logx.String("comp", "digest")), bus)
	dbg := debugsrv.New(debugConfig(cfg), h, wsClient, provider,
		log.With(logx.String("comp", "debug")))

	return &App{
		log:      log,
		logs:     logs,
		mgr:      mgr,
		bus:      bus,
		store:    st,
		client:   client,
		provider: provider,
		pushCh:   pushCh,
		svc:      svc,
		wsClient: wsClient,
		hub:      h,
		digest:   dig,
		debug:    dbg,
	}, nil
}

// Hub exposes the consumer façade.
func (a *App) Hub() *hub.Hub { return a.hub }

// Start brings the pipeline up. Background loops run under the supervisor
// until Stop.
func (a *App) Start(ctx context.Context) {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	sup := a.sup

	a.hub.Start(sup.Context())
	a.digest.Start()
	a.debug.Start()

	sup.Go("push.run", func(c context.Context) error {
		err := a.pushCh.Run(c)
		if err != nil && err == c.Err() {
			return context.Canceled
		}
		return err
	})
	sup.Go0("ingest.pump", a.pump)
	sup.Go0("prefs.watch", a.watchPrefs)
	sup.GoRestart("config.watch", a.mgr.Watch)
	sup.Go0("config.apply", a.applyConfig)

	a.wsClient.Connect(sup.Context())
	a.log.Info("pipeline started")
}

// pump converts raw channel events into domain ingests. Transport and push
// deliveries share this single entry point into classification.
func (a *App) pump(ctx context.Context) {
	ch, unsub := a.bus.SubscribeTypes(128, ws.EventMessage, push.EventMessage)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			// The prefix filter also matches typed "ws.message.*" echoes;
			// only the envelope events feed the pipeline.
			switch e.Type {
			case ws.EventMessage:
				env, ok := e.Data.(ws.Envelope)
				if !ok {
					continue
				}
				a.svc.Ingest(ctx, notification.Inbound{
					Type:      env.Type,
					Data:      env.Data,
					Timestamp: env.Timestamp,
					Source:    notification.SourceTransport,
				})
			case push.EventMessage:
				m, ok := e.Data.(push.Message)
				if !ok {
					continue
				}
				a.svc.Ingest(ctx, notification.Inbound{
					Type:      m.Type,
					Data:      m.Data,
					Timestamp: m.Timestamp,
					MessageID: m.MessageID,
					Source:    notification.SourcePush,
				})
			}
		}
	}
}

// watchPrefs retunes the digest schedule whenever preferences change.
func (a *App) watchPrefs(ctx context.Context) {
	ch, unsub := a.bus.SubscribeTypes(8, notification.EventPrefs)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if p, ok := e.Data.(notification.Preferences); ok {
				a.digest.Apply(p.Frequency)
			}
		}
	}
}

// applyConfig consumes hot-reloaded snapshots. Only logging, the toast
// surface and the debug server apply live; transport and storage changes
// need a restart and are logged as such.
func (a *App) applyConfig(ctx context.Context) {
	sub := a.mgr.Subscribe(4)
	defer a.mgr.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logxConfig(cfg))
			a.debug.Reconfigure(ctx, debugConfig(cfg))
			a.log.Info("config applied; transport and storage changes take effect on restart")
		}
	}
}

// Stop shuts down in dependency order, each step bounded by ctx.
func (a *App) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Stop the socket first so no new events enter the pipeline.
	a.wsClient.Disconnect()
	_ = a.pushCh.Close()

	a.digest.Stop()
	a.debug.Stop(ctx)

	if a.sup != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.sup.Stop(waitCtx); err != nil && err != context.Canceled {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
		cancel()
	}

	// Persist state after the loops are quiet.
	a.hub.Stop(ctx)

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", logx.Err(err))
		}
	}
	a.log.Info("pipeline stopped")
	_ = a.logs.Close()
}
