package notification

import (
	"context"

	"golang.org/x/time/rate"

	"tipfeed/pkg/logx"
)

// Emitter is the default ToastSink: it surfaces toasts on the log (the bus
// carries them separately as EventToast). A token-bucket limiter keeps event
// storms from flooding the surface; over-limit toasts are dropped, the
// record itself is already stored.
type Emitter struct {
	log     logx.Logger
	limiter *rate.Limiter
}

func NewEmitter(log logx.Logger, perSec int) *Emitter {
	if perSec <= 0 {
		perSec = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Emitter{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

func (e *Emitter) Toast(ctx context.Context, t Toast) {
	_ = ctx
	if !e.limiter.Allow() {
		e.log.Debug("toast dropped (rate limited)", logx.String("id", t.ID))
		return
	}
	e.log.Info("toast",
		logx.String("title", t.Title),
		logx.String("message", t.Message),
		logx.String("priority", string(t.Priority)),
		logx.String("action_url", t.ActionURL))
}
