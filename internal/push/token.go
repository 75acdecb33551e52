package push

import (
	"context"
	"time"
)

// DeviceToken identifies this installation to the push backend.
type DeviceToken struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"` // acquisition time
	UserAgent string    `json:"userAgent"`
}

// DefaultTokenTTL is how long a persisted token is trusted before it is
// proactively refreshed on next access.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Stale reports whether the token should be refreshed.
func (t DeviceToken) Stale(now time.Time, ttl time.Duration) bool {
	if t.Token == "" {
		return true
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return now.Sub(t.Timestamp) > ttl
}

// TokenStore persists the device token locally.
type TokenStore interface {
	SaveDeviceToken(ctx context.Context, t DeviceToken) error
	LoadDeviceToken(ctx context.Context) (t DeviceToken, ok bool, err error)
	DeleteDeviceToken(ctx context.Context) error
}
