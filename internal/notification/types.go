package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type tags a notification record. The tag set is open-ended: inbound events
// with an unrecognized type classify into TypeGeneric instead of failing.
type Type string

const (
	TypeRecommendation  Type = "recommendation"
	TypePriceAlert      Type = "price_alert"
	TypePortfolioUpdate Type = "portfolio_update"
	TypeMarketUpdate    Type = "market_update"
	TypeTip             Type = "tip"
	TypeOrderUpdate     Type = "order_update"
	TypeGeneric         Type = "generic"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Record is a single classified notification.
//
// Timestamp is set at classification time (RFC 3339), not the server event
// time. Data carries the source payload untouched for destination routing.
type Record struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Timestamp   string          `json:"timestamp"`
	Priority    Priority        `json:"priority"`
	Data        json.RawMessage `json:"data,omitempty"`
	ActionURL   string          `json:"actionUrl,omitempty"`
	Read        bool            `json:"read"`
}

// Source identifies the delivery channel an inbound event arrived on.
type Source string

const (
	SourceTransport Source = "ws"
	SourcePush      Source = "push"
)

// Inbound is a raw event handed to the domain service for classification.
// MessageID is the platform-assigned id for push-origin events; when present
// it becomes the record id.
type Inbound struct {
	Type      string
	Data      json.RawMessage
	Timestamp string
	MessageID string
	Source    Source
}

// ---- Typed payload schemas (per event type) ----
//
// Payloads are decoded best-effort: missing fields fall back to neutral
// values, and undecodable payloads classify into the generic variant.

type RecommendationPayload struct {
	StockName   string          `json:"stockName"`
	Symbol      string          `json:"symbol"`
	Action      string          `json:"action"`
	Price       decimal.Decimal `json:"price"`
	TargetPrice decimal.Decimal `json:"targetPrice"`
	Category    string          `json:"category"`
}

type PriceAlertPayload struct {
	StockName     string          `json:"stockName"`
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"changePercent"`
}

type PortfolioUpdatePayload struct {
	PortfolioID   string          `json:"portfolioId"`
	PortfolioName string          `json:"portfolioName"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	IsUrgent      bool            `json:"isUrgent"`
}

type MarketUpdatePayload struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	IsUrgent bool   `json:"isUrgent"`
}

type TipPayload struct {
	TipID    string `json:"tipId"`
	Title    string `json:"title"`
	Segment  string `json:"segment"`
	Category string `json:"category"`
}

type OrderUpdatePayload struct {
	OrderID  string          `json:"orderId"`
	Symbol   string          `json:"symbol"`
	Status   string          `json:"status"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Toast is a transient, ephemeral surface for a just-ingested record.
type Toast struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  Priority  `json:"priority"`
	ActionURL string    `json:"actionUrl,omitempty"`
	At        time.Time `json:"at"`
}

// ToastSink receives preference-gated transient notifications.
type ToastSink interface {
	Toast(ctx context.Context, t Toast)
}
