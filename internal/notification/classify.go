package notification

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var priorityThreshold = decimal.NewFromInt(5) // |%change| above this is high

// classify builds a Record from a raw inbound event. It never fails: unknown
// types and undecodable payloads produce the generic fallback variant.
func classify(in Inbound, now time.Time) Record {
	rec := Record{
		Type:      Type(in.Type),
		Timestamp: now.Format(time.RFC3339),
		Data:      in.Data,
		Priority:  PriorityMedium,
	}

	switch rec.Type {
	case TypeRecommendation:
		var p RecommendationPayload
		decode(in.Data, &p)
		rec.Title = "New Stock Recommendation"
		rec.Description = fmt.Sprintf("%s (%s) - %s at ₹%s", p.StockName, p.Symbol, p.Action, p.Price.String())
		if strings.EqualFold(p.Category, "premium") {
			rec.Priority = PriorityHigh
		}
		if p.Symbol != "" {
			rec.ActionURL = "/recommendations/" + p.Symbol
		}

	case TypePriceAlert:
		var p PriceAlertPayload
		decode(in.Data, &p)
		rec.Title = "Price Alert"
		rec.Description = fmt.Sprintf("%s (%s) moved %s%% to ₹%s", p.StockName, p.Symbol, p.ChangePercent.String(), p.Price.String())
		if p.ChangePercent.Abs().GreaterThan(priorityThreshold) {
			rec.Priority = PriorityHigh
		}
		if p.Symbol != "" {
			rec.ActionURL = "/stocks/" + p.Symbol
		}

	case TypePortfolioUpdate:
		var p PortfolioUpdatePayload
		decode(in.Data, &p)
		rec.Title = "Portfolio Update"
		rec.Description = fmt.Sprintf("%s changed %s%%", p.PortfolioName, p.ChangePercent.String())
		if p.IsUrgent || p.ChangePercent.Abs().GreaterThan(priorityThreshold) {
			rec.Priority = PriorityHigh
		}
		if p.PortfolioID != "" {
			rec.ActionURL = "/portfolio/" + p.PortfolioID
		}

	case TypeMarketUpdate:
		var p MarketUpdatePayload
		decode(in.Data, &p)
		rec.Title = "Market Update"
		rec.Description = p.Headline
		if p.Summary != "" {
			rec.Description = p.Headline + ": " + p.Summary
		}
		if p.IsUrgent {
			rec.Priority = PriorityHigh
		} else {
			rec.Priority = PriorityLow
		}

	case TypeTip:
		var p TipPayload
		decode(in.Data, &p)
		rec.Title = "New Tip"
		rec.Description = p.Title
		if p.Segment != "" {
			rec.Description = fmt.Sprintf("%s (%s)", p.Title, p.Segment)
		}
		if strings.EqualFold(p.Category, "premium") {
			rec.Priority = PriorityHigh
		}
		if p.TipID != "" {
			rec.ActionURL = "/tips/" + p.TipID
		}

	case TypeOrderUpdate:
		var p OrderUpdatePayload
		decode(in.Data, &p)
		rec.Title = "Order Update"
		rec.Description = fmt.Sprintf("Order %s %s", p.OrderID, strings.ToLower(p.Status))
		if p.Symbol != "" {
			rec.Description += " - " + p.Symbol
		}
		switch strings.ToUpper(p.Status) {
		case "REJECTED", "FAILED", "CANCELLED":
			rec.Priority = PriorityHigh
		}
		if p.OrderID != "" {
			rec.ActionURL = "/orders/" + p.OrderID
		}

	default:
		rec.Type = TypeGeneric
		rec.Title = "Notification"
		rec.Description = "You have a new notification"
	}

	rec.ID = recordID(rec.Type, in.MessageID, now)
	return rec
}

// recordID prefers the platform-assigned message id (push channel); otherwise
// it mints a "{prefix}_{timestamp}" id at classification time.
func recordID(t Type, messageID string, now time.Time) string {
	if messageID != "" {
		return messageID
	}
	return idPrefix(t) + "_" + strconv.FormatInt(now.UnixNano(), 10)
}

func idPrefix(t Type) string {
	switch t {
	case TypeRecommendation:
		return "rec"
	case TypePriceAlert:
		return "alert"
	case TypePortfolioUpdate:
		return "pf"
	case TypeMarketUpdate:
		return "mkt"
	case TypeTip:
		return "tip"
	case TypeOrderUpdate:
		return "order"
	default:
		return "ntf"
	}
}

// decode is best-effort: a malformed payload leaves the target zero-valued.
func decode(raw json.RawMessage, out any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, out)
}
