package notification

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func inbound(typ, data string) Inbound {
	return Inbound{Type: typ, Data: json.RawMessage(data), Source: SourceTransport}
}

func TestClassifyRecommendation(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	rec := classify(inbound("recommendation",
		`{"stockName":"Reliance Industries","symbol":"RELIANCE","action":"BUY","price":"2500","targetPrice":"2800","category":"premium"}`), now)

	if rec.Type != TypeRecommendation {
		t.Fatalf("Type = %s", rec.Type)
	}
	if rec.Title != "New Stock Recommendation" {
		t.Fatalf("Title = %q", rec.Title)
	}
	if want := "Reliance Industries (RELIANCE) - BUY at ₹2500"; rec.Description != want {
		t.Fatalf("Description = %q, want %q", rec.Description, want)
	}
	if rec.Priority != PriorityHigh {
		t.Fatalf("premium category should be high priority, got %s", rec.Priority)
	}
	if rec.ActionURL != "/recommendations/RELIANCE" {
		t.Fatalf("ActionURL = %q", rec.ActionURL)
	}
	if !strings.HasPrefix(rec.ID, "rec_") {
		t.Fatalf("ID = %q, want rec_ prefix", rec.ID)
	}
	if rec.Timestamp != now.Format(time.RFC3339) {
		t.Fatalf("Timestamp = %q", rec.Timestamp)
	}
	if rec.Read {
		t.Fatal("new records must start unread")
	}
}

func TestClassifyPriorityRules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   Inbound
		want Priority
	}{
		{"price alert small move", inbound("price_alert", `{"symbol":"TCS","changePercent":"2.4"}`), PriorityMedium},
		{"price alert big move", inbound("price_alert", `{"symbol":"TCS","changePercent":"6.1"}`), PriorityHigh},
		{"price alert big negative move", inbound("price_alert", `{"symbol":"TCS","changePercent":"-7.2"}`), PriorityHigh},
		{"portfolio calm", inbound("portfolio_update", `{"portfolioId":"p1","changePercent":"1.0"}`), PriorityMedium},
		{"portfolio urgent flag", inbound("portfolio_update", `{"portfolioId":"p1","changePercent":"1.0","isUrgent":true}`), PriorityHigh},
		{"market update default low", inbound("market_update", `{"headline":"Markets open flat"}`), PriorityLow},
		{"market update urgent", inbound("market_update", `{"headline":"Circuit breaker","isUrgent":true}`), PriorityHigh},
		{"standard tip", inbound("tip", `{"tipId":"t1","title":"Intraday pick"}`), PriorityMedium},
		{"premium tip", inbound("tip", `{"tipId":"t1","title":"Intraday pick","category":"PREMIUM"}`), PriorityHigh},
		{"order executed", inbound("order_update", `{"orderId":"o1","status":"EXECUTED"}`), PriorityMedium},
		{"order rejected", inbound("order_update", `{"orderId":"o1","status":"REJECTED"}`), PriorityHigh},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := classify(tt.in, time.Now())
			if rec.Priority != tt.want {
				t.Fatalf("Priority = %s, want %s", rec.Priority, tt.want)
			}
		})
	}
}

func TestClassifyUnknownTypeFallsBack(t *testing.T) {
	t.Parallel()
	rec := classify(inbound("something_new", `{"whatever":1}`), time.Now())
	if rec.Type != TypeGeneric {
		t.Fatalf("Type = %s, want %s", rec.Type, TypeGeneric)
	}
	if rec.Priority != PriorityMedium {
		t.Fatalf("Priority = %s, want medium", rec.Priority)
	}
	if rec.Title != "Notification" || rec.Description != "You have a new notification" {
		t.Fatalf("unexpected fallback copy: %q / %q", rec.Title, rec.Description)
	}
	if !strings.HasPrefix(rec.ID, "ntf_") {
		t.Fatalf("ID = %q, want ntf_ prefix", rec.ID)
	}
	// The raw payload is preserved for whoever can interpret it later.
	if string(rec.Data) != `{"whatever":1}` {
		t.Fatalf("Data = %s", rec.Data)
	}
}

func TestClassifyMalformedPayload(t *testing.T) {
	t.Parallel()
	rec := classify(inbound("price_alert", `not json at all`), time.Now())
	if rec.Type != TypePriceAlert {
		t.Fatalf("Type = %s", rec.Type)
	}
	if rec.Priority != PriorityMedium {
		t.Fatalf("Priority = %s, want medium", rec.Priority)
	}
	if rec.ActionURL != "" {
		t.Fatalf("ActionURL = %q, want empty", rec.ActionURL)
	}
}

func TestRecordIDPrefersMessageID(t *testing.T) {
	t.Parallel()
	rec := classify(Inbound{Type: "tip", MessageID: "msg_abc123", Source: SourcePush}, time.Now())
	if rec.ID != "msg_abc123" {
		t.Fatalf("ID = %q, want msg_abc123", rec.ID)
	}
}
