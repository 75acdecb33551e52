package notification

// Frequency controls delivery cadence. Only FrequencyRealtime participates in
// the client-side toast gate; daily/weekly drive the digest instead.
type Frequency string

const (
	FrequencyRealtime Frequency = "realtime"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
)

// CategoryPrefs holds per-event-category opt-ins for one delivery channel.
type CategoryPrefs struct {
	Recommendations  bool `json:"recommendations"`
	PriceAlerts      bool `json:"priceAlerts"`
	PortfolioUpdates bool `json:"portfolioUpdates"`
	MarketUpdates    bool `json:"marketUpdates"`
	Tips             bool `json:"tips"`
	OrderUpdates     bool `json:"orderUpdates"`
}

// Preferences is the full preference document.
//
// Email and SMS flags are routing hints consumed by the backend; the client
// only interprets Push together with Frequency (the realtime toast gate).
type Preferences struct {
	Email     CategoryPrefs `json:"email"`
	Push      CategoryPrefs `json:"push"`
	SMS       CategoryPrefs `json:"sms"`
	Frequency Frequency     `json:"frequency"`
}

// DefaultPreferences is the hardcoded fallback used when neither the backend
// nor local storage can produce a preference set, so the toast gate always
// has a defined policy.
func DefaultPreferences() Preferences {
	all := CategoryPrefs{
		Recommendations:  true,
		PriceAlerts:      true,
		PortfolioUpdates: true,
		MarketUpdates:    true,
		Tips:             true,
		OrderUpdates:     true,
	}
	return Preferences{
		Email:     all,
		Push:      all,
		SMS:       CategoryPrefs{},
		Frequency: FrequencyRealtime,
	}
}

func (c CategoryPrefs) enabledFor(t Type) bool {
	switch t {
	case TypeRecommendation:
		return c.Recommendations
	case TypePriceAlert:
		return c.PriceAlerts
	case TypePortfolioUpdate:
		return c.PortfolioUpdates
	case TypeMarketUpdate:
		return c.MarketUpdates
	case TypeTip:
		return c.Tips
	case TypeOrderUpdate:
		return c.OrderUpdates
	default:
		// Generic records have no category flag and never toast.
		return false
	}
}

// toastEligible is the realtime gate: push category on AND realtime frequency.
// All other combinations still store the record.
func (p Preferences) toastEligible(t Type) bool {
	return p.Frequency == FrequencyRealtime && p.Push.enabledFor(t)
}
