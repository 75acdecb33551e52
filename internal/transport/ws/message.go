package ws

import "encoding/json"

// Envelope is the inbound/outbound message frame.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Channels the client subscribes to after every (re)connect.
var DefaultChannels = []string{
	"recommendations",
	"price_alerts",
	"portfolio_updates",
	"market_updates",
	"tips",
}

type subscribeMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

type systemMessage struct {
	Type string       `json:"type"`
	Data systemAction `json:"data"`
}

type systemAction struct {
	Action string `json:"action"`
}

func pingMessage() systemMessage {
	return systemMessage{Type: "system", Data: systemAction{Action: "ping"}}
}

// isPong reports whether the envelope is a heartbeat ack, which is swallowed.
func isPong(env Envelope) bool {
	if env.Type != "system" {
		return false
	}
	var a systemAction
	if err := json.Unmarshal(env.Data, &a); err != nil {
		return false
	}
	return a.Action == "pong"
}
