package ws

import "encoding/json"

// MessageType identifies the kind of WebSocket message.
type MessageType string

// Run progress messages carry an engine event as payload.
const (
	MsgRunStarted     MessageType = "run_started"
	MsgTablesListed   MessageType = "tables_listed"
	MsgTableStarted   MessageType = "table_started"
	MsgBatchCommitted MessageType = "batch_committed"
	MsgTableOutcome   MessageType = "table_outcome"
	MsgRunFinished    MessageType = "run_finished"
	MsgError          MessageType = "error"
	MsgFullState      MessageType = "full_state"
)

// Client requests.
const (
	// MsgSync asks for a fresh full_state.
	MsgSync MessageType = "sync"
	// MsgSubscribe narrows delivery to one run; an empty run_id restores
	// every run.
	MsgSubscribe MessageType = "subscribe"
)

// SubscribePayload is the payload of a subscribe request.
type SubscribePayload struct {
	RunID string `json:"run_id"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message"`
}

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a new Message with the given type and payload.
func NewMessage(typ MessageType, payload any) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Message{Type: typ, Payload: p})
}
