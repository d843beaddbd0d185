package amqp

import (
	"encoding/json"
	"time"
)

const (
	TypeSessionSync   = "session.sync"
	TypeSessionDelete = "session.delete"
)

// Envelope wraps every message on the export queue with a type tag so one
// queue carries both sync and delete notifications.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// SessionSyncMessage asks the worker to export one closed session. It
// carries only the id; the worker fetches the row from the ledger.
type SessionSyncMessage struct {
	ID int64 `json:"id"`
}

// SessionDeleteMessage tells the worker a row was removed from the ledger.
type SessionDeleteMessage struct {
	ID int64 `json:"id"`
}

func newEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now(),
	})
}

// EnvelopeFromJSON decodes a queue message.
func EnvelopeFromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
