package proto

import (
	"encoding/json"
	"fmt"
)

// Envelope fields of an inbound event. They share the top level of the wire
// JSON object with the free-form payload keys.
const (
	FieldSender    = "sender"
	FieldRecipient = "recipient"
	FieldTimestamp = "timestamp"
	FieldData      = "data"
)

// Control fields used by the call/response mechanism. They are stripped from
// the payload before it reaches user code.
const (
	MessageHandle = "_MESSAGE_HANDLE"
	MessageID     = "_MESSAGE_ID"
)

// Event is one decoded protocol event: the envelope plus the remaining
// payload keys. Data never contains the envelope fields.
type Event struct {
	Sender    string
	Recipient string
	Timestamp int64
	Data      map[string]any
}

// DecodeEvent parses a single JSON line into an Event. The envelope fields
// are extracted and removed from the payload; everything else, including the
// call control fields, stays in Data for the router to classify.
func DecodeEvent(line []byte) (Event, error) {
	raw := make(map[string]any)
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, fmt.Errorf("invalid event JSON: %w", err)
	}

	var ev Event
	if s, ok := raw[FieldSender].(string); ok {
		ev.Sender = s
	}
	if r, ok := raw[FieldRecipient].(string); ok {
		ev.Recipient = r
	}
	if ts, ok := raw[FieldTimestamp].(float64); ok {
		ev.Timestamp = int64(ts)
	}
	delete(raw, FieldSender)
	delete(raw, FieldRecipient)
	delete(raw, FieldTimestamp)
	delete(raw, FieldData)
	ev.Data = raw
	return ev, nil
}

// EncodeEvent flattens the event back into the wire JSON object. Payload keys
// never override the envelope fields.
func EncodeEvent(ev Event) ([]byte, error) {
	raw := make(map[string]any, len(ev.Data)+3)
	for k, v := range ev.Data {
		raw[k] = v
	}
	raw[FieldSender] = ev.Sender
	raw[FieldRecipient] = ev.Recipient
	raw[FieldTimestamp] = ev.Timestamp
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}
