package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
)

// MessageTypeNotification is the type assigned to bare notification payloads.
const MessageTypeNotification = "notification"

var (
	errMalformedFrame    = errors.New("frame is not a json object")
	errUnrecognizedFrame = errors.New("frame has neither data nor type_code")
)

// Message is a normalized inbound frame.
type Message struct {
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data"`
}

// ParseFrame normalizes a raw text frame. Accepted shapes are
// {"data": {...}} and a bare object carrying "type_code".
func ParseFrame(raw []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Message{}, errMalformedFrame
	}

	if data, ok := fields["data"]; ok && isObject(data) {
		msg := Message{Data: data}
		if rawType, ok := fields["type"]; ok {
			_ = json.Unmarshal(rawType, &msg.Type)
		}
		return msg, nil
	}

	if _, ok := fields["type_code"]; ok {
		return Message{Type: MessageTypeNotification, Data: json.RawMessage(bytes.TrimSpace(raw))}, nil
	}
	return Message{}, errUnrecognizedFrame
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
