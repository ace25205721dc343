package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/notekeep-notifications/internal/notifications"
)

var errEmptyBody = errors.New("empty response body")

type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type listBody struct {
	Items         []notifications.Notification `json:"items"`
	Notifications []notifications.Notification `json:"notifications"`
}

type countBody struct {
	Count       *int `json:"count"`
	UnreadCount *int `json:"unread_count"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// unwrapData strips a {"data": ...} success envelope when present.
func unwrapData(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env dataEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil || len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return trimmed
	}
	return env.Data
}

func decodeList(body []byte) ([]notifications.Notification, error) {
	payload := unwrapData(body)
	if len(payload) == 0 {
		return nil, errEmptyBody
	}
	if payload[0] == '[' {
		var items []notifications.Notification
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped listBody
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Items != nil {
		return wrapped.Items, nil
	}
	if wrapped.Notifications != nil {
		return wrapped.Notifications, nil
	}
	return []notifications.Notification{}, nil
}

func decodeCount(body []byte) (int, error) {
	payload := unwrapData(body)
	if len(payload) == 0 {
		return 0, errEmptyBody
	}
	var count countBody
	if err := json.Unmarshal(payload, &count); err != nil {
		return 0, err
	}
	switch {
	case count.Count != nil:
		return *count.Count, nil
	case count.UnreadCount != nil:
		return *count.UnreadCount, nil
	}
	return 0, errors.New("missing count field")
}

func upstreamMessage(method, path string, status int, body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return fmt.Sprintf("%s %s: %s", method, path, http.StatusText(status))
}
