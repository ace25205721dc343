package notifications

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/notekeep-notifications/pkg/enums"
)

// MetadataActionURL is the metadata key carrying a deep-link target.
const MetadataActionURL = "action_url"

// Notification is the client-side view of a server notification.
type Notification struct {
	ID        string                 `json:"id"`
	TypeCode  enums.NotificationType `json:"type_code"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	IsRead    bool                   `json:"is_read"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
}

// Icon returns the display icon for the notification's type code.
func (n Notification) Icon() string {
	return n.TypeCode.Icon()
}

// ActionURL returns metadata.action_url when it is a non-empty string.
func (n Notification) ActionURL() string {
	raw, ok := n.Metadata[MetadataActionURL]
	if !ok {
		return ""
	}
	value, ok := raw.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func (n Notification) clone() Notification {
	out := n
	if n.Metadata != nil {
		out.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Snapshot is a point-in-time copy of the reconciled state.
type Snapshot struct {
	Items       []Notification `json:"items"`
	UnreadCount int            `json:"unread_count"`
}

// PushMessage is a normalized realtime frame.
type PushMessage struct {
	Type string       `json:"type,omitempty"`
	Data Notification `json:"data"`
}

// DecodePush turns a normalized frame payload into a PushMessage.
func DecodePush(msgType string, data json.RawMessage) (PushMessage, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return PushMessage{}, err
	}
	return PushMessage{Type: msgType, Data: n}, nil
}
