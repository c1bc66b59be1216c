package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filehub/internal/common"
)

type EventName string

const (
	EventNewMessage      EventName = "new-message"
	EventMessageUpdated  EventName = "message-updated"
	EventMessageDeleted  EventName = "message-deleted"
	EventReactionAdded   EventName = "reaction-added"
	EventReactionRemoved EventName = "reaction-removed"
	EventMessagePinned   EventName = "message-pinned"
)

var ErrUnknownEvent = errors.New("unknown event")

// Event is the closed set of payloads the bus can carry. Only types in this
// package implement it.
type Event interface {
	Name() EventName
	isEvent()
}

// NewMessage carries the full record of a created message. TempID echoes the
// sender's optimistic id; Thread is set for replies.
type NewMessage struct {
	common.Message
	TempID string                `json:"temp_id,omitempty"`
	Thread *common.ThreadSummary `json:"thread,omitempty"`
}

type MessageUpdated struct {
	common.Message
}

type MessageDeleted struct {
	MessageID string                `json:"message_id"`
	Thread    *common.ThreadSummary `json:"thread,omitempty"`
}

// ReactionChange is the shared payload of reaction-added and reaction-removed.
type ReactionChange struct {
	MessageID string                 `json:"message_id"`
	Emoji     string                 `json:"emoji"`
	UserID    string                 `json:"user_id"`
	Reactions []common.ReactionGroup `json:"reactions"`
	Revision  uint64                 `json:"revision"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type ReactionAdded struct{ ReactionChange }

type ReactionRemoved struct{ ReactionChange }

type MessagePinned struct {
	MessageID string    `json:"message_id"`
	Pinned    bool      `json:"pinned"`
	UpdatedAt time.Time `json:"updated_at"`
	Revision  uint64    `json:"revision"`
}

// Notification is a cross-feature summary addressed to a user room. Its
// event name is the notification type, e.g. file-shared-with-you.
type Notification struct {
	ID        string                      `json:"id"`
	Type      common.NotificationType     `json:"type"`
	Header    string                      `json:"header"`
	Content   string                      `json:"content"`
	Metadata  common.NotificationMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
}

func (NewMessage) Name() EventName      { return EventNewMessage }
func (MessageUpdated) Name() EventName  { return EventMessageUpdated }
func (MessageDeleted) Name() EventName  { return EventMessageDeleted }
func (ReactionAdded) Name() EventName   { return EventReactionAdded }
func (ReactionRemoved) Name() EventName { return EventReactionRemoved }
func (MessagePinned) Name() EventName   { return EventMessagePinned }
func (n Notification) Name() EventName  { return EventName(n.Type) }

func (NewMessage) isEvent()      {}
func (MessageUpdated) isEvent()  {}
func (MessageDeleted) isEvent()  {}
func (ReactionAdded) isEvent()   {}
func (ReactionRemoved) isEvent() {}
func (MessagePinned) isEvent()   {}
func (Notification) isEvent()    {}

// IsNotification reports whether name is one of the cross-feature events.
func IsNotification(name EventName) bool {
	switch common.NotificationType(name) {
	case common.FileSharedType, common.SharedFileAccessedType, common.GroupInvitationType:
		return true
	}
	return false
}

// EncodeEvent wraps ev in a frame addressed to roomID.
func EncodeEvent(roomID string, ev Event) (Frame, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return Frame{Type: string(ev.Name()), Room: roomID, Payload: payload}, nil
}

// DecodeEvent parses an event frame into its variant.
func DecodeEvent(f Frame) (Event, error) {
	name := EventName(f.Type)
	var (
		ev  Event
		err error
	)
	switch name {
	case EventNewMessage:
		var e NewMessage
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case EventMessageUpdated:
		var e MessageUpdated
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case EventMessageDeleted:
		var e MessageDeleted
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case EventReactionAdded:
		var e ReactionAdded
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case EventReactionRemoved:
		var e ReactionRemoved
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	case EventMessagePinned:
		var e MessagePinned
		err = json.Unmarshal(f.Payload, &e)
		ev = e
	default:
		if !IsNotification(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
		}
		var e Notification
		err = json.Unmarshal(f.Payload, &e)
		e.Type = common.NotificationType(name)
		ev = e
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return ev, nil
}
