package realtime

import (
	"encoding/json"

	"filehub/internal/common"
)

// Frame types used by the command protocol. Event frames use the event name.
const (
	FrameJoinRoom       = "join-room"
	FrameLeaveRoom      = "leave-room"
	FrameSendMessage    = "send-message"
	FrameEditMessage    = "edit-message"
	FrameDeleteMessage  = "delete-message"
	FrameToggleReaction = "toggle-reaction"
	FrameTogglePin      = "toggle-pin"
	FrameAck            = "ack"
	FrameTypeError      = "error"
)

// Frame is the unit exchanged on a session connection in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap exposes the taxonomy error named by Code, so errors.Is works on
// errors received over the wire.
func (e *FrameError) Unwrap() error {
	return common.ErrorFromCode(e.Code)
}

// Command payloads, client to server.

type SendMessagePayload struct {
	Body         string  `json:"body"`
	ParentID     *string `json:"parent_id,omitempty"`
	AttachmentID *string `json:"attachment_id,omitempty"`
	TempID       string  `json:"temp_id,omitempty"`
}

type EditMessagePayload struct {
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
}

type MessageRefPayload struct {
	MessageID string `json:"message_id"`
}

type ToggleReactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// Ack results, server to client. Send, edit and pin acks carry the message.

type JoinResult struct {
	Room string `json:"room"`
}

type DeleteResult struct {
	MessageID string `json:"message_id"`
}

type ReactionResult struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
}

// AckFrame answers the command identified by ref.
func AckFrame(ref, room string, result interface{}) (Frame, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameAck, Ref: ref, Room: room, Payload: payload}, nil
}

// ErrorFrame reports a rejected command with its taxonomy code.
func ErrorFrame(ref, room string, err error) Frame {
	return Frame{
		Type:  FrameTypeError,
		Ref:   ref,
		Room:  room,
		Error: &FrameError{Code: common.ErrorCode(err), Message: err.Error()},
	}
}
