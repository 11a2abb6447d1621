package models

import (
	"encoding/json"
	"fmt"
)

// Actions a client may issue over the realtime channel.
const (
	ActionJoinRoom    = "joinRoom"
	ActionSendMessage = "sendMessage"
	ActionTyping      = "typing"
	ActionStopTyping  = "stopTyping"
	ActionPin         = "pinMessage"
	ActionUnpin       = "unpinMessage"
)

// Events the server emits.
const (
	EventAck             = "ack"
	EventNewMessage      = "newMessage"
	EventAIStream        = "aiStream"
	EventAIStreamError   = "aiStreamError"
	EventMessagePinned   = "messagePinned"
	EventMessageUnpinned = "messageUnpinned"
	EventMessageEdited   = "messageEdited"
	EventMessageDeleted  = "messageDeleted"
	EventUserOnline      = "userOnline"
	EventUserOffline     = "userOffline"
	EventOnlineUsers     = "onlineUsers"
	EventUserTyping      = "userTyping"
	EventUserStopTyping  = "userStopTyping"
)

// Well-known acknowledgement error codes.
const (
	ErrCodeNotParticipant = "not-a-participant"
	ErrCodeServerError    = "server-error"
)

// ClientAction is one frame read from a client. ID, when set, is echoed back
// on the matching ack so the client can correlate it.
type ClientAction struct {
	ID      string          `json:"id,omitempty"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// ServerEvent is one frame written to a client.
type ServerEvent struct {
	Event   string      `json:"event"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Ack is the acknowledgement payload for a client action.
type Ack struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// RoomPayload targets a conversation; used by joinRoom, typing, stopTyping
// and unpinMessage.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

func (p *RoomPayload) Validate() error {
	if p.ConversationID == "" {
		return fmt.Errorf("conversationId required")
	}
	return nil
}

// SendMessagePayload carries outgoing message content. At least one of the
// content variants must be present.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	AudioURL       string `json:"audioUrl,omitempty"`
}

func (p *SendMessagePayload) Validate() error {
	if p.ConversationID == "" {
		return fmt.Errorf("conversationId required")
	}
	if p.Content == "" && p.ImageURL == "" && p.AudioURL == "" {
		return ErrEmptyMessage
	}
	return nil
}

// PinPayload targets one message inside a conversation.
type PinPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (p *PinPayload) Validate() error {
	if p.ConversationID == "" {
		return fmt.Errorf("conversationId required")
	}
	if p.MessageID == "" {
		return fmt.Errorf("messageId required")
	}
	return nil
}

// JoinRoomData is the ack data for a successful join: the full conversation
// history in ascending creation order.
type JoinRoomData struct {
	Messages []MessagePayload `json:"messages"`
}

// SendMessageData is the ack data for a persisted message.
type SendMessageData struct {
	MessageID string `json:"messageId"`
}

// AIStreamPayload is a transient snapshot of an in-progress assistant reply.
// StreamID correlates every snapshot of one exchange with its eventual final
// message (or failure), so clients replace by id instead of guessing.
type AIStreamPayload struct {
	StreamID       string `json:"streamId"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	IsAI           bool   `json:"isAi"`
	Temp           bool   `json:"temp"`
}

// AIStreamErrorPayload tells clients to drop the transient snapshot for a
// failed exchange; no final message will follow.
type AIStreamErrorPayload struct {
	StreamID       string `json:"streamId"`
	ConversationID string `json:"conversationId"`
}

// PinEventPayload announces a pin transition.
type PinEventPayload struct {
	ConversationID string          `json:"conversationId"`
	Message        *MessagePayload `json:"message,omitempty"`
}

// PresencePayload announces one identity's presence transition.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// TypingPayload announces a typing state change inside a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// DeletedPayload announces an already-applied message deletion.
type DeletedPayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
}
