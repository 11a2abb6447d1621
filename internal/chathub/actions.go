package chathub

import (
	"encoding/json"
	"errors"
	"log"
	"strings"

	"chatverse/backend/internal/models"
	"chatverse/backend/internal/storage"
)

// aiMarker inside a message text requests an assistant reply even in
// conversations that are not assistant-designated.
const aiMarker = "@ai"

// HandleAction routes one decoded client frame. It runs on the session's
// read goroutine; every failure is converted into an acknowledgement so one
// bad action never takes down the connection or affects other sessions.
func (h *Hub) HandleAction(c Client, act models.ClientAction) {
	var ack models.Ack

	switch act.Action {
	case models.ActionJoinRoom:
		ack = h.handleJoinRoom(c, act.Payload)
	case models.ActionSendMessage:
		ack = h.handleSendMessage(c, act.Payload)
	case models.ActionTyping:
		ack = h.handleTyping(c, act.Payload, models.EventUserTyping)
	case models.ActionStopTyping:
		ack = h.handleTyping(c, act.Payload, models.EventUserStopTyping)
	case models.ActionPin:
		ack = h.handlePin(c, act.Payload)
	case models.ActionUnpin:
		ack = h.handleUnpin(c, act.Payload)
	default:
		ack = models.Ack{OK: false, Error: "unknown action"}
	}

	h.ack(c, act.ID, ack)
}

func (h *Hub) ack(c Client, id string, ack models.Ack) {
	// A false return means the session is saturated or already closed; the
	// dispatcher owns dropping it, so the ack is simply lost.
	c.Send(models.ServerEvent{Event: models.EventAck, ID: id, Payload: ack})
}

// authorize is the room membership gate: the acting identity comes from the
// session, never from the payload, and an absent participant fact rejects
// the action with no side effect.
func (h *Hub) authorize(c Client, conversationID string) *models.Ack {
	ok, err := h.Storage.IsParticipant(c.GetUserID(), conversationID)
	if err != nil {
		log.Printf("ERROR: Participant lookup failed for conversation %s: %v", conversationID, err)
		return &models.Ack{OK: false, Error: models.ErrCodeServerError}
	}
	if !ok {
		return &models.Ack{OK: false, Error: models.ErrCodeNotParticipant}
	}
	return nil
}

// handleJoinRoom authorizes the session, registers it as a room listener and
// returns the full ordered history so the viewer can render immediately.
func (h *Hub) handleJoinRoom(c Client, payload json.RawMessage) models.Ack {
	var p models.RoomPayload
	if err := decode(payload, &p); err != nil {
		return models.Ack{OK: false, Error: err.Error()}
	}
	if rejected := h.authorize(c, p.ConversationID); rejected != nil {
		return *rejected
	}

	// Join before reading history so no message slips into the gap between
	// the snapshot and live delivery; clients deduplicate by message id.
	h.JoinRoom(c, p.ConversationID)

	history, err := h.Storage.GetMessages(p.ConversationID)
	if err != nil {
		// The join failed from the client's point of view, so it must not
		// stay registered as a listener for this room.
		h.LeaveRoom(c, p.ConversationID)
		return models.Ack{OK: false, Error: models.ErrCodeServerError}
	}

	payloads := make([]models.MessagePayload, 0, len(history))
	for i := range history {
		payloads = append(payloads, history[i].Payload())
	}
	return models.Ack{OK: true, Data: models.JoinRoomData{Messages: payloads}}
}

// handleSendMessage is the fan-out pipeline: authorize, persist, broadcast,
// then acknowledge. Nothing is broadcast unless persistence succeeded, which
// is what makes the observed order match storage order.
func (h *Hub) handleSendMessage(c Client, payload json.RawMessage) models.Ack {
	var p models.SendMessagePayload
	if err := decode(payload, &p); err != nil {
		return models.Ack{OK: false, Error: err.Error()}
	}
	if rejected := h.authorize(c, p.ConversationID); rejected != nil {
		return *rejected
	}

	conv, err := h.Storage.GetConversation(p.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Ack{OK: false, Error: "conversation not found"}
		}
		return models.Ack{OK: false, Error: models.ErrCodeServerError}
	}

	msg := &models.Message{
		ConversationID: p.ConversationID,
		SenderID:       c.GetUserID(),
		Content:        p.Content,
		ImageURL:       p.ImageURL,
		AudioURL:       p.AudioURL,
	}
	if err := h.Storage.SaveMessage(msg); err != nil {
		return models.Ack{OK: false, Error: models.ErrCodeServerError}
	}

	h.BroadcastToRoom(p.ConversationID, models.ServerEvent{
		Event:   models.EventNewMessage,
		Payload: msg.Payload(),
	}, nil)

	if wantsAIReply(conv, msg) {
		go h.respondAI(p.ConversationID)
	}

	return models.Ack{OK: true, Data: models.SendMessageData{MessageID: msg.ID}}
}

// wantsAIReply decides whether the message triggers a streamed assistant
// reply: either the conversation is assistant-designated or the text carries
// the invocation marker. The assistant never replies to itself.
func wantsAIReply(conv *models.Conversation, msg *models.Message) bool {
	if msg.IsAI {
		return false
	}
	if conv.IsAI {
		return true
	}
	return strings.Contains(strings.ToLower(msg.Content), aiMarker)
}

// handleTyping relays a typing transition to the rest of the room. The
// signal is ephemeral: nothing is persisted and delivery is best-effort.
// Joining the room is the only prerequisite, so no storage call is made.
func (h *Hub) handleTyping(c Client, payload json.RawMessage, event string) models.Ack {
	var p models.RoomPayload
	if err := decode(payload, &p); err != nil {
		return models.Ack{OK: false, Error: err.Error()}
	}
	if !h.InRoom(c, p.ConversationID) {
		return models.Ack{OK: false, Error: models.ErrCodeNotParticipant}
	}

	h.BroadcastToRoom(p.ConversationID, models.ServerEvent{
		Event:   event,
		Payload: models.TypingPayload{ConversationID: p.ConversationID, UserID: c.GetUserID()},
	}, c)
	return models.Ack{OK: true}
}

// handlePin sets the conversation's single pinned message. Pinning over an
// existing pin replaces it; the message must belong to the conversation.
func (h *Hub) handlePin(c Client, payload json.RawMessage) models.Ack {
	var p models.PinPayload
	if err := decode(payload, &p); err != nil {
		return models.Ack{OK: false, Error: err.Error()}
	}
	if rejected := h.authorize(c, p.ConversationID); rejected != nil {
		return *rejected
	}

	msg, err := h.Storage.GetMessage(p.MessageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Ack{OK: false, Error: "message not found"}
		}
		return models.Ack{OK: false, Error: models.ErrCodeServerError}
	}
	if msg.ConversationID != p.ConversationID {
		return models.Ack{OK: false, Error: "message does not belong to this conversation"}
	}

	if err := h.Storage.SetPinnedMessage(p.ConversationID, &p.MessageID); err != nil {
		return models.Ack{OK: false, Error: models.ErrCodeServerError}
	}

	hydrated := msg.Payload()
	h.BroadcastToRoom(p.ConversationID, models.ServerEvent{
		Event:   models.EventMessagePinned,
		Payload: models.PinEventPayload{ConversationID: p.ConversationID, Message: &hydrated},
	}, nil)
	return models.Ack{OK: true}
}

// handleUnpin clears the pinned message and announces the transition.
func (h *Hub) handleUnpin(c Client, payload json.RawMessage) models.Ack {
	var p models.RoomPayload
	if err := decode(payload, &p); err != nil {
		return models.Ack{OK: false, Error: err.Error()}
	}
	if rejected := h.authorize(c, p.ConversationID); rejected != nil {
		return *rejected
	}

	if err := h.Storage.SetPinnedMessage(p.ConversationID, nil); err != nil {
		return models.Ack{OK: false, Error: models.ErrCodeServerError}
	}

	h.BroadcastToRoom(p.ConversationID, models.ServerEvent{
		Event:   models.EventMessageUnpinned,
		Payload: models.PinEventPayload{ConversationID: p.ConversationID},
	}, nil)
	return models.Ack{OK: true}
}

type validator interface {
	Validate() error
}

// decode unmarshals and validates an action payload before any collaborator
// is called.
func decode(raw json.RawMessage, into validator) error {
	if len(raw) == 0 {
		return errors.New("payload required")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return errors.New("malformed payload")
	}
	return into.Validate()
}
