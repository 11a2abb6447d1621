package chathub

import (
	"context"
	"log"
	"strings"

	"chatverse/backend/internal/ai"
	"chatverse/backend/internal/models"

	"github.com/google/uuid"
)

// aiHistoryWindow bounds the conversation context handed to the generator.
const aiHistoryWindow = 50

// respondAI runs one streamed assistant exchange. It mints a correlation id
// up front, broadcasts a growing transient snapshot per chunk, and concludes
// the exchange with exactly one of: a persisted final message, or a stream
// error telling clients to drop the snapshot.
func (h *Hub) respondAI(conversationID string) {
	streamID := uuid.New().String()

	history, err := h.Storage.GetRecentMessages(conversationID, aiHistoryWindow)
	if err != nil {
		log.Printf("ERROR: Failed to load AI context for conversation %s: %v", conversationID, err)
		return
	}

	var buffer strings.Builder
	full, err := h.AI.StreamReply(context.Background(), buildContext(history), func(delta string) error {
		buffer.WriteString(delta)
		h.BroadcastToRoom(conversationID, models.ServerEvent{
			Event: models.EventAIStream,
			Payload: models.AIStreamPayload{
				StreamID:       streamID,
				ConversationID: conversationID,
				Content:        buffer.String(),
				IsAI:           true,
				Temp:           true,
			},
		}, nil)
		return nil
	})
	if err != nil {
		log.Printf("ERROR: AI stream failed for conversation %s: %v", conversationID, err)
		h.abandonStream(conversationID, streamID)
		return
	}

	aiUser, err := h.Storage.EnsureAIUser()
	if err != nil {
		h.abandonStream(conversationID, streamID)
		return
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       aiUser.ID,
		Content:        full,
		IsAI:           true,
	}
	if err := h.Storage.SaveMessage(msg); err != nil {
		h.abandonStream(conversationID, streamID)
		return
	}

	// The final message is a normal broadcast; receivers replace any
	// transient snapshot carrying this exchange's stream id.
	h.BroadcastToRoom(conversationID, models.ServerEvent{
		Event:   models.EventNewMessage,
		Payload: msg.Payload(),
	}, nil)
}

// abandonStream tells every viewer the exchange failed so the transient
// placeholder does not sit in their view forever.
func (h *Hub) abandonStream(conversationID, streamID string) {
	h.BroadcastToRoom(conversationID, models.ServerEvent{
		Event:   models.EventAIStreamError,
		Payload: models.AIStreamErrorPayload{StreamID: streamID, ConversationID: conversationID},
	}, nil)
}

// buildContext converts stored history into model turns, oldest first.
// Non-text content is represented by its attachment kind so the model knows
// something was shared.
func buildContext(history []models.Message) []ai.ChatMessage {
	turns := make([]ai.ChatMessage, 0, len(history))
	for i := range history {
		m := &history[i]

		role := "user"
		if m.IsAI {
			role = "assistant"
		}

		content := m.Content
		if content == "" {
			switch {
			case m.ImageURL != "":
				content = "[image]"
			case m.AudioURL != "":
				content = "[audio]"
			}
		}
		if role == "user" && m.Sender.FirstName != "" {
			content = m.Sender.FirstName + ": " + content
		}

		turns = append(turns, ai.ChatMessage{Role: role, Content: content})
	}
	return turns
}
