package chathub

import (
	"encoding/json"
	"log"

	"chatverse/backend/internal/models"
)

// eventEnvelope is the wire form of a room broadcast on the shared redis
// channel. Origin lets each instance skip the events it published itself,
// since those were already delivered locally.
type eventEnvelope struct {
	Origin         string             `json:"origin"`
	ConversationID string             `json:"conversationId"`
	Event          models.ServerEvent `json:"event"`
}

// publishEvent pushes a room broadcast onto the shared channel so sessions
// connected to other instances receive it too. Publish failures are logged
// and do not affect local delivery.
func (h *Hub) publishEvent(conversationID string, ev models.ServerEvent) {
	payload, err := json.Marshal(eventEnvelope{
		Origin:         h.instanceID,
		ConversationID: conversationID,
		Event:          ev,
	})
	if err != nil {
		log.Printf("ERROR: Failed to encode event for publishing: %v", err)
		return
	}
	if err := h.Storage.PublishEvent(conversationID, payload); err != nil {
		log.Printf("ERROR: Failed to publish event for conversation %s: %v", conversationID, err)
	}
}

// startPubSubListener consumes room events published by other instances and
// re-delivers them to local sessions.
func (h *Hub) startPubSubListener() {
	ch := h.Storage.SubscribeEvents()
	if ch == nil {
		return
	}

	go func() {
		for msg := range ch {
			var envelope eventEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Printf("ERROR: Failed to decode published event: %v", err)
				continue
			}
			if envelope.Origin == h.instanceID {
				continue
			}
			h.broadcastLocal(envelope.ConversationID, envelope.Event)
		}
	}()
}
