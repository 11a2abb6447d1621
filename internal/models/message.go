package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrEmptyMessage is returned when a message carries no content at all.
var ErrEmptyMessage = errors.New("message needs text, an image url or an audio url")

// Message is a persisted chat message. CreatedAt is assigned by the database
// at insert time and is the canonical ordering key for fan-out.
type Message struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"not null;index:idx_conv_created,priority:1" json:"conversationId"`
	SenderID       string    `gorm:"not null" json:"-"`
	Content        string    `gorm:"type:text" json:"content,omitempty"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	AudioURL       string    `json:"audioUrl,omitempty"`
	IsAI           bool      `json:"isAi"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index:idx_conv_created,priority:2" json:"createdAt"`

	Sender User `gorm:"foreignKey:SenderID" json:"-"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// HasContent reports whether at least one content variant is present.
func (m *Message) HasContent() bool {
	return m.Content != "" || m.ImageURL != "" || m.AudioURL != ""
}

// MessagePayload is the hydrated broadcast form of a message.
type MessagePayload struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	Content        string     `json:"content,omitempty"`
	ImageURL       string     `json:"imageUrl,omitempty"`
	AudioURL       string     `json:"audioUrl,omitempty"`
	IsAI           bool       `json:"isAi"`
	CreatedAt      time.Time  `json:"createdAt"`
	Sender         SenderInfo `json:"sender"`
}

// Payload builds the broadcast view, denormalizing the sender.
func (m *Message) Payload() MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		ImageURL:       m.ImageURL,
		AudioURL:       m.AudioURL,
		IsAI:           m.IsAI,
		CreatedAt:      m.CreatedAt,
		Sender:         m.Sender.Info(),
	}
}
