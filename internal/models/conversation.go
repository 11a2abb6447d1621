package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is a 1:1 or group chat. The realtime core mutates only
// PinnedMessageID; creation and membership edits happen elsewhere.
type Conversation struct {
	ID      string `gorm:"primaryKey" json:"id"`
	Title   string `json:"title,omitempty"`
	IsGroup bool   `json:"isGroup"`
	// IsAI marks the conversation as assistant-designated: every message sent
	// into it triggers a streamed reply.
	IsAI bool `json:"isAi"`
	// PairKey deduplicates well-known conversations, e.g. "ai-<userID>" for a
	// user's default assistant chat.
	PairKey *string `gorm:"uniqueIndex" json:"-"`
	// PinnedMessageID references the single pinned message, if any. The
	// message must belong to this conversation.
	PinnedMessageID *string   `json:"pinnedMessageId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// Participant is a membership fact: the user may join, send into, and pin
// within the conversation. Read-only from the realtime core's perspective.
type Participant struct {
	UserID         string    `gorm:"primaryKey" json:"userId"`
	ConversationID string    `gorm:"primaryKey" json:"conversationId"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joinedAt"`
}
