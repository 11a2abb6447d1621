package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AIExternalID is the reserved identity-provider subject for the built-in
// assistant account. The assistant is a regular User row so its messages
// satisfy the same sender foreign key as everyone else's.
const AIExternalID = "ai_bot"

// User represents an account in the system. Accounts are provisioned by the
// sign-up flow outside this service; the realtime core only reads them.
type User struct {
	ID string `gorm:"primaryKey" json:"id"`
	// ExternalID is the stable subject reported by the identity provider.
	ExternalID string `gorm:"uniqueIndex;not null" json:"externalId"`
	FirstName  string `json:"firstName"`
	Email      string `json:"email,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

// BeforeCreate is a GORM hook that assigns a fresh UUID when the ID is unset.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// IsAI reports whether this user is the built-in assistant account.
func (u *User) IsAI() bool {
	return u.ExternalID == AIExternalID
}

// SenderInfo is the denormalized sender view embedded in broadcast payloads.
type SenderInfo struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// Info returns the broadcast view of the user.
func (u *User) Info() SenderInfo {
	return SenderInfo{ID: u.ID, FirstName: u.FirstName, ImageURL: u.ImageURL}
}
