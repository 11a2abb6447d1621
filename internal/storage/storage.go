package storage

import (
	"context"
	"errors"
	"log"

	"chatverse/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is everything the realtime core consumes from durable storage and
// the cross-instance event bus.
type Storage interface {
	GetUserByExternalID(externalID string) (*models.User, error)
	GetUserByID(id string) (*models.User, error)
	EnsureAIUser() (*models.User, error)
	EnsureAIConversation(userID string) (*models.Conversation, error)

	GetConversation(id string) (*models.Conversation, error)
	IsParticipant(userID, conversationID string) (bool, error)
	SetPinnedMessage(conversationID string, messageID *string) error

	SaveMessage(msg *models.Message) error
	GetMessage(id string) (*models.Message, error)
	GetMessages(conversationID string) ([]models.Message, error)
	GetRecentMessages(conversationID string, limit int) ([]models.Message, error)

	PublishEvent(conversationID string, payload []byte) error
	SubscribeEvents() <-chan *redis.Message
}

// eventChannel is the redis pub/sub channel all instances share for room
// broadcasts.
const eventChannel = "chat:events"

// Service implements Storage on PostgreSQL (via GORM) plus redis pub/sub for
// fan-out across instances.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
}

// NewService constructs the storage service.
func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
	}
}

// GetUserByExternalID resolves an identity-provider subject to the local
// user row. Returns ErrNotFound when the identity was never provisioned.
func (s *Service) GetUserByExternalID(externalID string) (*models.User, error) {
	var user models.User
	err := s.DB.Where("external_id = ?", externalID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetUserByID(id string) (*models.User, error) {
	var user models.User
	err := s.DB.First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureAIUser returns the assistant account, creating it on first use.
func (s *Service) EnsureAIUser() (*models.User, error) {
	var user models.User
	defaults := models.User{
		ExternalID: models.AIExternalID,
		FirstName:  "Assistant",
		Email:      "assistant@example.com",
	}
	result := s.DB.Where("external_id = ?", models.AIExternalID).FirstOrCreate(&user, defaults)
	if result.Error != nil {
		log.Printf("ERROR: Failed to ensure AI user: %v", result.Error)
		return nil, result.Error
	}
	return &user, nil
}

// EnsureAIConversation returns the user's default assistant conversation,
// creating it with a greeting message on first use.
func (s *Service) EnsureAIConversation(userID string) (*models.Conversation, error) {
	pairKey := "ai-" + userID

	var conv models.Conversation
	err := s.DB.Where("pair_key = ?", pairKey).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	aiUser, err := s.EnsureAIUser()
	if err != nil {
		return nil, err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		conv = models.Conversation{
			Title:   "Assistant",
			IsAI:    true,
			PairKey: &pairKey,
		}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		participants := []models.Participant{
			{UserID: userID, ConversationID: conv.ID},
			{UserID: aiUser.ID, ConversationID: conv.ID},
		}
		if err := tx.Create(&participants).Error; err != nil {
			return err
		}
		greeting := models.Message{
			ConversationID: conv.ID,
			SenderID:       aiUser.ID,
			Content:        "Hi — I'm your assistant. How can I help you today?",
			IsAI:           true,
		}
		return tx.Create(&greeting).Error
	})
	if err != nil {
		log.Printf("ERROR: Failed to create AI conversation for user %s: %v", userID, err)
		return nil, err
	}
	return &conv, nil
}

func (s *Service) GetConversation(id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Printf("ERROR: Failed to get conversation %s: %v", id, err)
		return nil, err
	}
	return &conv, nil
}

// IsParticipant checks the (user, conversation) membership fact.
func (s *Service) IsParticipant(userID, conversationID string) (bool, error) {
	var count int64
	err := s.DB.Model(&models.Participant{}).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetPinnedMessage updates the conversation's pinned message reference.
// Passing nil clears the pin.
func (s *Service) SetPinnedMessage(conversationID string, messageID *string) error {
	result := s.DB.Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("pinned_message_id", messageID)
	if result.Error != nil {
		log.Printf("ERROR: Failed to update pin for conversation %s: %v", conversationID, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMessage persists a message. The database assigns ID and CreatedAt, and
// the stored sender row is loaded back so the message is ready to broadcast.
func (s *Service) SaveMessage(msg *models.Message) error {
	if !msg.HasContent() {
		return models.ErrEmptyMessage
	}
	if err := s.DB.Create(msg).Error; err != nil {
		log.Printf("ERROR: Failed to save message for conversation %s: %v", msg.ConversationID, err)
		return err
	}
	return s.DB.First(&msg.Sender, "id = ?", msg.SenderID).Error
}

func (s *Service) GetMessage(id string) (*models.Message, error) {
	var msg models.Message
	err := s.DB.Preload("Sender").First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessages loads the full history of a conversation in ascending creation
// order, the canonical viewer ordering.
func (s *Service) GetMessages(conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.DB.Preload("Sender").
		Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Find(&messages).Error
	if err != nil {
		log.Printf("ERROR: Failed to get history for conversation %s: %v", conversationID, err)
		return nil, err
	}
	return messages, nil
}

// GetRecentMessages loads the newest `limit` messages, returned in ascending
// order; this is the context window handed to the text generator.
func (s *Service) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.DB.Preload("Sender").
		Where("conversation_id = ?", conversationID).
		Order("created_at desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// PublishEvent publishes an encoded room event so other instances can
// deliver it to their local sessions.
func (s *Service) PublishEvent(conversationID string, payload []byte) error {
	return s.Redis.Publish(s.Ctx, eventChannel, payload).Err()
}

// SubscribeEvents subscribes to the shared room-event channel. The
// subscription lives for the life of the process.
func (s *Service) SubscribeEvents() <-chan *redis.Message {
	return s.Redis.Subscribe(s.Ctx, eventChannel).Channel()
}

var _ Storage = (*Service)(nil)
