package chathub_test

import (
	"context"
	"errors"
	"sync"

	"chatverse/backend/internal/ai"
	"chatverse/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of the storage.Storage interface.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetUserByExternalID(externalID string) (*models.User, error) {
	args := m.Called(externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) GetUserByID(id string) (*models.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) EnsureAIUser() (*models.User, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) EnsureAIConversation(userID string) (*models.Conversation, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockStorage) GetConversation(id string) (*models.Conversation, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockStorage) IsParticipant(userID, conversationID string) (bool, error) {
	args := m.Called(userID, conversationID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) SetPinnedMessage(conversationID string, messageID *string) error {
	args := m.Called(conversationID, messageID)
	return args.Error(0)
}

func (m *MockStorage) SaveMessage(msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) GetMessage(id string) (*models.Message, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) GetMessages(conversationID string) ([]models.Message, error) {
	args := m.Called(conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	args := m.Called(conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) PublishEvent(conversationID string, payload []byte) error {
	args := m.Called(conversationID, payload)
	return args.Error(0)
}

func (m *MockStorage) SubscribeEvents() <-chan *redis.Message {
	args := m.Called()
	switch ch := args.Get(0).(type) {
	case <-chan *redis.Message:
		return ch
	case chan *redis.Message:
		return ch
	default:
		return nil
	}
}

// allowBackground registers the expectations every hub test needs for the
// pub/sub bridge without asserting on them.
func (m *MockStorage) allowBackground() {
	m.On("SubscribeEvents").Return(nil).Maybe()
	m.On("PublishEvent", mock.Anything, mock.Anything).Return(nil).Maybe()
}

// mockClient is an in-memory session double with a buffered receive channel.
type mockClient struct {
	userID string
	send   chan models.ServerEvent

	mu     sync.Mutex
	closed bool
}

func newMockClient(userID string) *mockClient {
	return newMockClientBuffered(userID, 64) // Buffered to prevent blocking in tests
}

// newMockClientBuffered allows tiny buffers for overflow scenarios.
func newMockClientBuffered(userID string, size int) *mockClient {
	return &mockClient{
		userID: userID,
		send:   make(chan models.ServerEvent, size),
	}
}

func (c *mockClient) GetUserID() string { return c.userID }
func (c *mockClient) Run()              {}

func (c *mockClient) Send(ev models.ServerEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *mockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// drain collects everything currently queued for the session.
func (c *mockClient) drain() []models.ServerEvent {
	var events []models.ServerEvent
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

// eventsNamed filters drained events by name.
func eventsNamed(events []models.ServerEvent, name string) []models.ServerEvent {
	var out []models.ServerEvent
	for _, ev := range events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

// mockAI streams scripted chunks, or fails after a prefix of them.
type mockAI struct {
	chunks  []string
	failAt  int // fail before emitting chunk at this index; -1 never fails
	history [][]ai.ChatMessage

	mu sync.Mutex
}

func newMockAI(chunks ...string) *mockAI {
	return &mockAI{chunks: chunks, failAt: -1}
}

// calls returns the context windows passed to the generator so far.
func (a *mockAI) calls() [][]ai.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history
}

func (a *mockAI) StreamReply(ctx context.Context, history []ai.ChatMessage, onDelta func(string) error) (string, error) {
	a.mu.Lock()
	a.history = append(a.history, history)
	a.mu.Unlock()

	var full string
	for i, chunk := range a.chunks {
		if a.failAt >= 0 && i == a.failAt {
			return "", errors.New("generation backend unavailable")
		}
		full += chunk
		if err := onDelta(chunk); err != nil {
			return "", err
		}
	}
	return full, nil
}
