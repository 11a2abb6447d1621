package chathub_test

import (
	"encoding/json"
	"testing"
	"time"

	"chatverse/backend/internal/chathub"
	"chatverse/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// settle gives the hub loop time to process queued commands.
func settle() { time.Sleep(50 * time.Millisecond) }

func newTestHub(t *testing.T) (*chathub.Hub, *MockStorage) {
	t.Helper()
	storageMock := new(MockStorage)
	storageMock.allowBackground()
	hub := chathub.NewHub(storageMock, newMockAI())
	go hub.Run()
	return hub, storageMock
}

func TestHub_RegisterSendsOnlineSnapshot(t *testing.T) {
	hub, _ := newTestHub(t)

	clientA := newMockClient("user_A")
	hub.RegisterCh <- clientA
	settle()

	events := clientA.drain()
	snapshots := eventsNamed(events, models.EventOnlineUsers)
	require.Len(t, snapshots, 1)
	assert.ElementsMatch(t, []string{"user_A"}, snapshots[0].Payload.([]string))
}

func TestHub_PresenceTransitionsBroadcast(t *testing.T) {
	hub, _ := newTestHub(t)

	clientA := newMockClient("user_A")
	clientB := newMockClient("user_B")
	hub.RegisterCh <- clientA
	settle()

	hub.RegisterCh <- clientB
	settle()

	online := eventsNamed(clientA.drain(), models.EventUserOnline)
	require.Len(t, online, 1)
	assert.Equal(t, "user_B", online[0].Payload.(models.PresencePayload).UserID)

	hub.UnregisterCh <- clientB
	settle()

	offline := eventsNamed(clientA.drain(), models.EventUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, "user_B", offline[0].Payload.(models.PresencePayload).UserID)
}

// Multiple devices for one identity must not produce spurious transitions:
// only the first connection announces online, only the last announces
// offline, and each exactly once.
func TestHub_MultiDevicePresenceRefcount(t *testing.T) {
	hub, _ := newTestHub(t)

	observer := newMockClient("observer")
	hub.RegisterCh <- observer
	settle()
	observer.drain()

	devices := []*mockClient{
		newMockClient("user_A"),
		newMockClient("user_A"),
		newMockClient("user_A"),
	}
	for _, d := range devices {
		hub.RegisterCh <- d
	}
	settle()

	online := eventsNamed(observer.drain(), models.EventUserOnline)
	require.Len(t, online, 1, "N devices must announce online exactly once")

	hub.UnregisterCh <- devices[0]
	hub.UnregisterCh <- devices[1]
	settle()
	assert.Empty(t, eventsNamed(observer.drain(), models.EventUserOffline),
		"no offline broadcast while a connection remains open")
	assert.ElementsMatch(t, []string{"observer", "user_A"}, hub.OnlineUsers())

	hub.UnregisterCh <- devices[2]
	settle()
	offline := eventsNamed(observer.drain(), models.EventUserOffline)
	require.Len(t, offline, 1, "offline broadcast exactly once after last disconnect")
	assert.ElementsMatch(t, []string{"observer"}, hub.OnlineUsers())
}

func TestHub_BroadcastReachesOnlyJoinedSessions(t *testing.T) {
	hub, _ := newTestHub(t)

	joined := newMockClient("user_A")
	outsider := newMockClient("user_B")
	hub.RegisterCh <- joined
	hub.RegisterCh <- outsider
	settle()
	hub.JoinRoom(joined, "conv1")
	joined.drain()
	outsider.drain()

	hub.BroadcastToRoom("conv1", models.ServerEvent{
		Event:   models.EventNewMessage,
		Payload: models.MessagePayload{ID: "m1", ConversationID: "conv1", Content: "hello"},
	}, nil)
	settle()

	assert.Len(t, eventsNamed(joined.drain(), models.EventNewMessage), 1)
	assert.Empty(t, eventsNamed(outsider.drain(), models.EventNewMessage),
		"sessions that never joined the room must not receive its broadcasts")
}

// Two viewers of the same room observe the same events in the same order.
func TestHub_BroadcastOrderIdenticalAcrossViewers(t *testing.T) {
	hub, _ := newTestHub(t)

	viewer1 := newMockClient("user_A")
	viewer2 := newMockClient("user_B")
	hub.RegisterCh <- viewer1
	hub.RegisterCh <- viewer2
	settle()
	hub.JoinRoom(viewer1, "conv1")
	hub.JoinRoom(viewer2, "conv1")
	viewer1.drain()
	viewer2.drain()

	for i := 0; i < 20; i++ {
		hub.BroadcastToRoom("conv1", models.ServerEvent{
			Event:   models.EventNewMessage,
			Payload: models.MessagePayload{ID: string(rune('a' + i)), ConversationID: "conv1"},
		}, nil)
	}
	settle()

	order := func(c *mockClient) []string {
		var ids []string
		for _, ev := range eventsNamed(c.drain(), models.EventNewMessage) {
			ids = append(ids, ev.Payload.(models.MessagePayload).ID)
		}
		return ids
	}
	ids1 := order(viewer1)
	ids2 := order(viewer2)
	require.Len(t, ids1, 20)
	assert.Equal(t, ids1, ids2, "viewers must observe an identical order")
}

func TestHub_DisconnectDropsRoomMemberships(t *testing.T) {
	hub, _ := newTestHub(t)

	clientA := newMockClient("user_A")
	hub.RegisterCh <- clientA
	settle()
	hub.JoinRoom(clientA, "conv1")
	require.True(t, hub.InRoom(clientA, "conv1"))

	hub.UnregisterCh <- clientA
	settle()
	assert.False(t, hub.InRoom(clientA, "conv1"))
}

// Dropping a saturated session closes it while its read goroutine may still
// be dispatching actions. A late ack must be discarded, never crash the
// process, and other sessions keep working.
func TestHub_SlowClientDropSurvivesInFlightActions(t *testing.T) {
	hub, storageMock := newTestHub(t)
	storageMock.On("IsParticipant", mock.Anything, mock.Anything).Return(false, nil)

	slow := newMockClientBuffered("user_slow", 1)
	hub.RegisterCh <- slow
	settle()
	// The online snapshot filled the one-slot buffer; the next delivery
	// overflows it and the hub drops the session.
	observer := newMockClient("user_B")
	hub.RegisterCh <- observer
	settle()
	require.True(t, slow.isClosed(), "overflowed session must be dropped")

	// The read pump only learns about the drop later; it may still dispatch.
	hub.HandleAction(slow, action(t, "9", models.ActionJoinRoom, models.RoomPayload{ConversationID: "conv1"}))
	hub.HandleAction(slow, models.ClientAction{ID: "10", Action: "bogus"})
	settle()

	offline := eventsNamed(observer.drain(), models.EventUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, "user_slow", offline[0].Payload.(models.PresencePayload).UserID)
	assert.ElementsMatch(t, []string{"user_B"}, hub.OnlineUsers())
}

// Events published by another instance are delivered to local sessions;
// this instance's own published events are not delivered twice.
func TestHub_PubSubBridge(t *testing.T) {
	storageMock := new(MockStorage)
	bridge := make(chan *redis.Message, 8)
	storageMock.On("SubscribeEvents").Return((<-chan *redis.Message)(bridge))
	published := make(chan []byte, 8)
	storageMock.On("PublishEvent", "conv1", mock.Anything).Run(func(args mock.Arguments) {
		published <- args.Get(1).([]byte)
	}).Return(nil)

	hub := chathub.NewHub(storageMock, newMockAI())
	go hub.Run()

	clientA := newMockClient("user_A")
	hub.RegisterCh <- clientA
	settle()
	hub.JoinRoom(clientA, "conv1")
	clientA.drain()

	// Local broadcast publishes an envelope for other instances.
	hub.BroadcastToRoom("conv1", models.ServerEvent{
		Event:   models.EventNewMessage,
		Payload: models.MessagePayload{ID: "m1", ConversationID: "conv1"},
	}, nil)
	settle()
	require.Len(t, eventsNamed(clientA.drain(), models.EventNewMessage), 1)

	var envelope struct {
		Origin string `json:"origin"`
	}
	require.NoError(t, json.Unmarshal(<-published, &envelope))

	// Replaying our own envelope must be ignored.
	pushEnvelope(bridge, envelope.Origin, "conv1")
	settle()
	assert.Empty(t, eventsNamed(clientA.drain(), models.EventNewMessage))

	// An envelope from a different origin is delivered locally.
	pushEnvelope(bridge, "other-instance", "conv1")
	settle()
	assert.Len(t, eventsNamed(clientA.drain(), models.EventNewMessage), 1)
}

// pushEnvelope writes a fabricated cross-instance event onto the bridge.
func pushEnvelope(bridge chan *redis.Message, origin, conversationID string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"origin":         origin,
		"conversationId": conversationID,
		"event": models.ServerEvent{
			Event:   models.EventNewMessage,
			Payload: models.MessagePayload{ID: "remote", ConversationID: conversationID},
		},
	})
	bridge <- &redis.Message{Channel: "chat:events", Payload: string(payload)}
}
