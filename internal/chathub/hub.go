package chathub

import (
	"log"

	"chatverse/backend/internal/ai"
	"chatverse/backend/internal/models"
	"chatverse/backend/internal/storage"

	"github.com/google/uuid"
)

type joinRequest struct {
	client         Client
	conversationID string
	done           chan struct{}
}

type membershipQuery struct {
	client         Client
	conversationID string
	reply          chan bool
}

type roomBroadcast struct {
	conversationID string
	event          models.ServerEvent
	skip           Client
}

// Hub owns the shared realtime state: the session set, the conversation →
// sessions room index, and the presence counters. All of it is mutated
// exclusively by the Run loop; other goroutines talk to it through channels.
type Hub struct {
	Storage storage.Storage
	AI      ai.Client

	RegisterCh   chan Client
	UnregisterCh chan Client

	joinCh      chan joinRequest
	leaveCh     chan joinRequest
	inRoomCh    chan membershipQuery
	broadcastCh chan roomBroadcast
	presenceCh  chan chan []string

	// instanceID tags published events so the pub/sub listener can ignore
	// this instance's own traffic.
	instanceID string

	clients map[Client]struct{}
	rooms   map[string]map[Client]struct{}
	online  map[string]int
}

// NewHub creates a hub wired to its collaborators. Call Run in a goroutine
// before registering clients.
func NewHub(s storage.Storage, aiClient ai.Client) *Hub {
	return &Hub{
		Storage:      s,
		AI:           aiClient,
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		joinCh:       make(chan joinRequest),
		leaveCh:      make(chan joinRequest),
		inRoomCh:     make(chan membershipQuery),
		broadcastCh:  make(chan roomBroadcast),
		presenceCh:   make(chan chan []string),
		instanceID:   uuid.New().String(),
		clients:      make(map[Client]struct{}),
		rooms:        make(map[string]map[Client]struct{}),
		online:       make(map[string]int),
	}
}

// Run is the hub dispatcher. It serializes every mutation of the session
// set, room index and presence counters, so broadcast order equals the
// order in which commands arrive.
func (h *Hub) Run() {
	h.startPubSubListener()

	for {
		select {
		case c := <-h.RegisterCh:
			h.handleRegister(c)

		case c := <-h.UnregisterCh:
			h.handleUnregister(c)

		case req := <-h.joinCh:
			if _, ok := h.clients[req.client]; ok {
				room := h.rooms[req.conversationID]
				if room == nil {
					room = make(map[Client]struct{})
					h.rooms[req.conversationID] = room
				}
				room[req.client] = struct{}{}
			}
			close(req.done)

		case req := <-h.leaveCh:
			if room := h.rooms[req.conversationID]; room != nil {
				delete(room, req.client)
				if len(room) == 0 {
					delete(h.rooms, req.conversationID)
				}
			}
			close(req.done)

		case q := <-h.inRoomCh:
			_, ok := h.rooms[q.conversationID][q.client]
			q.reply <- ok

		case b := <-h.broadcastCh:
			h.deliver(b)

		case reply := <-h.presenceCh:
			reply <- h.onlineSnapshot()
		}
	}
}

// handleRegister adds the session and updates presence. A 0→1 transition of
// the identity's connection count announces it to everyone else; the new
// session always receives the current online snapshot.
func (h *Hub) handleRegister(c Client) {
	h.clients[c] = struct{}{}

	userID := c.GetUserID()
	h.online[userID]++
	if h.online[userID] == 1 {
		h.broadcastAll(models.ServerEvent{
			Event:   models.EventUserOnline,
			Payload: models.PresencePayload{UserID: userID},
		}, c)
	}

	h.send(c, models.ServerEvent{
		Event:   models.EventOnlineUsers,
		Payload: h.onlineSnapshot(),
	})
	log.Printf("Client registered for user %s (%d connections)", userID, h.online[userID])
}

// handleUnregister drops the session from every room it joined and
// decrements presence. "Went offline" is emitted only when the identity's
// last connection closes, so a second device never causes a spurious
// offline broadcast.
func (h *Hub) handleUnregister(c Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.dropClient(c)
	log.Printf("Client unregistered for user %s", c.GetUserID())
}

// dropClient removes a session and updates presence, announcing "went
// offline" exactly once when the identity's last connection is gone.
func (h *Hub) dropClient(c Client) {
	h.removeClient(c)

	userID := c.GetUserID()
	h.online[userID]--
	if h.online[userID] <= 0 {
		delete(h.online, userID)
		h.broadcastAll(models.ServerEvent{
			Event:   models.EventUserOffline,
			Payload: models.PresencePayload{UserID: userID},
		}, nil)
	}
}

// removeClient erases every reference to the session and stops delivery.
// After this returns no broadcast can reach it.
func (h *Hub) removeClient(c Client) {
	delete(h.clients, c)
	for conversationID, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	c.Close()
}

// deliver fans an event out to every session joined to the room.
func (h *Hub) deliver(b roomBroadcast) {
	for c := range h.rooms[b.conversationID] {
		if c == b.skip {
			continue
		}
		h.send(c, b.event)
	}
}

// broadcastAll sends an event to every connected session except skip.
func (h *Hub) broadcastAll(ev models.ServerEvent, skip Client) {
	for c := range h.clients {
		if c == skip {
			continue
		}
		h.send(c, ev)
	}
}

// send delivers one event without blocking the dispatcher. A session that
// cannot accept it is dropped; its pump will not be waited on.
func (h *Hub) send(c Client, ev models.ServerEvent) {
	if !c.Send(ev) {
		if _, ok := h.clients[c]; !ok {
			return
		}
		log.Printf("WARNING: Dropping slow client for user %s", c.GetUserID())
		h.dropClient(c)
	}
}

func (h *Hub) onlineSnapshot() []string {
	users := make([]string, 0, len(h.online))
	for userID := range h.online {
		users = append(users, userID)
	}
	return users
}

// JoinRoom registers the session as a listener for the conversation's
// broadcasts. Membership must already be authorized by the caller.
func (h *Hub) JoinRoom(c Client, conversationID string) {
	done := make(chan struct{})
	h.joinCh <- joinRequest{client: c, conversationID: conversationID, done: done}
	<-done
}

// LeaveRoom removes the session from the conversation's room. Used to roll
// a join back when the rest of the join sequence fails.
func (h *Hub) LeaveRoom(c Client, conversationID string) {
	done := make(chan struct{})
	h.leaveCh <- joinRequest{client: c, conversationID: conversationID, done: done}
	<-done
}

// InRoom reports whether the session has joined the conversation's room.
func (h *Hub) InRoom(c Client, conversationID string) bool {
	reply := make(chan bool, 1)
	h.inRoomCh <- membershipQuery{client: c, conversationID: conversationID, reply: reply}
	return <-reply
}

// OnlineUsers returns the identities with at least one open connection.
func (h *Hub) OnlineUsers() []string {
	reply := make(chan []string, 1)
	h.presenceCh <- reply
	return <-reply
}

// BroadcastToRoom delivers an event to the local room and publishes it for
// other instances. skip, when non-nil, is excluded from local delivery.
func (h *Hub) BroadcastToRoom(conversationID string, ev models.ServerEvent, skip Client) {
	h.publishEvent(conversationID, ev)
	h.broadcastCh <- roomBroadcast{conversationID: conversationID, event: ev, skip: skip}
}

// broadcastLocal delivers an event to the local room only; used by the
// pub/sub listener for events that originated elsewhere.
func (h *Hub) broadcastLocal(conversationID string, ev models.ServerEvent) {
	h.broadcastCh <- roomBroadcast{conversationID: conversationID, event: ev}
}

// BroadcastMessageEdited re-broadcasts an already-applied content edit. The
// edit itself is persisted by the HTTP layer before this is called.
func (h *Hub) BroadcastMessageEdited(msg *models.Message) {
	h.BroadcastToRoom(msg.ConversationID, models.ServerEvent{
		Event:   models.EventMessageEdited,
		Payload: msg.Payload(),
	}, nil)
}

// BroadcastMessageDeleted re-broadcasts an already-applied deletion.
func (h *Hub) BroadcastMessageDeleted(conversationID, messageID string) {
	h.BroadcastToRoom(conversationID, models.ServerEvent{
		Event:   models.EventMessageDeleted,
		Payload: models.DeletedPayload{ID: messageID, ConversationID: conversationID},
	}, nil)
}
