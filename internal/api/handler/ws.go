package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"chatverse/backend/internal/chathub"
	"chatverse/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allows connections from any origin. Tighten for production deploys.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken extracts the credential from the Authorization header or,
// since browsers cannot set headers on a WebSocket handshake, from the
// `token` query parameter.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// ServeWebSocket authenticates the handshake and upgrades the connection.
// This is the single gate excluding unauthenticated actors: on any failure
// the handshake is rejected with a distinct code and no session exists.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no-credential"})
		return
	}

	subject, err := h.Verifier.Verify(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid-credential"})
		return
	}

	user, err := h.Storage.GetUserByExternalID(subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity-unknown"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server-error"})
		return
	}

	// Every account gets its default assistant conversation; failures here
	// must not block the connection.
	if _, err := h.Storage.EnsureAIConversation(user.ID); err != nil {
		log.Printf("WARNING: Failed to ensure AI conversation for user %s: %v", user.ID, err)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, user, conn)
	h.Hub.RegisterCh <- client
	client.Run()
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
