package chathub

import "chatverse/backend/internal/models"

// Client is the interface for one connection session. It abstracts the
// underlying transport so the hub can manage sessions uniformly and tests
// can substitute in-memory doubles.
type Client interface {
	// GetUserID returns the stable identity bound to the session at
	// authentication time.
	GetUserID() string

	// Send queues an event for delivery without blocking. It reports false
	// when the session's buffer is full or the session is already closed;
	// it never panics, even when Close races with a caller.
	Send(ev models.ServerEvent) bool

	// Run starts the session's read and write pumps.
	Run()
	// Close shuts down delivery to the session. Safe to call more than once.
	Close()
}
