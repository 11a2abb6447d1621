package handler

import (
	"chatverse/backend/internal/chathub"
	"chatverse/backend/internal/identity"
	"chatverse/backend/internal/storage"
)

// Handler wires the HTTP surface to the hub and its collaborators.
type Handler struct {
	Hub      *chathub.Hub
	Verifier identity.Verifier
	Storage  storage.Storage
}

func NewHandler(hub *chathub.Hub, verifier identity.Verifier, s storage.Storage) *Handler {
	return &Handler{Hub: hub, Verifier: verifier, Storage: s}
}
