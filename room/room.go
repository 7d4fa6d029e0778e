// Package room is the authoritative in-memory registry of chat rooms.
// A Registry is constructed once at process start and handed to the
// orchestrator and the HTTP layer; rooms are only ever mutated through its
// API so the registry stays the single writer of truth and can lock per
// operation without leaking that detail to callers.
package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Message is one entry in a room's append-only dialogue history.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	// FromUser marks messages typed by a human rather than a persona.
	FromUser bool `json:"from_user"`
}

// PersonaState is the membership record for one active persona.
type PersonaState struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	LastSpokeAt  time.Time `json:"last_spoke_at"`
}

// Status is the externally visible summary of a room, safe to serialize.
type Status struct {
	RoomID          string    `json:"room_id"`
	AutoChatEnabled bool      `json:"auto_chat_enabled"`
	LastMessageAt   time.Time `json:"last_message_at"`
	PersonaCount    int       `json:"persona_count"`
	MessageCount    int       `json:"message_count"`
	DominantPersona string    `json:"dominant_persona,omitempty"`
	Topics          []string  `json:"topics,omitempty"`
}

// Archiver persists committed messages to an external store. The registry
// treats archiving as best-effort: a failing sink never blocks or fails the
// in-memory commit.
type Archiver interface {
	SaveMessage(ctx context.Context, m Message) error
}

// room is the registry-private record. Personas are kept in insertion order
// so ActivePersonas is deterministic.
type room struct {
	id              string
	personas        []*PersonaState
	history         []Message
	autoChatEnabled bool
	lastMessageAt   time.Time
	dominantPersona string
	topics          []string
	createdAt       time.Time
}

func (r *room) persona(id string) *PersonaState {
	for _, p := range r.personas {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *room) status() Status {
	return Status{
		RoomID:          r.id,
		AutoChatEnabled: r.autoChatEnabled,
		LastMessageAt:   r.lastMessageAt,
		PersonaCount:    len(r.personas),
		MessageCount:    len(r.history),
		DominantPersona: r.dominantPersona,
		Topics:          append([]string(nil), r.topics...),
	}
}

func newMessageID() string { return uuid.New().String() }

func logNotFound(op, roomID string) {
	slog.Debug("room not found", slog.String("op", op), slog.String("room_id", roomID), slog.String("component", "room_registry"))
}
