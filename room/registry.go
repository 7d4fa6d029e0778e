package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/daybreakhq/ensemble/telemetry"
)

// ErrRoomExists is returned by CreateRoom for a duplicate room id.
var ErrRoomExists = errors.New("room already exists")

const archiveTimeout = 3 * time.Second

// Registry owns every room record. All methods are safe for concurrent use.
// Operations on a missing room report not-found (false / zero result) rather
// than failing loudly; callers treat that as a routine no-op.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	archive Archiver

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry constructs an empty registry. archive may be nil to run purely
// in-memory.
func NewRegistry(archive Archiver) *Registry {
	return &Registry{
		rooms:   make(map[string]*room),
		archive: archive,
		now:     time.Now,
	}
}

// CreateRoom registers a new room with the given personas marked active and
// an empty history. Auto-chat starts enabled; the idle scheduler and warm-up
// bursts rely on that default.
func (reg *Registry) CreateRoom(roomID string, personaIDs []string, topics []string) (Status, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[roomID]; ok {
		return Status{}, ErrRoomExists
	}
	now := reg.now().UTC()
	r := &room{
		id:              roomID,
		autoChatEnabled: true,
		lastMessageAt:   now,
		topics:          append([]string(nil), topics...),
		createdAt:       now,
	}
	for _, pid := range personaIDs {
		if pid == "" || r.persona(pid) != nil {
			continue
		}
		r.personas = append(r.personas, &PersonaState{ID: pid})
	}
	reg.rooms[roomID] = r
	telemetry.SetRoomCount(len(reg.rooms))
	slog.Info("room created", slog.String("room_id", roomID), slog.Int("personas", len(r.personas)), slog.String("component", "room_registry"))
	return r.status(), nil
}

// GetRoom returns the room status, or ok=false when the room is unknown.
func (reg *Registry) GetRoom(roomID string) (Status, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return Status{}, false
	}
	return r.status(), true
}

// RemoveRoom deletes a room and reports whether it existed.
func (reg *Registry) RemoveRoom(roomID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[roomID]; !ok {
		logNotFound("remove_room", roomID)
		return false
	}
	delete(reg.rooms, roomID)
	telemetry.SetRoomCount(len(reg.rooms))
	slog.Info("room removed", slog.String("room_id", roomID), slog.String("component", "room_registry"))
	return true
}

// AddPersona activates a persona in the room. Adding an already-active
// persona is a no-op success.
func (reg *Registry) AddPersona(roomID, personaID string) bool {
	if personaID == "" {
		return false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		logNotFound("add_persona", roomID)
		return false
	}
	if r.persona(personaID) != nil {
		return true
	}
	r.personas = append(r.personas, &PersonaState{ID: personaID})
	return true
}

// RemovePersona deactivates a persona. A room may be left transiently empty;
// the orchestrator treats zero-candidate rounds as normal termination.
func (reg *Registry) RemovePersona(roomID, personaID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		logNotFound("remove_persona", roomID)
		return false
	}
	for i, p := range r.personas {
		if p.ID == personaID {
			r.personas = append(r.personas[:i], r.personas[i+1:]...)
			if r.dominantPersona == personaID {
				r.dominantPersona = ""
			}
			return true
		}
	}
	return false
}

// ActivePersonas returns copies of the membership records in activation order.
func (reg *Registry) ActivePersonas(roomID string) ([]PersonaState, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, false
	}
	out := make([]PersonaState, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, *p)
	}
	return out, true
}

// LastMessages returns up to n of the most recent messages, oldest first.
func (reg *Registry) LastMessages(roomID string, n int) []Message {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok || n <= 0 {
		return nil
	}
	start := len(r.history) - n
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), r.history[start:]...)
}

// AutoChatEnabled reports the room's auto-chat flag.
func (reg *Registry) AutoChatEnabled(roomID string) (bool, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return false, false
	}
	return r.autoChatEnabled, true
}

// SetAutoChat toggles autonomous chat for a room.
func (reg *Registry) SetAutoChat(roomID string, enabled bool) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		logNotFound("set_auto_chat", roomID)
		return false
	}
	r.autoChatEnabled = enabled
	slog.Info("auto chat toggled", slog.String("room_id", roomID), slog.Bool("enabled", enabled), slog.String("component", "room_registry"))
	return true
}

// AddMessage appends to history, updates lastMessageAt, and for persona
// authors bumps their membership bookkeeping. Missing ID/CreatedAt fields are
// filled in. The message is forwarded to the archive sink best-effort.
func (reg *Registry) AddMessage(ctx context.Context, roomID string, m Message) bool {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if !ok {
		reg.mu.Unlock()
		logNotFound("add_message", roomID)
		return false
	}
	m.RoomID = roomID
	if m.ID == "" {
		m.ID = newMessageID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = reg.now().UTC()
	}
	r.history = append(r.history, m)
	r.lastMessageAt = m.CreatedAt
	if !m.FromUser {
		if p := r.persona(m.AuthorID); p != nil {
			p.MessageCount++
			p.LastSpokeAt = m.CreatedAt
		}
	}
	archive := reg.archive
	reg.mu.Unlock()

	if archive != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := archive.SaveMessage(actx, m); err != nil {
			slog.Warn("archive message", slog.Any("err", err), slog.String("room_id", roomID), slog.String("component", "room_registry"))
		}
	}
	return true
}

// SetDominantPersona records the advisory "currently leading" persona. The
// persona must be active in the room.
func (reg *Registry) SetDominantPersona(roomID, personaID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		logNotFound("set_dominant", roomID)
		return false
	}
	if r.persona(personaID) == nil {
		return false
	}
	r.dominantPersona = personaID
	return true
}

// RecordPersonaTurn updates a persona's lastSpokeAt without appending a
// message, for non-message events such as an abandoned generation attempt.
func (reg *Registry) RecordPersonaTurn(roomID, personaID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		logNotFound("record_turn", roomID)
		return false
	}
	p := r.persona(personaID)
	if p == nil {
		return false
	}
	p.LastSpokeAt = reg.now().UTC()
	return true
}

// RoomCount returns the number of registered rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// IDs returns all room ids, sorted for deterministic iteration by the idle
// scheduler and the status endpoint.
func (reg *Registry) IDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LastMessageAt returns the timestamp of the room's most recent message.
func (reg *Registry) LastMessageAt(roomID string) (time.Time, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return time.Time{}, false
	}
	return r.lastMessageAt, true
}

// SetNow overrides the registry clock. Test hook.
func (reg *Registry) SetNow(now func() time.Time) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.now = now
}
