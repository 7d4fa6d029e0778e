package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/daybreakhq/ensemble/chat"
	"github.com/daybreakhq/ensemble/room"
)

// HandleRooms handles the /rooms collection: POST creates a room, GET lists
// every room's status.
func (h *Handlers) HandleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			RoomID     string   `json:"room_id"`
			PersonaIDs []string `json:"persona_ids"`
			Topics     []string `json:"topics"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.RoomID) == "" {
			http.Error(w, "room_id is required", http.StatusBadRequest)
			return
		}
		status, err := h.reg.CreateRoom(body.RoomID, body.PersonaIDs, body.Topics)
		if err != nil {
			if errors.Is(err, room.ErrRoomExists) {
				http.Error(w, "room already exists", http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// A new room means a new post; open the conversation.
		h.disp.Trigger(body.RoomID, chat.TriggerPostCreated)
		writeJSON(w, http.StatusCreated, status)
	case http.MethodGet:
		ids := h.reg.IDs()
		list := make([]room.Status, 0, len(ids))
		for _, id := range ids {
			if st, ok := h.reg.GetRoom(id); ok {
				list = append(list, st)
			}
		}
		writeJSON(w, http.StatusOK, list)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleRoomsDispatcher routes requests under /rooms/{id}/* to appropriate sub-handlers.
func (h *Handlers) HandleRoomsDispatcher(w http.ResponseWriter, r *http.Request) {
	// crude routing
	path := strings.TrimPrefix(r.URL.Path, "/rooms/")
	parts := strings.Split(path, "/")
	roomID := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	switch {
	case roomID == "" || roomID == "/":
		http.NotFound(w, r)
	case tail == "":
		h.handleRoomDetail(w, r, roomID)
	case tail == "personas":
		h.handleRoomPersonas(w, r, roomID)
	case strings.HasPrefix(tail, "personas/"):
		h.handleRoomPersona(w, r, roomID, strings.TrimPrefix(tail, "personas/"))
	case tail == "autochat":
		h.handleRoomAutoChat(w, r, roomID)
	case tail == "dominant":
		h.handleRoomDominant(w, r, roomID)
	case tail == "messages":
		h.handleRoomMessages(w, r, roomID)
	case tail == "warmup":
		h.handleRoomWarmup(w, r, roomID)
	default:
		http.NotFound(w, r)
	}
}

// handleRoomDetail serves GET (status) and DELETE (remove) for one room.
func (h *Handlers) handleRoomDetail(w http.ResponseWriter, r *http.Request, roomID string) {
	switch r.Method {
	case http.MethodGet:
		st, ok := h.reg.GetRoom(roomID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case http.MethodDelete:
		if !h.reg.RemoveRoom(roomID) {
			http.NotFound(w, r)
			return
		}
		h.disp.Forget(roomID)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleRoomPersonas(w http.ResponseWriter, r *http.Request, roomID string) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			PersonaID string `json:"persona_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.PersonaID) == "" {
			http.Error(w, "persona_id is required", http.StatusBadRequest)
			return
		}
		if !h.reg.AddPersona(roomID, body.PersonaID) {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		personas, ok := h.reg.ActivePersonas(roomID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, personas)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleRoomPersona(w http.ResponseWriter, r *http.Request, roomID, personaID string) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.reg.RemovePersona(roomID, personaID) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleRoomAutoChat(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !h.reg.SetAutoChat(roomID, body.Enabled) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleRoomDominant(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		PersonaID string `json:"persona_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !h.reg.SetDominantPersona(roomID, body.PersonaID) {
		// Either the room is unknown or the persona is not active in it.
		http.Error(w, "room or persona not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRoomMessages serves GET (recent transcript, oldest first) and POST
// (a human message, which enqueues a user_message burst).
func (h *Handlers) handleRoomMessages(w http.ResponseWriter, r *http.Request, roomID string) {
	switch r.Method {
	case http.MethodGet:
		limit := parseIntQuery(r, "limit", 50)
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		if _, ok := h.reg.GetRoom(roomID); !ok {
			http.NotFound(w, r)
			return
		}
		msgs := h.reg.LastMessages(roomID, limit)
		if msgs == nil {
			msgs = []room.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	case http.MethodPost:
		var body struct {
			AuthorID string `json:"author_id"`
			Text     string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}
		ok := h.reg.AddMessage(r.Context(), roomID, room.Message{
			AuthorID: body.AuthorID,
			Text:     body.Text,
			FromUser: true,
		})
		if !ok {
			http.NotFound(w, r)
			return
		}
		accepted := h.disp.Trigger(roomID, chat.TriggerUserMessage)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"room_id":        roomID,
			"burst_enqueued": accepted,
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoomWarmup enqueues an immediate post_created burst, used right after
// the surrounding app attaches a room to a fresh post.
func (h *Handlers) handleRoomWarmup(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.reg.GetRoom(roomID); !ok {
		http.NotFound(w, r)
		return
	}
	accepted := h.disp.Trigger(roomID, chat.TriggerPostCreated)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"room_id":        roomID,
		"burst_enqueued": accepted,
	})
}
