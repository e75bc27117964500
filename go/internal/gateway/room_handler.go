package gateway

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/room"
)

// RoomStore is the part of the room registry the HTTP API needs
type RoomStore interface {
	Create() (string, error)
	Get(code string) (models.Room, error)
}

// CreateRoomResponse is the body of a successful room creation
type CreateRoomResponse struct {
	Code string `json:"code"`
}

// ErrorResponse is the body of every failed room request
type ErrorResponse struct {
	Error string `json:"error"`
}

// RoomHandler serves room creation and lookup over HTTP
type RoomHandler struct {
	rooms RoomStore
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(rooms RoomStore) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// HandleCreateRoom handles POST /create-room
func (h *RoomHandler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	code, err := h.rooms.Create()
	if err != nil {
		log.Error().Err(err).Msg("failed to create room")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "could not allocate a room code"})
		return
	}

	log.Info().Str("room_code", code).Str("remote_addr", r.RemoteAddr).Msg("room created")
	writeJSON(w, http.StatusCreated, CreateRoomResponse{Code: code})
}

// HandleGetRoom handles GET /room/{code}
func (h *RoomHandler) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "room code is required"})
		return
	}

	rm, err := h.rooms.Get(code)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		log.Error().Err(err).Str("room_code", code).Msg("failed to get room")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to get room"})
		return
	}

	writeJSON(w, http.StatusOK, rm.Snapshot())
}

// RegisterRoutes registers room routes, including the /api/rooms aliases
func (h *RoomHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /create-room", h.HandleCreateRoom)
	mux.HandleFunc("GET /room/{code}", h.HandleGetRoom)

	mux.HandleFunc("POST /api/rooms/create", h.HandleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{code}", h.HandleGetRoom)
}
