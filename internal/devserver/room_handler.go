package devserver

import (
	"net/http"

	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/domain/session"
)

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req room.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}

	userID, email := viewerFromCtx(r)
	rm, err := h.store.CreateRoom(session.User{ID: userID, Email: email}, req)
	if err != nil {
		errorResponse(w, err)
		return
	}
	log.Info().Str("room", rm.Code).Str("user_id", userID).Msg("room created")
	writeJSON(w, http.StatusCreated, map[string]any{"room": rm})
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := viewerFromCtx(r)
	rm, err := h.store.Room(roomParam(r), userID)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": rm})
}

func (h *Handler) handleMyRooms(w http.ResponseWriter, r *http.Request) {
	userID, _ := viewerFromCtx(r)
	writeJSON(w, http.StatusOK, map[string]any{"rooms": h.store.MyRooms(userID)})
}

func (h *Handler) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := viewerFromCtx(r)
	if err := h.store.DeleteRoom(roomParam(r), userID); err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Room deleted"})
}
