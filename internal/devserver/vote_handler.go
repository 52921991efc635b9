package devserver

import (
	"net/http"

	"vote-app-client/internal/platform/apperr"
)

type voteRequest struct {
	OptionID    string `json:"optionId"`
	PhoneNumber string `json:"phoneNumber"`
}

func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}
	if req.OptionID == "" {
		errorResponse(w, apperr.BadRequest("invalid_input", "optionId is required", nil))
		return
	}

	userID, email := viewerFromCtx(r)
	ev, err := h.store.Vote(roomParam(r), Voter{UserID: userID, Email: email, Addr: clientIP(r)}, req.OptionID, req.PhoneNumber)
	if err != nil {
		errorResponse(w, err)
		return
	}

	select {
	case h.voteCh <- ev:
	default:
		log.Warn().Str("room", ev.RoomID).Msg("broadcast queue full, vote update dropped")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Vote recorded",
		"totalVotes": ev.TotalVotes,
	})
}

func (h *Handler) handleTallies(w http.ResponseWriter, r *http.Request) {
	userID, _ := viewerFromCtx(r)
	tallies, err := h.store.Tallies(roomParam(r), userID)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int{"tallies": tallies})
}
