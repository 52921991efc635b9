package devserver

import (
	"net/http"

	"vote-app-client/internal/domain/room"
)

type otpRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
}

// handleRequestOTP issues a code. Delivery is out of scope here: the code
// is written to the server log.
func (h *Handler) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}

	code := roomParam(r)
	otp, err := h.store.RequestOTP(code, req.PhoneNumber)
	if err != nil {
		errorResponse(w, err)
		return
	}
	log.Info().Str("room", code).Str("phone", req.PhoneNumber).Str("otp", otp).Msg("otp issued")
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}

	name, err := h.store.VerifyOTP(roomParam(r), req.PhoneNumber, req.OTP)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"voterName": name})
}

func (h *Handler) handleAddVoters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Voters []room.VoterInput `json:"voters"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}

	userID, _ := viewerFromCtx(r)
	added, err := h.store.AddVoters(roomParam(r), userID, req.Voters)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (h *Handler) handleVoters(w http.ResponseWriter, r *http.Request) {
	userID, _ := viewerFromCtx(r)
	voters, err := h.store.Voters(roomParam(r), userID)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voters": voters})
}
