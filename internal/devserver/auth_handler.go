package devserver

import (
	"net/http"

	"vote-app-client/internal/domain/session"
)

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handler) issue(w http.ResponseWriter, status int, u session.User) {
	token, err := h.jwtMgr.Generate(u.ID, u.Email, tokenTTL)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, status, session.AuthResponse{User: u, Token: token})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}

	u, err := h.store.Register(req.Email, req.Password, req.Name)
	if err != nil {
		errorResponse(w, err)
		return
	}
	log.Info().Str("user_id", u.ID).Msg("account registered")
	h.issue(w, http.StatusCreated, u)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}

	u, err := h.store.Login(req.Email, req.Password)
	if err != nil {
		errorResponse(w, err)
		return
	}
	h.issue(w, http.StatusOK, u)
}

// Tokens are stateless, so logging out only acknowledges the client.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}

	if token, ok := h.store.ForgotPassword(req.Email); ok {
		log.Info().Str("email", req.Email).Str("reset_token", token).Msg("password reset issued")
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If that email is registered, a reset link has been sent",
	})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}

	if err := h.store.ResetPassword(req.Token, req.NewPassword); err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}
