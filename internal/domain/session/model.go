package session

import (
	"context"
	"strings"
)

// Durable storage keys.
const (
	KeyToken    = "token"
	KeyUser     = "user"
	KeyLaunched = "hasLaunchedBefore"
)

// LoginRoute is where the store sends the user after logout.
const LoginRoute = "/login"

const MinPasswordLength = 6

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AuthResponse is what login and registration return.
type AuthResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*AuthResponse, error)
	Register(ctx context.Context, email, password, name string) (*AuthResponse, error)
	// Logout ends token on the server; token is sent explicitly because the
	// local session is already gone by then.
	Logout(ctx context.Context, token string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// Storage survives process restarts. kv.Store implements it.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

type EventKind string

const (
	EventLogin              EventKind = "login"
	EventRegister           EventKind = "register"
	EventLogout             EventKind = "logout"
	EventRestored           EventKind = "restored"
	EventCredentialRejected EventKind = "credential-rejected"
)

type Event struct {
	Kind          EventKind
	User          *User
	Authenticated bool
}

// absent treats the strings a careless writer may have stored for "nothing"
// as missing.
func absent(v string, ok bool) bool {
	if !ok {
		return true
	}
	switch strings.TrimSpace(v) {
	case "", "null", "undefined":
		return true
	}
	return false
}
