package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vote-app-client/internal/platform/apperr"
	"vote-app-client/internal/platform/jwt"
	"vote-app-client/internal/platform/notify"
)

var log = zerolog.Nop()

func SetLogger(l zerolog.Logger) {
	log = l
}

// Navigator moves the application to another route.
type Navigator func(path string)

type Config struct {
	Navigator Navigator
	Now       func() time.Time
}

// Store is the process-wide holder of the signed-in identity and its
// credential. Build one per application and pass it to whoever needs it.
type Store struct {
	api      AuthAPI
	storage  Storage
	navigate Navigator
	now      func() time.Time

	mu          sync.RWMutex
	user        *User
	token       string
	untrusted   bool
	firstLaunch bool

	events notify.Listeners[Event]
}

func NewStore(api AuthAPI, storage Storage, cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Navigator == nil {
		cfg.Navigator = func(string) {}
	}
	return &Store{
		api:      api,
		storage:  storage,
		navigate: cfg.Navigator,
		now:      cfg.Now,
	}
}

// Init applies the first-launch policy. Without the launch marker every
// persisted credential is discarded and the marker is written. Otherwise the
// persisted session is restored, minus a credential that has visibly expired.
func (s *Store) Init(ctx context.Context) error {
	marker, ok, err := s.storage.Get(ctx, KeyLaunched)
	if err != nil {
		return err
	}

	if absent(marker, ok) {
		if err := s.storage.Delete(ctx, KeyToken, KeyUser); err != nil {
			return err
		}
		installID := uuid.NewString()
		if err := s.storage.Set(ctx, KeyLaunched, installID); err != nil {
			return err
		}
		s.mu.Lock()
		s.user, s.token, s.untrusted, s.firstLaunch = nil, "", false, true
		s.mu.Unlock()
		log.Info().Str("install_id", installID).Msg("first launch, stored credentials cleared")
		s.emit(EventRestored)
		return nil
	}

	user, token, err := s.restore(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.user, s.token, s.untrusted, s.firstLaunch = user, token, false, false
	s.mu.Unlock()
	log.Debug().Bool("authenticated", token != "").Msg("session restored")
	s.emit(EventRestored)
	return nil
}

func (s *Store) restore(ctx context.Context) (*User, string, error) {
	token, ok, err := s.storage.Get(ctx, KeyToken)
	if err != nil {
		return nil, "", err
	}
	if absent(token, ok) {
		token = ""
	}
	if token != "" && jwt.Expired(token, s.now()) {
		log.Info().Msg("stored credential expired, discarding")
		if err := s.storage.Delete(ctx, KeyToken, KeyUser); err != nil {
			return nil, "", err
		}
		return nil, "", nil
	}

	raw, ok, err := s.storage.Get(ctx, KeyUser)
	if err != nil {
		return nil, "", err
	}
	if absent(raw, ok) {
		return nil, token, nil
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		log.Warn().Err(err).Msg("stored identity unreadable, discarding session")
		if err := s.storage.Delete(ctx, KeyToken, KeyUser); err != nil {
			return nil, "", err
		}
		return nil, "", nil
	}
	return &u, token, nil
}

func (s *Store) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return apperr.Validation("credentials_required", "Email and password are required")
	}
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return err
	}
	return s.establish(ctx, EventLogin, resp)
}

func (s *Store) Register(ctx context.Context, email, password, name string) error {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	switch {
	case email == "" || password == "" || name == "":
		return apperr.Validation("fields_required", "Name, email and password are required")
	case len(password) < MinPasswordLength:
		return apperr.Validation("password_too_short", "Password must be at least 6 characters")
	}
	resp, err := s.api.Register(ctx, email, password, name)
	if err != nil {
		return err
	}
	return s.establish(ctx, EventRegister, resp)
}

// establish swaps in the new session in one step. Persistence failures are
// logged; the in-memory session stays valid for this run.
func (s *Store) establish(ctx context.Context, kind EventKind, resp *AuthResponse) error {
	if resp == nil || resp.Token == "" {
		return apperr.Transport("Login response did not include a credential", nil)
	}
	u := resp.User

	s.mu.Lock()
	s.user = &u
	s.token = resp.Token
	s.untrusted = false
	s.mu.Unlock()

	if raw, err := json.Marshal(u); err == nil {
		if err := s.storage.Set(ctx, KeyUser, string(raw)); err != nil {
			log.Warn().Err(err).Msg("persist identity failed")
		}
	}
	if err := s.storage.Set(ctx, KeyToken, resp.Token); err != nil {
		log.Warn().Err(err).Msg("persist credential failed")
	}

	log.Info().Str("email", u.Email).Str("event", string(kind)).Msg("session established")
	s.emit(kind)
	return nil
}

// Logout drops the session locally first, then tells the server. The server
// call is best effort and its failure is only logged.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	token := s.token
	s.user = nil
	s.token = ""
	s.untrusted = false
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, KeyToken, KeyUser); err != nil {
		log.Warn().Err(err).Msg("clear stored session failed")
	}
	s.emit(EventLogout)
	s.navigate(LoginRoute)

	if token == "" {
		return
	}
	if err := s.api.Logout(ctx, token); err != nil {
		log.Debug().Err(err).Msg("server logout failed")
	}
}

// CredentialRejected is called by the transport when the server answers 401.
// The session is kept; the credential is flagged until the next login.
func (s *Store) CredentialRejected() {
	s.mu.Lock()
	if s.token == "" || s.untrusted {
		s.mu.Unlock()
		return
	}
	s.untrusted = true
	s.mu.Unlock()
	log.Warn().Msg("credential rejected by server")
	s.emit(EventCredentialRejected)
}

func (s *Store) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.Validation("email_required", "Email is required")
	}
	return s.api.ForgotPassword(ctx, email)
}

func (s *Store) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return apperr.Validation("reset_token_required", "Reset token is required")
	case len(newPassword) < MinPasswordLength:
		return apperr.Validation("password_too_short", "Password must be at least 6 characters")
	}
	return s.api.ResetPassword(ctx, token, newPassword)
}

// ResetFirstLaunch removes the launch marker so the next Init behaves like a
// fresh install.
func (s *Store) ResetFirstLaunch(ctx context.Context) error {
	if err := s.storage.Delete(ctx, KeyLaunched); err != nil {
		return err
	}
	s.mu.Lock()
	s.firstLaunch = true
	s.mu.Unlock()
	return nil
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

func (s *Store) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Token returns the bearer credential, empty when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Trusted is false after the server rejected the credential.
func (s *Store) Trusted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && !s.untrusted
}

func (s *Store) FirstLaunch() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstLaunch
}

// Subscribe registers fn for session changes and returns its removal func.
func (s *Store) Subscribe(fn func(Event)) func() {
	return s.events.Add(fn)
}

func (s *Store) emit(kind EventKind) {
	s.mu.RLock()
	ev := Event{Kind: kind, Authenticated: s.token != ""}
	if s.user != nil {
		u := *s.user
		ev.User = &u
	}
	s.mu.RUnlock()
	s.events.Emit(ev)
}
