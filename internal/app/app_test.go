package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"vote-app-client/internal/config"
	"vote-app-client/internal/devserver"
	"vote-app-client/internal/domain/accreditation"
	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/platform/apperr"
	jwtpkg "vote-app-client/internal/platform/jwt"
	"vote-app-client/internal/worker"
)

type backend struct {
	server *httptest.Server
	hub    *devserver.Hub
}

func startBackend(t *testing.T, secret string) *backend {
	t.Helper()
	store := devserver.NewStore(devserver.Options{
		HashCost: bcrypt.MinCost,
		NewOTP:   func() string { return "123456" },
	})
	hub := devserver.NewHub()
	voteCh := make(chan room.VoteUpdateEvent, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go worker.NewBroadcastWorker(voteCh, hub).Run(ctx)

	ts := httptest.NewServer(devserver.NewRouter(store, jwtpkg.NewManager(secret, "test"), hub, voteCh))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		cancel()
	})
	return &backend{server: ts, hub: hub}
}

func (b *backend) config(statePath string) config.Config {
	return config.Config{
		APIURL:            b.server.URL + "/api",
		WSURL:             "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws",
		StateDriver:       "sqlite",
		StateDSN:          statePath,
		VoteTimeout:       5 * time.Second,
		OTPResendInterval: time.Second,
	}
}

func startApp(t *testing.T, cfg config.Config) (*App, context.CancelFunc) {
	t.Helper()
	a, err := New(context.Background(), cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
		_ = a.Close()
	}
	return a, stop
}

func TestEndToEndVotingFlow(t *testing.T) {
	be := startBackend(t, "secret")
	a, stop := startApp(t, be.config(filepath.Join(t.TempDir(), "state.db")))
	defer stop()
	ctx := context.Background()

	assert.True(t, a.Session.FirstLaunch())
	assert.False(t, a.Session.IsAuthenticated())
	assert.Equal(t, PageLogin, a.Navigate("/dashboard").Page)

	_, err := a.OpenDashboard(ctx)
	assert.ErrorIs(t, err, ErrSignInRequired)

	require.NoError(t, a.Session.Register(ctx, "owner@example.com", "secret1", "Owner"))
	require.True(t, a.Session.IsAuthenticated())
	assert.Equal(t, PageDashboard, a.Navigate("/dashboard").Page)

	dash, err := a.OpenDashboard(ctx)
	require.NoError(t, err)
	assert.Empty(t, dash.Rooms())

	created, err := dash.Create(ctx, room.CreateRequest{
		Title:    "Lunch",
		Options:  []string{"Pizza", "Sushi"},
		Deadline: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	code := created.Code

	view, err := a.OpenRoom(ctx, code)
	require.NoError(t, err)
	defer view.Close()

	st := view.State()
	require.True(t, st.Loaded())
	assert.True(t, st.IsOwner)
	assert.True(t, view.CanVote())
	assert.False(t, view.NeedsVerification())
	assert.Equal(t, 2, a.Channel.Refs(code), "dashboard and room view each hold a subscription")

	require.Eventually(t, func() bool { return be.hub.Watchers(code) == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, view.Vote(ctx, 1))
	require.Eventually(t, func() bool {
		s := view.State()
		return s.HasVoted && s.Room.TotalVotes == 1 && s.Room.Options[1].Votes == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		rm, ok := dash.Room(code)
		return ok && rm.TotalVotes == 1
	}, 3*time.Second, 10*time.Millisecond)

	err = view.Vote(ctx, 0)
	assert.ErrorIs(t, err, room.ErrVoteRecorded)

	dash.Close()
	view.Close()
	assert.Equal(t, 0, a.Channel.Refs(code))
}

func TestAccreditedRoomForAnonymousViewer(t *testing.T) {
	be := startBackend(t, "secret")
	a, stop := startApp(t, be.config(filepath.Join(t.TempDir(), "state.db")))
	defer stop()
	ctx := context.Background()

	require.NoError(t, a.Session.Register(ctx, "owner@example.com", "secret1", "Owner"))
	dash, err := a.OpenDashboard(ctx)
	require.NoError(t, err)
	created, err := dash.Create(ctx, room.CreateRequest{
		Title:                "Board election",
		Options:              []string{"Ada", "Grace"},
		Deadline:             time.Now().Add(time.Hour),
		RequireAccreditation: true,
		AccreditedVoters:     []room.VoterInput{{Name: "Linus", PhoneNumber: "+15550100"}},
	})
	require.NoError(t, err)
	dash.Close()

	owner, err := a.OpenRoom(ctx, created.Code)
	require.NoError(t, err)
	added, err := owner.Roster.Add(ctx, []room.VoterInput{{Name: "Ken", PhoneNumber: "+15550101"}, {Name: "", PhoneNumber: "+1"}})
	require.NoError(t, err)
	assert.Len(t, added, 1)
	owner.Close()

	a.Session.Logout(ctx)
	assert.False(t, a.Session.IsAuthenticated())
	assert.Equal(t, PageLogin, a.Route().Page)

	view, err := a.OpenRoom(ctx, created.Code)
	require.NoError(t, err)
	defer view.Close()

	assert.True(t, view.NeedsVerification())
	assert.False(t, view.CanVote())
	assert.ErrorIs(t, view.Vote(ctx, 0), ErrVerificationRequired)

	err = view.Gate.RequestCode(ctx, "+19990000")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindDomain))

	require.NoError(t, view.Gate.RequestCode(ctx, "+15550100"))
	assert.Equal(t, accreditation.OTPRequested, view.Gate.State())

	name, err := view.Gate.VerifyCode(ctx, "+15550100", "123456")
	require.NoError(t, err)
	assert.Equal(t, "Linus", name)
	assert.False(t, view.NeedsVerification())
	assert.True(t, view.CanVote())

	require.NoError(t, view.Vote(ctx, 0))
	assert.True(t, view.State().HasVoted)
}

func TestSessionSurvivesRestart(t *testing.T) {
	be := startBackend(t, "secret")
	statePath := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first, stop := startApp(t, be.config(statePath))
	require.NoError(t, first.Session.Register(ctx, "owner@example.com", "secret1", "Owner"))
	stop()

	second, stop := startApp(t, be.config(statePath))
	defer stop()
	assert.False(t, second.Session.FirstLaunch())
	require.True(t, second.Session.IsAuthenticated())
	u, ok := second.Session.User()
	require.True(t, ok)
	assert.Equal(t, "owner@example.com", u.Email)

	rooms, err := second.API.MyRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
	assert.True(t, second.Session.Trusted())
}

func TestForeignCredentialIsFlagged(t *testing.T) {
	issuer := startBackend(t, "secret")
	other := startBackend(t, "another-secret")
	statePath := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first, stop := startApp(t, issuer.config(statePath))
	require.NoError(t, first.Session.Register(ctx, "owner@example.com", "secret1", "Owner"))
	stop()

	second, stop := startApp(t, other.config(statePath))
	defer stop()
	require.True(t, second.Session.IsAuthenticated())

	_, err := second.API.MyRooms(ctx)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))
	assert.True(t, second.Session.IsAuthenticated(), "a rejected credential does not sign the user out")
	assert.False(t, second.Session.Trusted())
}

// headerRecorder remembers the Authorization header sent to each path.
type headerRecorder struct {
	mu   sync.Mutex
	auth map[string]string
}

func (h *headerRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	h.mu.Lock()
	h.auth[req.URL.Path] = req.Header.Get("Authorization")
	h.mu.Unlock()
	return http.DefaultTransport.RoundTrip(req)
}

func (h *headerRecorder) get(path string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.auth[path]
	return v, ok
}

func TestLogoutTellsServerWhichSessionEnds(t *testing.T) {
	be := startBackend(t, "secret")
	rec := &headerRecorder{auth: make(map[string]string)}
	a, err := New(context.Background(), be.config(filepath.Join(t.TempDir(), "state.db")), Options{
		Logger:     zerolog.Nop(),
		HTTPClient: &http.Client{Transport: rec},
	})
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	require.NoError(t, a.Session.Register(ctx, "owner@example.com", "secret1", "Owner"))
	token := a.Session.Token()
	require.NotEmpty(t, token)

	a.Session.Logout(ctx)
	assert.False(t, a.Session.IsAuthenticated())

	got, ok := rec.get("/api/auth/logOut")
	require.True(t, ok, "logout request was not sent")
	assert.Equal(t, "Bearer "+token, got)
}
