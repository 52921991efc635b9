package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"vote-app-client/internal/channel"
	"vote-app-client/internal/config"
	"vote-app-client/internal/domain/accreditation"
	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/domain/session"
	api "vote-app-client/internal/http"
	"vote-app-client/internal/metrics"
	"vote-app-client/internal/platform/database"
	"vote-app-client/internal/platform/notify"
	"vote-app-client/internal/repository/kv"
)

var (
	_ accreditation.OTPAPI    = (*api.Client)(nil)
	_ accreditation.RosterAPI = (*api.Client)(nil)
)

type Options struct {
	Logger     zerolog.Logger
	HTTPClient *http.Client
	// Transport replaces the websocket transport when set.
	Transport channel.Transport
}

// tokenFunc adapts a function to api.TokenSource.
type tokenFunc func() string

func (f tokenFunc) Token() string { return f() }

// App is the application root: one session, one REST client and one
// realtime connection shared by every view.
type App struct {
	Config  config.Config
	Session *session.Store
	API     *api.Client
	Channel *channel.Manager

	db    *sqlx.DB
	state *kv.Store

	mu    sync.Mutex
	route Resolution

	navigation notify.Listeners[Resolution]
}

// New opens the client state store, restores the session and wires the
// transports. Call Run to bring the realtime channel up.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	setLoggers(opts.Logger)
	metrics.Register()

	db, err := database.Open(cfg.StateDriver, cfg.StateDSN)
	if err != nil {
		return nil, fmt.Errorf("open client state: %w", err)
	}
	state := kv.NewStore(db)
	if err := state.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate client state: %w", err)
	}

	a := &App{Config: cfg, db: db, state: state}

	a.API = api.New(api.Config{
		BaseURL:        cfg.APIURL,
		HTTPClient:     opts.HTTPClient,
		Tokens:         tokenFunc(func() string { return a.Session.Token() }),
		OnUnauthorized: func() { a.Session.CredentialRejected() },
	})
	a.Session = session.NewStore(a.API, state, session.Config{Navigator: func(path string) { a.Navigate(path) }})

	transport := opts.Transport
	if transport == nil {
		transport = channel.NewWebsocketTransport(cfg.WSURL, a.Session.Token)
	}
	a.Channel = channel.NewManager(transport, channel.Config{})

	if err := a.Session.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	return a, nil
}

func setLoggers(l zerolog.Logger) {
	api.SetLogger(l)
	channel.SetLogger(l)
	room.SetLogger(l)
	session.SetLogger(l)
	accreditation.SetLogger(l)
}

// Run keeps the realtime channel connected until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return a.Channel.Run(ctx)
}

// StoredState returns what the client has persisted, keyed by name.
func (a *App) StoredState(ctx context.Context) (map[string]string, error) {
	return a.state.All(ctx)
}

func (a *App) Close() error {
	return a.db.Close()
}

// Navigate resolves path against the current session and records it as the
// current route.
func (a *App) Navigate(path string) Resolution {
	res := Resolve(path, a.Session.IsAuthenticated())
	a.mu.Lock()
	a.route = res
	a.mu.Unlock()
	a.navigation.Emit(res)
	return res
}

func (a *App) Route() Resolution {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.route
}

func (a *App) OnNavigate(fn func(Resolution)) func() {
	return a.navigation.Add(fn)
}
