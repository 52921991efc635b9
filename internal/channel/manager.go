package channel

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/metrics"
	"vote-app-client/internal/platform/notify"
	"vote-app-client/internal/retry"
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
)

// Conn is one established realtime connection. ReadMessage blocks until a
// frame arrives or the connection fails; Close unblocks it.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

var log = zerolog.Nop()

func SetLogger(l zerolog.Logger) {
	log = l
}

type Config struct {
	// DialAttempts is how many dials make up one retry round.
	DialAttempts int
	Backoff      retry.Backoff
}

func (c Config) withDefaults() Config {
	if c.DialAttempts <= 0 {
		c.DialAttempts = 3
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = 500 * time.Millisecond
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 30 * time.Second
	}
	return c
}

// Manager owns the single realtime connection of the application. Room
// subscriptions are reference counted so several views may watch the same
// room without the server seeing duplicate joins.
type Manager struct {
	transport Transport
	cfg       Config

	mu            sync.Mutex
	state         State
	conn          Conn
	refs          map[string]int
	everConnected bool

	updates notify.Listeners[room.VoteUpdateEvent]
	states  notify.Listeners[State]
}

func NewManager(t Transport, cfg Config) *Manager {
	return &Manager{
		transport: t,
		cfg:       cfg.withDefaults(),
		state:     Disconnected,
		refs:      make(map[string]int),
	}
}

// Run keeps the connection up until ctx is done, redialing with backoff
// after every loss.
func (m *Manager) Run(ctx context.Context) error {
	log.Info().Msg("channel manager started")
	defer log.Info().Msg("channel manager stopped")

	round := 0
	for {
		m.setState(Connecting)

		var conn Conn
		err := retry.DoWithRetry(ctx, m.cfg.DialAttempts, m.cfg.Backoff.Base, func() error {
			c, err := m.transport.Dial(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("channel dial failed")
				return err
			}
			conn = c
			return nil
		})
		if err != nil {
			m.setState(Disconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := m.cfg.Backoff.Delay(round)
			round++
			log.Warn().Err(err).Dur("retry_in", delay).Msg("channel offline")
			if err := retry.Sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		round = 0
		m.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// serve marks the connection live, replays the active joins and then reads
// until the connection fails.
func (m *Manager) serve(ctx context.Context, conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.state = Connected
	reconnect := m.everConnected
	m.everConnected = true
	for _, code := range m.activeLocked() {
		m.sendLocked(EventJoinRoom, code)
	}
	m.mu.Unlock()

	if reconnect {
		metrics.IncReconnect()
	}
	log.Info().Bool("reconnect", reconnect).Msg("channel connected")
	m.states.Emit(Connected)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("channel connection lost")
			}
			break
		}
		m.dispatch(frame)
	}

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.state = Disconnected
	m.mu.Unlock()
	_ = conn.Close()
	m.states.Emit(Disconnected)
}

func (m *Manager) dispatch(frame []byte) {
	env, err := Decode(frame)
	if err != nil {
		log.Warn().Err(err).Msg("skipping undecodable frame")
		return
	}
	metrics.IncChannelEvent(env.Event)

	switch env.Event {
	case EventVoteUpdated:
		ev, err := env.VoteUpdate()
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed vote update")
			return
		}
		log.Debug().Str("room", ev.RoomID).Int("total_votes", ev.TotalVotes).Msg("vote update received")
		m.updates.Emit(ev)
	default:
		log.Debug().Str("event", env.Event).Msg("ignoring event")
	}
}

// JoinRoom adds a subscription to code. Only the first subscription is sent
// to the server, and only while connected; otherwise it waits for the next
// connection.
func (m *Manager) JoinRoom(code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[code]++
	if m.refs[code] == 1 && m.conn != nil {
		m.sendLocked(EventJoinRoom, code)
	}
}

// LeaveRoom drops one subscription to code. It is a no-op for rooms that are
// not subscribed.
func (m *Manager) LeaveRoom(code string) {
	code = strings.TrimSpace(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.refs[code]
	if !ok {
		return
	}
	if n > 1 {
		m.refs[code] = n - 1
		return
	}
	delete(m.refs, code)
	if m.conn != nil {
		m.sendLocked(EventLeaveRoom, code)
	}
}

// Subscribe registers fn for every vote-updated event, in arrival order.
func (m *Manager) Subscribe(fn func(room.VoteUpdateEvent)) func() {
	return m.updates.Add(fn)
}

func (m *Manager) OnStateChange(fn func(State)) func() {
	return m.states.Add(fn)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool {
	return m.State() == Connected
}

// Rooms lists the codes with at least one subscription, sorted.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) Refs(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[code]
}

func (m *Manager) activeLocked() []string {
	codes := make([]string, 0, len(m.refs))
	for code, n := range m.refs {
		if n > 0 {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// sendLocked writes under m.mu so join and leave frames keep their order
// relative to the replay on connect.
func (m *Manager) sendLocked(event, code string) {
	frame, err := Encode(event, code)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode frame failed")
		return
	}
	if err := m.conn.WriteMessage(frame); err != nil {
		if !errors.Is(err, ErrClosed) {
			log.Warn().Err(err).Str("event", event).Str("room", code).Msg("send failed")
		}
		return
	}
	metrics.IncChannelEvent(event)
	log.Debug().Str("event", event).Str("room", code).Msg("sent")
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.states.Emit(s)
	}
}
