package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/retry"
)

type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	written []Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.incoming:
		return f, nil
	case <-c.closed:
		return nil, ErrClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	env, err := Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// frames returns what was written as "event:code" strings.
func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]string, 0, len(c.written))
	for _, env := range c.written {
		code, _ := env.RoomCode()
		res = append(res, env.Event+":"+code)
	}
	return res
}

type fakeTransport struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int
	dials    int
}

func (t *fakeTransport) queue(c *fakeConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns = append(t.conns, c)
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failures > 0 {
		t.failures--
		return nil, errors.New("connection refused")
	}
	if len(t.conns) == 0 {
		return nil, errors.New("no server")
	}
	c := t.conns[0]
	t.conns = t.conns[1:]
	return c, nil
}

func testConfig() Config {
	return Config{DialAttempts: 2, Backoff: retry.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}}
}

func startManager(t *testing.T, tr Transport) (*Manager, context.CancelFunc, chan error) {
	t.Helper()
	m := NewManager(tr, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, cancel, done
}

func waitConnected(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)
}

func TestJoinBeforeConnectIsReplayed(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(tr, testConfig())
	m.JoinRoom("r1")
	m.JoinRoom("r1")
	assert.Equal(t, 2, m.Refs("r1"))
	assert.Equal(t, Disconnected, m.State())

	conn := newFakeConn()
	tr.queue(conn)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitConnected(t, m)
	assert.Equal(t, []string{"join-room:r1"}, conn.frames())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, Disconnected, m.State())
}

func TestReferenceCounting(t *testing.T) {
	tr := &fakeTransport{}
	conn := newFakeConn()
	tr.queue(conn)
	m, _, _ := startManager(t, tr)
	waitConnected(t, m)

	m.JoinRoom("r1")
	m.JoinRoom("r1")
	m.LeaveRoom("r1")
	assert.Equal(t, []string{"join-room:r1"}, conn.frames())

	m.LeaveRoom("r1")
	m.LeaveRoom("r1")
	m.LeaveRoom("never-joined")
	assert.Equal(t, []string{"join-room:r1", "leave-room:r1"}, conn.frames())
	assert.Empty(t, m.Rooms())
}

func TestReconnectReplaysActiveRooms(t *testing.T) {
	tr := &fakeTransport{}
	first := newFakeConn()
	tr.queue(first)
	m, _, _ := startManager(t, tr)
	waitConnected(t, m)

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	m.JoinRoom("r2")
	m.JoinRoom("r1")
	m.JoinRoom("gone")
	m.LeaveRoom("gone")

	second := newFakeConn()
	tr.mu.Lock()
	tr.failures = 1
	tr.mu.Unlock()
	tr.queue(second)
	first.Close()

	require.Eventually(t, func() bool { return len(second.frames()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"join-room:r1", "join-room:r2"}, second.frames())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		n := len(states)
		return n >= 3 && states[n-1] == Connected
	}, time.Second, time.Millisecond)
	mu.Lock()
	tail := append([]State(nil), states[len(states)-3:]...)
	mu.Unlock()
	assert.Equal(t, []State{Disconnected, Connecting, Connected}, tail)
}

func TestEventsDeliveredInOrder(t *testing.T) {
	tr := &fakeTransport{}
	conn := newFakeConn()
	tr.queue(conn)
	m, _, _ := startManager(t, tr)

	var mu sync.Mutex
	var first, second []int
	m.Subscribe(func(ev room.VoteUpdateEvent) {
		mu.Lock()
		first = append(first, ev.TotalVotes)
		mu.Unlock()
	})
	m.Subscribe(func(ev room.VoteUpdateEvent) {
		mu.Lock()
		second = append(second, ev.TotalVotes)
		mu.Unlock()
	})
	waitConnected(t, m)

	for i, total := range []int{4, 5, 6} {
		frame, err := Encode(EventVoteUpdated, room.VoteUpdateEvent{RoomID: "r1", Tallies: []int{total - 1, 1}, TotalVotes: total})
		require.NoError(t, err)
		conn.incoming <- frame
		if i == 0 {
			conn.incoming <- []byte("not json")
			conn.incoming <- []byte(`{"event":"vote-updated","data":{"tallies":[1]}}`)
			conn.incoming <- []byte(`{"event":"something-else","data":1}`)
		}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 3 && len(second) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{4, 5, 6}, first)
	assert.Equal(t, []int{4, 5, 6}, second)
	assert.True(t, m.Connected(), "bad frames must not drop the connection")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tr := &fakeTransport{}
	conn := newFakeConn()
	tr.queue(conn)
	m, _, _ := startManager(t, tr)
	waitConnected(t, m)

	got := make(chan int, 4)
	unsubscribe := m.Subscribe(func(ev room.VoteUpdateEvent) { got <- ev.TotalVotes })

	frame, _ := Encode(EventVoteUpdated, room.VoteUpdateEvent{RoomID: "r1", TotalVotes: 1})
	conn.incoming <- frame
	assert.Equal(t, 1, <-got)

	unsubscribe()
	conn.incoming <- frame
	marker := make(chan struct{})
	m.Subscribe(func(ev room.VoteUpdateEvent) {
		if ev.TotalVotes == 2 {
			close(marker)
		}
	})
	frame2, _ := Encode(EventVoteUpdated, room.VoteUpdateEvent{RoomID: "r1", TotalVotes: 2})
	conn.incoming <- frame2
	<-marker
	assert.Empty(t, got)
}

func TestRunStopsWhileOffline(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(tr, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.dials >= 4
	}, time.Second, time.Millisecond)
	assert.False(t, m.Connected())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	frame, err := Encode(EventJoinRoom, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"join-room","data":"r1"}`, string(frame))

	env, err := Decode(frame)
	require.NoError(t, err)
	code, err := env.RoomCode()
	require.NoError(t, err)
	assert.Equal(t, "r1", code)

	_, err = Decode([]byte(`{"data":1}`))
	assert.Error(t, err)
}
