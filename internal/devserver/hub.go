package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vote-app-client/internal/channel"
	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16384
	sendBuffer     = 64
)

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	roomsMu sync.RWMutex
	rooms   map[string]bool
}

func (c *wsClient) joinRoom(code string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	c.rooms[code] = true
}

func (c *wsClient) leaveRoom(code string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	delete(c.rooms, code)
}

func (c *wsClient) inRoom(code string) bool {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	return c.rooms[code]
}

// Hub tracks realtime connections and which rooms each one watches.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the browser client is served from another origin in development
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:    uuid.NewString(),
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	log.Info().Str("conn_id", client.id).Msg("websocket connected")

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) readPump(client *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()
		close(client.send)
		client.conn.Close()
		log.Info().Str("conn_id", client.id).Msg("websocket disconnected")
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := channel.Decode(frame)
		if err != nil {
			log.Debug().Err(err).Str("conn_id", client.id).Msg("dropping malformed frame")
			continue
		}
		metrics.IncChannelEvent(env.Event)

		switch env.Event {
		case channel.EventJoinRoom:
			code, err := env.RoomCode()
			if err != nil {
				continue
			}
			client.joinRoom(code)
			log.Debug().Str("conn_id", client.id).Str("room", code).Msg("joined room")
		case channel.EventLeaveRoom:
			code, err := env.RoomCode()
			if err != nil {
				continue
			}
			client.leaveRoom(code)
			log.Debug().Str("conn_id", client.id).Str("room", code).Msg("left room")
		default:
			log.Debug().Str("conn_id", client.id).Str("event", env.Event).Msg("ignoring unknown event")
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends a vote-updated frame to every connection watching the
// room. Slow connections miss the frame rather than stall the others.
func (h *Hub) Broadcast(ev room.VoteUpdateEvent) {
	frame, err := channel.Encode(channel.EventVoteUpdated, ev)
	if err != nil {
		log.Warn().Err(err).Str("room", ev.RoomID).Msg("failed to encode vote update")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.inRoom(ev.RoomID) {
			continue
		}
		select {
		case client.send <- frame:
			metrics.IncChannelEvent(channel.EventVoteUpdated)
		default:
			log.Warn().Str("conn_id", client.id).Str("room", ev.RoomID).Msg("send buffer full, update dropped")
		}
	}
}

// Watchers counts the connections currently joined to code.
func (h *Hub) Watchers(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, client := range h.clients {
		if client.inRoom(code) {
			n++
		}
	}
	return n
}

// Close drops every connection; their pumps clean up after themselves.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, client := range h.clients {
		conns = append(conns, client.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
