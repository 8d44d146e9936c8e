// ABOUTME: Connection hub delivering coordinator output to WebSocket clients
// ABOUTME: Encodes each message once and queues it per connection without blocking
package server

import (
	"errors"
	"sync"

	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	// ErrSendBufferFull is returned when a connection's queue cannot take another frame
	ErrSendBufferFull = errors.New("client send buffer full")
	// ErrUnknownClient is returned for sends to a connection the hub does not hold
	ErrUnknownClient = errors.New("unknown client")
)

// Client is one live WebSocket connection
type Client struct {
	ID         string
	RemoteAddr string
	Conn       *websocket.Conn

	// Output channel for encoded frames
	sendChan chan []byte
	done     chan struct{}
	once     sync.Once
}

func newClient(id, remote string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		ID:         id,
		RemoteAddr: remote,
		Conn:       conn,
		sendChan:   make(chan []byte, buffer),
		done:       make(chan struct{}),
	}
}

// close stops the writer and closes the socket; safe to call more than once
func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

// Hub tracks live connections and implements coordinator.Outbox
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	// onBroadcast is called after every broadcast, e.g. to refresh a dashboard
	onBroadcast func(kind protocol.Kind)
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Count returns the number of live connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll closes every connection, ending their read loops
func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

// Send delivers one message to a single connection
func (h *Hub) Send(to string, kind protocol.Kind, payload interface{}) {
	h.sendFrame(to, kind, 0, payload)
}

// Reply answers request msgID with an ack
func (h *Hub) Reply(to string, msgID uint64, payload interface{}) {
	h.sendFrame(to, protocol.KindAck, msgID, payload)
}

// Broadcast delivers one message to every connection
func (h *Hub) Broadcast(kind protocol.Kind, payload interface{}) {
	data, err := protocol.Encode(kind, 0, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(kind)).Msg("failed to encode broadcast")
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.deliver(c, kind, data)
	}

	if h.onBroadcast != nil {
		h.onBroadcast(kind)
	}
}

func (h *Hub) sendFrame(to string, kind protocol.Kind, msgID uint64, payload interface{}) {
	data, err := protocol.Encode(kind, msgID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(kind)).Msg("failed to encode message")
		return
	}

	h.mu.RLock()
	c, ok := h.clients[to]
	h.mu.RUnlock()
	if !ok {
		log.Debug().Err(ErrUnknownClient).Str("client", to).Str("type", string(kind)).Msg("dropping message")
		return
	}

	h.deliver(c, kind, data)
}

// deliver queues data on c. A connection that cannot keep up is closed.
func (h *Hub) deliver(c *Client, kind protocol.Kind, data []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.sendChan <- data:
	default:
		log.Warn().Err(ErrSendBufferFull).Str("client", c.ID).Str("type", string(kind)).Msg("dropping slow connection")
		c.close()
	}
}
