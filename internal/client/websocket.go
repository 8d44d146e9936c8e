// ABOUTME: WebSocket connection from a player device to a Zync relay
// ABOUTME: Correlates acks with requests by id and routes everything else to an event channel
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultPath is the relay's WebSocket endpoint
	DefaultPath = "/zync"

	defaultRequestTimeout = 10 * time.Second
	handshakeTimeout      = 5 * time.Second
	writeWait             = 10 * time.Second
	eventBuffer           = 64
)

var (
	// ErrNotConnected is returned once the connection has closed
	ErrNotConnected = errors.New("not connected")
)

// RequestError is a relay error frame answering one of our requests
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("relay rejected request: %s: %s", e.Code, e.Message)
}

// Config holds client configuration
type Config struct {
	// ServerAddr is host:port of the relay
	ServerAddr string
	// Path defaults to DefaultPath
	Path string
	// RequestTimeout bounds requests whose context has no deadline
	RequestTimeout time.Duration
	// MaxMessageBytes caps inbound frames; zero means no limit
	MaxMessageBytes int64
}

// URL returns the relay WebSocket URL
func (c Config) URL() string {
	path := c.Path
	if path == "" {
		path = DefaultPath
	}
	u := url.URL{Scheme: "ws", Host: c.ServerAddr, Path: path}
	return u.String()
}

type response struct {
	payload json.RawMessage
	err     error
}

// Client is a live connection to a relay
type Client struct {
	config Config
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan response
	nextID  atomic.Uint64

	events    chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay and starts reading
func Dial(ctx context.Context, config Config) (*Client, error) {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}

	target := config.URL()
	log.Info().Str("url", target).Msg("connecting to relay")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if config.MaxMessageBytes > 0 {
		conn.SetReadLimit(config.MaxMessageBytes)
	}

	c := &Client{
		config:  config,
		conn:    conn,
		pending: make(map[uint64]chan response),
		events:  make(chan protocol.Event, eventBuffer),
		done:    make(chan struct{}),
	}

	go c.readMessages()

	return c, nil
}

// Events delivers relay broadcasts and unsolicited messages. It is closed when
// the connection ends.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readMessages reads and routes incoming frames until the socket fails
func (c *Client) readMessages() {
	defer close(c.events)
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Msg("relay connection lost")
			}
			return
		}

		msg, ev, err := protocol.DecodeEvent(data)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring malformed relay frame")
			continue
		}

		if c.resolve(msg, ev) {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// resolve hands acks and error frames carrying an id to the waiting request
func (c *Client) resolve(msg protocol.Message, ev protocol.Event) bool {
	if msg.ID == 0 {
		return false
	}

	var res response
	switch e := ev.(type) {
	case protocol.Ack:
		res.payload = e.Payload
	case protocol.ErrorPayload:
		res.err = &RequestError{Code: e.Error, Message: e.Message}
	default:
		return false
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()

	if !ok {
		log.Debug().Uint64("id", msg.ID).Msg("reply for unknown or expired request")
		return true
	}
	ch <- res
	return true
}

func (c *Client) write(kind protocol.Kind, id uint64, payload interface{}) error {
	data, err := protocol.Encode(kind, id, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	return nil
}

// request sends a frame with a fresh id and waits for its ack
func (c *Client) request(ctx context.Context, kind protocol.Kind, payload interface{}) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(kind, id, payload); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-c.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Probe sends one timesync request. It satisfies the clock sync Prober.
func (c *Client) Probe(ctx context.Context, localSendMs int64) (int64, int64, error) {
	raw, err := c.request(ctx, protocol.KindTimeSync, protocol.TimeSyncRequest{SendTime: localSendMs})
	if err != nil {
		return 0, 0, err
	}

	var reply protocol.TimeSyncReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return 0, 0, fmt.Errorf("%w: timesync reply: %v", protocol.ErrBadPayload, err)
	}
	return reply.ReferenceTime, reply.SendTime, nil
}

// RequestAudio fetches the relay's current track. It returns nil when no track is loaded.
func (c *Client) RequestAudio(ctx context.Context) (*protocol.TrackPayload, error) {
	raw, err := c.request(ctx, protocol.KindRequestAudio, protocol.RequestAudio{})
	if err != nil {
		return nil, err
	}
	if protocol.IsNull(raw) {
		return nil, nil
	}

	var track protocol.TrackPayload
	if err := json.Unmarshal(raw, &track); err != nil {
		return nil, fmt.Errorf("%w: track: %v", protocol.ErrBadPayload, err)
	}
	return &track, nil
}

// UpdateIdentity merges fields into this device's session
func (c *Client) UpdateIdentity(update protocol.IdentityUpdate) error {
	return c.write(protocol.KindUpdateIdentity, 0, update)
}

// ReportStatus announces this device's playback readiness
func (c *Client) ReportStatus(status protocol.Status) error {
	return c.UpdateIdentity(protocol.IdentityUpdate{Status: &status})
}

// Play starts playback. A nil lead uses the relay default.
func (c *Client) Play(leadMs *int64) error {
	return c.write(protocol.KindPlay, 0, protocol.PlayCommand{LeadMs: leadMs})
}

// Pause pauses playback
func (c *Client) Pause() error {
	return c.write(protocol.KindPause, 0, nil)
}

// Stop resets playback to the start
func (c *Client) Stop() error {
	return c.write(protocol.KindStop, 0, nil)
}

// Seek moves playback to positionMs
func (c *Client) Seek(positionMs int64) error {
	return c.write(protocol.KindSeek, 0, protocol.SeekCommand{PositionMs: positionMs})
}

// Upload replaces the relay's current track
func (c *Client) Upload(name, mimeType string, data []byte) error {
	return c.write(protocol.KindUploadAudio, 0, protocol.UploadAudio{Name: name, Type: mimeType, Bytes: data})
}

// ControlDevice asks the relay to deliver an action to another device
func (c *Client) ControlDevice(targetID, action string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal control value: %w", err)
	}
	return c.write(protocol.KindControlDevice, 0, protocol.ControlDevice{
		TargetID: targetID,
		Action:   action,
		Value:    raw,
	})
}

// Close closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		_ = c.conn.Close()
		log.Info().Msg("connection closed")
	})
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}
