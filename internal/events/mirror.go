// ABOUTME: Mirrors relay broadcasts onto NATS subjects for external observers
// ABOUTME: Wraps a coordinator outbox and republishes playback and roster snapshots
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/coordinator"
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultSubject is the subject prefix used when none is configured
const DefaultSubject = "zync.events"

// Publisher is the subset of *nats.Conn the mirror needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config holds NATS connection settings
type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns settings for a local NATS server
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       DefaultSubject,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Connect dials NATS with reconnect logging
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("zync-relay"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// PlaybackEvent is published on <subject>.playback
type PlaybackEvent struct {
	Kind  protocol.Kind          `json:"kind"`
	State protocol.PlaybackState `json:"state"`
	At    int64                  `json:"at"`
}

// RosterEvent is published on <subject>.roster
type RosterEvent struct {
	Clients protocol.Roster `json:"clients"`
	At      int64           `json:"at"`
}

// Mirror forwards every message to next and republishes broadcasts of state
// and roster changes. Publish failures are logged and never reach the relay.
type Mirror struct {
	next    coordinator.Outbox
	pub     Publisher
	subject string
	now     func() int64
}

// NewMirror wraps next. now supplies the reference clock in Unix ms.
func NewMirror(next coordinator.Outbox, pub Publisher, subject string, now func() int64) *Mirror {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Mirror{next: next, pub: pub, subject: subject, now: now}
}

// Send forwards to next
func (m *Mirror) Send(to string, kind protocol.Kind, payload interface{}) {
	m.next.Send(to, kind, payload)
}

// Reply forwards to next
func (m *Mirror) Reply(to string, msgID uint64, payload interface{}) {
	m.next.Reply(to, msgID, payload)
}

// Broadcast forwards to next and publishes a mirror event when relevant
func (m *Mirror) Broadcast(kind protocol.Kind, payload interface{}) {
	m.next.Broadcast(kind, payload)

	switch p := payload.(type) {
	case protocol.PlaybackState:
		m.publish(m.subject+".playback", PlaybackEvent{Kind: kind, State: p, At: m.now()})
	case protocol.Roster:
		m.publish(m.subject+".roster", RosterEvent{Clients: p, At: m.now()})
	}
}

func (m *Mirror) publish(subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to marshal mirror event")
		return
	}
	if err := m.pub.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to publish mirror event")
		return
	}
	log.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("published mirror event")
}
