// ABOUTME: Playback coordinator owning the registry, host lock and timeline
// ABOUTME: Serializes every state change on one goroutine and emits outbound messages
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultLead is how far ahead of the command a play is scheduled
const DefaultLead = 2 * time.Second

// ErrClosed is returned once the coordinator's Run loop has exited
var ErrClosed = errors.New("coordinator closed")

// Outbox delivers messages to connections. Implementations must not block the
// caller; a slow connection is the transport's problem.
type Outbox interface {
	// Send delivers one message to a single connection
	Send(to string, kind protocol.Kind, payload interface{})
	// Reply answers request msgID on connection to with an ack
	Reply(to string, msgID uint64, payload interface{})
	// Broadcast delivers one message to every connection
	Broadcast(kind protocol.Kind, payload interface{})
}

// Config holds coordinator configuration
type Config struct {
	DefaultLead time.Duration
	// RequireHost drops playback and relay commands from non-host connections
	RequireHost bool
	Clock       clockwork.Clock
}

// Snapshot is a read-only view of the coordinator for dashboards
type Snapshot struct {
	ReferenceMs int64
	State       protocol.PlaybackState
	Mode        Mode
	Roster      protocol.Roster
	HostID      string
	Track       *protocol.AudioAvailable
	TrackBytes  int
}

// Coordinator is the relay's single owner of session and playback state
type Coordinator struct {
	cfg   Config
	clock clockwork.Clock
	out   Outbox

	registry *Registry
	lock     HostLock
	timeline Timeline
	track    *Track

	ops     chan op
	stopped chan struct{}
}

type op struct {
	fn   func()
	done chan struct{}
}

// New creates a coordinator. Call Run to start processing.
func New(cfg Config, out Outbox) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.DefaultLead <= 0 {
		cfg.DefaultLead = DefaultLead
	}

	return &Coordinator{
		cfg:      cfg,
		clock:    cfg.Clock,
		out:      out,
		registry: NewRegistry(),
		ops:      make(chan op),
		stopped:  make(chan struct{}),
	}
}

// Run applies queued operations until ctx is cancelled
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)

	log.Info().
		Dur("default_lead", c.cfg.DefaultLead).
		Bool("require_host", c.cfg.RequireHost).
		Msg("coordinator started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("coordinator stopped")
			return nil
		case o := <-c.ops:
			o.fn()
			close(o.done)
		}
	}
}

// do runs fn on the coordinator goroutine and waits for it
func (c *Coordinator) do(fn func()) error {
	o := op{fn: fn, done: make(chan struct{})}

	select {
	case c.ops <- o:
	case <-c.stopped:
		return ErrClosed
	}

	<-o.done
	return nil
}

// NowMs returns the reference clock as Unix ms
func (c *Coordinator) NowMs() int64 {
	return c.clock.Now().UnixMilli()
}

// Connect registers a new connection and brings it up to date
func (c *Coordinator) Connect(id string) error {
	return c.do(func() {
		c.registry.Add(id)
		log.Info().Str("client", id).Int("clients", c.registry.Len()).Msg("client connected")

		c.out.Send(id, protocol.KindPlaybackState, c.timeline.State())
		if c.track != nil {
			c.out.Send(id, protocol.KindAudioAvailable, c.trackNotice())
		}
		c.broadcastRoster()
	})
}

// Disconnect removes a connection and frees the host lock if it held it
func (c *Coordinator) Disconnect(id string) error {
	return c.do(func() {
		if !c.registry.Remove(id) {
			return
		}
		if c.lock.Release(id) {
			log.Info().Str("client", id).Msg("host disconnected, host lock released")
			c.registry.ApplyHost(c.lock.Holder())
		}
		log.Info().Str("client", id).Int("clients", c.registry.Len()).Msg("client disconnected")
		c.broadcastRoster()
	})
}

// UpdateIdentity merges a device's self-description and corrects its host flag
func (c *Coordinator) UpdateIdentity(id string, u protocol.IdentityUpdate) error {
	return c.do(func() {
		s, ok := c.registry.Get(id)
		if !ok {
			log.Warn().Str("client", id).Msg("identity update from unknown connection")
			return
		}

		if u.IsHost != nil {
			granted := c.lock.Apply(id, *u.IsHost)
			if *u.IsHost && !granted {
				holder, _ := c.lock.Holder()
				log.Info().Str("client", id).Str("host", holder).Msg("host request denied")
			}
		}

		c.registry.Merge(id, u)
		c.registry.ApplyHost(c.lock.Holder())
		c.broadcastRoster()

		c.out.Send(id, protocol.KindIdentityCorrected, protocol.IdentityCorrected{IsHost: s.IsHost})
	})
}

// TimeSync answers a probe. The reference time is read before queueing so the
// reply reflects the moment the probe arrived.
func (c *Coordinator) TimeSync(id string, msgID uint64, req protocol.TimeSyncRequest) error {
	now := c.NowMs()
	return c.do(func() {
		c.out.Reply(id, msgID, protocol.TimeSyncReply{ReferenceTime: now, SendTime: req.SendTime})
		c.registry.SetLatency(id, now-req.SendTime)
	})
}

// LoadTrack replaces the current track, resets the timeline and notifies everyone
func (c *Coordinator) LoadTrack(t Track) error {
	return c.do(func() {
		c.loadTrack(t)
	})
}

// UploadAudio loads a track sent by a device
func (c *Coordinator) UploadAudio(id string, u protocol.UploadAudio) error {
	return c.do(func() {
		log.Info().Str("client", id).Str("track", u.Name).Int("bytes", len(u.Bytes)).Msg("track uploaded")
		c.loadTrack(Track{Name: u.Name, MimeType: u.Type, Data: u.Bytes})
	})
}

func (c *Coordinator) loadTrack(t Track) {
	c.track = &t
	c.timeline.Reset()

	log.Info().Str("track", t.Name).Str("type", t.MimeType).Int("bytes", len(t.Data)).Msg("track loaded")

	c.out.Broadcast(protocol.KindStop, c.timeline.State())
	c.out.Broadcast(protocol.KindAudioAvailable, c.trackNotice())
}

// RequestAudio replies with the current track, or null when none is loaded
func (c *Coordinator) RequestAudio(id string, msgID uint64) error {
	return c.do(func() {
		c.registry.SetStatus(id, protocol.StatusDownloading)
		c.broadcastRoster()

		if c.track == nil {
			log.Debug().Str("client", id).Msg("audio requested with no track loaded")
			c.out.Reply(id, msgID, (*protocol.TrackPayload)(nil))
			return
		}

		c.out.Reply(id, msgID, &protocol.TrackPayload{
			Bytes: c.track.Data,
			Type:  c.track.MimeType,
			Name:  c.track.Name,
		})

		c.registry.SetStatus(id, protocol.StatusReady)
		c.broadcastRoster()
	})
}

// Play starts the timeline lead ms from now, resuming from the paused position
func (c *Coordinator) Play(id string, cmd protocol.PlayCommand) error {
	return c.do(func() {
		if !c.authorize(id, protocol.KindPlay) {
			return
		}

		lead := c.cfg.DefaultLead.Milliseconds()
		if cmd.LeadMs != nil {
			lead = *cmd.LeadMs
		}

		if !c.timeline.Play(c.NowMs(), lead) {
			log.Debug().Str("client", id).Msg("play ignored, already playing")
			return
		}
		if c.track == nil {
			log.Warn().Str("client", id).Msg("play with no track loaded")
		}

		st := c.timeline.State()
		log.Info().Str("client", id).Int64("start_time", st.StartTime).Int64("elapsed_ms", st.ElapsedMs).Msg("play")

		c.registry.Transition(protocol.StatusReady, protocol.StatusPlaying)
		c.broadcastRoster()
		c.out.Broadcast(protocol.KindPlay, st)
	})
}

// Pause freezes the timeline at the current position
func (c *Coordinator) Pause(id string) error {
	return c.do(func() {
		if !c.authorize(id, protocol.KindPause) {
			return
		}
		if !c.timeline.Pause(c.NowMs()) {
			log.Debug().Str("client", id).Msg("pause ignored, not playing")
			return
		}

		st := c.timeline.State()
		log.Info().Str("client", id).Int64("elapsed_ms", st.ElapsedMs).Msg("pause")

		c.registry.Transition(protocol.StatusPlaying, protocol.StatusReady)
		c.broadcastRoster()
		c.out.Broadcast(protocol.KindPause, st)
	})
}

// Seek moves the timeline to cmd.PositionMs
func (c *Coordinator) Seek(id string, cmd protocol.SeekCommand) error {
	return c.do(func() {
		if !c.authorize(id, protocol.KindSeek) {
			return
		}

		c.timeline.Seek(c.NowMs(), cmd.PositionMs)
		st := c.timeline.State()
		log.Info().Str("client", id).Int64("position_ms", st.ElapsedMs).Bool("playing", st.IsPlaying).Msg("seek")

		c.out.Broadcast(protocol.KindSeek, st)
	})
}

// Stop resets the timeline and marks every device Ready
func (c *Coordinator) Stop(id string) error {
	return c.do(func() {
		if !c.authorize(id, protocol.KindStop) {
			return
		}

		c.timeline.Reset()
		log.Info().Str("client", id).Msg("stop")

		c.registry.SetAllStatus(protocol.StatusReady)
		c.broadcastRoster()
		c.out.Broadcast(protocol.KindStop, c.timeline.State())
	})
}

// ControlDevice forwards a remote action to one device
func (c *Coordinator) ControlDevice(id string, cmd protocol.ControlDevice) error {
	return c.do(func() {
		if !c.authorize(id, protocol.KindControlDevice) {
			return
		}
		c.relay(id, cmd)
	})
}

// Handle dispatches a decoded device command
func (c *Coordinator) Handle(id string, msgID uint64, cmd protocol.Command) error {
	switch m := cmd.(type) {
	case protocol.TimeSyncRequest:
		return c.TimeSync(id, msgID, m)
	case protocol.IdentityUpdate:
		return c.UpdateIdentity(id, m)
	case protocol.UploadAudio:
		return c.UploadAudio(id, m)
	case protocol.RequestAudio:
		return c.RequestAudio(id, msgID)
	case protocol.PlayCommand:
		return c.Play(id, m)
	case protocol.PauseCommand:
		return c.Pause(id)
	case protocol.StopCommand:
		return c.Stop(id)
	case protocol.SeekCommand:
		return c.Seek(id, m)
	case protocol.ControlDevice:
		return c.ControlDevice(id, m)
	default:
		log.Warn().Str("client", id).Str("type", string(cmd.CommandKind())).Msg("unhandled command")
		return nil
	}
}

// Snapshot returns the current state for display
func (c *Coordinator) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := c.do(func() {
		snap = Snapshot{
			ReferenceMs: c.NowMs(),
			State:       c.timeline.State(),
			Mode:        c.timeline.Mode(),
			Roster:      c.registry.Roster(),
		}
		if holder, held := c.lock.Holder(); held {
			snap.HostID = holder
		}
		if c.track != nil {
			notice := c.trackNotice()
			snap.Track = &notice
			snap.TrackBytes = len(c.track.Data)
		}
	})
	return snap, err
}

// authorize reports whether a playback command from id should be applied
func (c *Coordinator) authorize(id string, kind protocol.Kind) bool {
	if holder, held := c.lock.Holder(); held && holder == id {
		return true
	}

	if c.cfg.RequireHost {
		log.Warn().Str("client", id).Str("type", string(kind)).Msg("dropping command from non-host")
		return false
	}

	log.Warn().Str("client", id).Str("type", string(kind)).Msg("command from non-host accepted")
	return true
}

func (c *Coordinator) broadcastRoster() {
	c.out.Broadcast(protocol.KindClientsUpdate, c.registry.Roster())
}

func (c *Coordinator) trackNotice() protocol.AudioAvailable {
	return protocol.AudioAvailable{Name: c.track.Name, Type: c.track.MimeType}
}
