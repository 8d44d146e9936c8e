// ABOUTME: One connected session between the player and a relay
// ABOUTME: Applies relay events to local playback and reports device status back
package app

import (
	"context"
	"encoding/json"
	"errors"
	gosync "sync"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/audio"
	"github.com/Vimlesh-Kumar/zync/internal/player"
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/Vimlesh-Kumar/zync/internal/sync"
	"github.com/Vimlesh-Kumar/zync/internal/ui"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrDisconnected is returned when the relay connection ends
var ErrDisconnected = errors.New("relay disconnected")

// Relay is the player's view of its relay connection
type Relay interface {
	sync.Prober
	RequestAudio(ctx context.Context) (*protocol.TrackPayload, error)
	UpdateIdentity(update protocol.IdentityUpdate) error
	Play(leadMs *int64) error
	Pause() error
	Stop() error
	Seek(positionMs int64) error
	Events() <-chan protocol.Event
	Done() <-chan struct{}
}

// deviceState is what this device knows about itself and the relay
type deviceState struct {
	isHost    bool
	volume    float64
	status    protocol.Status
	trackName string
	track     *audio.PCM
	loadGen   uint64
	playback  protocol.PlaybackState
	playing   bool
	synced    bool
	roster    protocol.Roster
}

// session drives one relay connection
type session struct {
	name     string
	relay    Relay
	clock    clockwork.Clock
	sync     *sync.ClockSync
	out      player.Output
	sched    *player.Scheduler
	interval time.Duration
	notify   func()

	mu    gosync.Mutex
	state deviceState

	wg gosync.WaitGroup
}

type sessionConfig struct {
	Name         string
	WantHost     bool
	Volume       float64
	SyncInterval time.Duration
	Clock        clockwork.Clock
	ClockSync    *sync.ClockSync
	Output       player.Output
	// Notify is called after any change worth redrawing
	Notify func()
}

func newSession(relay Relay, cfg sessionConfig) *session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Notify == nil {
		cfg.Notify = func() {}
	}

	s := &session{
		name:     cfg.Name,
		relay:    relay,
		clock:    cfg.Clock,
		sync:     cfg.ClockSync,
		out:      cfg.Output,
		sched:    player.NewScheduler(cfg.Clock, cfg.Output),
		interval: cfg.SyncInterval,
		notify:   cfg.Notify,
	}
	s.state.isHost = cfg.WantHost
	s.state.volume = cfg.Volume
	s.state.status = protocol.StatusIdle
	cfg.Output.SetVolume(cfg.Volume)
	return s
}

// run announces the device, syncs, and handles events until ctx ends or the
// relay goes away
func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
		s.sched.Cancel()
	}()

	if err := s.announce(); err != nil {
		return err
	}

	s.resync(ctx)

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	events := s.relay.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ErrDisconnected
			}
			s.handleEvent(ctx, ev)
		case <-tick:
			s.resync(ctx)
		case <-s.relay.Done():
			return ErrDisconnected
		case <-ctx.Done():
			return nil
		}
	}
}

// announce sends the full identity on connect
func (s *session) announce() error {
	s.mu.Lock()
	name := s.name
	isHost := s.state.isHost
	volume := s.state.volume
	status := s.state.status
	s.mu.Unlock()

	return s.relay.UpdateIdentity(protocol.IdentityUpdate{
		Name:   &name,
		IsHost: &isHost,
		Volume: &volume,
		Status: &status,
	})
}

// resync starts an independent clock sync run in the background. The last
// run to finish sets the offset.
func (s *session) resync(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if _, err := s.sync.Sync(ctx, s.relay); err != nil {
			return
		}

		s.mu.Lock()
		first := !s.state.synced
		s.state.synced = true
		// A play that arrived before the first sync was waiting for an offset
		if first && s.state.playback.IsPlaying {
			s.scheduleLocked()
		}
		s.mu.Unlock()
		s.notify()
	}()
}

func (s *session) handleEvent(ctx context.Context, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.IdentityCorrected:
		s.mu.Lock()
		if s.state.isHost != e.IsHost {
			log.Info().Bool("is_host", e.IsHost).Msg("relay corrected host flag")
		}
		s.state.isHost = e.IsHost
		s.mu.Unlock()

	case protocol.Roster:
		s.mu.Lock()
		s.state.roster = e
		s.mu.Unlock()

	case protocol.AudioAvailable:
		s.fetchTrack(ctx, e)

	case protocol.StateEvent:
		s.applyState(e)

	case protocol.RemoteControl:
		s.applyRemote(e)

	case protocol.ErrorPayload:
		log.Warn().Str("error", e.Error).Str("message", e.Message).Msg("relay rejected a message")

	default:
		log.Debug().Str("kind", string(ev.EventKind())).Msg("ignoring event")
	}

	s.notify()
}

// fetchTrack downloads and decodes the announced track in the background
func (s *session) fetchTrack(ctx context.Context, notice protocol.AudioAvailable) {
	s.mu.Lock()
	s.sched.Cancel()
	s.state.loadGen++
	gen := s.state.loadGen
	s.state.track = nil
	s.state.trackName = notice.Name
	s.state.playing = false
	s.mu.Unlock()

	log.Info().Str("track", notice.Name).Str("type", notice.Type).Msg("track available, downloading")
	s.report(protocol.StatusDownloading)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Only the latest announcement may report a failed load
		failed := func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if gen == s.state.loadGen {
				s.reportLocked(protocol.StatusIdle)
			}
		}

		payload, err := s.relay.RequestAudio(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to download track")
			failed()
			return
		}
		if payload == nil {
			log.Warn().Msg("relay has no track loaded")
			failed()
			return
		}

		pcm, err := audio.Decode(payload.Type, payload.Bytes)
		if err != nil {
			log.Error().Err(err).Str("track", payload.Name).Msg("failed to decode track")
			failed()
			return
		}

		s.mu.Lock()
		if gen != s.state.loadGen {
			// A newer track replaced this one while downloading
			s.mu.Unlock()
			return
		}
		s.state.track = pcm
		s.state.trackName = payload.Name
		startNow := s.state.playback.IsPlaying && s.state.synced
		s.mu.Unlock()

		log.Info().
			Str("track", payload.Name).
			Int("sample_rate", pcm.Format.SampleRate).
			Int("channels", pcm.Format.Channels).
			Dur("duration", pcm.Duration()).
			Msg("track ready")
		s.report(protocol.StatusReady)

		if startNow {
			s.mu.Lock()
			s.scheduleLocked()
			s.mu.Unlock()
		}
		s.notify()
	}()
}

// applyState follows a timeline broadcast
func (s *session) applyState(e protocol.StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.playback = e.State

	switch e.Kind {
	case protocol.KindPause, protocol.KindStop:
		s.sched.Cancel()
		s.state.playing = false
		if s.state.track != nil {
			s.reportLocked(protocol.StatusReady)
		}

	case protocol.KindPlay, protocol.KindSeek, protocol.KindPlaybackState:
		if !e.State.IsPlaying {
			if s.state.playing {
				s.sched.Cancel()
				s.state.playing = false
				s.reportLocked(protocol.StatusReady)
			}
			return
		}
		if s.state.track == nil || !s.state.synced {
			log.Debug().Msg("play deferred until track and clock are ready")
			return
		}
		s.scheduleLocked()
	}
}

// scheduleLocked starts the current track on the current timeline
func (s *session) scheduleLocked() {
	if s.state.track == nil {
		return
	}
	s.sched.Schedule(s.state.track, s.state.playback, s.sync.Offset())
	s.state.playing = true
	s.reportLocked(protocol.StatusPlaying)
}

func (s *session) applyRemote(rc protocol.RemoteControl) {
	if rc.Action != protocol.ActionSetVolume {
		log.Info().Str("action", rc.Action).Msg("ignoring unsupported remote action")
		return
	}

	var volume float64
	if err := json.Unmarshal(rc.Value, &volume); err != nil {
		log.Warn().Err(err).Msg("invalid set_volume value")
		return
	}
	s.setVolume(volume)
}

// setVolume applies a volume locally and echoes it to the relay
func (s *session) setVolume(volume float64) {
	s.out.SetVolume(volume)
	volume = s.out.Volume()

	s.mu.Lock()
	s.state.volume = volume
	s.mu.Unlock()

	if err := s.relay.UpdateIdentity(protocol.IdentityUpdate{Volume: &volume}); err != nil {
		log.Warn().Err(err).Msg("failed to report volume")
	}
}

func (s *session) report(status protocol.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportLocked(status)
}

func (s *session) reportLocked(status protocol.Status) {
	s.state.status = status
	if err := s.relay.UpdateIdentity(protocol.IdentityUpdate{Status: &status}); err != nil {
		log.Warn().Err(err).Str("status", string(status)).Msg("failed to report status")
	}
}

// handleAction applies a TUI request
func (s *session) handleAction(ctx context.Context, a ui.Action) {
	var err error

	switch a.Kind {
	case ui.ActionToggleHost:
		s.mu.Lock()
		want := !s.state.isHost
		s.state.isHost = want
		s.mu.Unlock()
		err = s.relay.UpdateIdentity(protocol.IdentityUpdate{IsHost: &want})
	case ui.ActionPlay:
		err = s.relay.Play(nil)
	case ui.ActionPause:
		err = s.relay.Pause()
	case ui.ActionStop:
		err = s.relay.Stop()
	case ui.ActionSeek:
		pos := s.positionMs() + a.Delta.Milliseconds()
		if pos < 0 {
			pos = 0
		}
		err = s.relay.Seek(pos)
	case ui.ActionVolume:
		s.setVolume(a.Volume)
	case ui.ActionResync:
		s.resync(ctx)
	}

	if err != nil {
		log.Warn().Err(err).Msg("failed to send control")
	}
	s.notify()
}

// positionMs is the shared timeline position now
func (s *session) positionMs() int64 {
	s.mu.Lock()
	state := s.state.playback
	s.mu.Unlock()
	return state.PositionAt(s.sync.ReferenceNowMs())
}

// status snapshots the session for the TUI
func (s *session) status() ui.StatusMsg {
	s.mu.Lock()
	isHost := s.state.isHost
	volume := s.state.volume
	msg := ui.StatusMsg{
		Name:   s.name,
		Track:  s.state.trackName,
		Status: s.state.status,
		Mode:   modeOf(s.state.playback),
		IsHost: &isHost,
		Volume: &volume,
		Roster: s.state.roster,
	}
	s.mu.Unlock()

	stats := s.sync.Stats()
	stats.Quality = s.sync.CheckQuality()
	msg.Sync = &stats
	msg.PositionMs = s.positionMs()
	msg.Countdown = s.sched.Countdown()
	return msg
}

func modeOf(st protocol.PlaybackState) string {
	switch {
	case st.IsPlaying:
		return "playing"
	case st.ElapsedMs != 0:
		return "paused"
	default:
		return "idle"
	}
}
