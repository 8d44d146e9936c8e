// ABOUTME: Audio output backends for decoded tracks
// ABOUTME: Plays PCM through oto with device volume, or tracks playback without a device
package player

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/audio"
	"github.com/ebitengine/oto/v3"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Output plays a decoded track from a position
type Output interface {
	// Start replaces whatever is playing with track from position
	Start(track *audio.PCM, position time.Duration) error
	// Stop silences the output; it is a no-op when nothing plays
	Stop()
	// SetVolume sets the gain in [0,1]
	SetVolume(volume float64)
	Volume() float64
	Close() error
}

// clampVolume limits volume to [0,1]
func clampVolume(volume float64) float64 {
	if volume < 0 {
		return 0
	}
	if volume > 1 {
		return 1
	}
	return volume
}

// Oto plays through the system audio device. oto allows one context per
// process, so the first track fixes the device format and later tracks are
// converted to it.
type Oto struct {
	mu     sync.Mutex
	otoCtx *oto.Context
	format audio.Format
	player *oto.Player
	volume float64

	// Last conversion, reused across seeks
	source    *audio.PCM
	converted *audio.PCM
}

// NewOto creates an oto output. The device opens on the first Start.
func NewOto() *Oto {
	return &Oto{volume: 1}
}

func (o *Oto) open(format audio.Format) error {
	if o.otoCtx != nil {
		return nil
	}

	device := audio.Format{SampleRate: format.SampleRate, Channels: 2}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   device.SampleRate,
		ChannelCount: device.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o.otoCtx = ctx
	o.format = device

	log.Info().Int("sample_rate", device.SampleRate).Int("channels", device.Channels).Msg("audio output initialized")
	return nil
}

// Start plays track from position
func (o *Oto) Start(track *audio.PCM, position time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.open(track.Format); err != nil {
		return err
	}

	if o.source != track {
		o.source = track
		o.converted = audio.Convert(track, o.format)
	}

	o.stopLocked()

	pcm := o.converted
	o.player = o.otoCtx.NewPlayer(bytes.NewReader(pcm.Data[pcm.Offset(position):]))
	o.player.SetVolume(o.volume)
	o.player.Play()

	log.Debug().Dur("position", position).Msg("output started")
	return nil
}

// Stop silences the output
func (o *Oto) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *Oto) stopLocked() {
	if o.player == nil {
		return
	}
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		log.Debug().Err(err).Msg("closing oto player")
	}
	o.player = nil
}

// SetVolume sets the gain in [0,1]
func (o *Oto) SetVolume(volume float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.volume = clampVolume(volume)
	if o.player != nil {
		o.player.SetVolume(o.volume)
	}
	log.Debug().Float64("volume", o.volume).Msg("volume set")
}

// Volume returns the current gain
func (o *Oto) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Close releases the device
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopLocked()
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}

// Silent follows playback on a clock without opening a device. It backs
// -no-audio and headless hosts.
type Silent struct {
	clock clockwork.Clock

	mu        sync.Mutex
	track     *audio.PCM
	startedAt time.Time
	from      time.Duration
	playing   bool
	volume    float64
}

// NewSilent creates a device-less output
func NewSilent(clock clockwork.Clock) *Silent {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Silent{clock: clock, volume: 1}
}

// Start records the start of playback
func (s *Silent) Start(track *audio.PCM, position time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.track = track
	s.from = position
	s.startedAt = s.clock.Now()
	s.playing = true
	log.Debug().Dur("position", position).Msg("silent output started")
	return nil
}

// Stop ends playback
func (s *Silent) Stop() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

// Position returns the current play position and whether playback is running
func (s *Silent) Position() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing {
		return 0, false
	}
	pos := s.from + s.clock.Since(s.startedAt)
	if s.track != nil && pos >= s.track.Duration() {
		return s.track.Duration(), false
	}
	return pos, true
}

// SetVolume sets the gain in [0,1]
func (s *Silent) SetVolume(volume float64) {
	s.mu.Lock()
	s.volume = clampVolume(volume)
	s.mu.Unlock()
}

// Volume returns the current gain
func (s *Silent) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Close stops playback
func (s *Silent) Close() error {
	s.Stop()
	return nil
}
