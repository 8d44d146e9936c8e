// ABOUTME: Shared playback timeline on the reference clock
// ABOUTME: Play, pause, seek and stop transitions plus position math
package coordinator

import (
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
)

// Mode is the timeline's coarse state
type Mode int

const (
	ModeIdle Mode = iota
	ModePaused
	ModePlaying
)

func (m Mode) String() string {
	switch m {
	case ModePlaying:
		return "playing"
	case ModePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Track is the currently loaded audio payload. The relay never inspects Data.
type Track struct {
	Name     string
	MimeType string
	Data     []byte
}

// Timeline is the authoritative playback state machine. All times are
// reference-clock Unix ms. Not safe for concurrent use.
type Timeline struct {
	state protocol.PlaybackState
}

// State returns the current snapshot
func (t *Timeline) State() protocol.PlaybackState {
	return t.state
}

// Mode reports Idle, Paused or Playing
func (t *Timeline) Mode() Mode {
	switch {
	case t.state.IsPlaying:
		return ModePlaying
	case t.state.ElapsedMs != 0:
		return ModePaused
	default:
		return ModeIdle
	}
}

// Play schedules position elapsedMs to sound leadMs after nowMs. It is a no-op
// while already playing.
func (t *Timeline) Play(nowMs, leadMs int64) bool {
	if t.state.IsPlaying {
		return false
	}
	t.state.StartTime = nowMs + leadMs - t.state.ElapsedMs
	t.state.IsPlaying = true
	return true
}

// Pause freezes the position at nowMs. It is a no-op unless playing.
func (t *Timeline) Pause(nowMs int64) bool {
	if !t.state.IsPlaying {
		return false
	}
	t.state.ElapsedMs = nowMs - t.state.StartTime
	t.state.IsPlaying = false
	return true
}

// Seek moves to positionMs, keeping the play/pause state
func (t *Timeline) Seek(nowMs, positionMs int64) {
	if positionMs < 0 {
		positionMs = 0
	}
	t.state.ElapsedMs = positionMs
	if t.state.IsPlaying {
		t.state.StartTime = nowMs - positionMs
	} else {
		t.state.StartTime = 0
	}
}

// Reset returns to idle at position zero
func (t *Timeline) Reset() {
	t.state = protocol.PlaybackState{}
}
