// ABOUTME: Tests for playback scheduling
// ABOUTME: Tests reference to local mapping, late starts and pending start cancellation
package player

import (
	"testing"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/audio"
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/jonboulle/clockwork"
)

const localNowMs = 1_700_000_000_000

func TestPlanStart(t *testing.T) {
	now := time.UnixMilli(localNowMs)

	tests := []struct {
		name      string
		startTime int64
		offsetMs  float64
		wantDelay time.Duration
		wantPos   time.Duration
	}{
		{"future start, no offset", localNowMs + 2000, 0, 2 * time.Second, 0},
		{"reference ahead of local", localNowMs + 2000, 500, 1500 * time.Millisecond, 0},
		{"reference behind local", localNowMs + 2000, -250, 2250 * time.Millisecond, 0},
		{"late join", localNowMs - 3000, 0, 0, 3 * time.Second},
		{"late after offset", localNowMs + 100, 600, 0, 500 * time.Millisecond},
		{"fractional offset", localNowMs + 1000, 0.5, 999500 * time.Microsecond, 0},
		{"exactly now", localNowMs, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanStart(protocol.PlaybackState{IsPlaying: true, StartTime: tt.startTime}, tt.offsetMs, now)
			if plan.Delay != tt.wantDelay {
				t.Errorf("expected delay %v, got %v", tt.wantDelay, plan.Delay)
			}
			if plan.Position != tt.wantPos {
				t.Errorf("expected position %v, got %v", tt.wantPos, plan.Position)
			}
			if !plan.At.Equal(now.Add(tt.wantDelay)) {
				t.Errorf("expected start at %v, got %v", now.Add(tt.wantDelay), plan.At)
			}
		})
	}
}

// recordingOutput records starts for assertions
type recordingOutput struct {
	starts chan time.Duration
	stops  int
	volume float64
}

func newRecordingOutput() *recordingOutput {
	return &recordingOutput{starts: make(chan time.Duration, 4), volume: 1}
}

func (r *recordingOutput) Start(_ *audio.PCM, position time.Duration) error {
	r.starts <- position
	return nil
}
func (r *recordingOutput) Stop() { r.stops++ }
func (r *recordingOutput) SetVolume(v float64) { r.volume = v }
func (r *recordingOutput) Volume() float64 { return r.volume }
func (r *recordingOutput) Close() error { return nil }

var testTrack = &audio.PCM{Format: audio.Format{SampleRate: 1000, Channels: 2}, Data: make([]byte, 40000)}

func TestSchedulerStartsAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(localNowMs))
	out := newRecordingOutput()
	s := NewScheduler(clock, out)

	plan := s.Schedule(testTrack, protocol.PlaybackState{IsPlaying: true, StartTime: localNowMs + 2000}, 0)
	if plan.Delay != 2*time.Second {
		t.Fatalf("expected 2s delay, got %v", plan.Delay)
	}
	if got := s.Countdown(); got != 2*time.Second {
		t.Errorf("expected countdown 2s, got %v", got)
	}

	clock.Advance(500 * time.Millisecond)
	if got := s.Countdown(); got != 1500*time.Millisecond {
		t.Errorf("expected countdown 1.5s, got %v", got)
	}

	clock.Advance(1500 * time.Millisecond)
	select {
	case pos := <-out.starts:
		if pos != 0 {
			t.Errorf("expected start at position 0, got %v", pos)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("output was not started")
	}
	if got := s.Countdown(); got != 0 {
		t.Errorf("expected countdown 0 after start, got %v", got)
	}
}

func TestSchedulerLateStartIsImmediate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(localNowMs))
	out := newRecordingOutput()
	s := NewScheduler(clock, out)

	s.Schedule(testTrack, protocol.PlaybackState{IsPlaying: true, StartTime: localNowMs - 1200}, 0)

	select {
	case pos := <-out.starts:
		if pos != 1200*time.Millisecond {
			t.Errorf("expected start 1.2s into the track, got %v", pos)
		}
	default:
		t.Fatal("expected immediate start")
	}
}

func TestSchedulerCancelDropsPendingStart(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(localNowMs))
	out := newRecordingOutput()
	s := NewScheduler(clock, out)

	s.Schedule(testTrack, protocol.PlaybackState{IsPlaying: true, StartTime: localNowMs + 1000}, 0)
	s.Cancel()
	clock.Advance(2 * time.Second)

	select {
	case pos := <-out.starts:
		t.Fatalf("unexpected start at %v after cancel", pos)
	case <-time.After(50 * time.Millisecond):
	}
	if s.Countdown() != 0 {
		t.Error("expected no countdown after cancel")
	}
}

func TestSchedulerRescheduleReplacesPending(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(localNowMs))
	out := newRecordingOutput()
	s := NewScheduler(clock, out)

	s.Schedule(testTrack, protocol.PlaybackState{IsPlaying: true, StartTime: localNowMs + 1000}, 0)
	s.Schedule(testTrack, protocol.PlaybackState{IsPlaying: true, StartTime: localNowMs + 3000}, 0)

	clock.Advance(1500 * time.Millisecond)
	select {
	case <-out.starts:
		t.Fatal("replaced start fired")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(1500 * time.Millisecond)
	select {
	case <-out.starts:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement start did not fire")
	}
}
