// ABOUTME: Maps relay playback state onto the local clock
// ABOUTME: Schedules the output to start when the shared timeline reaches the track start
package player

import (
	"sync"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/audio"
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Plan says when to start the output and where in the track
type Plan struct {
	// At is the local instant the output starts
	At time.Time
	// Delay is At minus now; zero when the start is already past
	Delay time.Duration
	// Position is where in the track playback begins
	Position time.Duration
}

// PlanStart maps state.StartTime into local time using offsetMs
// (reference - local). A start in the past begins late into the track.
func PlanStart(state protocol.PlaybackState, offsetMs float64, now time.Time) Plan {
	localStartMs := float64(state.StartTime) - offsetMs
	nowMs := float64(now.UnixNano()) / float64(time.Millisecond)
	delay := time.Duration((localStartMs - nowMs) * float64(time.Millisecond))

	if delay >= 0 {
		return Plan{At: now.Add(delay), Delay: delay}
	}
	return Plan{At: now, Position: -delay}
}

// Scheduler starts an Output at planned local times
type Scheduler struct {
	clock clockwork.Clock
	out   Output

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	pending bool
	plan    Plan
}

// NewScheduler creates a scheduler driving out
func NewScheduler(clock clockwork.Clock, out Output) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, out: out}
}

// Schedule replaces any pending start with one for state. It returns the plan used.
func (s *Scheduler) Schedule(track *audio.PCM, state protocol.PlaybackState, offsetMs float64) Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	s.out.Stop()

	plan := PlanStart(state, offsetMs, s.clock.Now())
	s.plan = plan

	log.Info().
		Int64("start_time", state.StartTime).
		Float64("offset_ms", offsetMs).
		Dur("delay", plan.Delay).
		Dur("position", plan.Position).
		Msg("playback scheduled")

	if plan.Delay == 0 {
		s.start(track, plan.Position)
		return plan
	}

	gen := s.gen
	s.pending = true
	s.timer = s.clock.AfterFunc(plan.Delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			return
		}
		s.pending = false
		s.start(track, plan.Position)
	})

	return plan
}

func (s *Scheduler) start(track *audio.PCM, position time.Duration) {
	if err := s.out.Start(track, position); err != nil {
		log.Error().Err(err).Msg("failed to start output")
	}
}

// Cancel drops any pending start and stops the output
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.out.Stop()
}

func (s *Scheduler) cancelLocked() {
	s.gen++
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Countdown returns the time left until a pending start, or zero
func (s *Scheduler) Countdown() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending {
		return 0
	}
	left := s.plan.At.Sub(s.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}
