// ABOUTME: Clock synchronization against the relay's reference clock
// ABOUTME: Runs bursts of round-trip probes and averages the lowest-RTT offsets
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Defaults for one sync run
const (
	DefaultProbeCount    = 20
	DefaultBestCount     = 5
	DefaultProbeInterval = 20 * time.Millisecond
	DefaultProbeTimeout  = time.Second
	DefaultStaleAfter    = 2 * time.Minute

	// Best RTT at or above this marks the sync as degraded
	degradedRTTMs = 50
)

// ErrNoSamples is returned when no probe in a run got a reply
var ErrNoSamples = errors.New("no clock samples collected")

// Prober performs one round trip against the reference clock. It returns the
// reference time at receipt and the echoed local send timestamp, both Unix ms.
type Prober interface {
	Probe(ctx context.Context, localSendMs int64) (referenceMs, echoedSendMs int64, err error)
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context, localSendMs int64) (int64, int64, error)

// Probe calls f
func (f ProberFunc) Probe(ctx context.Context, localSendMs int64) (int64, int64, error) {
	return f(ctx, localSendMs)
}

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// Sample is one completed probe
type Sample struct {
	LocalSend    int64 // Echoed device send time
	Reference    int64 // Reference clock at receipt
	LocalReceive int64 // Device clock when the reply arrived
}

// RoundTrip returns the probe's round-trip time in ms
func (s Sample) RoundTrip() int64 {
	return s.LocalReceive - s.LocalSend
}

// Offset returns reference - local at receipt, assuming symmetric delay
func (s Sample) Offset() float64 {
	estimatedReference := float64(s.Reference) + float64(s.RoundTrip())/2
	return estimatedReference - float64(s.LocalReceive)
}

// Config controls a sync run. ProbeInterval of zero sends probes back to back.
type Config struct {
	ProbeCount    int
	BestCount     int
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	StaleAfter    time.Duration
	Clock         clockwork.Clock
}

// DefaultConfig returns the standard 20-probe, best-5 configuration
func DefaultConfig() Config {
	return Config{
		ProbeCount:    DefaultProbeCount,
		BestCount:     DefaultBestCount,
		ProbeInterval: DefaultProbeInterval,
		ProbeTimeout:  DefaultProbeTimeout,
		StaleAfter:    DefaultStaleAfter,
		Clock:         clockwork.NewRealClock(),
	}
}

// Stats is a snapshot of the last completed run
type Stats struct {
	OffsetMs  float64
	BestRTTMs int64
	Samples   int
	Runs      int
	LastSync  time.Time
	Quality   Quality
}

// ClockSync holds the device's current estimate of reference - local
type ClockSync struct {
	cfg   Config
	clock clockwork.Clock

	mu       sync.RWMutex
	offset   float64 // ms, reference - local
	bestRTT  int64
	samples  int
	runs     int
	lastSync time.Time
	quality  Quality
}

// NewClockSync creates a clock synchronizer with offset 0
func NewClockSync(cfg Config) *ClockSync {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = DefaultProbeCount
	}
	if cfg.BestCount <= 0 {
		cfg.BestCount = DefaultBestCount
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	return &ClockSync{
		cfg:     cfg,
		clock:   cfg.Clock,
		quality: QualityLost,
	}
}

// Sync runs one burst of probes and stores the resulting offset. Runs are
// independent: a concurrent run keeps its own samples and the last one to
// finish wins. Lost probes are skipped. When nothing comes back the previous
// offset is kept and ErrNoSamples is returned.
func (cs *ClockSync) Sync(ctx context.Context, p Prober) (float64, error) {
	samples := make([]Sample, 0, cs.cfg.ProbeCount)

	for i := 0; i < cs.cfg.ProbeCount; i++ {
		if ctx.Err() != nil {
			break
		}

		sample, err := cs.probe(ctx, p)
		if err != nil {
			log.Debug().Err(err).Int("probe", i).Msg("clock probe lost")
		} else {
			samples = append(samples, sample)
		}

		if i < cs.cfg.ProbeCount-1 && cs.cfg.ProbeInterval > 0 {
			select {
			case <-cs.clock.After(cs.cfg.ProbeInterval):
			case <-ctx.Done():
			}
		}
	}

	offset, bestRTT, ok := Estimate(samples, cs.cfg.BestCount)
	if !ok {
		log.Warn().Int("probes", cs.cfg.ProbeCount).Msg("clock sync got no replies, keeping previous offset")
		return cs.Offset(), ErrNoSamples
	}

	cs.mu.Lock()
	cs.offset = offset
	cs.bestRTT = bestRTT
	cs.samples = len(samples)
	cs.runs++
	cs.lastSync = cs.clock.Now()
	if bestRTT < degradedRTTMs {
		cs.quality = QualityGood
	} else {
		cs.quality = QualityDegraded
	}
	cs.mu.Unlock()

	log.Info().
		Float64("offset_ms", offset).
		Int64("best_rtt_ms", bestRTT).
		Int("samples", len(samples)).
		Msg("clock synced")

	return offset, nil
}

func (cs *ClockSync) probe(ctx context.Context, p Prober) (Sample, error) {
	pctx, cancel := context.WithTimeout(ctx, cs.cfg.ProbeTimeout)
	defer cancel()

	send := cs.clock.Now().UnixMilli()
	reference, echoed, err := p.Probe(pctx, send)
	if err != nil {
		return Sample{}, fmt.Errorf("probe failed: %w", err)
	}
	receive := cs.clock.Now().UnixMilli()

	return Sample{LocalSend: echoed, Reference: reference, LocalReceive: receive}, nil
}

// Estimate sorts samples by round trip and averages the offsets of the best
// `best` of them. It reports false when samples is empty.
func Estimate(samples []Sample, best int) (offset float64, bestRTT int64, ok bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RoundTrip() < sorted[j].RoundTrip()
	})

	if best <= 0 || best > len(sorted) {
		best = len(sorted)
	}

	var sum float64
	for _, s := range sorted[:best] {
		sum += s.Offset()
	}

	return sum / float64(best), sorted[0].RoundTrip(), true
}

// Offset returns the current offset in ms (reference - local)
func (cs *ClockSync) Offset() float64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset
}

// EstimatedReferenceTime returns the local clock corrected by the current offset
func (cs *ClockSync) EstimatedReferenceTime() time.Time {
	return cs.clock.Now().Add(msToDuration(cs.Offset()))
}

// ReferenceNowMs returns EstimatedReferenceTime as Unix ms
func (cs *ClockSync) ReferenceNowMs() int64 {
	return cs.EstimatedReferenceTime().UnixMilli()
}

// ReferenceToLocal converts a reference timestamp (Unix ms) to local wall clock time
func (cs *ClockSync) ReferenceToLocal(referenceMs int64) time.Time {
	return time.UnixMilli(referenceMs).Add(-msToDuration(cs.Offset()))
}

// Stats returns sync statistics
func (cs *ClockSync) Stats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return Stats{
		OffsetMs:  cs.offset,
		BestRTTMs: cs.bestRTT,
		Samples:   cs.samples,
		Runs:      cs.runs,
		LastSync:  cs.lastSync,
		Quality:   cs.quality,
	}
}

// CheckQuality marks the sync lost once the last run is older than StaleAfter
func (cs *ClockSync) CheckQuality() Quality {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.runs == 0 || cs.clock.Since(cs.lastSync) > cs.cfg.StaleAfter {
		cs.quality = QualityLost
	}

	return cs.quality
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
