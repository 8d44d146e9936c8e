// ABOUTME: Tests for the player session against a scripted relay
// ABOUTME: Tests identity announce, track download, scheduled starts and remote volume
package app

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/audio"
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/Vimlesh-Kumar/zync/internal/sync"
	"github.com/Vimlesh-Kumar/zync/internal/ui"
	"github.com/jonboulle/clockwork"
)

const (
	localNowMs = 1_700_000_000_000
	// The relay clock runs this far ahead of the device
	relayAheadMs = 250
)

// fakeRelay answers like a relay whose clock is relayAheadMs ahead
type fakeRelay struct {
	clock   clockwork.Clock
	track   *protocol.TrackPayload
	updates chan protocol.IdentityUpdate
	sent    chan string
	events  chan protocol.Event
	done    chan struct{}

	mu      gosync.Mutex
	gate    chan struct{} // non-nil holds probes until closed
	probing chan struct{}
}

func newFakeRelay(clock clockwork.Clock, track *protocol.TrackPayload) *fakeRelay {
	return &fakeRelay{
		clock:   clock,
		track:   track,
		updates: make(chan protocol.IdentityUpdate, 32),
		sent:    make(chan string, 8),
		events:  make(chan protocol.Event, 8),
		done:    make(chan struct{}),
		probing: make(chan struct{}, 8),
	}
}

func (r *fakeRelay) Probe(ctx context.Context, send int64) (int64, int64, error) {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()

	if gate != nil {
		select {
		case r.probing <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		}
	}
	return r.clock.Now().UnixMilli() + relayAheadMs, send, nil
}

// holdProbes blocks every later probe until the returned release is called
func (r *fakeRelay) holdProbes() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()

	var once gosync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

func (r *fakeRelay) RequestAudio(context.Context) (*protocol.TrackPayload, error) {
	return r.track, nil
}

func (r *fakeRelay) UpdateIdentity(u protocol.IdentityUpdate) error {
	r.updates <- u
	return nil
}

func (r *fakeRelay) Play(*int64) error {
	r.sent <- "play"
	return nil
}

func (r *fakeRelay) Pause() error {
	r.sent <- "pause"
	return nil
}

func (r *fakeRelay) Stop() error {
	r.sent <- "stop"
	return nil
}

func (r *fakeRelay) Seek(pos int64) error {
	r.sent <- "seek:" + (time.Duration(pos) * time.Millisecond).String()
	return nil
}

func (r *fakeRelay) Events() <-chan protocol.Event { return r.events }

func (r *fakeRelay) Done() <-chan struct{} { return r.done }

// recordingOutput records output calls
type recordingOutput struct {
	mu      gosync.Mutex
	starts  chan time.Duration
	stopped int
	volume  float64
}

func (o *recordingOutput) Start(_ *audio.PCM, pos time.Duration) error {
	o.starts <- pos
	return nil
}

func (o *recordingOutput) Stop() {
	o.mu.Lock()
	o.stopped++
	o.mu.Unlock()
}

func (o *recordingOutput) SetVolume(v float64) {
	o.mu.Lock()
	o.volume = min(max(v, 0), 1)
	o.mu.Unlock()
}

func (o *recordingOutput) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

func (o *recordingOutput) Close() error { return nil }

// testWAV is a one second 1 kHz mono WAV
func testWAV() []byte {
	body := make([]byte, 2000)
	var b []byte
	b = append(b, "RIFF"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(36+len(body)))
	b = append(b, "WAVEfmt "...)
	b = binary.LittleEndian.AppendUint32(b, 16)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint32(b, 1000)
	b = binary.LittleEndian.AppendUint32(b, 2000)
	b = binary.LittleEndian.AppendUint16(b, 2)
	b = binary.LittleEndian.AppendUint16(b, 16)
	b = append(b, "data"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(body)))
	return append(b, body...)
}

type fixture struct {
	clock *clockwork.FakeClock
	relay *fakeRelay
	out   *recordingOutput
	sess  *session
	errc  chan error
}

func newFixture(t *testing.T, wantHost bool) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.UnixMilli(localNowMs))
	relay := newFakeRelay(clock, &protocol.TrackPayload{Name: "tone.wav", Type: "audio/wav", Bytes: testWAV()})
	out := &recordingOutput{starts: make(chan time.Duration, 4)}

	syncCfg := sync.DefaultConfig()
	syncCfg.Clock = clock
	syncCfg.ProbeCount = 3
	syncCfg.ProbeInterval = 0

	sess := newSession(relay, sessionConfig{
		Name:      "kitchen",
		WantHost:  wantHost,
		Volume:    1,
		Clock:     clock,
		ClockSync: sync.NewClockSync(syncCfg),
		Output:    out,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{clock: clock, relay: relay, out: out, sess: sess, errc: make(chan error, 1)}
	go func() { f.errc <- sess.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-f.errc
	})

	waitFor(t, "first clock sync", f.synced)
	return f
}

func (f *fixture) synced() bool {
	f.sess.mu.Lock()
	defer f.sess.mu.Unlock()
	return f.sess.state.synced
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// nextStatus skips updates until one carries a status
func (f *fixture) nextStatus(t *testing.T) protocol.Status {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-f.relay.updates:
			if u.Status != nil {
				return *u.Status
			}
		case <-timeout:
			t.Fatal("no status update")
		}
	}
}

// loadTrack announces the track and waits for the device to report Ready
func (f *fixture) loadTrack(t *testing.T) {
	t.Helper()
	f.relay.events <- protocol.AudioAvailable{Name: "tone.wav", Type: "audio/wav"}
	if got := f.nextStatus(t); got != protocol.StatusDownloading {
		t.Fatalf("expected Downloading, got %s", got)
	}
	if got := f.nextStatus(t); got != protocol.StatusReady {
		t.Fatalf("expected Ready, got %s", got)
	}
}

func TestAnnounceOnConnect(t *testing.T) {
	f := newFixture(t, true)

	u := <-f.relay.updates
	if u.Name == nil || *u.Name != "kitchen" {
		t.Errorf("expected name kitchen, got %v", u.Name)
	}
	if u.IsHost == nil || !*u.IsHost {
		t.Error("expected host request")
	}
	if u.Volume == nil || *u.Volume != 1 {
		t.Errorf("expected volume 1, got %v", u.Volume)
	}
	if u.Status == nil || *u.Status != protocol.StatusIdle {
		t.Errorf("expected Idle, got %v", u.Status)
	}

	if off := f.sess.sync.Offset(); off != relayAheadMs {
		t.Errorf("expected offset %d, got %v", relayAheadMs, off)
	}
}

func TestTrackDownloadAndScheduledPlay(t *testing.T) {
	f := newFixture(t, false)
	<-f.relay.updates // announce
	f.loadTrack(t)

	relayNow := int64(localNowMs + relayAheadMs)
	f.relay.events <- protocol.StateEvent{
		Kind:  protocol.KindPlay,
		State: protocol.PlaybackState{IsPlaying: true, StartTime: relayNow + 2000},
	}
	if got := f.nextStatus(t); got != protocol.StatusPlaying {
		t.Fatalf("expected Playing, got %s", got)
	}

	if cd := f.sess.status().Countdown; cd != 2*time.Second {
		t.Errorf("expected 2s countdown, got %v", cd)
	}

	f.clock.Advance(2 * time.Second)
	select {
	case pos := <-f.out.starts:
		if pos != 0 {
			t.Errorf("expected start from 0, got %v", pos)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("output never started")
	}

	f.relay.events <- protocol.StateEvent{
		Kind:  protocol.KindPause,
		State: protocol.PlaybackState{ElapsedMs: 500},
	}
	if got := f.nextStatus(t); got != protocol.StatusReady {
		t.Fatalf("expected Ready after pause, got %s", got)
	}
	if mode := f.sess.status().Mode; mode != "paused" {
		t.Errorf("expected paused mode, got %s", mode)
	}
}

func TestPlayScheduledDuringSyncRun(t *testing.T) {
	f := newFixture(t, false)
	<-f.relay.updates
	f.loadTrack(t)

	release := f.relay.holdProbes()
	defer release()

	f.sess.handleAction(context.Background(), ui.Action{Kind: ui.ActionResync})
	select {
	case <-f.relay.probing:
	case <-time.After(2 * time.Second):
		t.Fatal("resync never probed")
	}

	relayNow := int64(localNowMs + relayAheadMs)
	f.relay.events <- protocol.StateEvent{
		Kind:  protocol.KindPlay,
		State: protocol.PlaybackState{IsPlaying: true, StartTime: relayNow + 500},
	}
	if got := f.nextStatus(t); got != protocol.StatusPlaying {
		t.Fatalf("expected Playing while sync is in flight, got %s", got)
	}

	f.clock.Advance(500 * time.Millisecond)
	select {
	case pos := <-f.out.starts:
		if pos != 0 {
			t.Errorf("expected start from 0, got %v", pos)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("output did not start while a sync run was in flight")
	}
}

func TestManualResyncRunsAlongsideHeldRun(t *testing.T) {
	f := newFixture(t, false)
	<-f.relay.updates

	release := f.relay.holdProbes()
	defer release()

	for run := 1; run <= 2; run++ {
		f.sess.handleAction(context.Background(), ui.Action{Kind: ui.ActionResync})
		select {
		case <-f.relay.probing:
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("sync run %d did not start probing", run)
		}
	}
}

func TestUndecodableTrackReportsIdle(t *testing.T) {
	f := newFixture(t, false)
	f.relay.track = &protocol.TrackPayload{Name: "notes.txt", Type: "text/plain", Bytes: []byte("not audio")}

	f.relay.events <- protocol.AudioAvailable{Name: "notes.txt", Type: "text/plain"}
	if got := f.nextStatus(t); got != protocol.StatusDownloading {
		t.Fatalf("expected Downloading, got %s", got)
	}
	if got := f.nextStatus(t); got != protocol.StatusIdle {
		t.Fatalf("expected Idle after a failed decode, got %s", got)
	}

	// A play with no loaded track is held rather than started
	f.relay.events <- protocol.StateEvent{Kind: protocol.KindPlay, State: protocol.PlaybackState{IsPlaying: true, StartTime: localNowMs}}
	select {
	case pos := <-f.out.starts:
		t.Fatalf("unexpected start at %v", pos)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLateJoinStartsIntoTrack(t *testing.T) {
	f := newFixture(t, false)
	<-f.relay.updates

	// Playing started 400ms ago on the relay clock, before the track arrived
	relayNow := int64(localNowMs + relayAheadMs)
	f.relay.events <- protocol.StateEvent{
		Kind:  protocol.KindPlaybackState,
		State: protocol.PlaybackState{IsPlaying: true, StartTime: relayNow - 400},
	}
	f.loadTrack(t)

	select {
	case pos := <-f.out.starts:
		if pos != 400*time.Millisecond {
			t.Errorf("expected start 400ms in, got %v", pos)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deferred play never started")
	}
	if got := f.nextStatus(t); got != protocol.StatusPlaying {
		t.Errorf("expected Playing, got %s", got)
	}
}

func TestRemoteSetVolume(t *testing.T) {
	f := newFixture(t, false)
	<-f.relay.updates

	f.relay.events <- protocol.RemoteControl{Action: protocol.ActionSetVolume, Value: json.RawMessage(`0.3`)}

	select {
	case u := <-f.relay.updates:
		if u.Volume == nil || *u.Volume != 0.3 {
			t.Errorf("expected echoed volume 0.3, got %v", u.Volume)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("volume was not echoed")
	}
	if f.out.Volume() != 0.3 {
		t.Errorf("expected output volume 0.3, got %v", f.out.Volume())
	}

	// Unknown actions are ignored
	f.relay.events <- protocol.RemoteControl{Action: "reboot"}
	f.relay.events <- protocol.RemoteControl{Action: protocol.ActionSetVolume, Value: json.RawMessage(`2`)}
	u := <-f.relay.updates
	if u.Volume == nil || *u.Volume != 1 {
		t.Errorf("expected clamped volume 1, got %v", u.Volume)
	}
}

func TestIdentityCorrected(t *testing.T) {
	f := newFixture(t, true)
	<-f.relay.updates

	f.relay.events <- protocol.IdentityCorrected{IsHost: false}
	waitFor(t, "host flag cleared", func() bool { return !*f.sess.status().IsHost })
}

func TestActions(t *testing.T) {
	f := newFixture(t, false)
	<-f.relay.updates
	ctx := context.Background()

	f.sess.handleAction(ctx, ui.Action{Kind: ui.ActionToggleHost})
	if u := <-f.relay.updates; u.IsHost == nil || !*u.IsHost {
		t.Errorf("expected host request, got %+v", u)
	}

	f.sess.handleAction(ctx, ui.Action{Kind: ui.ActionPlay})
	if got := <-f.relay.sent; got != "play" {
		t.Errorf("expected play, got %s", got)
	}

	// Paused at 5s: seeking back 10s clamps to 0
	f.relay.events <- protocol.StateEvent{Kind: protocol.KindPause, State: protocol.PlaybackState{ElapsedMs: 5000}}
	waitFor(t, "pause applied", func() bool { return f.sess.status().Mode == "paused" })

	f.sess.handleAction(ctx, ui.Action{Kind: ui.ActionSeek, Delta: -10 * time.Second})
	if got := <-f.relay.sent; got != "seek:0s" {
		t.Errorf("expected seek to 0, got %s", got)
	}
	f.sess.handleAction(ctx, ui.Action{Kind: ui.ActionSeek, Delta: 10 * time.Second})
	if got := <-f.relay.sent; got != "seek:15s" {
		t.Errorf("expected seek to 15s, got %s", got)
	}
}

func TestRelayDisconnectEndsSession(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(localNowMs))
	relay := newFakeRelay(clock, nil)
	sess := newSession(relay, sessionConfig{
		Name:      "x",
		Volume:    1,
		Clock:     clock,
		ClockSync: sync.NewClockSync(sync.Config{Clock: clock, ProbeCount: 1}),
		Output:    &recordingOutput{starts: make(chan time.Duration, 1)},
	})

	errc := make(chan error, 1)
	go func() { errc <- sess.run(context.Background()) }()
	close(relay.done)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("expected ErrDisconnected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}
