// ABOUTME: Tests for player application orchestration
// ABOUTME: Tests player construction and a full connect against an in-process relay
package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/player"
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/Vimlesh-Kumar/zync/internal/server"
)

func TestNewPlayer(t *testing.T) {
	tests := []struct {
		name   string
		audio  bool
		silent bool
	}{
		{"device output", true, false},
		{"silent output", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Config{Name: "test-player", Audio: tt.audio})
			if p.clockSync == nil || p.controls == nil {
				t.Fatal("expected sync and controls to be initialized")
			}
			_, silent := p.output.(*player.Silent)
			if silent != tt.silent {
				t.Errorf("expected silent=%v, got %T", tt.silent, p.output)
			}
		})
	}
}

func TestDiscoveryTimeout(t *testing.T) {
	p := New(Config{Name: "lonely", DiscoverTimeout: 10 * time.Millisecond})
	defer p.Stop()

	if _, err := p.resolve(context.Background()); !errors.Is(err, ErrNoRelay) {
		t.Errorf("expected ErrNoRelay, got %v", err)
	}
}

func TestPlayerJoinsRelay(t *testing.T) {
	srv, err := server.New(server.Config{Name: "test-relay"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coordDone := make(chan struct{})
	go func() {
		_ = srv.Coordinator().Run(ctx)
		close(coordDone)
	}()
	defer func() {
		cancel()
		<-coordDone
	}()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	p := New(Config{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		Name:       "den",
		WantHost:   true,
		ProbeCount: 3,
	})

	errc := make(chan error, 1)
	go func() { errc <- p.Start(context.Background()) }()

	var roster protocol.Roster
	waitFor(t, "player in roster", func() bool {
		snap, err := srv.Coordinator().Snapshot()
		if err != nil {
			return false
		}
		roster = snap.Roster
		return len(roster) == 1 && roster[0].Name == "den" && roster[0].IsHost
	})

	p.Stop()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("player did not stop")
	}
}
