// ABOUTME: Main player application orchestration
// ABOUTME: Finds a relay, connects, and wires clock sync, playback and the TUI together
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/client"
	"github.com/Vimlesh-Kumar/zync/internal/discovery"
	"github.com/Vimlesh-Kumar/zync/internal/player"
	"github.com/Vimlesh-Kumar/zync/internal/sync"
	"github.com/Vimlesh-Kumar/zync/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNoRelay is returned when discovery finds no relay in time
var ErrNoRelay = errors.New("no relay discovered")

const refreshInterval = 100 * time.Millisecond

// Config holds player configuration
type Config struct {
	ServerAddr      string
	Port            int
	Name            string
	WantHost        bool
	UseTUI          bool
	Audio           bool
	SyncInterval    time.Duration
	ProbeCount      int
	ProbeInterval   time.Duration
	DiscoverTimeout time.Duration
	Clock           clockwork.Clock
}

// Player represents the main player application
type Player struct {
	config    Config
	clock     clockwork.Clock
	clockSync *sync.ClockSync
	output    player.Output
	discovery *discovery.Manager
	controls  *ui.Controls
	tuiProg   *tea.Program
	refresh   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new player
func New(config Config) *Player {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	syncCfg := sync.DefaultConfig()
	syncCfg.Clock = config.Clock
	if config.ProbeCount > 0 {
		syncCfg.ProbeCount = config.ProbeCount
	}
	syncCfg.ProbeInterval = config.ProbeInterval

	var out player.Output
	if config.Audio {
		out = player.NewOto()
	} else {
		out = player.NewSilent(config.Clock)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Player{
		config:    config,
		clock:     config.Clock,
		clockSync: sync.NewClockSync(syncCfg),
		output:    out,
		controls:  ui.NewControls(),
		refresh:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the player until ctx ends, the user quits, or the relay goes away
func (p *Player) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if p.config.UseTUI {
		p.tuiProg = ui.Run(p.controls)
		go func() {
			if _, err := p.tuiProg.Run(); err != nil {
				log.Error().Err(err).Msg("TUI error")
			}
			p.cancel()
		}()
		defer p.tuiProg.Quit()
	}

	addr, err := p.resolve(ctx)
	if err != nil {
		return err
	}

	conn, err := client.Dial(ctx, client.Config{ServerAddr: addr})
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()

	log.Info().Str("relay", addr).Str("name", p.config.Name).Msg("connected to relay")
	p.send(ui.StatusMsg{Connected: boolPtr(true), ServerName: addr})

	sess := newSession(conn, sessionConfig{
		Name:         p.config.Name,
		WantHost:     p.config.WantHost,
		Volume:       1,
		SyncInterval: p.config.SyncInterval,
		Clock:        p.clock,
		ClockSync:    p.clockSync,
		Output:       p.output,
		Notify:       p.requestRefresh,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.run(gctx) })
	g.Go(func() error { return p.controlLoop(gctx, sess) })
	if p.tuiProg != nil {
		g.Go(func() error { return p.refreshLoop(gctx, sess) })
	}

	err = g.Wait()
	p.send(ui.StatusMsg{Connected: boolPtr(false)})
	if errors.Is(err, ErrDisconnected) {
		log.Warn().Msg("relay connection ended")
	}
	return err
}

// resolve returns the manual address or the first relay found over mDNS
func (p *Player) resolve(ctx context.Context) (string, error) {
	if p.config.ServerAddr != "" {
		return p.config.ServerAddr, nil
	}

	p.discovery = discovery.NewManager(discovery.Config{
		ServiceName: p.config.Name,
		Port:        p.config.Port,
	})

	if err := p.discovery.Advertise(); err != nil {
		log.Warn().Err(err).Msg("failed to advertise player")
	}
	if err := p.discovery.Browse(); err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}

	log.Info().Dur("timeout", p.config.DiscoverTimeout).Msg("searching for relay via mDNS")

	var timeout <-chan time.Time
	if p.config.DiscoverTimeout > 0 {
		timeout = p.clock.After(p.config.DiscoverTimeout)
	}

	select {
	case server := <-p.discovery.Servers():
		return server.Address(), nil
	case <-timeout:
		return "", ErrNoRelay
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// controlLoop applies TUI actions
func (p *Player) controlLoop(ctx context.Context, sess *session) error {
	for {
		select {
		case a := <-p.controls.Actions:
			if a.Kind == ui.ActionQuit {
				p.cancel()
				return nil
			}
			sess.handleAction(ctx, a)
		case <-ctx.Done():
			return nil
		}
	}
}

// refreshLoop pushes session state to the TUI on change and on a short tick
// so the countdown and position keep moving
func (p *Player) refreshLoop(ctx context.Context, sess *session) error {
	ticker := p.clock.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.refresh:
		case <-ticker.Chan():
		case <-ctx.Done():
			return nil
		}
		p.send(sess.status())
	}
}

func (p *Player) requestRefresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

func (p *Player) send(msg ui.StatusMsg) {
	if p.tuiProg != nil {
		p.tuiProg.Send(msg)
	}
}

// Stop stops the player
func (p *Player) Stop() {
	p.cancel()

	if p.discovery != nil {
		p.discovery.Stop()
	}

	if p.output != nil {
		if err := p.output.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close audio output")
		}
	}
}

func boolPtr(b bool) *bool { return &b }
