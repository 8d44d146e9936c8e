// ABOUTME: TUI update helpers for the relay
// ABOUTME: Turns coordinator snapshots into dashboard status
package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// requestRefresh asks tuiLoop for a redraw without blocking the caller
func (s *Server) requestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// tuiLoop pushes status on every broadcast and once a second for the position
func (s *Server) tuiLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.refresh:
		case <-ticker.C:
		}
		s.updateTUI()
	}
}

// updateTUI sends current relay state to the TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}

	status, err := s.status()
	if err != nil {
		log.Debug().Err(err).Msg("skipping TUI update")
		return
	}
	s.tui.Update(status)
}

func (s *Server) status() (ServerStatus, error) {
	snap, err := s.coord.Snapshot()
	if err != nil {
		return ServerStatus{}, err
	}

	status := ServerStatus{
		Name:       s.config.Name,
		Port:       s.config.Port,
		Uptime:     s.clock.Since(s.startTime),
		Clients:    snap.Roster,
		HostID:     snap.HostID,
		Mode:       snap.Mode.String(),
		PositionMs: snap.State.PositionAt(snap.ReferenceMs),
	}
	if snap.Track != nil {
		status.Track = snap.Track.Name
	}
	return status, nil
}
