// ABOUTME: Plain HTTP endpoints served next to the WebSocket
// ABOUTME: Health check and /info status for the relay
package server

import (
	"encoding/json"
	"net/http"

	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/Vimlesh-Kumar/zync/internal/version"
	"github.com/rs/zerolog/log"
)

// Info is the /info response
type Info struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Product     string                   `json:"product"`
	Version     string                   `json:"version"`
	Connections int                      `json:"connections"`
	Host        string                   `json:"host,omitempty"`
	Mode        string                   `json:"mode"`
	Playback    protocol.PlaybackState   `json:"playback"`
	PositionMs  int64                    `json:"positionMs"`
	Track       *protocol.AudioAvailable `json:"track,omitempty"`
	ReferenceMs int64                    `json:"referenceTime"`
	Clients     protocol.Roster          `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.Snapshot()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, protocol.ErrorPayload{Error: "unavailable", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, Info{
		ID:          s.serverID,
		Name:        s.config.Name,
		Product:     version.Product,
		Version:     version.Version,
		Connections: s.hub.Count(),
		Host:        snap.HostID,
		Mode:        snap.Mode.String(),
		Playback:    snap.State,
		PositionMs:  snap.State.PositionAt(snap.ReferenceMs),
		Track:       snap.Track,
		ReferenceMs: snap.ReferenceMs,
		Clients:     snap.Roster,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}
