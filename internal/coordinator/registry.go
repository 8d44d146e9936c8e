// ABOUTME: Registry of connected sessions in connection order
// ABOUTME: Merges identity updates and projects the roster
package coordinator

import (
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
)

// Session defaults for a fresh connection
const (
	DefaultName   = "Unknown Device"
	DefaultVolume = 1.0
)

// Session is the relay's record of one connection
type Session struct {
	ID        string
	Name      string
	IsHost    bool
	Volume    float64
	Status    protocol.Status
	LatencyMs int64
}

// Registry keeps sessions in connection order. It is not safe for concurrent
// use; the coordinator goroutine owns it.
type Registry struct {
	order    []string
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers id with default fields. Adding a known id returns the existing session.
func (r *Registry) Add(id string) *Session {
	if s, ok := r.sessions[id]; ok {
		return s
	}

	s := &Session{
		ID:     id,
		Name:   DefaultName,
		Volume: DefaultVolume,
		Status: protocol.StatusIdle,
	}
	r.sessions[id] = s
	r.order = append(r.order, id)
	return s
}

// Remove deletes id and reports whether it was present
func (r *Registry) Remove(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}

	delete(r.sessions, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the session for id
func (r *Registry) Get(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of sessions
func (r *Registry) Len() int {
	return len(r.order)
}

// Merge applies the client-asserted fields of u. The host flag is not touched
// here; only ApplyHost writes IsHost.
func (r *Registry) Merge(id string, u protocol.IdentityUpdate) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}

	if u.Name != nil && *u.Name != "" {
		s.Name = *u.Name
	}
	if u.Volume != nil {
		s.Volume = clampVolume(*u.Volume)
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	return true
}

// ApplyHost recomputes every session's IsHost from the lock holder
func (r *Registry) ApplyHost(holder string, held bool) {
	for _, s := range r.sessions {
		s.IsHost = held && s.ID == holder
	}
}

// SetLatency records the latest one-way latency estimate for id
func (r *Registry) SetLatency(id string, ms int64) {
	if s, ok := r.sessions[id]; ok {
		s.LatencyMs = ms
	}
}

// SetStatus sets one session's status
func (r *Registry) SetStatus(id string, status protocol.Status) {
	if s, ok := r.sessions[id]; ok {
		s.Status = status
	}
}

// Transition moves every session in status from to status to
func (r *Registry) Transition(from, to protocol.Status) {
	for _, s := range r.sessions {
		if s.Status == from {
			s.Status = to
		}
	}
}

// SetAllStatus forces every session to status
func (r *Registry) SetAllStatus(status protocol.Status) {
	for _, s := range r.sessions {
		s.Status = status
	}
}

// Roster returns the wire roster in connection order
func (r *Registry) Roster() protocol.Roster {
	roster := make(protocol.Roster, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		roster = append(roster, protocol.ClientInfo{
			ID:        s.ID,
			Name:      s.Name,
			IsHost:    s.IsHost,
			Volume:    s.Volume,
			Status:    s.Status,
			LatencyMs: s.LatencyMs,
		})
	}
	return roster
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
