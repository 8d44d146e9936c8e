// ABOUTME: First-come host lock held by at most one connection
// ABOUTME: Request grants or denies, Release and disconnect free the slot
package coordinator

// HostLock is a single-slot, first-come lock deciding which connection is host.
// It is the only source of truth for the host flag.
type HostLock struct {
	holder string
	held   bool
}

// Request claims the lock for id. It grants when the lock is free or already
// held by id, and denies otherwise.
func (l *HostLock) Request(id string) bool {
	if !l.held {
		l.holder = id
		l.held = true
		return true
	}
	return l.holder == id
}

// Release frees the lock if id holds it and reports whether it did
func (l *HostLock) Release(id string) bool {
	if !l.held || l.holder != id {
		return false
	}
	l.holder = ""
	l.held = false
	return true
}

// Holder returns the current holder, if any
func (l *HostLock) Holder() (string, bool) {
	return l.holder, l.held
}

// Apply evaluates a requested host flag for id and returns the flag id ends up with
func (l *HostLock) Apply(id string, wantHost bool) bool {
	if wantHost {
		return l.Request(id)
	}
	l.Release(id)
	return false
}
