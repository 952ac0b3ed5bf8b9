// Package registry tracks live account sessions and their outstanding
// pairing codes. One Registry is shared by every account task.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

// State is the lifecycle position of an account session.
type State int

const (
	StateAbsent State = iota
	StatePairing
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StatePairing:
		return "pairing"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "absent"
	}
}

// Session is a snapshot of one registry entry. Conn is set only while
// connected and Code only while pairing; never both.
type Session struct {
	Account string
	State   State
	Conn    protocol.Conn
	Code    string
	Phone   string
	Attempt uint64
	Since   time.Time

	stop func()
}

// Stop cancels the connection attempt that owns this session, if any.
func (s Session) Stop() {
	if s.stop != nil {
		s.stop()
	}
}

// Registry is an in-memory map from account id to session.
// Every mutation that originates from a connection attempt carries the
// attempt token handed out by Claim or Resume; mismatched tokens are
// rejected so a stale attempt can never overwrite a newer one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	attempts uint64
	now      func() time.Time
}

// Option configures the Registry.
type Option func(*Registry)

// WithClock sets a custom time function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		r.now = fn
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns a snapshot of the account's session.
func (r *Registry) Get(account string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[account]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Claim inserts a pairing entry for an absent account and returns it with
// ok=true. If the account already has an entry, that entry is returned with
// ok=false and nothing changes. stop is invoked by Session.Stop.
func (r *Registry) Claim(account string, stop func()) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[account]; ok {
		return *s, false
	}
	r.attempts++
	s := &Session{
		Account: account,
		State:   StatePairing,
		Attempt: r.attempts,
		Since:   r.now(),
		stop:    stop,
	}
	r.sessions[account] = s
	return *s, true
}

// Put records an established connection for the attempt, dropping any
// pairing code.
func (r *Registry) Put(account string, attempt uint64, conn protocol.Conn, phone string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[account]
	if !ok || s.Attempt != attempt {
		return false
	}
	s.State = StateConnected
	s.Conn = conn
	s.Phone = phone
	s.Code = ""
	s.Since = r.now()
	return true
}

// SetPairingCode stores the latest pairing code for a pairing attempt.
// It refuses when the session is already connected.
func (r *Registry) SetPairingCode(account string, attempt uint64, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[account]
	if !ok || s.Attempt != attempt || s.State != StatePairing {
		return false
	}
	s.Code = code
	return true
}

// HasPairingCode reports whether the account is waiting on a scan.
func (r *Registry) HasPairingCode(account string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[account]
	return ok && s.Code != ""
}

// ClearPairingCode forgets the account's pairing code.
func (r *Registry) ClearPairingCode(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[account]; ok {
		s.Code = ""
	}
}

// MarkReconnecting parks the attempt's entry while a retry timer runs.
// The entry keeps the account claimed so no duplicate attempt can start.
func (r *Registry) MarkReconnecting(account string, attempt uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[account]
	if !ok || s.Attempt != attempt {
		return false
	}
	s.State = StateReconnecting
	s.Conn = nil
	s.Code = ""
	s.Phone = ""
	s.stop = nil
	s.Since = r.now()
	return true
}

// Resume moves a reconnecting entry back to pairing under a new attempt
// token. It fails when the entry was removed or replaced in the meantime.
func (r *Registry) Resume(account string, attempt uint64, stop func()) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[account]
	if !ok || s.Attempt != attempt || s.State != StateReconnecting {
		return Session{}, false
	}
	r.attempts++
	s.State = StatePairing
	s.Attempt = r.attempts
	s.Since = r.now()
	s.stop = stop
	return *s, true
}

// Remove deletes the account's entry and returns what was there.
func (r *Registry) Remove(account string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[account]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, account)
	return *s, true
}

// RemoveAttempt deletes the entry only if it still belongs to attempt.
func (r *Registry) RemoveAttempt(account string, attempt uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[account]
	if !ok || s.Attempt != attempt {
		return false
	}
	delete(r.sessions, account)
	return true
}

// Snapshot returns every session sorted by account id.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Len returns the number of tracked accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
