// Package pool tracks the fixed set of remote-host user slots. One
// slot backs exactly one non-terminal session; acquire and release are
// atomic across concurrent callers. The pool has its own lock, taken
// strictly after any per-session lock to keep lock ordering consistent.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrExhausted means every slot is bound. This is a normal, retryable
// at-capacity condition, not an internal error.
var ErrExhausted = errors.New("all host user slots are in use")

// Slot is one reusable remote-host identity.
type Slot struct {
	HostUser  string `json:"host_user"`
	SessionID string `json:"session_id,omitempty"`
}

type Pool struct {
	mu    sync.Mutex
	free  []string
	bound map[string]string // host user -> session id
}

func New(hostUsers []string) *Pool {
	free := make([]string, len(hostUsers))
	copy(free, hostUsers)
	return &Pool{
		free:  free,
		bound: map[string]string{},
	}
}

// Acquire binds a free slot to the given session. No two concurrent
// callers can receive the same slot.
func (p *Pool) Acquire(sessionID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return "", ErrExhausted
	}

	hostUser := p.free[0]
	p.free = p.free[1:]
	p.bound[hostUser] = sessionID

	log.Trace().
		Str("host_user", hostUser).
		Str("session_id", sessionID).
		Int("free_slots", len(p.free)).
		Msg("acquired pool slot")

	return hostUser, nil
}

// Release returns a slot to the free list. Only a terminal transition
// of the bound session triggers this; releasing an unbound slot is a
// no-op so terminal paths stay idempotent.
func (p *Pool) Release(hostUser string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.bound[hostUser]; !ok {
		return
	}
	delete(p.bound, hostUser)
	p.free = append(p.free, hostUser)

	log.Trace().
		Str("host_user", hostUser).
		Int("free_slots", len(p.free)).
		Msg("released pool slot")
}

// Bind marks a specific slot as held by a session. Used on startup to
// rebuild pool state from non-terminal session records.
func (p *Pool) Bind(hostUser, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, free := range p.free {
		if free == hostUser {
			p.free = append(p.free[:i], p.free[i+1:]...)
			p.bound[hostUser] = sessionID
			return nil
		}
	}
	if existing, ok := p.bound[hostUser]; ok {
		return fmt.Errorf("host user %s already bound to session %s", hostUser, existing)
	}
	return fmt.Errorf("unknown host user: %s", hostUser)
}

func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free) + len(p.bound)
}

func (p *Pool) BoundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bound)
}

// Snapshot returns the current slot assignments for monitoring.
func (p *Pool) Snapshot() []Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	slots := make([]Slot, 0, len(p.free)+len(p.bound))
	for _, hostUser := range p.free {
		slots = append(slots, Slot{HostUser: hostUser})
	}
	for hostUser, sessionID := range p.bound {
		slots = append(slots, Slot{HostUser: hostUser, SessionID: sessionID})
	}
	return slots
}
