package orchestrator

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// TimerConfig holds the clock durations for a session. The hard
// deadline is measured from session start and is never extended; the
// idle clock restarts on every activity ping.
type TimerConfig struct {
	IdleTimeout     time.Duration
	GracePeriod     time.Duration
	HardTimeout     time.Duration
	HardWarningLead time.Duration
}

type clockSet struct {
	mu      sync.Mutex
	idle    *time.Timer
	grace   *time.Timer
	hard    *time.Timer
	warning *time.Timer
	stopped bool
}

// TimerSupervisor owns the per-session clocks. Firing callbacks never
// mutate session state directly, they only hand an event back to the
// orchestrator, which serializes it with everything else touching the
// session.
type TimerSupervisor struct {
	cfg    TimerConfig
	fire   func(sessionID string, event Event)
	warn   func(sessionID string)
	clocks *xsync.MapOf[string, *clockSet]
}

func NewTimerSupervisor(cfg TimerConfig, fire func(sessionID string, event Event), warn func(sessionID string)) *TimerSupervisor {
	return &TimerSupervisor{
		cfg:    cfg,
		fire:   fire,
		warn:   warn,
		clocks: xsync.NewMapOf[string, *clockSet](),
	}
}

// StartClocks arms the idle and hard clocks for a freshly activated
// session. Remaining durations are measured against the supplied
// timestamps so that restart recovery does not grant extra time.
func (t *TimerSupervisor) StartClocks(sessionID string, startedAt, lastActivityAt time.Time) {
	cs := &clockSet{}
	if old, loaded := t.clocks.LoadAndStore(sessionID, cs); loaded {
		stopClockSet(old)
	}

	now := time.Now()
	hardRemaining := t.cfg.HardTimeout - now.Sub(startedAt)
	idleRemaining := t.cfg.IdleTimeout - now.Sub(lastActivityAt)
	warnRemaining := hardRemaining - t.cfg.HardWarningLead

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.hard = time.AfterFunc(clampDuration(hardRemaining), func() {
		t.fire(sessionID, EventHardExpired)
	})
	cs.idle = time.AfterFunc(clampDuration(idleRemaining), func() {
		t.fire(sessionID, EventIdleExpired)
	})
	if t.warn != nil && t.cfg.HardWarningLead > 0 && warnRemaining > 0 {
		cs.warning = time.AfterFunc(warnRemaining, func() {
			t.warn(sessionID)
		})
	}
	log.Trace().Str("session_id", sessionID).
		Dur("idle_remaining", idleRemaining).
		Dur("hard_remaining", hardRemaining).
		Msg("session clocks armed")
}

// ResetIdle restarts the idle countdown after doctor activity. The
// hard clock is deliberately untouched.
func (t *TimerSupervisor) ResetIdle(sessionID string) {
	cs, ok := t.clocks.Load(sessionID)
	if !ok {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.stopped {
		return
	}
	if cs.idle != nil {
		cs.idle.Stop()
	}
	cs.idle = time.AfterFunc(t.cfg.IdleTimeout, func() {
		t.fire(sessionID, EventIdleExpired)
	})
}

// StartGrace arms the grace countdown after an idle warning.
func (t *TimerSupervisor) StartGrace(sessionID string) {
	cs, ok := t.clocks.Load(sessionID)
	if !ok {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.stopped {
		return
	}
	if cs.grace != nil {
		cs.grace.Stop()
	}
	cs.grace = time.AfterFunc(t.cfg.GracePeriod, func() {
		t.fire(sessionID, EventGraceExpired)
	})
}

// CancelGrace disarms the grace countdown when the doctor comes back.
func (t *TimerSupervisor) CancelGrace(sessionID string) {
	cs, ok := t.clocks.Load(sessionID)
	if !ok {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.grace != nil {
		cs.grace.Stop()
		cs.grace = nil
	}
}

// StopAll disarms every clock for the session. Safe to call more than
// once and for sessions that never had clocks.
func (t *TimerSupervisor) StopAll(sessionID string) {
	cs, ok := t.clocks.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	stopClockSet(cs)
}

func stopClockSet(cs *clockSet) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.stopped = true
	for _, timer := range []*time.Timer{cs.idle, cs.grace, cs.hard, cs.warning} {
		if timer != nil {
			timer.Stop()
		}
	}
	cs.idle, cs.grace, cs.hard, cs.warning = nil, nil, nil, nil
}

// clampDuration floors deadlines that already passed, e.g. when
// recovering a session whose hard deadline expired during a restart.
func clampDuration(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
