package orchestrator

import (
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

// Event is something that happened to a session: a provisioning
// outcome, a doctor action, or a clock firing.
type Event string

const (
	EventProvisionSucceeded Event = "provision_succeeded"
	EventProvisionFailed    Event = "provision_failed"
	EventActivity           Event = "activity"
	EventIdleExpired        Event = "idle_expired"
	EventGraceExpired       Event = "grace_expired"
	EventHardExpired        Event = "hard_expired"
	EventEndRequested       Event = "end_requested"
	EventCleanupFinished    Event = "cleanup_finished"
)

// Effect is a side effect the orchestrator must carry out after
// committing a transition. The state machine itself stays pure; it
// only names the work.
type Effect string

const (
	EffectStartClocks       Effect = "start_clocks"
	EffectResetIdleClock    Effect = "reset_idle_clock"
	EffectStartGraceClock   Effect = "start_grace_clock"
	EffectCancelGraceClock  Effect = "cancel_grace_clock"
	EffectStopClocks        Effect = "stop_clocks"
	EffectNotifyIdleWarning Effect = "notify_idle_warning"
	EffectCleanup           Effect = "cleanup"
	EffectReleaseSlot       Effect = "release_slot"
)

// Transition is the result of applying an event to a status. Ignored
// transitions leave the session untouched but are still audited, so
// late timer fires and duplicate requests leave a trace.
type Transition struct {
	Next    types.SessionStatus
	Effects []Effect
	Ignored bool
}

// Apply is the single source of truth for session lifecycle moves.
// Callers must serialize invocations per session; the table assumes
// one event at a time.
func Apply(current types.SessionStatus, event Event) Transition {
	switch current {
	case types.SessionStatusCreating:
		switch event {
		case EventProvisionSucceeded:
			return Transition{Next: types.SessionStatusActive, Effects: []Effect{EffectStartClocks}}
		case EventProvisionFailed:
			return Transition{Next: types.SessionStatusTerminated, Effects: []Effect{EffectReleaseSlot}}
		case EventEndRequested:
			// Cleanup waits until provisioning resolves; there is no
			// remote handle to tear down yet.
			return Transition{Next: types.SessionStatusTerminating}
		}

	case types.SessionStatusActive:
		switch event {
		case EventActivity:
			return Transition{Next: types.SessionStatusActive, Effects: []Effect{EffectResetIdleClock}}
		case EventIdleExpired:
			return Transition{Next: types.SessionStatusIdleWarning, Effects: []Effect{EffectNotifyIdleWarning, EffectStartGraceClock}}
		case EventHardExpired, EventEndRequested:
			return Transition{Next: types.SessionStatusTerminating, Effects: []Effect{EffectStopClocks, EffectCleanup}}
		}

	case types.SessionStatusIdleWarning:
		switch event {
		case EventActivity:
			return Transition{Next: types.SessionStatusActive, Effects: []Effect{EffectCancelGraceClock, EffectResetIdleClock}}
		case EventGraceExpired, EventHardExpired, EventEndRequested:
			return Transition{Next: types.SessionStatusTerminating, Effects: []Effect{EffectStopClocks, EffectCleanup}}
		}

	case types.SessionStatusTerminating:
		switch event {
		case EventProvisionSucceeded:
			// The end was requested while the host was still being
			// prepared. The handle now exists, so tear it down.
			return Transition{Next: types.SessionStatusTerminating, Effects: []Effect{EffectCleanup}}
		case EventProvisionFailed:
			return Transition{Next: types.SessionStatusTerminated, Effects: []Effect{EffectReleaseSlot}}
		case EventCleanupFinished:
			return Transition{Next: types.SessionStatusTerminated, Effects: []Effect{EffectStopClocks, EffectReleaseSlot}}
		}
	}

	return Transition{Next: current, Ignored: true}
}
