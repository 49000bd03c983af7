package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/imagedesk/imagedesk/api/pkg/types"
)

func TestApplyTransitions(t *testing.T) {
	testCases := []struct {
		name    string
		current types.SessionStatus
		event   Event
		next    types.SessionStatus
		effects []Effect
	}{
		{
			name:    "provision success activates",
			current: types.SessionStatusCreating,
			event:   EventProvisionSucceeded,
			next:    types.SessionStatusActive,
			effects: []Effect{EffectStartClocks},
		},
		{
			name:    "provision failure terminates and frees slot",
			current: types.SessionStatusCreating,
			event:   EventProvisionFailed,
			next:    types.SessionStatusTerminated,
			effects: []Effect{EffectReleaseSlot},
		},
		{
			name:    "end during creating defers cleanup",
			current: types.SessionStatusCreating,
			event:   EventEndRequested,
			next:    types.SessionStatusTerminating,
			effects: nil,
		},
		{
			name:    "activity keeps session active",
			current: types.SessionStatusActive,
			event:   EventActivity,
			next:    types.SessionStatusActive,
			effects: []Effect{EffectResetIdleClock},
		},
		{
			name:    "idle expiry warns",
			current: types.SessionStatusActive,
			event:   EventIdleExpired,
			next:    types.SessionStatusIdleWarning,
			effects: []Effect{EffectNotifyIdleWarning, EffectStartGraceClock},
		},
		{
			name:    "hard deadline ends active session",
			current: types.SessionStatusActive,
			event:   EventHardExpired,
			next:    types.SessionStatusTerminating,
			effects: []Effect{EffectStopClocks, EffectCleanup},
		},
		{
			name:    "doctor ends active session",
			current: types.SessionStatusActive,
			event:   EventEndRequested,
			next:    types.SessionStatusTerminating,
			effects: []Effect{EffectStopClocks, EffectCleanup},
		},
		{
			name:    "activity recovers from idle warning",
			current: types.SessionStatusIdleWarning,
			event:   EventActivity,
			next:    types.SessionStatusActive,
			effects: []Effect{EffectCancelGraceClock, EffectResetIdleClock},
		},
		{
			name:    "grace expiry ends warned session",
			current: types.SessionStatusIdleWarning,
			event:   EventGraceExpired,
			next:    types.SessionStatusTerminating,
			effects: []Effect{EffectStopClocks, EffectCleanup},
		},
		{
			name:    "hard deadline beats grace period",
			current: types.SessionStatusIdleWarning,
			event:   EventHardExpired,
			next:    types.SessionStatusTerminating,
			effects: []Effect{EffectStopClocks, EffectCleanup},
		},
		{
			name:    "late provision success triggers cleanup",
			current: types.SessionStatusTerminating,
			event:   EventProvisionSucceeded,
			next:    types.SessionStatusTerminating,
			effects: []Effect{EffectCleanup},
		},
		{
			name:    "late provision failure terminates",
			current: types.SessionStatusTerminating,
			event:   EventProvisionFailed,
			next:    types.SessionStatusTerminated,
			effects: []Effect{EffectReleaseSlot},
		},
		{
			name:    "cleanup confirmation terminates",
			current: types.SessionStatusTerminating,
			event:   EventCleanupFinished,
			next:    types.SessionStatusTerminated,
			effects: []Effect{EffectStopClocks, EffectReleaseSlot},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := Apply(tc.current, tc.event)
			assert.False(t, tr.Ignored)
			assert.Equal(t, tc.next, tr.Next)
			assert.Equal(t, tc.effects, tr.Effects)
		})
	}
}

func TestApplyIgnored(t *testing.T) {
	testCases := []struct {
		name    string
		current types.SessionStatus
		event   Event
	}{
		{"activity before provisioning finishes", types.SessionStatusCreating, EventActivity},
		{"idle clock fires during creating", types.SessionStatusCreating, EventIdleExpired},
		{"duplicate end request", types.SessionStatusTerminating, EventEndRequested},
		{"activity during teardown", types.SessionStatusTerminating, EventActivity},
		{"late idle clock during teardown", types.SessionStatusTerminating, EventIdleExpired},
		{"anything after terminated", types.SessionStatusTerminated, EventActivity},
		{"end after terminated", types.SessionStatusTerminated, EventEndRequested},
		{"late hard clock after terminated", types.SessionStatusTerminated, EventHardExpired},
		{"grace fires while active", types.SessionStatusActive, EventGraceExpired},
		{"cleanup confirmation while active", types.SessionStatusActive, EventCleanupFinished},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := Apply(tc.current, tc.event)
			assert.True(t, tr.Ignored)
			// ignored events never move the session
			assert.Equal(t, tc.current, tr.Next)
			assert.Empty(t, tr.Effects)
		})
	}
}

func TestTerminalStatus(t *testing.T) {
	assert.True(t, types.SessionStatusTerminated.Terminal())
	assert.False(t, types.SessionStatusTerminating.Terminal())
	assert.False(t, types.SessionStatusIdleWarning.Terminal())
}
