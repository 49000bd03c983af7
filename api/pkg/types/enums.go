package types

import "fmt"

type SessionStatus string

const (
	// SessionStatusNone is the virtual state before any record exists.
	SessionStatusNone        SessionStatus = ""
	SessionStatusCreating    SessionStatus = "creating"
	SessionStatusActive      SessionStatus = "active"
	SessionStatusIdleWarning SessionStatus = "idle_warning"
	SessionStatusTerminating SessionStatus = "terminating"
	SessionStatusTerminated  SessionStatus = "terminated"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusTerminated
}

func ValidateSessionStatus(status string) (SessionStatus, error) {
	switch SessionStatus(status) {
	case SessionStatusCreating, SessionStatusActive, SessionStatusIdleWarning,
		SessionStatusTerminating, SessionStatusTerminated:
		return SessionStatus(status), nil
	default:
		return SessionStatusNone, fmt.Errorf("invalid session status: %s", status)
	}
}

// NonTerminalStatuses is the set of statuses that hold a pool slot.
func NonTerminalStatuses() []SessionStatus {
	return []SessionStatus{
		SessionStatusCreating,
		SessionStatusActive,
		SessionStatusIdleWarning,
		SessionStatusTerminating,
	}
}

type ActorRole string

const (
	ActorRoleDoctor ActorRole = "doctor"
	ActorRoleAdmin  ActorRole = "admin"
	ActorRoleSystem ActorRole = "system"
)

// Audit action types written by the orchestrator. Exactly one entry is
// produced per transition; replaying them for a session reconstructs
// its final status.
const (
	AuditActionSessionCreate       = "session_create"
	AuditActionSessionActive       = "session_active"
	AuditActionSessionCreateFailed = "session_create_failed"
	AuditActionSessionActivity     = "session_activity"
	AuditActionSessionIdleWarning  = "session_idle_warning"
	AuditActionSessionHardWarning  = "session_hard_warning"
	AuditActionSessionEndRequested = "session_end_requested"
	AuditActionSessionTerminating  = "session_terminating"
	AuditActionSessionTerminated   = "session_terminated"
	AuditActionSessionEventIgnored = "session_event_ignored"
	AuditActionOrphanCleanup       = "session_orphan_cleanup"
)

// Audit outcomes.
const (
	AuditOutcomeOK            = "ok"
	AuditOutcomeFailed        = "failed"
	AuditOutcomeIgnored       = "ignored"
	AuditOutcomeOrphanCleanup = "orphan_cleanup"
)
