package types

import (
	"time"
)

// Session is one doctor's time-boxed access to a remote imaging
// application instance bound to one patient. The orchestrator is the
// only writer; once terminal the record is immutable and retained for
// audit purposes.
type Session struct {
	ID        string `json:"id" gorm:"primaryKey"`
	DoctorID  string `json:"doctor_id" gorm:"index"`
	PatientID string `json:"patient_id" gorm:"index"`

	Status SessionStatus `json:"status" gorm:"index"`

	// HostUser is the pool slot backing this session. Set while the
	// session is non-terminal, bound to at most one session at a time.
	HostUser string `json:"host_user"`

	// RemoteHandle is the opaque identifier returned by the execution
	// channel once the remote desktop session exists.
	RemoteHandle string `json:"remote_handle,omitempty"`

	// DisplayConnectionID is the Guacamole connection backing the
	// browser stream, created after the application launches.
	DisplayConnectionID string `json:"display_connection_id,omitempty"`

	// LastError carries the user-visible reason a launch failed:
	// capacity and policy errors never reach here, only remote failures.
	LastError string `json:"last_error,omitempty"`

	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`

	Created time.Time `json:"created" gorm:"autoCreateTime"`
	Updated time.Time `json:"updated" gorm:"autoUpdateTime"`
}

// AuditEntry is an append-only fact about a session transition or an
// actor's request. Entries are write-once and never deleted by the core.
type AuditEntry struct {
	ID        string            `json:"id" gorm:"primaryKey"`
	Timestamp time.Time         `json:"timestamp" gorm:"index"`
	ActorID   string            `json:"actor_id" gorm:"index"`
	ActorRole ActorRole         `json:"actor_role"`
	Action    string            `json:"action" gorm:"index"`
	SessionID string            `json:"session_id" gorm:"index"`
	Outcome   string            `json:"outcome"`
	IPAddress string            `json:"ip_address,omitempty"`
	Details   map[string]string `json:"details,omitempty" gorm:"type:jsonb;serializer:json"`
}

// User is the authenticated caller attached to a request context.
type User struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Role  ActorRole `json:"role"`
	Token string    `json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == ActorRoleAdmin
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	PatientID string `json:"patient_id"`
}

// ConnectionResponse carries the display-gateway URL a browser embeds
// to reach the streamed desktop.
type ConnectionResponse struct {
	URL string `json:"url"`
}

// HealthStatus reports aggregate reachability of the session store and
// the execution channel.
type HealthStatus struct {
	Status           string `json:"status"`
	Store            string `json:"store"`
	ExecutionChannel string `json:"execution_channel"`
	Version          string `json:"version"`
}

// SessionEvent is published on the session event stream whenever the
// orchestrator records a transition or warning.
type SessionEvent struct {
	SessionID string        `json:"session_id"`
	DoctorID  string        `json:"doctor_id"`
	Type      string        `json:"type"`
	Status    SessionStatus `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
