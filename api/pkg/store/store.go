package store

import (
	"context"
	"errors"
	"time"

	"github.com/imagedesk/imagedesk/api/pkg/types"
)

type ListSessionsQuery struct {
	DoctorID    string `json:"doctor_id"`
	NonTerminal bool   `json:"non_terminal"`
	Offset      int    `json:"offset"`
	Limit       int    `json:"limit"`
}

type ListAuditQuery struct {
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	SessionID string    `json:"session_id"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Offset    int       `json:"offset"`
	Limit     int       `json:"limit"`
}

//go:generate mockgen -source $GOFILE -destination store_mocks.go -package $GOPACKAGE

type Store interface {
	// sessions
	CreateSession(ctx context.Context, session *types.Session) (*types.Session, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	UpdateSession(ctx context.Context, session *types.Session) (*types.Session, error)
	ListSessions(ctx context.Context, q ListSessionsQuery) ([]*types.Session, error)
	// GetActiveSessionForDoctor returns the doctor's non-terminal
	// session, or ErrNotFound when there is none.
	GetActiveSessionForDoctor(ctx context.Context, doctorID string) (*types.Session, error)

	// audit, append-only
	CreateAuditEntry(ctx context.Context, entry *types.AuditEntry) error
	ListAuditEntries(ctx context.Context, q ListAuditQuery) ([]*types.AuditEntry, int64, error)

	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("not found")
