package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/imagedesk/imagedesk/api/pkg/system"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

func (s *PostgresStore) CreateSession(ctx context.Context, session *types.Session) (*types.Session, error) {
	if session.ID == "" {
		session.ID = system.GenerateSessionID()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = session.StartedAt
	}

	err := s.gdb.WithContext(ctx).Create(session).Error
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	err := s.gdb.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting session: %w", err)
	}
	return &session, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, session *types.Session) (*types.Session, error) {
	if session.ID == "" {
		return nil, fmt.Errorf("session ID is required")
	}
	err := s.gdb.WithContext(ctx).Save(session).Error
	if err != nil {
		return nil, fmt.Errorf("error updating session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, q ListSessionsQuery) ([]*types.Session, error) {
	query := s.gdb.WithContext(ctx)

	if q.DoctorID != "" {
		query = query.Where("doctor_id = ?", q.DoctorID)
	}
	if q.NonTerminal {
		query = query.Where("status IN ?", nonTerminalStatusStrings())
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var sessions []*types.Session
	err := query.Order("started_at DESC").Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("error listing sessions: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) GetActiveSessionForDoctor(ctx context.Context, doctorID string) (*types.Session, error) {
	var session types.Session
	err := s.gdb.WithContext(ctx).
		Where("doctor_id = ? AND status IN ?", doctorID, nonTerminalStatusStrings()).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting active session for doctor: %w", err)
	}
	return &session, nil
}

func nonTerminalStatusStrings() []string {
	statuses := types.NonTerminalStatuses()
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}
