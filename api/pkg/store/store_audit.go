package store

import (
	"context"
	"fmt"
	"time"

	"github.com/imagedesk/imagedesk/api/pkg/system"
	"github.com/imagedesk/imagedesk/api/pkg/types"
)

// CreateAuditEntry appends one immutable audit row. There is no update
// or delete counterpart on purpose.
func (s *PostgresStore) CreateAuditEntry(ctx context.Context, entry *types.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = system.GenerateAuditID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	err := s.gdb.WithContext(ctx).Create(entry).Error
	if err != nil {
		return fmt.Errorf("error creating audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, q ListAuditQuery) ([]*types.AuditEntry, int64, error) {
	query := s.gdb.WithContext(ctx).Model(&types.AuditEntry{})

	if q.ActorID != "" {
		query = query.Where("actor_id = ?", q.ActorID)
	}
	if q.Action != "" {
		query = query.Where("action = ?", q.Action)
	}
	if q.SessionID != "" {
		query = query.Where("session_id = ?", q.SessionID)
	}
	if !q.From.IsZero() {
		query = query.Where("timestamp >= ?", q.From)
	}
	if !q.To.IsZero() {
		query = query.Where("timestamp <= ?", q.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting audit entries: %w", err)
	}

	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var entries []*types.AuditEntry
	// id breaks timestamp ties; audit ids are ulids so this keeps
	// insertion order
	err := query.Order("timestamp ASC, id ASC").Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("error listing audit entries: %w", err)
	}
	return entries, total, nil
}
