package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NewAuditLogsRepository builds the append-only audit_logs repository.
// Only the insert path is ever exercised by this package.
func NewAuditLogsRepository(db *bun.DB) repository.Repository[*AuditLog] {
	handlers := repository.ModelHandlers[*AuditLog]{
		NewRecord: func() *AuditLog {
			return &AuditLog{}
		},
		GetID: func(record *AuditLog) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *AuditLog, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "resource_id"
		},
	}
	return repository.NewRepository(db, handlers)
}

type auditLogSink struct {
	logs repository.Repository[*AuditLog]
	now  func() time.Time
}

// NewAuditLogSink adapts the audit_logs repository to the AuditSink
// interface. The sink only appends; callers own the fail-open behavior.
func NewAuditLogSink(logs repository.Repository[*AuditLog]) AuditSink {
	return &auditLogSink{
		logs: logs,
		now:  time.Now,
	}
}

func (s *auditLogSink) Record(ctx context.Context, entry AuditEntry) error {
	occurred := entry.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	record := &AuditLog{
		ID:           uuid.New(),
		Action:       string(entry.Action),
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		OldValues:    entry.OldValues,
		NewValues:    entry.NewValues,
		UserID:       entry.ActorID,
		ErrorMessage: entry.ErrorMessage,
		CreatedAt:    &occurred,
	}

	_, err := s.logs.Create(ctx, record)
	return err
}
