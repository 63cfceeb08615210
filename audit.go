package identity

import (
	"context"
	"time"
)

// AuditAction names the attempted operation in an audit entry.
type AuditAction string

const (
	AuditActionGetProfile         AuditAction = "get_profile"
	AuditActionGetProfileError    AuditAction = "get_profile_error"
	AuditActionUpdateProfile      AuditAction = "update_profile"
	AuditActionUpdateProfileError AuditAction = "update_profile_error"
	AuditActionRecoveryExchange   AuditAction = "recovery_exchange"
	AuditActionRecoveryPassword   AuditAction = "recovery_password_set"
)

// ResourceTypeProfile is the resource type recorded for profile operations.
const ResourceTypeProfile = "profile"

// AuditEntry captures one attempted action with its before/after state.
// Entries are append-only: they describe what was attempted regardless of
// whether the underlying operation succeeded.
type AuditEntry struct {
	Action       AuditAction
	ResourceType string
	ResourceID   string
	OldValues    map[string]any
	NewValues    map[string]any
	ActorID      string
	ErrorMessage string
	OccurredAt   time.Time
}

// AuditSink consumes audit entries. Sinks run best-effort: callers in this
// package log sink failures and never propagate them, so a broken trail can
// never block the operation it describes.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, entry AuditEntry) error

// Record implements AuditSink.
func (f AuditSinkFunc) Record(ctx context.Context, entry AuditEntry) error {
	if f == nil {
		return nil
	}
	return f(ctx, entry)
}

type noopAuditSink struct{}

func (noopAuditSink) Record(context.Context, AuditEntry) error {
	return nil
}

func normalizeAuditSink(s AuditSink) AuditSink {
	if s == nil {
		return noopAuditSink{}
	}
	return s
}
