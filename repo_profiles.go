package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const (
	auditMsgInvalidUserID      = "Invalid user ID"
	auditMsgInvalidInput       = "Invalid input"
	auditMsgProfileNotFound    = "Profile not found"
	auditMsgNotFoundAfterWrite = "Profile not found after update"
)

// Profiles is the audited mutation surface for profile rows. Every call to
// Get or Update produces exactly one audit entry, whatever the outcome.
//
// Not-found is a valid, non-exceptional result: both operations return
// (nil, nil) when the row is absent or soft-deleted. Concurrent updates to
// the same row race at the storage layer; the design is last-writer-wins
// with no version check, and the losing writer's audit entry will carry a
// pre-update snapshot the final stored state no longer matches.
type Profiles interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	GetTx(ctx context.Context, tx bun.IDB, userID string) (*Profile, error)
	Update(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error)
	UpdateTx(ctx context.Context, tx bun.IDB, userID string, update ProfileUpdate) (*Profile, error)

	// GetByEmail resolves a visible profile from an email address. It is an
	// unaudited lookup used by the recovery dispatch path, not part of the
	// audited read/update surface.
	GetByEmail(ctx context.Context, email string) (*Profile, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Profile, error)
}

type profiles struct {
	db     *bun.DB
	sink   AuditSink
	logger Logger
	now    func() time.Time
}

var _ Profiles = (*profiles)(nil)

// ProfilesOption customizes the store.
type ProfilesOption func(*profiles)

// WithProfilesAuditSink sets the sink receiving one entry per attempt.
func WithProfilesAuditSink(sink AuditSink) ProfilesOption {
	return func(p *profiles) {
		p.sink = normalizeAuditSink(sink)
	}
}

// WithProfilesLogger overrides the logger used for sink failures.
func WithProfilesLogger(logger Logger) ProfilesOption {
	return func(p *profiles) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProfilesClock injects a custom clock (useful for tests).
func WithProfilesClock(clock func() time.Time) ProfilesOption {
	return func(p *profiles) {
		if clock != nil {
			p.now = clock
		}
	}
}

// NewProfilesRepository builds the audited profile store.
func NewProfilesRepository(db *bun.DB, opts ...ProfilesOption) Profiles {
	repo := &profiles{
		db:     db,
		sink:   noopAuditSink{},
		logger: defLogger{},
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	return repo
}

func (p *profiles) Get(ctx context.Context, userID string) (*Profile, error) {
	return p.GetTx(ctx, p.db, userID)
}

func (p *profiles) GetTx(ctx context.Context, tx bun.IDB, userID string) (*Profile, error) {
	if userID == "" {
		p.record(ctx, AuditEntry{
			Action:       AuditActionGetProfileError,
			ResourceID:   userID,
			ActorID:      userID,
			ErrorMessage: auditMsgInvalidUserID,
		})
		return nil, ErrInvalidUserID
	}

	record, err := p.fetchTx(ctx, tx, userID)
	if err != nil {
		p.record(ctx, AuditEntry{
			Action:       AuditActionGetProfileError,
			ResourceID:   userID,
			ActorID:      userID,
			ErrorMessage: err.Error(),
		})
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to fetch profile")
	}

	if record == nil {
		p.record(ctx, AuditEntry{
			Action:       AuditActionGetProfileError,
			ResourceID:   userID,
			ActorID:      userID,
			ErrorMessage: auditMsgProfileNotFound,
		})
		return nil, nil
	}

	p.record(ctx, AuditEntry{
		Action:     AuditActionGetProfile,
		ResourceID: userID,
		ActorID:    userID,
		NewValues:  snapshotProfile(record),
	})

	return record, nil
}

func (p *profiles) Update(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error) {
	return p.UpdateTx(ctx, p.db, userID, update)
}

func (p *profiles) UpdateTx(ctx context.Context, tx bun.IDB, userID string, update ProfileUpdate) (*Profile, error) {
	if userID == "" || !update.HasChanges() {
		p.record(ctx, AuditEntry{
			Action:       AuditActionUpdateProfileError,
			ResourceID:   userID,
			ActorID:      userID,
			NewValues:    update.values(),
			ErrorMessage: auditMsgInvalidInput,
		})
		return nil, ErrInvalidUpdate
	}

	update = update.sanitized()

	// The pre-update snapshot has to come from a read issued strictly before
	// the mutation. This fetch is not independently audited: each Update call
	// maps to exactly one audit entry.
	current, err := p.fetchTx(ctx, tx, userID)
	if err != nil {
		p.record(ctx, AuditEntry{
			Action:       AuditActionUpdateProfileError,
			ResourceID:   userID,
			ActorID:      userID,
			NewValues:    update.values(),
			ErrorMessage: err.Error(),
		})
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to fetch profile")
	}

	if current == nil {
		p.record(ctx, AuditEntry{
			Action:       AuditActionUpdateProfileError,
			ResourceID:   userID,
			ActorID:      userID,
			NewValues:    update.values(),
			ErrorMessage: auditMsgProfileNotFound,
		})
		return nil, nil
	}

	before := snapshotProfile(current)

	updated := &Profile{}
	q := tx.NewUpdate().
		Model(updated).
		Set("updated_at = ?", p.now())

	if update.DisplayName != nil {
		q = q.Set("display_name = ?", *update.DisplayName)
	}
	if update.Locale != nil {
		q = q.Set("locale = ?", *update.Locale)
	}
	if update.Timezone != nil {
		q = q.Set("timezone = ?", *update.Timezone)
	}

	_, err = q.
		Where(`?TableAlias."user_id" = ?`, userID).
		Where(`?TableAlias."deleted_at" IS NULL`).
		Returning("*").
		Exec(ctx, updated)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Raced soft-delete between the snapshot and the write.
			p.record(ctx, AuditEntry{
				Action:       AuditActionUpdateProfileError,
				ResourceID:   userID,
				ActorID:      userID,
				OldValues:    before,
				NewValues:    update.values(),
				ErrorMessage: auditMsgNotFoundAfterWrite,
			})
			return nil, nil
		}

		p.record(ctx, AuditEntry{
			Action:       AuditActionUpdateProfileError,
			ResourceID:   userID,
			ActorID:      userID,
			OldValues:    before,
			NewValues:    update.values(),
			ErrorMessage: err.Error(),
		})
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
	}

	p.record(ctx, AuditEntry{
		Action:     AuditActionUpdateProfile,
		ResourceID: userID,
		ActorID:    userID,
		OldValues:  before,
		NewValues:  snapshotProfile(updated),
	})

	return updated, nil
}

func (p *profiles) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	return p.GetByEmailTx(ctx, p.db, email)
}

func (p *profiles) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Profile, error) {
	if email == "" {
		return nil, nil
	}

	record := &Profile{}
	err := tx.NewSelect().
		Model(record).
		Where(`?TableAlias."email" = ?`, email).
		Where(`?TableAlias."deleted_at" IS NULL`).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return record, nil
}

// fetchTx is the shared, unaudited lookup. It returns (nil, nil) when no
// visible row matches: soft-deleted rows behave exactly like absent ones.
func (p *profiles) fetchTx(ctx context.Context, tx bun.IDB, userID string) (*Profile, error) {
	record := &Profile{}

	// The soft-delete model tag already filters deleted rows; the explicit
	// predicate keeps the invariant visible in the generated SQL as well.
	err := tx.NewSelect().
		Model(record).
		Where(`?TableAlias."user_id" = ?`, userID).
		Where(`?TableAlias."deleted_at" IS NULL`).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return record, nil
}

// record appends one audit entry, best-effort. Sink failures are logged and
// swallowed so the audit trail can never block the operation it describes.
func (p *profiles) record(ctx context.Context, entry AuditEntry) {
	if entry.ResourceType == "" {
		entry.ResourceType = ResourceTypeProfile
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = p.now()
	}

	if err := normalizeAuditSink(p.sink).Record(ctx, entry); err != nil {
		p.logger.Warn("profile audit sink error: %v", err)
	}
}

// snapshotProfile renders a row as an audit value map.
func snapshotProfile(record *Profile) map[string]any {
	if record == nil {
		return nil
	}

	out := map[string]any{
		"user_id":      record.UserID,
		"email":        record.Email,
		"display_name": record.DisplayName,
		"locale":       record.Locale,
		"timezone":     record.Timezone,
	}

	if record.CreatedAt != nil {
		out["created_at"] = record.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if record.UpdatedAt != nil {
		out["updated_at"] = record.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if record.ScheduledForDeletionUntil != nil {
		out["scheduled_for_deletion_until"] = record.ScheduledForDeletionUntil.UTC().Format(time.RFC3339Nano)
	}

	return out
}
