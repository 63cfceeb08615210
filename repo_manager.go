package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Profiles() Profiles
	AuditLogs() repository.Repository[*AuditLog]
	RecoveryTokens() repository.Repository[*RecoveryToken]
	Credentials() repository.Repository[*Credential]
}

// NewRecoveryTokensRepository builds the recovery_tokens repository.
func NewRecoveryTokensRepository(db *bun.DB) repository.Repository[*RecoveryToken] {
	handlers := repository.ModelHandlers[*RecoveryToken]{
		NewRecord: func() *RecoveryToken {
			return &RecoveryToken{}
		},
		GetID: func(record *RecoveryToken) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *RecoveryToken, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return repository.NewRepository(db, handlers)
}

// NewCredentialsRepository builds the credentials repository. The user id is
// the primary key; rows are only touched through raw RETURNING updates.
func NewCredentialsRepository(db *bun.DB) repository.Repository[*Credential] {
	handlers := repository.ModelHandlers[*Credential]{
		NewRecord: func() *Credential {
			return &Credential{}
		},
		GetID: func(record *Credential) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(record.UserID)
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record *Credential, id uuid.UUID) {
			record.UserID = id.String()
		},
		GetIdentifier: func() string {
			return "user_id"
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db             *bun.DB
	profiles       Profiles
	auditLogs      repository.Repository[*AuditLog]
	recoveryTokens repository.Repository[*RecoveryToken]
	credentials    repository.Repository[*Credential]
}

// RepositoryManagerOption customizes manager construction.
type RepositoryManagerOption func(*mngr)

// WithManagerProfiles replaces the default audited profile store.
func WithManagerProfiles(p Profiles) RepositoryManagerOption {
	return func(m *mngr) {
		if p != nil {
			m.profiles = p
		}
	}
}

// NewRepositoryManager wires the repositories over one bun.DB. By default
// the profile store records into the persistent audit_logs sink.
func NewRepositoryManager(db *bun.DB, opts ...RepositoryManagerOption) RepositoryManager {
	auditLogs := NewAuditLogsRepository(db)

	m := &mngr{
		db:             db,
		auditLogs:      auditLogs,
		recoveryTokens: NewRecoveryTokensRepository(db),
		credentials:    NewCredentialsRepository(db),
		profiles: NewProfilesRepository(db,
			WithProfilesAuditSink(NewAuditLogSink(auditLogs)),
		),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

func (m mngr) Validate() error {
	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.auditLogs == nil {
		return errors.New("repository auditLogs should be initialized")
	}

	if m.recoveryTokens == nil {
		return errors.New("repository recoveryTokens should be initialized")
	}

	if m.credentials == nil {
		return errors.New("repository credentials should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Profiles() Profiles {
	return m.profiles
}

func (m mngr) AuditLogs() repository.Repository[*AuditLog] {
	return m.auditLogs
}

func (m mngr) RecoveryTokens() repository.Repository[*RecoveryToken] {
	return m.recoveryTokens
}

func (m mngr) Credentials() repository.Repository[*Credential] {
	return m.credentials
}
