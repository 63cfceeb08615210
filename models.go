package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profile is one row per user. Rows are created out-of-band at signup and
// mutated only through the Profiles store; a non-null deleted_at makes the
// row invisible to ordinary reads and updates. Physical deletion and the
// retention window are owned by an external process.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`

	UserID                    string     `bun:"user_id,pk" json:"user_id"`
	Email                     string     `bun:"email,notnull" json:"email"`
	DisplayName               string     `bun:"display_name" json:"display_name"`
	Locale                    string     `bun:"locale" json:"locale"`
	Timezone                  string     `bun:"timezone" json:"timezone"`
	CreatedAt                 *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt                 *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt                 *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
	ScheduledForDeletionUntil *time.Time `bun:"scheduled_for_deletion_until,nullzero" json:"scheduled_for_deletion_until,omitempty"`
}

// ProfileUpdate is a partial mutation command. Nil fields are left untouched;
// a command with no fields set is rejected by the store.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Locale      *string `json:"locale,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// HasChanges reports whether at least one field is set.
func (u ProfileUpdate) HasChanges() bool {
	return u.DisplayName != nil || u.Locale != nil || u.Timezone != nil
}

// sanitized returns a copy with string fields trimmed.
func (u ProfileUpdate) sanitized() ProfileUpdate {
	out := ProfileUpdate{}
	if u.DisplayName != nil {
		v := strings.TrimSpace(*u.DisplayName)
		out.DisplayName = &v
	}
	if u.Locale != nil {
		v := strings.TrimSpace(*u.Locale)
		out.Locale = &v
	}
	if u.Timezone != nil {
		v := strings.TrimSpace(*u.Timezone)
		out.Timezone = &v
	}
	return out
}

// values renders the command as an audit value map, nil when empty.
func (u ProfileUpdate) values() map[string]any {
	if !u.HasChanges() {
		return nil
	}
	out := map[string]any{}
	if u.DisplayName != nil {
		out["display_name"] = *u.DisplayName
	}
	if u.Locale != nil {
		out["locale"] = *u.Locale
	}
	if u.Timezone != nil {
		out["timezone"] = *u.Timezone
	}
	return out
}

// AuditLog is one append-only row per attempted action. Rows are never
// updated or deleted by this package.
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs,alias:alog"`

	ID           uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Action       string         `bun:"action,notnull" json:"action"`
	ResourceType string         `bun:"resource_type,notnull" json:"resource_type"`
	ResourceID   string         `bun:"resource_id" json:"resource_id"`
	OldValues    map[string]any `bun:"old_values,type:jsonb" json:"old_values,omitempty"`
	NewValues    map[string]any `bun:"new_values,type:jsonb" json:"new_values,omitempty"`
	UserID       string         `bun:"user_id" json:"user_id"`
	ErrorMessage string         `bun:"error_message" json:"error_message,omitempty"`
	CreatedAt    *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// RecoveryTokenStatus tracks the lifecycle of a recovery token.
type RecoveryTokenStatus = string

const (
	// RecoveryTokenRequested means the token was minted and never exchanged.
	RecoveryTokenRequested RecoveryTokenStatus = "requested"
	// RecoveryTokenUsed means the token pair was exchanged for a session.
	RecoveryTokenUsed RecoveryTokenStatus = "used"
	// RecoveryTokenExpired means the token aged out before being exchanged.
	RecoveryTokenExpired RecoveryTokenStatus = "expired"
)

// RecoveryToken backs the local credential exchanger: one single-use row per
// dispatched recovery link. The link's access token is the row id and the
// refresh token is a random secret stored only as a bcrypt hash.
type RecoveryToken struct {
	bun.BaseModel `bun:"table:recovery_tokens,alias:rtok"`

	ID         uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID     string     `bun:"user_id,notnull" json:"user_id,omitempty"`
	Email      string     `bun:"email,notnull" json:"email,omitempty"`
	SecretHash string     `bun:"secret_hash,notnull" json:"-"`
	Status     string     `bun:"status,notnull" json:"status,omitempty"`
	UsedAt     *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	CreatedAt  *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt  *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt  *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Credential stores the local password hash for one user. Only deployments
// using the local credential exchanger carry this table; an external
// identity provider owns credentials otherwise.
type Credential struct {
	bun.BaseModel `bun:"table:credentials,alias:cred"`

	UserID       string     `bun:"user_id,pk" json:"user_id"`
	PasswordHash string     `bun:"password_hash,notnull" json:"-"`
	CreatedAt    *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt    *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt    *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// MarkRecoveryTokenUsed builds the partial record that retires a token.
func MarkRecoveryTokenUsed(id uuid.UUID) *RecoveryToken {
	r := &RecoveryToken{}
	r.ID = id
	r.Status = RecoveryTokenUsed
	n := time.Now()
	r.UsedAt = &n
	return r
}
