package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// RecoveryMode is the explicit state of the password recovery flow.
type RecoveryMode string

const (
	// RecoveryModeRequest collects an email and dispatches a reset link.
	RecoveryModeRequest RecoveryMode = "request"
	// RecoveryModeUpdate collects a new password; terminal on success.
	RecoveryModeUpdate RecoveryMode = "update"
)

// User-visible flow messages. The flow never surfaces raw backend error
// text; every failure maps to one of these.
const (
	MsgMissingResetTokens   = "Missing reset tokens in the link."
	MsgInvalidResetLink     = "Invalid or expired reset link."
	MsgResetEmailSent       = "Password reset email sent"
	MsgResetEmailFailed     = "Unable to send the reset email. Please try again."
	MsgInvalidEmail         = "Enter a valid email address."
	MsgPasswordTooShort     = "Password must be at least 8 characters"
	MsgPasswordsDontMatch   = "Passwords don't match"
	MsgPasswordUpdated      = "Password updated successfully"
	MsgPasswordUpdateFailed = "Unable to update the password. Please request a new reset link."
	MsgOpenLinkFirst        = "Open the reset link from your email first."
)

// ResourceTypeCredential is the resource type recorded for recovery events.
const ResourceTypeCredential = "credential"

const minPasswordLength = 8

// RecoveryState is the transient, side-effect-free state of one recovery
// session. Handlers pass it in and get an updated copy back; nothing is
// persisted and the single-use recovery tokens are never retained on it.
// SessionToken is the short-lived session established by a successful
// exchange: the client presents it back on the confirm step, and it is
// cleared once the password is set.
type RecoveryState struct {
	Mode          RecoveryMode  `json:"mode"`
	SessionToken  string        `json:"session_token,omitempty"`
	Notice        string        `json:"notice,omitempty"`
	Alert         string        `json:"alert,omitempty"`
	Completed     bool          `json:"completed,omitempty"`
	RedirectTo    string        `json:"redirect_to,omitempty"`
	RedirectAfter time.Duration `json:"redirect_after,omitempty"`
}

// NewRecoveryState returns the initial flow state.
func NewRecoveryState() RecoveryState {
	return RecoveryState{Mode: RecoveryModeRequest}
}

// ExchangedSession is the authenticated session an exchanger establishes
// from a recovery token pair.
type ExchangedSession struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// CredentialExchanger is the external collaborator the flow drives: it
// dispatches reset links, exchanges a recovery token pair for a session,
// and sets the new password for the session identified by sessionToken.
// The token is the one minted by ExchangeRecoveryTokens; implementations
// must reject a SetPassword call that presents a missing or invalid token.
type CredentialExchanger interface {
	RequestReset(ctx context.Context, email string) error
	ExchangeRecoveryTokens(ctx context.Context, access, refresh string) (*ExchangedSession, error)
	SetPassword(ctx context.Context, sessionToken, newPassword string) error
}

// RecoveryFlow drives the two-phase reset flow. All operations take the
// current state and return the next one; failures surface through the
// state's Alert field as plain-language messages.
type RecoveryFlow interface {
	OpenLink(ctx context.Context, state RecoveryState, link string) RecoveryState
	Exchange(ctx context.Context, state RecoveryState, access, refresh string) RecoveryState
	RequestReset(ctx context.Context, state RecoveryState, email string) RecoveryState
	SubmitPassword(ctx context.Context, state RecoveryState, newPassword, confirm string) RecoveryState
}

type recoveryFlow struct {
	exchanger     CredentialExchanger
	sink          AuditSink
	logger        Logger
	now           func() time.Time
	redirectTo    string
	redirectAfter time.Duration
}

var _ RecoveryFlow = (*recoveryFlow)(nil)

// RecoveryFlowOption customizes flow construction.
type RecoveryFlowOption func(*recoveryFlow)

// WithRecoveryFlowAuditSink sets the sink receiving recovery audit events.
func WithRecoveryFlowAuditSink(sink AuditSink) RecoveryFlowOption {
	return func(f *recoveryFlow) {
		f.sink = normalizeAuditSink(sink)
	}
}

// WithRecoveryFlowLogger overrides the logger used for sink failures.
func WithRecoveryFlowLogger(logger Logger) RecoveryFlowOption {
	return func(f *recoveryFlow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithRecoveryFlowClock injects a custom clock (useful for tests).
func WithRecoveryFlowClock(clock func() time.Time) RecoveryFlowOption {
	return func(f *recoveryFlow) {
		if clock != nil {
			f.now = clock
		}
	}
}

// WithRecoveryFlowRedirect overrides the post-completion redirect target
// and the fixed delay before it fires.
func WithRecoveryFlowRedirect(target string, after time.Duration) RecoveryFlowOption {
	return func(f *recoveryFlow) {
		if target != "" {
			f.redirectTo = target
		}
		if after > 0 {
			f.redirectAfter = after
		}
	}
}

// NewRecoveryFlow builds the default flow implementation.
func NewRecoveryFlow(exchanger CredentialExchanger, opts ...RecoveryFlowOption) RecoveryFlow {
	f := &recoveryFlow{
		exchanger:     exchanger,
		sink:          noopAuditSink{},
		logger:        defLogger{},
		now:           time.Now,
		redirectTo:    "/auth/login",
		redirectAfter: 2 * time.Second,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	return f
}

// OpenLink inspects an inbound link. Links without a recovery marker leave
// the state untouched; a marker with missing tokens or a failed exchange
// keeps the flow in Request mode with a user-visible message.
func (f *recoveryFlow) OpenLink(ctx context.Context, state RecoveryState, link string) RecoveryState {
	intent, err := ParseRecoveryLink(link)
	if err != nil {
		state.Alert = MsgMissingResetTokens
		return state
	}

	if intent == nil {
		return state
	}

	return f.Exchange(ctx, state, intent.AccessToken, intent.RefreshToken)
}

// Exchange redeems a token pair for a server-side session and, on success,
// transitions the flow to Update mode. The tokens are consumed either way:
// a failed exchange means the user has to request a new link.
func (f *recoveryFlow) Exchange(ctx context.Context, state RecoveryState, access, refresh string) RecoveryState {
	if access == "" || refresh == "" {
		state.Alert = MsgMissingResetTokens
		return state
	}

	session, err := f.exchanger.ExchangeRecoveryTokens(ctx, access, refresh)
	if err != nil {
		f.record(ctx, AuditEntry{
			Action:       AuditActionRecoveryExchange,
			ResourceType: ResourceTypeCredential,
			ErrorMessage: err.Error(),
		})
		state.Alert = MsgInvalidResetLink
		return state
	}

	f.record(ctx, AuditEntry{
		Action:       AuditActionRecoveryExchange,
		ResourceType: ResourceTypeCredential,
		ResourceID:   session.UserID,
		ActorID:      session.UserID,
	})

	state.Mode = RecoveryModeUpdate
	state.SessionToken = session.Token
	state.Alert = ""
	return state
}

// RequestReset asks the backend to dispatch a reset link to the given email.
func (f *recoveryFlow) RequestReset(ctx context.Context, state RecoveryState, email string) RecoveryState {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		state.Alert = MsgInvalidEmail
		return state
	}

	if err := f.exchanger.RequestReset(ctx, email); err != nil {
		f.logger.Error("recovery reset dispatch failed: %v", err)
		state.Alert = MsgResetEmailFailed
		return state
	}

	state.Alert = ""
	state.Notice = MsgResetEmailSent
	return state
}

// SubmitPassword finalizes the flow in Update mode. The state must carry
// the session token a prior Exchange established; without one the submission
// never reaches the exchanger. On success the state is terminal: the session
// token is cleared, Completed is set, and the caller is expected to redirect
// to sign-in after the fixed delay.
func (f *recoveryFlow) SubmitPassword(ctx context.Context, state RecoveryState, newPassword, confirm string) RecoveryState {
	if state.Mode != RecoveryModeUpdate || state.SessionToken == "" {
		state.Alert = MsgOpenLinkFirst
		return state
	}

	if len(newPassword) < minPasswordLength {
		state.Alert = MsgPasswordTooShort
		return state
	}

	if newPassword != confirm {
		state.Alert = MsgPasswordsDontMatch
		return state
	}

	if err := f.exchanger.SetPassword(ctx, state.SessionToken, newPassword); err != nil {
		f.record(ctx, AuditEntry{
			Action:       AuditActionRecoveryPassword,
			ResourceType: ResourceTypeCredential,
			ErrorMessage: err.Error(),
		})
		state.Alert = MsgPasswordUpdateFailed
		return state
	}

	f.record(ctx, AuditEntry{
		Action:       AuditActionRecoveryPassword,
		ResourceType: ResourceTypeCredential,
	})

	state.SessionToken = ""
	state.Alert = ""
	state.Notice = MsgPasswordUpdated
	state.Completed = true
	state.RedirectTo = f.redirectTo
	state.RedirectAfter = f.redirectAfter
	return state
}

func (f *recoveryFlow) record(ctx context.Context, entry AuditEntry) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = f.now()
	}

	if err := normalizeAuditSink(f.sink).Record(ctx, entry); err != nil {
		f.logger.Warn("recovery audit sink error: %v", err)
	}
}
