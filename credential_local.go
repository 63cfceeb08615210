package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SetCredentialPasswordSQL updates the local password hash for one user.
// The deleted_at predicate mirrors the profile store's visibility rule.
var SetCredentialPasswordSQL = `UPDATE "credentials" AS "cred"
SET
	"password_hash" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"cred"."deleted_at" IS NULL
AND (
	"cred"."user_id" = ?
) RETURNING *;`

const (
	defaultRecoveryWindow     = 24 * time.Hour
	defaultSessionTTL         = 15 * time.Minute
	defaultRecoveryLinkTarget = "/auth/reset-password"
)

// Mailer delivers the recovery link to the user. The default implementation
// only logs the link, which is enough for local development.
type Mailer interface {
	SendRecoveryLink(ctx context.Context, email, link string) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, email, link string) error

// SendRecoveryLink implements Mailer.
func (f MailerFunc) SendRecoveryLink(ctx context.Context, email, link string) error {
	if f == nil {
		return nil
	}
	return f(ctx, email, link)
}

type logMailer struct {
	logger Logger
}

func (m logMailer) SendRecoveryLink(_ context.Context, email, link string) error {
	m.logger.Info("recovery link for %s: %s", email, link)
	return nil
}

// LocalCredentialExchanger is a reference CredentialExchanger for
// deployments without an external identity provider. It dispatches
// single-use recovery tokens, exchanges them for a short-lived session
// token, and updates the local credentials table.
//
// The exchanger keeps no per-call state, so one instance can serve every
// request pipeline. The session token minted by ExchangeRecoveryTokens is
// the only handle on the exchange: SetPassword verifies the presented
// token before it touches the credentials row.
type LocalCredentialExchanger struct {
	repo       RepositoryManager
	mailer     Mailer
	logger     Logger
	now        func() time.Time
	signingKey string
	issuer     string
	linkTarget string
	window     time.Duration
	sessionTTL time.Duration
}

var _ CredentialExchanger = (*LocalCredentialExchanger)(nil)

// NewLocalCredentialExchanger creates an exchanger with sane defaults.
func NewLocalCredentialExchanger(repo RepositoryManager, signingKey string) *LocalCredentialExchanger {
	ex := &LocalCredentialExchanger{
		repo:       repo,
		logger:     defLogger{},
		now:        time.Now,
		signingKey: signingKey,
		issuer:     "habitloop",
		linkTarget: defaultRecoveryLinkTarget,
		window:     defaultRecoveryWindow,
		sessionTTL: defaultSessionTTL,
	}
	ex.mailer = logMailer{logger: ex.logger}
	return ex
}

// WithMailer sets the mailer used to deliver recovery links.
func (c *LocalCredentialExchanger) WithMailer(mailer Mailer) *LocalCredentialExchanger {
	if mailer != nil {
		c.mailer = mailer
	}
	return c
}

// WithLogger overrides the logger.
func (c *LocalCredentialExchanger) WithLogger(logger Logger) *LocalCredentialExchanger {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithClock injects a custom clock (useful for tests).
func (c *LocalCredentialExchanger) WithClock(clock func() time.Time) *LocalCredentialExchanger {
	if clock != nil {
		c.now = clock
	}
	return c
}

// WithRecoveryWindow overrides how long a dispatched token stays valid.
func (c *LocalCredentialExchanger) WithRecoveryWindow(window time.Duration) *LocalCredentialExchanger {
	if window > 0 {
		c.window = window
	}
	return c
}

// WithLinkTarget overrides the path the recovery link points at.
func (c *LocalCredentialExchanger) WithLinkTarget(target string) *LocalCredentialExchanger {
	if target != "" {
		c.linkTarget = target
	}
	return c
}

// RequestReset mints and dispatches a single-use recovery token pair for
// the given email. An unknown email still reports success so the endpoint
// cannot be used to enumerate accounts.
func (c *LocalCredentialExchanger) RequestReset(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	return c.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		prof, err := c.repo.Profiles().GetByEmailTx(ctx, tx, email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve profile for recovery")
		}
		if prof == nil {
			return nil
		}

		secret := uuid.NewString()
		secretHash, err := HashPassword(secret)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash recovery secret")
		}

		token := &RecoveryToken{
			ID:         uuid.New(),
			UserID:     prof.UserID,
			Email:      email,
			SecretHash: secretHash,
			Status:     RecoveryTokenRequested,
		}

		if _, err := c.repo.RecoveryTokens().CreateTx(ctx, tx, token); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create recovery token")
		}

		link := fmt.Sprintf(
			"%s#type=recovery&access_token=%s&refresh_token=%s",
			c.linkTarget, token.ID.String(), secret,
		)

		if err := c.mailer.SendRecoveryLink(ctx, email, link); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to deliver recovery link")
		}

		return nil
	})
}

// ExchangeRecoveryTokens redeems a token pair: the access token is the
// recovery token id, the refresh token its one-time secret. The row is
// retired in the same transaction, so a second exchange with the same pair
// always fails.
func (c *LocalCredentialExchanger) ExchangeRecoveryTokens(ctx context.Context, access, refresh string) (*ExchangedSession, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if access == "" || refresh == "" {
		return nil, ErrMissingResetTokens
	}

	var session *ExchangedSession

	err := c.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := c.repo.RecoveryTokens().GetByID(ctx, access)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return goerrors.New("invalid or expired recovery token", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve recovery token")
		}

		if token.Status != RecoveryTokenRequested {
			return ErrRecoveryTokenUsed
		}

		if token.CreatedAt == nil {
			return goerrors.New("recovery token is missing creation date", goerrors.CategoryInternal)
		}

		if c.outsideWindow(*token.CreatedAt) {
			return ErrRecoveryTokenExpired
		}

		if err := ComparePasswordAndHash(refresh, token.SecretHash); err != nil {
			return err
		}

		if _, err := c.repo.RecoveryTokens().UpdateTx(ctx, tx, MarkRecoveryTokenUsed(token.ID)); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retire recovery token")
		}

		signed, expiresAt, err := MintSessionToken(c.signingKey, c.issuer, token.UserID, c.sessionTTL, c.now())
		if err != nil {
			return err
		}

		session = &ExchangedSession{
			UserID:    token.UserID,
			Token:     signed,
			ExpiresAt: expiresAt,
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to exchange recovery tokens")
	}

	return session, nil
}

// SetPassword hashes and stores the new password for the user identified by
// sessionToken. The token must be one minted by ExchangeRecoveryTokens and
// still within its TTL; a missing or unverifiable token never reaches the
// credentials table.
func (c *LocalCredentialExchanger) SetPassword(ctx context.Context, sessionToken, newPassword string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if sessionToken == "" {
		return ErrNoRecoverySession
	}

	userID, err := c.verifySessionToken(sessionToken)
	if err != nil {
		return err
	}

	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	err = c.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := c.repo.Credentials().RawTx(ctx, tx, SetCredentialPasswordSQL, passwordHash, userID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password in database")
		}

		if len(res) == 0 {
			return repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id": userID,
				})
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set new password")
	}

	return nil
}

// verifySessionToken checks the signature, issuer, and expiry of a session
// token and returns the user id it was minted for.
func (c *LocalCredentialExchanger) verifySessionToken(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte(c.signingKey), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryAuth, "invalid or expired recovery session").
			WithCode(goerrors.CodeUnauthorized)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrUnableToMapClaims
	}

	return subject, nil
}

func (c *LocalCredentialExchanger) outsideWindow(created time.Time) bool {
	return created.Before(c.now().Add(-c.window))
}
