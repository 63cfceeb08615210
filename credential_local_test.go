package identity_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	identity "github.com/habitloop/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	sqliteCreateRecoveryTokens = `CREATE TABLE recovery_tokens (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT NOT NULL,
    email TEXT NOT NULL,
    secret_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    used_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP NULL
);`

	sqliteCreateCredentials = `CREATE TABLE credentials (
    user_id TEXT NOT NULL PRIMARY KEY,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP NULL
);`

	testSigningKey = "test-signing-key"
)

func setupIdentityDB(t *testing.T) (*bun.DB, identity.RepositoryManager, func()) {
	t.Helper()

	// A named shared-cache DB: the exchanger mixes tx and non-tx queries,
	// so a single pinned connection would deadlock.
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	db.SetMaxIdleConns(2)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	for _, ddl := range []string{
		sqliteCreateProfiles,
		sqliteCreateAuditLogs,
		sqliteCreateRecoveryTokens,
		sqliteCreateCredentials,
	} {
		_, err = bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	repo := identity.NewRepositoryManager(bunDB)
	require.NoError(t, repo.Validate())

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return bunDB, repo, cleanup
}

// captureMailer records the last recovery link instead of delivering it.
type captureMailer struct {
	email string
	link  string
	sent  int
}

func (m *captureMailer) SendRecoveryLink(_ context.Context, email, link string) error {
	m.email = email
	m.link = link
	m.sent++
	return nil
}

func TestLocalExchangerRequestReset(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProfile(t, db, "user-1", "ana@example.com", "Ana", "en", "Europe/Warsaw")

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	err := exchanger.RequestReset(ctx, "ana@example.com")
	require.NoError(t, err)

	require.Equal(t, 1, mailer.sent)
	assert.Equal(t, "ana@example.com", mailer.email)

	intent, err := identity.ParseRecoveryLink(mailer.link)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.NotEmpty(t, intent.AccessToken)
	assert.NotEmpty(t, intent.RefreshToken)

	var status, secretHash string
	err = db.QueryRow(
		"SELECT status, secret_hash FROM recovery_tokens WHERE id = ?",
		intent.AccessToken,
	).Scan(&status, &secretHash)
	require.NoError(t, err)
	assert.Equal(t, identity.RecoveryTokenRequested, status)
	// Only the bcrypt hash of the secret hits storage.
	assert.NotEqual(t, intent.RefreshToken, secretHash)
	require.NoError(t, identity.ComparePasswordAndHash(intent.RefreshToken, secretHash))
}

func TestLocalExchangerRequestResetUnknownEmail(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	// An unknown address reports success and leaves no trace, so the
	// endpoint cannot be used to enumerate accounts.
	err := exchanger.RequestReset(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Zero(t, mailer.sent)

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM recovery_tokens").Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLocalExchangerExchangeRecoveryTokens(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProfile(t, db, "user-1", "ana@example.com", "Ana", "en", "Europe/Warsaw")

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	require.NoError(t, exchanger.RequestReset(ctx, "ana@example.com"))

	intent, err := identity.ParseRecoveryLink(mailer.link)
	require.NoError(t, err)

	session, err := exchanger.ExchangeRecoveryTokens(ctx, intent.AccessToken, intent.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "user-1", session.UserID)
	assert.NotEmpty(t, session.Token)
	assert.True(t, session.ExpiresAt.After(time.Now()))

	parsed, err := jwt.Parse(session.Token, func(*jwt.Token) (any, error) {
		return []byte(testSigningKey), nil
	})
	require.NoError(t, err)
	sub, err := parsed.Claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
	iss, err := parsed.Claims.GetIssuer()
	require.NoError(t, err)
	assert.Equal(t, "habitloop", iss)

	var status string
	err = db.QueryRow("SELECT status FROM recovery_tokens WHERE id = ?", intent.AccessToken).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, identity.RecoveryTokenUsed, status)

	// The pair is single-use.
	_, err = exchanger.ExchangeRecoveryTokens(ctx, intent.AccessToken, intent.RefreshToken)
	require.ErrorIs(t, err, identity.ErrRecoveryTokenUsed)
}

func TestLocalExchangerExchangeRejectsBadInput(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProfile(t, db, "user-1", "ana@example.com", "Ana", "en", "Europe/Warsaw")

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	_, err := exchanger.ExchangeRecoveryTokens(ctx, "", "secret")
	require.ErrorIs(t, err, identity.ErrMissingResetTokens)

	_, err = exchanger.ExchangeRecoveryTokens(ctx, "access", "")
	require.ErrorIs(t, err, identity.ErrMissingResetTokens)

	require.NoError(t, exchanger.RequestReset(ctx, "ana@example.com"))
	intent, err := identity.ParseRecoveryLink(mailer.link)
	require.NoError(t, err)

	_, err = exchanger.ExchangeRecoveryTokens(ctx, intent.AccessToken, "wrong-secret")
	require.ErrorIs(t, err, identity.ErrMismatchedHashAndPassword)
}

func TestLocalExchangerExchangeUnknownToken(t *testing.T) {
	_, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey)

	_, err := exchanger.ExchangeRecoveryTokens(context.Background(), "00000000-0000-0000-0000-000000000000", "secret")
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}

func TestLocalExchangerExchangeExpiredToken(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProfile(t, db, "user-1", "ana@example.com", "Ana", "en", "Europe/Warsaw")

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	require.NoError(t, exchanger.RequestReset(ctx, "ana@example.com"))
	intent, err := identity.ParseRecoveryLink(mailer.link)
	require.NoError(t, err)

	// Move the clock past the recovery window.
	exchanger.WithClock(func() time.Time {
		return time.Now().Add(25 * time.Hour)
	})

	_, err = exchanger.ExchangeRecoveryTokens(ctx, intent.AccessToken, intent.RefreshToken)
	require.ErrorIs(t, err, identity.ErrRecoveryTokenExpired)
}

func TestLocalExchangerSetPassword(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProfile(t, db, "user-1", "ana@example.com", "Ana", "en", "Europe/Warsaw")

	oldHash, err := identity.HashPassword("old-password-1")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO credentials (user_id, password_hash) VALUES (?, ?)", "user-1", oldHash)
	require.NoError(t, err)

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	// No session token, no update.
	err = exchanger.SetPassword(ctx, "", "new-password-1")
	require.ErrorIs(t, err, identity.ErrNoRecoverySession)

	require.NoError(t, exchanger.RequestReset(ctx, "ana@example.com"))
	intent, err := identity.ParseRecoveryLink(mailer.link)
	require.NoError(t, err)

	session, err := exchanger.ExchangeRecoveryTokens(ctx, intent.AccessToken, intent.RefreshToken)
	require.NoError(t, err)

	err = exchanger.SetPassword(ctx, session.Token, "new-password-1")
	require.NoError(t, err)

	var storedHash string
	err = db.QueryRow("SELECT password_hash FROM credentials WHERE user_id = ?", "user-1").Scan(&storedHash)
	require.NoError(t, err)
	require.NoError(t, identity.ComparePasswordAndHash("new-password-1", storedHash))
	require.ErrorIs(t, identity.ComparePasswordAndHash("old-password-1", storedHash), identity.ErrMismatchedHashAndPassword)
}

// An exchanger is shared across request pipelines, so one caller's exchange
// must never be usable by a caller that cannot present the minted session
// token.
func TestLocalExchangerSetPasswordRequiresPresentedSession(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProfile(t, db, "user-1", "ana@example.com", "Ana", "en", "Europe/Warsaw")

	oldHash, err := identity.HashPassword("old-password-1")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO credentials (user_id, password_hash) VALUES (?, ?)", "user-1", oldHash)
	require.NoError(t, err)

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	require.NoError(t, exchanger.RequestReset(ctx, "ana@example.com"))
	intent, err := identity.ParseRecoveryLink(mailer.link)
	require.NoError(t, err)

	_, err = exchanger.ExchangeRecoveryTokens(ctx, intent.AccessToken, intent.RefreshToken)
	require.NoError(t, err)

	// A caller that never exchanged has no token to present.
	err = exchanger.SetPassword(ctx, "", "hijacked-pass-1")
	require.ErrorIs(t, err, identity.ErrNoRecoverySession)

	// A token minted under a different key fails verification.
	forged, _, err := identity.MintSessionToken("other-key", "habitloop", "user-1", time.Minute, time.Now())
	require.NoError(t, err)
	err = exchanger.SetPassword(ctx, forged, "hijacked-pass-1")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryAuth, richErr.Category)

	var storedHash string
	err = db.QueryRow("SELECT password_hash FROM credentials WHERE user_id = ?", "user-1").Scan(&storedHash)
	require.NoError(t, err)
	require.NoError(t, identity.ComparePasswordAndHash("old-password-1", storedHash))
}

func TestLocalExchangerSetPasswordExpiredSession(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProfile(t, db, "user-1", "ana@example.com", "Ana", "en", "Europe/Warsaw")

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	require.NoError(t, exchanger.RequestReset(ctx, "ana@example.com"))
	intent, err := identity.ParseRecoveryLink(mailer.link)
	require.NoError(t, err)

	session, err := exchanger.ExchangeRecoveryTokens(ctx, intent.AccessToken, intent.RefreshToken)
	require.NoError(t, err)

	// The session lives for 15 minutes.
	exchanger.WithClock(func() time.Time {
		return time.Now().Add(20 * time.Minute)
	})

	err = exchanger.SetPassword(ctx, session.Token, "new-password-1")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryAuth, richErr.Category)
}

func TestLocalExchangerSetPasswordWithoutCredentialRow(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProfile(t, db, "user-1", "ana@example.com", "Ana", "en", "Europe/Warsaw")

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	require.NoError(t, exchanger.RequestReset(ctx, "ana@example.com"))
	intent, err := identity.ParseRecoveryLink(mailer.link)
	require.NoError(t, err)

	session, err := exchanger.ExchangeRecoveryTokens(ctx, intent.AccessToken, intent.RefreshToken)
	require.NoError(t, err)

	err = exchanger.SetPassword(ctx, session.Token, "new-password-1")
	require.Error(t, err)
	assert.True(t, repository.IsRecordNotFound(err))
}

func TestLocalExchangerDrivesRecoveryFlowEndToEnd(t *testing.T) {
	db, repo, cleanup := setupIdentityDB(t)
	defer cleanup()

	ctx := context.Background()
	seedProfile(t, db, "user-1", "ana@example.com", "Ana", "en", "Europe/Warsaw")

	oldHash, err := identity.HashPassword("old-password-1")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO credentials (user_id, password_hash) VALUES (?, ?)", "user-1", oldHash)
	require.NoError(t, err)

	mailer := &captureMailer{}
	exchanger := identity.NewLocalCredentialExchanger(repo, testSigningKey).
		WithMailer(mailer)

	sink := &capturingSink{}
	flow := identity.NewRecoveryFlow(exchanger, identity.WithRecoveryFlowAuditSink(sink))

	state := flow.RequestReset(ctx, identity.NewRecoveryState(), "ana@example.com")
	require.Equal(t, identity.MsgResetEmailSent, state.Notice)
	require.Equal(t, 1, mailer.sent)

	state = flow.OpenLink(ctx, state, mailer.link)
	require.Equal(t, identity.RecoveryModeUpdate, state.Mode)
	require.Empty(t, state.Alert)

	state = flow.SubmitPassword(ctx, state, "brand-new-pass-1", "brand-new-pass-1")
	require.True(t, state.Completed)
	assert.Equal(t, identity.MsgPasswordUpdated, state.Notice)
	assert.Equal(t, "/auth/login", state.RedirectTo)
	assert.Equal(t, 2*time.Second, state.RedirectAfter)

	var storedHash string
	err = db.QueryRow("SELECT password_hash FROM credentials WHERE user_id = ?", "user-1").Scan(&storedHash)
	require.NoError(t, err)
	require.NoError(t, identity.ComparePasswordAndHash("brand-new-pass-1", storedHash))

	// One exchange entry and one password entry.
	require.Len(t, sink.entries, 2)
	assert.Equal(t, identity.AuditActionRecoveryExchange, sink.entries[0].Action)
	assert.Equal(t, "user-1", sink.entries[0].ActorID)
	assert.Equal(t, identity.AuditActionRecoveryPassword, sink.entries[1].Action)
}
