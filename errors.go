package identity

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeInvalidUserID tags caller contract violations on the user id.
	TextCodeInvalidUserID = "INVALID_USER_ID"
	// TextCodeInvalidUpdate tags update commands that carry no fields.
	TextCodeInvalidUpdate = "INVALID_PROFILE_UPDATE"
	// TextCodeMissingResetTokens tags recovery links without a token pair.
	TextCodeMissingResetTokens = "MISSING_RESET_TOKENS"
	// TextCodeRecoveryTokenUsed tags recovery tokens presented twice.
	TextCodeRecoveryTokenUsed = "RECOVERY_TOKEN_USED"
	// TextCodeRecoveryTokenExpired tags recovery tokens outside their window.
	TextCodeRecoveryTokenExpired = "RECOVERY_TOKEN_EXPIRED"
	// TextCodeNoRecoverySession tags password sets without a prior exchange.
	TextCodeNoRecoverySession = "NO_RECOVERY_SESSION"
)

// ErrInvalidUserID is returned when a profile operation receives an empty user id.
var ErrInvalidUserID = goerrors.New("invalid user ID", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidUserID).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidUpdate is returned when a profile update command has no fields.
var ErrInvalidUpdate = goerrors.New("invalid input", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidUpdate).
	WithCode(goerrors.CodeBadRequest)

// ErrMissingResetTokens is returned by ParseRecoveryLink when a link carries
// the recovery marker but not a complete access/refresh token pair.
var ErrMissingResetTokens = goerrors.New("missing reset tokens in the link", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMissingResetTokens).
	WithCode(goerrors.CodeBadRequest)

// ErrRecoveryTokenUsed is returned when a recovery token is exchanged twice.
var ErrRecoveryTokenUsed = goerrors.New("recovery token has already been used", goerrors.CategoryConflict).
	WithTextCode(TextCodeRecoveryTokenUsed).
	WithCode(goerrors.CodeConflict)

// ErrRecoveryTokenExpired is returned when a recovery token is outside its
// validity window.
var ErrRecoveryTokenExpired = goerrors.New("recovery token has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeRecoveryTokenExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrNoRecoverySession is returned when SetPassword is called without
// presenting the session token a successful exchange minted.
var ErrNoRecoverySession = goerrors.New("no recovery session established", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoRecoverySession).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToFindSession is returned when a request carries no session.
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode("SESSION_NOT_FOUND").
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeSession is returned when the session token cannot be decoded.
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode("SESSION_DECODE_ERROR").
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToMapClaims is returned when the token claims cannot be read.
var ErrUnableToMapClaims = goerrors.New("unable to map claims", goerrors.CategoryAuth).
	WithTextCode("CLAIMS_MAPPING_ERROR").
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = goerrors.New("value cannot be an empty string", goerrors.CategoryValidation).
	WithTextCode("EMPTY_STRING")

// ErrMismatchedHashAndPassword is the stable credential mismatch error.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(goerrors.CodeUnauthorized)

// IsInvalidInput reports whether err is a caller contract violation
// (4xx-equivalent) raised by this package.
func IsInvalidInput(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.Category == goerrors.CategoryBadInput ||
		rich.Category == goerrors.CategoryValidation
}

// IsStorageError reports whether err wraps a backing-store failure
// (5xx-equivalent). The underlying driver message is recorded in the audit
// trail only; callers get a stable, non-leaking message.
func IsStorageError(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.Category == goerrors.CategoryInternal
}
