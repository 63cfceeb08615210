package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// MintSessionToken mints a short-lived HS256 JWT for the session a recovery
// exchange establishes. The client presents it back on the confirm step,
// where the exchanger verifies it before updating credentials.
func MintSessionToken(signingKey, issuer, subject string, ttl time.Duration, issuedAt time.Time) (string, time.Time, error) {
	if signingKey == "" {
		return "", time.Time{}, goerrors.New("signing key is required", goerrors.CategoryBadInput)
	}
	if subject == "" {
		return "", time.Time{}, goerrors.New("subject is required", goerrors.CategoryBadInput)
	}
	if ttl <= 0 {
		return "", time.Time{}, goerrors.New("token TTL must be positive", goerrors.CategoryBadInput)
	}

	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	expiresAt := issuedAt.Add(ttl)

	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signed, expiresAt, nil
}
