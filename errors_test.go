package identity_test

import (
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/habitloop/go-identity"
	"github.com/stretchr/testify/assert"
)

func TestIsInvalidInput(t *testing.T) {
	assert.True(t, identity.IsInvalidInput(identity.ErrInvalidUserID))
	assert.True(t, identity.IsInvalidInput(identity.ErrInvalidUpdate))
	assert.True(t, identity.IsInvalidInput(identity.ErrMissingResetTokens))
	assert.True(t, identity.IsInvalidInput(identity.ErrRecoveryTokenExpired))

	assert.False(t, identity.IsInvalidInput(nil))
	assert.False(t, identity.IsInvalidInput(errors.New("plain")))
	assert.False(t, identity.IsInvalidInput(identity.ErrNoRecoverySession))
}

func TestIsStorageError(t *testing.T) {
	storage := goerrors.Wrap(errors.New("driver: bad connection"), goerrors.CategoryInternal, "failed to fetch profile")

	assert.True(t, identity.IsStorageError(storage))
	assert.False(t, identity.IsStorageError(nil))
	assert.False(t, identity.IsStorageError(errors.New("plain")))
	assert.False(t, identity.IsStorageError(identity.ErrInvalidUserID))

	// The two taxonomies never overlap.
	assert.False(t, identity.IsInvalidInput(storage))
}

func TestStorageErrorMessageDoesNotLeakDriverDetail(t *testing.T) {
	storage := goerrors.Wrap(errors.New("pq: connection refused on 10.0.0.5"), goerrors.CategoryInternal, "failed to fetch profile")

	var rich *goerrors.Error
	assert.True(t, goerrors.As(storage, &rich))
	assert.Equal(t, "failed to fetch profile", rich.Message)
}

func TestSentinelTextCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{identity.ErrInvalidUserID, identity.TextCodeInvalidUserID},
		{identity.ErrInvalidUpdate, identity.TextCodeInvalidUpdate},
		{identity.ErrMissingResetTokens, identity.TextCodeMissingResetTokens},
		{identity.ErrRecoveryTokenUsed, identity.TextCodeRecoveryTokenUsed},
		{identity.ErrRecoveryTokenExpired, identity.TextCodeRecoveryTokenExpired},
		{identity.ErrNoRecoverySession, identity.TextCodeNoRecoverySession},
	}

	for _, tt := range tests {
		var rich *goerrors.Error
		assert.True(t, goerrors.As(tt.err, &rich))
		assert.Equal(t, tt.code, rich.TextCode)
	}
}
