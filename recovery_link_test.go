package identity_test

import (
	"errors"
	"testing"

	identity "github.com/habitloop/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecoveryLink(t *testing.T) {
	tests := []struct {
		name        string
		link        string
		wantIntent  *identity.RecoveryIntent
		wantMissing bool
	}{
		{
			name: "complete recovery link",
			link: "https://app.example.com/auth/reset-password#type=recovery&access_token=AT&refresh_token=RT",
			wantIntent: &identity.RecoveryIntent{
				AccessToken:  "AT",
				RefreshToken: "RT",
			},
		},
		{
			name: "relative link with fragment",
			link: "/auth/reset-password#access_token=AT&type=recovery&refresh_token=RT",
			wantIntent: &identity.RecoveryIntent{
				AccessToken:  "AT",
				RefreshToken: "RT",
			},
		},
		{
			name:        "marker without access token",
			link:        "https://app.example.com/reset#type=recovery&refresh_token=RT",
			wantMissing: true,
		},
		{
			name:        "marker without refresh token",
			link:        "https://app.example.com/reset#type=recovery&access_token=AT",
			wantMissing: true,
		},
		{
			name:        "marker with empty tokens",
			link:        "https://app.example.com/reset#type=recovery&access_token=&refresh_token=",
			wantMissing: true,
		},
		{
			name: "no fragment at all",
			link: "https://app.example.com/auth/login",
		},
		{
			name: "different marker type",
			link: "https://app.example.com/reset#type=signup&access_token=AT&refresh_token=RT",
		},
		{
			name: "tokens in query string are ignored",
			link: "https://app.example.com/reset?type=recovery&access_token=AT&refresh_token=RT",
		},
		{
			name: "empty string",
			link: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, err := identity.ParseRecoveryLink(tt.link)

			if tt.wantMissing {
				require.Error(t, err)
				assert.True(t, errors.Is(err, identity.ErrMissingResetTokens))
				assert.Nil(t, intent)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantIntent, intent)
		})
	}
}

func TestParseRecoveryLinkIsPure(t *testing.T) {
	link := "https://app.example.com/reset#type=recovery&access_token=AT&refresh_token=RT"

	first, err := identity.ParseRecoveryLink(link)
	require.NoError(t, err)

	second, err := identity.ParseRecoveryLink(link)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
