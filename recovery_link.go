package identity

import (
	"net/url"
)

// recoveryMarker is the type value an inbound link must carry in its
// fragment for the link to be treated as a recovery link.
const recoveryMarker = "recovery"

// RecoveryIntent is the parsed token pair embedded in a recovery link.
// Tokens are single-use: they are exchanged once and never re-presented.
type RecoveryIntent struct {
	AccessToken  string
	RefreshToken string
}

// ParseRecoveryLink extracts a recovery token pair from a link's URL
// fragment. Recovery links place their single-use tokens in the fragment,
// not the query string, so the fragment is the only part inspected.
//
// It returns (nil, nil) when the link carries no recovery marker,
// ErrMissingResetTokens when the marker is present but the token pair is
// incomplete, and a non-nil intent otherwise. The function is pure: no
// exchange or any other side effect happens here.
func ParseRecoveryLink(raw string) (*RecoveryIntent, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, nil
	}

	params, err := url.ParseQuery(parsed.Fragment)
	if err != nil {
		return nil, nil
	}

	if params.Get("type") != recoveryMarker {
		return nil, nil
	}

	access := params.Get("access_token")
	refresh := params.Get("refresh_token")
	if access == "" || refresh == "" {
		return nil, ErrMissingResetTokens
	}

	return &RecoveryIntent{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}
