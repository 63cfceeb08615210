package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

// SessionObject is the decoded request session as far as this package needs
// it: the acting user plus token metadata.
type SessionObject struct {
	UserID   string     `json:"user_id,omitempty"`
	Issuer   string     `json:"issuer,omitempty"`
	IssuedAt *time.Time `json:"issued_at,omitempty"`
}

// GetRouterSession decodes the JWT the auth middleware left in the request
// locals under key.
func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	cookie := c.Locals(key)
	if cookie == nil {
		return nil, ErrUnableToFindSession
	}

	token, ok := cookie.(*jwt.Token)
	if token == nil || !ok {
		return nil, ErrUnableToDecodeSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if claims == nil || !ok {
		return nil, ErrUnableToMapClaims
	}

	return sessionFromClaims(claims)
}

func sessionFromClaims(claims jwt.MapClaims) (*SessionObject, error) {
	session := &SessionObject{}

	if sub, err := claims.GetSubject(); err == nil {
		session.UserID = sub
	}

	if session.UserID == "" {
		if uid, ok := claims["uid"].(string); ok {
			session.UserID = uid
		}
	}

	if session.UserID == "" {
		return nil, ErrUnableToMapClaims
	}

	if iss, err := claims.GetIssuer(); err == nil {
		session.Issuer = iss
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		session.IssuedAt = &iat.Time
	}

	return session, nil
}
