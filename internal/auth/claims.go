package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"

	// TokenTypeConnection is the short-lived signed credential that
	// authenticates a realtime connection. It is minted by trading a valid
	// access token at the token-exchange endpoint and is never accepted by
	// the regular REST surface.
	TokenTypeConnection TokenType = "connection"
)

// Claims are the only supported JWT claims shape for this service.
//
// Identity invariant: UserID and Role must be present on access and
// connection tokens; refresh tokens carry UserID only.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
