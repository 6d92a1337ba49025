package domain

import "time"

// TokenClaims is the verified content of a bearer token.
type TokenClaims struct {
	AccountID AccountID
	Marker    StatusMarker
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
