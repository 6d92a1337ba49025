package service

import (
	"context"
	"time"

	"accountd/internal/domain"
	"accountd/internal/dto"
)

type TokenService interface {
	Issue(ctx context.Context, accountID domain.AccountID, marker domain.StatusMarker) (*dto.TokenResponse, error)
	Verify(token string) (*domain.TokenClaims, error)
}

// CodeService produces opaque single-use codes. Persistence and consumption
// belong to the store; only digests are ever written.
type CodeService interface {
	Generate() (string, error)
	Digest(code string) string
	ExpiresAt(now time.Time, ttl time.Duration) time.Time
	Expired(expiresAt, now time.Time) bool
}
