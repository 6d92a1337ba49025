package impl

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// MinCodeBytes is the entropy floor for activation and reset codes.
const MinCodeBytes = 16

type CodeServiceImpl struct {
	size int
}

func NewCodeService(size int) *CodeServiceImpl {
	if size < MinCodeBytes {
		size = MinCodeBytes
	}
	return &CodeServiceImpl{size: size}
}

// Generate returns size random bytes, base64url without padding.
func (c *CodeServiceImpl) Generate() (string, error) {
	buf := make([]byte, c.size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (c *CodeServiceImpl) Digest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// ExpiresAt is truncated to microseconds so it survives a postgres round trip.
func (c *CodeServiceImpl) ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl).UTC().Truncate(time.Microsecond)
}

// Expired reports whether a code is past validity; valid iff now < expiresAt.
func (c *CodeServiceImpl) Expired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// EncodedLen is the length of a generated code.
func (c *CodeServiceImpl) EncodedLen() int {
	return base64.RawURLEncoding.EncodedLen(c.size)
}
