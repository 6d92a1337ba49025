package impl

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"accountd/internal/domain"
	"accountd/internal/jwtsigner"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newHMACTokens(t *testing.T, secret string, clock *fakeClock) *TokenServiceImpl {
	t.Helper()
	signer, err := jwtsigner.NewHMAC([]byte(secret), "kid-1")
	require.NoError(t, err)
	return NewTokenService(TokenConfig{Issuer: "accountd-test", AccessTTL: 15 * time.Minute}, signer, nil).WithClock(clock.Now)
}

var secretA = strings.Repeat("a", 32)

func TestTokenIssueVerify(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := newHMACTokens(t, secretA, clock)
	id := uuid.New()

	tr, err := svc.Issue(context.Background(), id, domain.StatusMarker{Status: domain.StatusActive, Version: 3})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tr.TokenType)
	assert.EqualValues(t, 900, tr.ExpiresIn)

	claims, err := svc.Verify(tr.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, claims.AccountID)
	assert.Equal(t, domain.StatusActive, claims.Marker.Status)
	assert.Equal(t, 3, claims.Marker.Version)
	assert.NotEmpty(t, claims.TokenID)
}

func TestTokenVerifyExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := newHMACTokens(t, secretA, clock)

	tr, err := svc.Issue(context.Background(), uuid.New(), domain.StatusMarker{Status: domain.StatusActive, Version: 1})
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)
	_, err = svc.Verify(tr.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestTokenVerifyForeignKey(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	issuer := newHMACTokens(t, secretA, clock)
	verifier := newHMACTokens(t, strings.Repeat("b", 32), clock)

	tr, err := issuer.Issue(context.Background(), uuid.New(), domain.StatusMarker{Status: domain.StatusActive, Version: 1})
	require.NoError(t, err)

	_, err = verifier.Verify(tr.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenBadSignature)
}

func TestTokenVerifyTampered(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	svc := newHMACTokens(t, secretA, clock)
	tr, err := svc.Issue(context.Background(), uuid.New(), domain.StatusMarker{Status: domain.StatusActive, Version: 1})
	require.NoError(t, err)

	parts := strings.Split(tr.AccessToken, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	_, err = svc.Verify(parts[0] + "." + parts[1] + "." + string(sig))
	assert.ErrorIs(t, err, domain.ErrTokenBadSignature)
}

func TestTokenVerifyWrongAlgorithm(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	svc := newHMACTokens(t, secretA, clock)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	other := NewTokenService(TokenConfig{Issuer: "accountd-test", AccessTTL: time.Minute}, jwtsigner.NewEd25519(priv, "ed"), nil).WithClock(clock.Now)
	tr, err := other.Issue(context.Background(), uuid.New(), domain.StatusMarker{Status: domain.StatusActive, Version: 1})
	require.NoError(t, err)

	_, err = svc.Verify(tr.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenBadSignature)
}

func TestTokenVerifyMalformed(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	svc := newHMACTokens(t, secretA, clock)

	for _, tok := range []string{"", "abc", "a.b.c", "not.a.jwt.at.all"} {
		_, err := svc.Verify(tok)
		assert.ErrorIs(t, err, domain.ErrTokenMalformed, tok)
	}
}

func TestTokenVerifyRequiresExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	signer, err := jwtsigner.NewHMAC([]byte(secretA), "kid-1")
	require.NoError(t, err)
	svc := NewTokenService(TokenConfig{Issuer: "accountd-test", AccessTTL: time.Minute}, signer, nil).WithClock(clock.Now)

	tok, err := signer.Sign(AccessClaims{
		Status: "active",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "accountd-test",
			Subject:  uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(clock.Now()),
		},
	})
	require.NoError(t, err)

	_, err = svc.Verify(tok)
	assert.ErrorIs(t, err, domain.ErrTokenMalformed)
}

func TestTokenVerifyBadSubject(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	signer, err := jwtsigner.NewHMAC([]byte(secretA), "kid-1")
	require.NoError(t, err)
	svc := NewTokenService(TokenConfig{Issuer: "accountd-test", AccessTTL: time.Minute}, signer, nil).WithClock(clock.Now)

	tok, err := signer.Sign(AccessClaims{
		Status: "active",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "accountd-test",
			Subject:   "not-a-uuid",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
	})
	require.NoError(t, err)

	_, err = svc.Verify(tok)
	assert.ErrorIs(t, err, domain.ErrTokenMalformed)
}
