package impl

import (
	"context"
	"errors"
	"time"

	"accountd/internal/domain"
	"accountd/internal/dto"
	"accountd/internal/jwtsigner"
	"accountd/internal/observability/metrics"
	"accountd/internal/observability/middleware"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ====== Config ======

type TokenConfig struct {
	Issuer    string        // e.g. "accountd"
	AccessTTL time.Duration // e.g. 30 * time.Minute
}

// ====== Claims ======

type AccessClaims struct {
	Status  string `json:"st"` // status snapshot
	Version int    `json:"tv"` // token version snapshot
	jwt.RegisteredClaims
}

// ====== Service ======

type TokenServiceImpl struct {
	cfg    TokenConfig
	signer *jwtsigner.Signer
	log    *zap.Logger
	now    func() time.Time
}

func NewTokenService(cfg TokenConfig, signer *jwtsigner.Signer, log *zap.Logger) *TokenServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenServiceImpl{cfg: cfg, signer: signer, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source used for issuing and verifying.
func (t *TokenServiceImpl) WithClock(now func() time.Time) *TokenServiceImpl {
	t.now = now
	return t
}

func (t *TokenServiceImpl) Issue(ctx context.Context, accountID domain.AccountID, marker domain.StatusMarker) (*dto.TokenResponse, error) {
	result := "success"
	defer func() {
		metrics.TokensIssuedTotal.WithLabelValues("issue", result).Inc()
	}()

	now := t.now()
	exp := now.Add(t.cfg.AccessTTL)
	claims := AccessClaims{
		Status:  string(marker.Status),
		Version: marker.Version,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := t.signer.Sign(claims)
	if err != nil {
		result = "failure"
		return nil, err
	}

	fields := append(middleware.Fields(ctx), zap.String("account_id", accountID.String()), zap.String("jti", claims.ID))
	t.log.Debug("issued access token", fields...)

	return &dto.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(t.cfg.AccessTTL.Seconds()),
		ExpiresAt:   exp.Truncate(time.Second),
	}, nil
}

// Verify checks signature, issuer and expiry without touching the store.
func (t *TokenServiceImpl) Verify(tokenStr string) (*domain.TokenClaims, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{t.signer.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithTimeFunc(t.now),
	)
	if _, err := parser.ParseWithClaims(tokenStr, claims, t.signer.Keyfunc); err != nil {
		return nil, classifyTokenError(err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, domain.ErrTokenMalformed
	}
	status := domain.Status(claims.Status)
	if !status.Valid() || claims.IssuedAt == nil {
		return nil, domain.ErrTokenMalformed
	}

	return &domain.TokenClaims{
		AccountID: id,
		Marker:    domain.StatusMarker{Status: status, Version: claims.Version},
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return domain.ErrTokenBadSignature
	default:
		return domain.ErrTokenMalformed
	}
}
