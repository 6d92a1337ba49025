package service

import (
	"context"

	"accountd/internal/domain"
	"accountd/internal/dto"
)

// RequestMeta carries caller details recorded in the audit log.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type AccountService interface {
	Register(ctx context.Context, r dto.RegisterRequest, meta RequestMeta) (*domain.Account, error)
	Activate(ctx context.Context, code string, meta RequestMeta) (*domain.Account, *dto.TokenResponse, error)
	ResendActivation(ctx context.Context, email string, meta RequestMeta) error
	Login(ctx context.Context, r dto.LoginRequest, meta RequestMeta) (*domain.Account, *dto.TokenResponse, error)
	RequestReset(ctx context.Context, email string, meta RequestMeta) error
	CompleteReset(ctx context.Context, r dto.CompleteResetRequest, meta RequestMeta) (*domain.Account, *dto.TokenResponse, error)

	// Authenticate verifies a bearer token and re-checks it against the
	// stored account status and token version.
	Authenticate(ctx context.Context, token string) (*domain.Account, error)

	Get(ctx context.Context, id domain.AccountID) (*domain.Account, error)
	UpdateProfile(ctx context.Context, id domain.AccountID, r dto.UpdateProfileRequest, meta RequestMeta) (*domain.Account, error)
	ChangeEmail(ctx context.Context, id domain.AccountID, r dto.ChangeEmailRequest, meta RequestMeta) (*domain.Account, error)
	ChangePassword(ctx context.Context, id domain.AccountID, r dto.ChangePasswordRequest, meta RequestMeta) (*dto.TokenResponse, error)

	UploadImage(ctx context.Context, id domain.AccountID, raw []byte, contentType string, meta RequestMeta) (*domain.Image, error)
	GetImage(ctx context.Context, id domain.AccountID) (*domain.Image, error)

	SetStatus(ctx context.Context, id domain.AccountID, to domain.Status, meta RequestMeta) error
	Delete(ctx context.Context, id domain.AccountID, meta RequestMeta) error
}
