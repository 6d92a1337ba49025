package store

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"accountd/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountStore struct{ db *gorm.DB }

func (s *Store) Accounts() *AccountStore { return &AccountStore{db: s.DB} }

// live scopes queries to accounts that have not been soft-deleted.
func (a *AccountStore) live(ctx context.Context) *gorm.DB {
	return a.db.WithContext(ctx).Model(&domain.Account{}).Where("deleted_at IS NULL")
}

// CreatePending inserts a new pending account. The unique index on email_key
// makes the check-and-insert atomic; a conflict yields domain.ErrEmailTaken.
func (a *AccountStore) CreatePending(ctx context.Context, acc *domain.Account) error {
	if acc.ID == uuid.Nil {
		acc.ID = uuid.New()
	}
	if acc.PasswordHash == "" || acc.ActivationCodeHash == nil || acc.ActivationExpiresAt == nil {
		return fmt.Errorf("create pending account: %w", domain.ErrInvalidInput)
	}
	key := domain.NormalizeEmail(acc.Email)
	acc.EmailKey = &key
	acc.Status = domain.StatusPending
	if acc.TokenVersion == 0 {
		acc.TokenVersion = 1
	}
	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = acc.CreatedAt

	if err := a.db.WithContext(ctx).Create(acc).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (a *AccountStore) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var acc domain.Account
	if err := a.live(ctx).Where("email_key = ?", domain.NormalizeEmail(email)).First(&acc).Error; err != nil {
		return nil, notFound(err)
	}
	return &acc, nil
}

func (a *AccountStore) GetByID(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	var acc domain.Account
	if err := a.live(ctx).Where("id = ?", id).First(&acc).Error; err != nil {
		return nil, notFound(err)
	}
	return &acc, nil
}

// Activate consumes the activation code of a known account.
func (a *AccountStore) Activate(ctx context.Context, id domain.AccountID, codeDigest string, now time.Time) (*domain.Account, error) {
	acc, err := a.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.consumeActivation(ctx, acc, codeDigest, now)
}

// ActivateByCode finds the pending account carrying codeDigest and activates it.
func (a *AccountStore) ActivateByCode(ctx context.Context, codeDigest string, now time.Time) (*domain.Account, error) {
	var acc domain.Account
	if err := a.live(ctx).Where("activation_code_hash = ?", codeDigest).First(&acc).Error; err != nil {
		if err = notFound(err); errors.Is(err, ErrRecordNotFound) {
			return nil, domain.ErrCodeInvalid
		}
		return nil, err
	}
	return a.consumeActivation(ctx, &acc, codeDigest, now)
}

func (a *AccountStore) consumeActivation(ctx context.Context, acc *domain.Account, codeDigest string, now time.Time) (*domain.Account, error) {
	switch {
	case acc.Status == domain.StatusActive:
		return nil, domain.ErrAlreadyActive
	case acc.Status != domain.StatusPending:
		return nil, domain.ErrInvalidTransition
	case !digestMatches(acc.ActivationCodeHash, codeDigest):
		return nil, domain.ErrCodeInvalid
	case codeExpired(acc.ActivationExpiresAt, now):
		return nil, domain.ErrCodeExpired
	}

	// Compare-and-swap on the code digest: only one caller can win.
	res := a.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND status = ? AND activation_code_hash = ?", acc.ID, domain.StatusPending, codeDigest).
		Updates(map[string]any{
			"status":                domain.StatusActive,
			"activation_code_hash":  nil,
			"activation_expires_at": nil,
			"updated_at":            now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrCodeInvalid
	}

	acc.Status = domain.StatusActive
	acc.ActivationCodeHash = nil
	acc.ActivationExpiresAt = nil
	acc.UpdatedAt = now
	return acc, nil
}

// RotateActivation replaces the activation code of a pending account.
func (a *AccountStore) RotateActivation(ctx context.Context, id domain.AccountID, codeDigest string, expiresAt, now time.Time) error {
	acc, err := a.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch acc.Status {
	case domain.StatusPending:
	case domain.StatusActive:
		return domain.ErrAlreadyActive
	default:
		return domain.ErrInvalidTransition
	}
	res := a.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"activation_code_hash":  codeDigest,
			"activation_expires_at": expiresAt,
			"updated_at":            now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyActive
	}
	return nil
}

// BeginReset attaches a reset code to an active account, replacing any reset
// already in flight.
func (a *AccountStore) BeginReset(ctx context.Context, id domain.AccountID, codeDigest string, expiresAt, now time.Time) error {
	res := a.live(ctx).
		Where("id = ? AND status = ?", id, domain.StatusActive).
		Updates(map[string]any{
			"reset_code_hash":  codeDigest,
			"reset_expires_at": expiresAt,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// CompleteReset consumes the reset code of a known account and swaps the
// password hash. Outstanding bearer tokens are revoked via token_version.
func (a *AccountStore) CompleteReset(ctx context.Context, id domain.AccountID, codeDigest, newHash string, now time.Time) (*domain.Account, error) {
	acc, err := a.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.consumeReset(ctx, acc, codeDigest, newHash, now)
}

func (a *AccountStore) CompleteResetByCode(ctx context.Context, codeDigest, newHash string, now time.Time) (*domain.Account, error) {
	var acc domain.Account
	if err := a.live(ctx).Where("reset_code_hash = ?", codeDigest).First(&acc).Error; err != nil {
		if err = notFound(err); errors.Is(err, ErrRecordNotFound) {
			return nil, domain.ErrCodeInvalid
		}
		return nil, err
	}
	return a.consumeReset(ctx, &acc, codeDigest, newHash, now)
}

func (a *AccountStore) consumeReset(ctx context.Context, acc *domain.Account, codeDigest, newHash string, now time.Time) (*domain.Account, error) {
	if newHash == "" {
		return nil, domain.ErrInvalidInput
	}
	switch {
	case acc.Status != domain.StatusActive:
		return nil, domain.ErrCodeInvalid
	case !digestMatches(acc.ResetCodeHash, codeDigest):
		return nil, domain.ErrCodeInvalid
	case codeExpired(acc.ResetExpiresAt, now):
		return nil, domain.ErrCodeExpired
	}

	res := a.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND status = ? AND reset_code_hash = ?", acc.ID, domain.StatusActive, codeDigest).
		Updates(map[string]any{
			"password_hash":    newHash,
			"reset_code_hash":  nil,
			"reset_expires_at": nil,
			"token_version":    gorm.Expr("token_version + 1"),
			"updated_at":       now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrCodeInvalid
	}

	acc.PasswordHash = newHash
	acc.ResetCodeHash = nil
	acc.ResetExpiresAt = nil
	acc.TokenVersion++
	acc.UpdatedAt = now
	return acc, nil
}

// ClearReset drops any in-flight reset code.
func (a *AccountStore) ClearReset(ctx context.Context, id domain.AccountID, now time.Time) error {
	return a.live(ctx).
		Where("id = ? AND reset_code_hash IS NOT NULL", id).
		Updates(map[string]any{
			"reset_code_hash":  nil,
			"reset_expires_at": nil,
			"updated_at":       now,
		}).Error
}

func (a *AccountStore) UpdateProfile(ctx context.Context, id domain.AccountID, firstName string, now time.Time) error {
	res := a.live(ctx).Where("id = ?", id).
		Updates(map[string]any{"first_name": firstName, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (a *AccountStore) UpdateEmail(ctx context.Context, id domain.AccountID, email string, now time.Time) error {
	key := domain.NormalizeEmail(email)
	res := a.live(ctx).Where("id = ?", id).
		Updates(map[string]any{"email": email, "email_key": key, "updated_at": now})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return domain.ErrEmailTaken
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// UpdatePassword swaps oldHash for newHash and, when revoke is set, bumps
// token_version. A transparent rehash of the same password passes
// revoke=false. If the stored hash no longer equals oldHash the write is
// refused with domain.ErrInvalidCredentials so a concurrent reset or change
// is never overwritten.
func (a *AccountStore) UpdatePassword(ctx context.Context, id domain.AccountID, oldHash, newHash string, revoke bool, now time.Time) error {
	if newHash == "" || oldHash == "" {
		return domain.ErrInvalidInput
	}
	updates := map[string]any{"password_hash": newHash, "updated_at": now}
	if revoke {
		updates["token_version"] = gorm.Expr("token_version + 1")
	}
	res := a.live(ctx).Where("id = ? AND password_hash = ?", id, oldHash).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := a.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrInvalidCredentials
	}
	return nil
}

// SetStatus moves the account along the lifecycle graph and returns the
// status it left. Leaving active clears any reset in flight; every move
// revokes outstanding tokens.
func (a *AccountStore) SetStatus(ctx context.Context, id domain.AccountID, to domain.Status, now time.Time) (domain.Status, error) {
	if to == domain.StatusDeleted {
		return a.SoftDelete(ctx, id, now)
	}
	acc, err := a.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !domain.CanTransition(acc.Status, to) {
		return acc.Status, fmt.Errorf("%s -> %s: %w", acc.Status, to, domain.ErrInvalidTransition)
	}

	updates := map[string]any{
		"status":        to,
		"token_version": gorm.Expr("token_version + 1"),
		"updated_at":    now,
	}
	if to == domain.StatusActive {
		updates["activation_code_hash"] = nil
		updates["activation_expires_at"] = nil
	} else {
		updates["reset_code_hash"] = nil
		updates["reset_expires_at"] = nil
	}
	res := a.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND status = ? AND token_version = ?", acc.ID, acc.Status, acc.TokenVersion).
		Updates(updates)
	if res.Error != nil {
		return acc.Status, res.Error
	}
	if res.RowsAffected == 0 {
		return acc.Status, domain.ErrInvalidTransition
	}
	return acc.Status, nil
}

// SoftDelete marks the account deleted, releases its email for
// re-registration and drops its images. The address itself stays in email.
func (a *AccountStore) SoftDelete(ctx context.Context, id domain.AccountID, now time.Time) (domain.Status, error) {
	var from domain.Status
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acc domain.Account
		if err := tx.Where("id = ? AND deleted_at IS NULL", id).First(&acc).Error; err != nil {
			return notFound(err)
		}
		from = acc.Status
		if !domain.CanTransition(acc.Status, domain.StatusDeleted) {
			return domain.ErrInvalidTransition
		}
		res := tx.Model(&domain.Account{}).
			Where("id = ? AND deleted_at IS NULL", id).
			Updates(map[string]any{
				"status":                domain.StatusDeleted,
				"email_key":             nil,
				"activation_code_hash":  nil,
				"activation_expires_at": nil,
				"reset_code_hash":       nil,
				"reset_expires_at":      nil,
				"profile_image_id":      nil,
				"token_version":         gorm.Expr("token_version + 1"),
				"deleted_at":            now,
				"updated_at":            now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return tx.Where("account_id = ?", id).Delete(&domain.Image{}).Error
	})
	return from, err
}

// AttachImage stores img and points the account at it. Older images of the
// account are removed in the same transaction.
func (a *AccountStore) AttachImage(ctx context.Context, img *domain.Image, now time.Time) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = now
	}
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Account{}).
			Where("id = ? AND deleted_at IS NULL", img.AccountID).
			Updates(map[string]any{"profile_image_id": img.ID, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		if err := tx.Create(img).Error; err != nil {
			return err
		}
		return tx.Where("account_id = ? AND id <> ?", img.AccountID, img.ID).Delete(&domain.Image{}).Error
	})
}

func digestMatches(stored *string, digest string) bool {
	if stored == nil || digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(digest)) == 1
}

// codeExpired reports whether a code is past its validity; a code is valid
// iff now < expiresAt.
func codeExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || !now.Before(*expiresAt)
}
