package impl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"accountd/internal/domain"
	"accountd/internal/dto"
	"accountd/internal/events"
	"accountd/internal/observability/metrics"
	"accountd/internal/observability/middleware"
	"accountd/internal/service"
	"accountd/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AccountConfig struct {
	ActivationTTL time.Duration
	ResetTTL      time.Duration
	// Link templates; "{code}" is replaced by the code, otherwise the code
	// is appended as a path segment.
	ActivationLinkURL string
	ResetLinkURL      string
}

type AccountServiceImpl struct {
	Store     dataStore
	Passwords service.PasswordService
	Tokens    service.TokenService
	Codes     service.CodeService
	Notifier  service.Notifier
	Images    service.ImagePipeline

	cfg AccountConfig
	log *zap.Logger
	now func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAccountServiceImpl(
	st *store.Store,
	passwords service.PasswordService,
	tokens service.TokenService,
	codes service.CodeService,
	notifier service.Notifier,
	images service.ImagePipeline,
	cfg AccountConfig,
	log *zap.Logger,
) *AccountServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountServiceImpl{
		Store:     gormStoreAdapter{store: st},
		Passwords: passwords,
		Tokens:    tokens,
		Codes:     codes,
		Notifier:  notifier,
		Images:    images,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for code expiry and timestamps.
func (a *AccountServiceImpl) WithClock(now func() time.Time) *AccountServiceImpl {
	a.now = now
	return a
}

type dataStore interface {
	Accounts() accountStore
	Images() imageStore
	WithTx(ctx context.Context, fn func(tx storeTx) error) error
}

type storeTx interface {
	Accounts() accountStore
	Audit() auditStore
}

type accountStore interface {
	CreatePending(ctx context.Context, acc *domain.Account) error
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByID(ctx context.Context, id domain.AccountID) (*domain.Account, error)
	ActivateByCode(ctx context.Context, codeDigest string, now time.Time) (*domain.Account, error)
	RotateActivation(ctx context.Context, id domain.AccountID, codeDigest string, expiresAt, now time.Time) error
	BeginReset(ctx context.Context, id domain.AccountID, codeDigest string, expiresAt, now time.Time) error
	CompleteResetByCode(ctx context.Context, codeDigest, newHash string, now time.Time) (*domain.Account, error)
	ClearReset(ctx context.Context, id domain.AccountID, now time.Time) error
	UpdateProfile(ctx context.Context, id domain.AccountID, firstName string, now time.Time) error
	UpdateEmail(ctx context.Context, id domain.AccountID, email string, now time.Time) error
	UpdatePassword(ctx context.Context, id domain.AccountID, oldHash, newHash string, revoke bool, now time.Time) error
	SetStatus(ctx context.Context, id domain.AccountID, to domain.Status, now time.Time) (domain.Status, error)
	SoftDelete(ctx context.Context, id domain.AccountID, now time.Time) (domain.Status, error)
	AttachImage(ctx context.Context, img *domain.Image, now time.Time) error
}

type imageStore interface {
	GetForAccount(ctx context.Context, accountID domain.AccountID) (*domain.Image, error)
}

type auditStore interface {
	Record(ctx context.Context, accountID *domain.AccountID, action string, meta any, ip, ua string) error
}

type gormStoreAdapter struct {
	store *store.Store
}

func (g gormStoreAdapter) Accounts() accountStore { return g.store.Accounts() }

func (g gormStoreAdapter) Images() imageStore { return g.store.Images() }

func (g gormStoreAdapter) WithTx(ctx context.Context, fn func(tx storeTx) error) error {
	if g.store == nil {
		return ErrNilStore
	}
	return g.store.WithTx(ctx, func(tx *store.Store) error {
		return fn(gormTxAdapter{tx: tx})
	})
}

type gormTxAdapter struct {
	tx *store.Store
}

func (g gormTxAdapter) Accounts() accountStore { return g.tx.Accounts() }

func (g gormTxAdapter) Audit() auditStore { return g.tx.Audit() }

// ====== Registration & activation ======

func (a *AccountServiceImpl) Register(ctx context.Context, r dto.RegisterRequest, meta service.RequestMeta) (*domain.Account, error) {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("register", metrics.Result(err)).Inc()
	}()

	email := strings.TrimSpace(r.Email)
	if email == "" || r.Password == "" {
		err = domain.ErrInvalidInput
		return nil, err
	}

	// hash before any transaction is opened
	var hash string
	if hash, err = a.Passwords.Hash(r.Password); err != nil {
		return nil, err
	}
	var code, digest string
	var exp time.Time
	if code, digest, exp, err = a.newCode(a.cfg.ActivationTTL); err != nil {
		return nil, err
	}

	now := a.now()
	acc := &domain.Account{
		ID:                  uuid.New(),
		Email:               email,
		PasswordHash:        hash,
		FirstName:           strings.TrimSpace(r.FirstName),
		ActivationCodeHash:  &digest,
		ActivationExpiresAt: &exp,
		CreatedAt:           now,
	}
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		if err := tx.Accounts().CreatePending(ctx, acc); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &acc.ID, events.ActionRegistered, events.AccountRegistered{
			AccountID: acc.ID.String(), Email: acc.Email, At: now,
		}, meta.IP, meta.UserAgent)
	})
	if err != nil {
		return nil, err
	}

	a.log.Info("account registered", append(middleware.Fields(ctx), zap.String("account_id", acc.ID.String()))...)
	a.notify(ctx, acc, service.TemplateActivation, code, exp, a.cfg.ActivationLinkURL, meta)
	return acc, nil
}

// Activate consumes an activation code and logs the account in.
func (a *AccountServiceImpl) Activate(ctx context.Context, code string, meta service.RequestMeta) (*domain.Account, *dto.TokenResponse, error) {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("activate", metrics.Result(err)).Inc()
	}()

	code = strings.TrimSpace(code)
	if code == "" {
		err = domain.ErrCodeInvalid
		return nil, nil, err
	}
	now := a.now()
	var acc *domain.Account
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		var err error
		if acc, err = tx.Accounts().ActivateByCode(ctx, a.Codes.Digest(code), now); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &acc.ID, events.ActionActivated, nil, meta.IP, meta.UserAgent)
	})
	if err != nil {
		return nil, nil, err
	}

	var tr *dto.TokenResponse
	if tr, err = a.Tokens.Issue(ctx, acc.ID, acc.Marker()); err != nil {
		return nil, nil, err
	}
	return acc, tr, nil
}

// ResendActivation rotates the code of a pending account and mails it again.
// Unknown and already activated addresses succeed silently.
func (a *AccountServiceImpl) ResendActivation(ctx context.Context, email string, meta service.RequestMeta) error {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("resend_activation", metrics.Result(err)).Inc()
	}()

	var acc *domain.Account
	if acc, err = a.Store.Accounts().FindByEmail(ctx, email); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = nil
		}
		return err
	}
	if acc.Status != domain.StatusPending {
		return nil
	}

	var code, digest string
	var exp time.Time
	if code, digest, exp, err = a.newCode(a.cfg.ActivationTTL); err != nil {
		return err
	}
	now := a.now()
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		if err := tx.Accounts().RotateActivation(ctx, acc.ID, digest, exp, now); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &acc.ID, events.ActionActivationResent, nil, meta.IP, meta.UserAgent)
	})
	if errors.Is(err, domain.ErrAlreadyActive) || errors.Is(err, domain.ErrInvalidTransition) {
		err = nil
		return nil
	}
	if err != nil {
		return err
	}
	a.notify(ctx, acc, service.TemplateActivation, code, exp, a.cfg.ActivationLinkURL, meta)
	return nil
}

// ====== Login ======

func (a *AccountServiceImpl) Login(ctx context.Context, r dto.LoginRequest, meta service.RequestMeta) (*domain.Account, *dto.TokenResponse, error) {
	result := "failure"
	defer func() {
		metrics.AuthLoginsTotal.WithLabelValues(result).Inc()
	}()

	acc, err := a.Store.Accounts().FindByEmail(ctx, r.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// same cost as a real mismatch
			a.Passwords.Verify(r.Password, a.dummy())
			return nil, nil, domain.ErrInvalidCredentials
		}
		return nil, nil, err
	}

	ok, rehash := a.Passwords.Verify(r.Password, acc.PasswordHash)
	if !ok {
		return nil, nil, domain.ErrInvalidCredentials
	}
	switch acc.Status {
	case domain.StatusActive:
	case domain.StatusPending:
		return nil, nil, domain.ErrNotActivated
	case domain.StatusSuspended:
		return nil, nil, domain.ErrSuspended
	default:
		return nil, nil, domain.ErrInvalidCredentials
	}

	now := a.now()
	fields := append(middleware.Fields(ctx), zap.String("account_id", acc.ID.String()))
	if rehash {
		if h, herr := a.Passwords.Hash(r.Password); herr == nil {
			uerr := a.Store.Accounts().UpdatePassword(ctx, acc.ID, acc.PasswordHash, h, false, now)
			switch {
			case errors.Is(uerr, domain.ErrInvalidCredentials):
				// the password changed since it was read; leave the newer hash alone
				a.log.Debug("password rehash skipped", fields...)
			case uerr != nil:
				a.log.Warn("password rehash not stored", append(fields, zap.Error(uerr))...)
			default:
				acc.PasswordHash = h
			}
		}
	}
	// a successful login abandons any reset in flight
	if acc.ResetCodeHash != nil {
		if cerr := a.Store.Accounts().ClearReset(ctx, acc.ID, now); cerr != nil {
			a.log.Warn("clearing reset code failed", append(fields, zap.Error(cerr))...)
		} else {
			acc.ResetCodeHash, acc.ResetExpiresAt = nil, nil
		}
	}

	tr, err := a.Tokens.Issue(ctx, acc.ID, acc.Marker())
	if err != nil {
		return nil, nil, err
	}
	result = "success"
	a.log.Info("login", fields...)
	return acc, tr, nil
}

// Authenticate verifies a bearer token and re-checks it against the store.
func (a *AccountServiceImpl) Authenticate(ctx context.Context, token string) (*domain.Account, error) {
	claims, err := a.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	acc, err := a.Store.Accounts().GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTokenStale
		}
		return nil, err
	}
	if acc.Status == domain.StatusSuspended {
		return nil, domain.ErrSuspended
	}
	if acc.Status != domain.StatusActive || acc.Marker() != claims.Marker {
		return nil, domain.ErrTokenStale
	}
	return acc, nil
}

// ====== Password reset ======

// RequestReset mails a reset code to an active account. Unknown and inactive
// addresses succeed silently.
func (a *AccountServiceImpl) RequestReset(ctx context.Context, email string, meta service.RequestMeta) error {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("reset_request", metrics.Result(err)).Inc()
	}()

	var acc *domain.Account
	if acc, err = a.Store.Accounts().FindByEmail(ctx, email); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = nil
		}
		return err
	}
	if acc.Status != domain.StatusActive {
		return nil
	}

	var code, digest string
	var exp time.Time
	if code, digest, exp, err = a.newCode(a.cfg.ResetTTL); err != nil {
		return err
	}
	now := a.now()
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		if err := tx.Accounts().BeginReset(ctx, acc.ID, digest, exp, now); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &acc.ID, events.ActionResetRequested, nil, meta.IP, meta.UserAgent)
	})
	if errors.Is(err, domain.ErrNotFound) {
		err = nil
		return nil
	}
	if err != nil {
		return err
	}
	a.notify(ctx, acc, service.TemplatePasswordReset, code, exp, a.cfg.ResetLinkURL, meta)
	return nil
}

// CompleteReset swaps the password, revokes older tokens and logs the
// account in with a fresh one.
func (a *AccountServiceImpl) CompleteReset(ctx context.Context, r dto.CompleteResetRequest, meta service.RequestMeta) (*domain.Account, *dto.TokenResponse, error) {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("reset_complete", metrics.Result(err)).Inc()
	}()

	code := strings.TrimSpace(r.Code)
	if code == "" {
		err = domain.ErrCodeInvalid
		return nil, nil, err
	}
	var hash string
	if hash, err = a.Passwords.Hash(r.Password); err != nil {
		return nil, nil, err
	}

	now := a.now()
	var acc *domain.Account
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		var err error
		if acc, err = tx.Accounts().CompleteResetByCode(ctx, a.Codes.Digest(code), hash, now); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &acc.ID, events.ActionResetCompleted, nil, meta.IP, meta.UserAgent)
	})
	if err != nil {
		return nil, nil, err
	}

	var tr *dto.TokenResponse
	if tr, err = a.Tokens.Issue(ctx, acc.ID, acc.Marker()); err != nil {
		return nil, nil, err
	}
	return acc, tr, nil
}

// ====== Profile ======

func (a *AccountServiceImpl) Get(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return a.Store.Accounts().GetByID(ctx, id)
}

func (a *AccountServiceImpl) UpdateProfile(ctx context.Context, id domain.AccountID, r dto.UpdateProfileRequest, meta service.RequestMeta) (*domain.Account, error) {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("update_profile", metrics.Result(err)).Inc()
	}()

	now := a.now()
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		if err := tx.Accounts().UpdateProfile(ctx, id, strings.TrimSpace(r.FirstName), now); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &id, events.ActionProfileUpdated, nil, meta.IP, meta.UserAgent)
	})
	if err != nil {
		return nil, err
	}
	return a.Get(ctx, id)
}

// ChangeEmail requires the current password.
func (a *AccountServiceImpl) ChangeEmail(ctx context.Context, id domain.AccountID, r dto.ChangeEmailRequest, meta service.RequestMeta) (*domain.Account, error) {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("change_email", metrics.Result(err)).Inc()
	}()

	var acc *domain.Account
	if acc, err = a.Get(ctx, id); err != nil {
		return nil, err
	}
	if ok, _ := a.Passwords.Verify(r.Password, acc.PasswordHash); !ok {
		err = domain.ErrInvalidCredentials
		return nil, err
	}
	email := strings.TrimSpace(r.Email)
	if email == "" {
		err = domain.ErrInvalidInput
		return nil, err
	}
	if email == acc.Email {
		return acc, nil
	}

	now := a.now()
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		if err := tx.Accounts().UpdateEmail(ctx, id, email, now); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &id, events.ActionEmailChanged, events.EmailChanged{
			AccountID: id.String(), From: acc.Email, To: email, At: now,
		}, meta.IP, meta.UserAgent)
	})
	if err != nil {
		return nil, err
	}
	return a.Get(ctx, id)
}

// ChangePassword requires the old password and returns a token for the new
// token version; every other outstanding token stops working.
func (a *AccountServiceImpl) ChangePassword(ctx context.Context, id domain.AccountID, r dto.ChangePasswordRequest, meta service.RequestMeta) (*dto.TokenResponse, error) {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("change_password", metrics.Result(err)).Inc()
	}()

	var acc *domain.Account
	if acc, err = a.Get(ctx, id); err != nil {
		return nil, err
	}
	if ok, _ := a.Passwords.Verify(r.OldPassword, acc.PasswordHash); !ok {
		err = domain.ErrInvalidCredentials
		return nil, err
	}
	if r.NewPassword != r.RepeatPassword {
		err = domain.ErrInvalidInput
		return nil, err
	}
	var hash string
	if hash, err = a.Passwords.Hash(r.NewPassword); err != nil {
		return nil, err
	}

	now := a.now()
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		if err := tx.Accounts().UpdatePassword(ctx, id, acc.PasswordHash, hash, true, now); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &id, events.ActionPasswordChanged, nil, meta.IP, meta.UserAgent)
	})
	if err != nil {
		return nil, err
	}
	if acc, err = a.Get(ctx, id); err != nil {
		return nil, err
	}
	var tr *dto.TokenResponse
	tr, err = a.Tokens.Issue(ctx, acc.ID, acc.Marker())
	return tr, err
}

// ====== Images ======

// UploadImage decodes outside any transaction, then swaps the account's
// image atomically.
func (a *AccountServiceImpl) UploadImage(ctx context.Context, id domain.AccountID, raw []byte, contentType string, meta service.RequestMeta) (*domain.Image, error) {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("upload_image", metrics.Result(err)).Inc()
	}()

	var acc *domain.Account
	if acc, err = a.Get(ctx, id); err != nil {
		return nil, err
	}
	var img *domain.Image
	if img, err = a.Images.Ingest(ctx, id, raw, contentType); err != nil {
		return nil, err
	}

	now := a.now()
	ev := events.ImageAttached{AccountID: id.String(), ImageID: img.ID.String(), At: now}
	if acc.ProfileImageID != nil {
		ev.Previous = acc.ProfileImageID.String()
	}
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		if err := tx.Accounts().AttachImage(ctx, img, now); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &id, events.ActionImageAttached, ev, meta.IP, meta.UserAgent)
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (a *AccountServiceImpl) GetImage(ctx context.Context, id domain.AccountID) (*domain.Image, error) {
	acc, err := a.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc.ProfileImageID == nil {
		return nil, domain.ErrNoImage
	}
	img, err := a.Store.Images().GetForAccount(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoImage
	}
	return img, err
}

// ====== Status ======

func (a *AccountServiceImpl) SetStatus(ctx context.Context, id domain.AccountID, to domain.Status, meta service.RequestMeta) error {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("set_status", metrics.Result(err)).Inc()
	}()

	if !to.Valid() {
		err = domain.ErrInvalidInput
		return err
	}
	now := a.now()
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		from, err := tx.Accounts().SetStatus(ctx, id, to, now)
		if err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &id, events.ActionStatusChanged, events.StatusChanged{
			AccountID: id.String(), From: string(from), To: string(to), At: now,
		}, meta.IP, meta.UserAgent)
	})
	if err == nil {
		a.log.Info("account status changed", append(middleware.Fields(ctx),
			zap.String("account_id", id.String()), zap.String("to", string(to)))...)
	}
	return err
}

// Delete soft-deletes the account and releases its email address.
func (a *AccountServiceImpl) Delete(ctx context.Context, id domain.AccountID, meta service.RequestMeta) error {
	var err error
	defer func() {
		metrics.AccountTransitionsTotal.WithLabelValues("delete", metrics.Result(err)).Inc()
	}()

	now := a.now()
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		from, err := tx.Accounts().SoftDelete(ctx, id, now)
		if err != nil {
			return err
		}
		return tx.Audit().Record(ctx, &id, events.ActionDeleted, events.StatusChanged{
			AccountID: id.String(), From: string(from), To: string(domain.StatusDeleted), At: now,
		}, meta.IP, meta.UserAgent)
	})
	return err
}

// ====== Helpers ======

func (a *AccountServiceImpl) newCode(ttl time.Duration) (code, digest string, exp time.Time, err error) {
	if code, err = a.Codes.Generate(); err != nil {
		return "", "", time.Time{}, err
	}
	return code, a.Codes.Digest(code), a.Codes.ExpiresAt(a.now(), ttl), nil
}

// notify sends best effort. A failure is logged and audited but never undoes
// the transition that triggered it.
func (a *AccountServiceImpl) notify(ctx context.Context, acc *domain.Account, template, code string, exp time.Time, linkBase string, meta service.RequestMeta) {
	data := map[string]any{
		"email":      acc.Email,
		"first_name": acc.FirstName,
		"code":       code,
		"link":       buildLink(linkBase, code),
		"expires_at": exp,
	}
	err := a.Notifier.Send(ctx, template, data, acc.Email)
	if err == nil {
		return
	}
	a.log.Error("notification not sent", append(middleware.Fields(ctx),
		zap.String("account_id", acc.ID.String()), zap.String("template", template), zap.Error(err))...)
	aerr := a.Store.WithTx(ctx, func(tx storeTx) error {
		return tx.Audit().Record(ctx, &acc.ID, events.ActionNotificationError,
			map[string]string{"template": template, "error": err.Error()}, meta.IP, meta.UserAgent)
	})
	if aerr != nil {
		a.log.Warn("audit of notification failure not stored", zap.Error(aerr))
	}
}

func (a *AccountServiceImpl) dummy() string {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = a.Passwords.Hash(uuid.NewString())
	})
	return a.dummyHash
}

func buildLink(base, code string) string {
	if base == "" {
		return code
	}
	if strings.Contains(base, "{code}") {
		return strings.ReplaceAll(base, "{code}", code)
	}
	return strings.TrimRight(base, "/") + "/" + code
}
