package impl

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"accountd/internal/domain"
	"accountd/internal/dto"
	"accountd/internal/events"
	"accountd/internal/media"
	"accountd/internal/service"
	"accountd/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sentMail struct {
	template  string
	recipient string
	data      map[string]any
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *stubNotifier) Send(_ context.Context, template string, data map[string]any, recipient string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{template: template, recipient: recipient, data: data})
	return nil
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *stubNotifier) lastCode(t *testing.T, template string) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no mail sent")
	last := n.sent[len(n.sent)-1]
	require.Equal(t, template, last.template)
	code, ok := last.data["code"].(string)
	require.True(t, ok)
	return code
}

type countingPasswords struct {
	service.PasswordService
	verifies atomic.Int32
	// beforeHash runs once ahead of the next Hash call.
	beforeHash func()
}

func (c *countingPasswords) Verify(password, encoded string) (bool, bool) {
	c.verifies.Add(1)
	return c.PasswordService.Verify(password, encoded)
}

func (c *countingPasswords) Hash(password string) (string, error) {
	if f := c.beforeHash; f != nil {
		c.beforeHash = nil
		f()
	}
	return c.PasswordService.Hash(password)
}

type harness struct {
	svc   *AccountServiceImpl
	store *store.Store
	mail  *stubNotifier
	pw    *countingPasswords
	clock *fakeClock
	codes *CodeServiceImpl
}

var noMeta = service.RequestMeta{IP: "203.0.113.7", UserAgent: "test"}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.Migrate(db))

	st := store.New(db)
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	mail := &stubNotifier{}
	pw := &countingPasswords{PasswordService: NewPasswordServiceArgon2id(fastArgon2())}
	codes := NewCodeService(MinCodeBytes)

	svc := NewAccountServiceImpl(st, pw, newHMACTokens(t, secretA, clock), codes, mail,
		media.NewPipeline(media.DefaultConfig(), nil),
		AccountConfig{
			ActivationTTL:     48 * time.Hour,
			ResetTTL:          time.Hour,
			ActivationLinkURL: "https://accounts.test/v1/auth/activate",
			ResetLinkURL:      "https://app.test/reset?code={code}",
		}, nil).WithClock(clock.Now)

	return &harness{svc: svc, store: st, mail: mail, pw: pw, clock: clock, codes: codes}
}

// register creates an account and returns it with the mailed activation code.
func (h *harness) register(t *testing.T, email, password string) (*domain.Account, string) {
	t.Helper()
	acc, err := h.svc.Register(context.Background(), dto.RegisterRequest{Email: email, Password: password, FirstName: "Ada"}, noMeta)
	require.NoError(t, err)
	return acc, h.mail.lastCode(t, service.TemplateActivation)
}

func (h *harness) active(t *testing.T, email, password string) (*domain.Account, *dto.TokenResponse) {
	t.Helper()
	_, code := h.register(t, email, password)
	acc, tr, err := h.svc.Activate(context.Background(), code, noMeta)
	require.NoError(t, err)
	return acc, tr
}

func (h *harness) actions(t *testing.T, id domain.AccountID) []string {
	t.Helper()
	entries, err := h.store.Audit().ListForAccount(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRegisterActivateLoginScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acc, err := h.svc.Register(ctx, dto.RegisterRequest{Email: "a@x.com", Password: "pw1"}, noMeta)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, acc.Status)

	code := h.mail.lastCode(t, service.TemplateActivation)
	assert.GreaterOrEqual(t, len(code), h.codes.EncodedLen())
	assert.Equal(t, "a@x.com", h.mail.sent[0].recipient)
	assert.Equal(t, "https://accounts.test/v1/auth/activate/"+code, h.mail.sent[0].data["link"])

	_, _, err = h.svc.Activate(ctx, "not-the-code", noMeta)
	assert.ErrorIs(t, err, domain.ErrCodeInvalid)

	activated, tr, err := h.svc.Activate(ctx, code, noMeta)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, activated.Status)
	assert.NotEmpty(t, tr.AccessToken)

	_, login, err := h.svc.Login(ctx, dto.LoginRequest{Email: "a@x.com", Password: "pw1"}, noMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, login.AccessToken)

	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "a@x.com", Password: "pw2"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	// single use
	_, _, err = h.svc.Activate(ctx, code, noMeta)
	assert.ErrorIs(t, err, domain.ErrCodeInvalid)

	assert.Equal(t, []string{events.ActionRegistered, events.ActionActivated}, h.actions(t, acc.ID))
}

func TestRegisterRejectsTakenEmail(t *testing.T) {
	h := newHarness(t)
	h.register(t, "dup@x.com", "pw1")

	_, err := h.svc.Register(context.Background(), dto.RegisterRequest{Email: "  DUP@x.com ", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
	assert.Equal(t, 1, h.mail.count())
}

func TestRegisterRequiresEmailAndPassword(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Register(context.Background(), dto.RegisterRequest{Email: "", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.svc.Register(context.Background(), dto.RegisterRequest{Email: "a@x.com"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegisterSurvivesNotificationFailure(t *testing.T) {
	h := newHarness(t)
	h.mail.err = domain.ErrTransportFailure

	acc, err := h.svc.Register(context.Background(), dto.RegisterRequest{Email: "m@x.com", Password: "pw1"}, noMeta)
	require.NoError(t, err)

	stored, err := h.svc.Get(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Contains(t, h.actions(t, acc.ID), events.ActionNotificationError)
}

func TestActivationCodeExpires(t *testing.T) {
	h := newHarness(t)
	_, code := h.register(t, "late@x.com", "pw1")

	h.clock.Advance(48 * time.Hour)
	_, _, err := h.svc.Activate(context.Background(), code, noMeta)
	assert.ErrorIs(t, err, domain.ErrCodeExpired)
}

func TestResendActivationRotatesCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, old := h.register(t, "r@x.com", "pw1")

	require.NoError(t, h.svc.ResendActivation(ctx, "R@x.com", noMeta))
	fresh := h.mail.lastCode(t, service.TemplateActivation)
	assert.NotEqual(t, old, fresh)

	_, _, err := h.svc.Activate(ctx, old, noMeta)
	assert.ErrorIs(t, err, domain.ErrCodeInvalid)
	_, _, err = h.svc.Activate(ctx, fresh, noMeta)
	require.NoError(t, err)

	sent := h.mail.count()
	assert.NoError(t, h.svc.ResendActivation(ctx, "r@x.com", noMeta))
	assert.NoError(t, h.svc.ResendActivation(ctx, "nobody@x.com", noMeta))
	assert.Equal(t, sent, h.mail.count())
}

func TestLoginStatusGates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "p@x.com", "pw1")
	_, _, err := h.svc.Login(ctx, dto.LoginRequest{Email: "p@x.com", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrNotActivated)
	// the password is checked before the status is revealed
	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "p@x.com", Password: "nope"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	acc, _ := h.active(t, "s@x.com", "pw1")
	require.NoError(t, h.svc.SetStatus(ctx, acc.ID, domain.StatusSuspended, noMeta))
	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "s@x.com", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrSuspended)
}

func TestLoginUnknownEmailStillVerifies(t *testing.T) {
	h := newHarness(t)
	before := h.pw.verifies.Load()

	_, _, err := h.svc.Login(context.Background(), dto.LoginRequest{Email: "ghost@x.com", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Equal(t, before+1, h.pw.verifies.Load())
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, tr := h.active(t, "reset@x.com", "pw1")

	require.NoError(t, h.svc.RequestReset(ctx, "reset@x.com", noMeta))
	code := h.mail.lastCode(t, service.TemplatePasswordReset)
	assert.Equal(t, "https://app.test/reset?code="+code, h.mail.sent[len(h.mail.sent)-1].data["link"])

	got, fresh, err := h.svc.CompleteReset(ctx, dto.CompleteResetRequest{Code: code, Password: "newpass1"}, noMeta)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)
	assert.NotEmpty(t, fresh.AccessToken)

	_, err = h.svc.Authenticate(ctx, tr.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenStale)
	_, err = h.svc.Authenticate(ctx, fresh.AccessToken)
	assert.NoError(t, err)

	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "reset@x.com", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "reset@x.com", Password: "newpass1"}, noMeta)
	assert.NoError(t, err)

	_, _, err = h.svc.CompleteReset(ctx, dto.CompleteResetRequest{Code: code, Password: "again123"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrCodeInvalid)
}

// completeResetDuringHash arms a password reset for email and lands it
// inside the next Hash call, after the caller has already read the account.
func (h *harness) completeResetDuringHash(t *testing.T, email, password string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.svc.RequestReset(ctx, email, noMeta))
	code := h.mail.lastCode(t, service.TemplatePasswordReset)
	h.pw.beforeHash = func() {
		_, _, err := h.svc.CompleteReset(ctx, dto.CompleteResetRequest{Code: code, Password: password}, noMeta)
		require.NoError(t, err)
	}
}

func TestLoginRehashKeepsConcurrentReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, _ := h.active(t, "rehash@x.com", "pw1")

	// store a hash under weaker parameters so the next login rehashes it
	weak := fastArgon2()
	weak.Time = 2
	old, err := NewPasswordServiceArgon2id(weak).Hash("pw1")
	require.NoError(t, err)
	stored, err := h.store.Accounts().GetByID(ctx, acc.ID)
	require.NoError(t, err)
	require.NoError(t, h.store.Accounts().UpdatePassword(ctx, acc.ID, stored.PasswordHash, old, false, h.clock.Now()))

	h.completeResetDuringHash(t, "rehash@x.com", "newpass1")
	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "rehash@x.com", Password: "pw1"}, noMeta)
	require.NoError(t, err)

	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "rehash@x.com", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "rehash@x.com", Password: "newpass1"}, noMeta)
	assert.NoError(t, err)
}

func TestChangePasswordLosesToConcurrentReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, _ := h.active(t, "race@x.com", "pw1")

	h.completeResetDuringHash(t, "race@x.com", "newpass1")
	_, err := h.svc.ChangePassword(ctx, acc.ID, dto.ChangePasswordRequest{OldPassword: "pw1", NewPassword: "n3wpassw", RepeatPassword: "n3wpassw"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.NotContains(t, h.actions(t, acc.ID), events.ActionPasswordChanged)

	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "race@x.com", Password: "n3wpassw"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "race@x.com", Password: "newpass1"}, noMeta)
	assert.NoError(t, err)
}

func TestRequestResetSilentForUnknownAndPending(t *testing.T) {
	h := newHarness(t)
	h.register(t, "pending@x.com", "pw1")
	sent := h.mail.count()

	assert.NoError(t, h.svc.RequestReset(context.Background(), "pending@x.com", noMeta))
	assert.NoError(t, h.svc.RequestReset(context.Background(), "ghost@x.com", noMeta))
	assert.Equal(t, sent, h.mail.count())
}

func TestResetCodeExpires(t *testing.T) {
	h := newHarness(t)
	h.active(t, "exp@x.com", "pw1")
	require.NoError(t, h.svc.RequestReset(context.Background(), "exp@x.com", noMeta))
	code := h.mail.lastCode(t, service.TemplatePasswordReset)

	h.clock.Advance(time.Hour)
	_, _, err := h.svc.CompleteReset(context.Background(), dto.CompleteResetRequest{Code: code, Password: "newpass1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrCodeExpired)
}

func TestLoginAbandonsPendingReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.active(t, "abandon@x.com", "pw1")
	require.NoError(t, h.svc.RequestReset(ctx, "abandon@x.com", noMeta))
	code := h.mail.lastCode(t, service.TemplatePasswordReset)

	_, _, err := h.svc.Login(ctx, dto.LoginRequest{Email: "abandon@x.com", Password: "pw1"}, noMeta)
	require.NoError(t, err)

	_, _, err = h.svc.CompleteReset(ctx, dto.CompleteResetRequest{Code: code, Password: "newpass1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrCodeInvalid)
}

func TestAuthenticateTracksStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, tr := h.active(t, "auth@x.com", "pw1")

	got, err := h.svc.Authenticate(ctx, tr.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	require.NoError(t, h.svc.SetStatus(ctx, acc.ID, domain.StatusSuspended, noMeta))
	_, err = h.svc.Authenticate(ctx, tr.AccessToken)
	assert.ErrorIs(t, err, domain.ErrSuspended)

	require.NoError(t, h.svc.SetStatus(ctx, acc.ID, domain.StatusActive, noMeta))
	_, err = h.svc.Authenticate(ctx, tr.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenStale)

	_, err = h.svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrTokenMalformed)
}

func TestSetStatusValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, _ := h.register(t, "st@x.com", "pw1")

	assert.ErrorIs(t, h.svc.SetStatus(ctx, acc.ID, domain.Status("bogus"), noMeta), domain.ErrInvalidInput)
	assert.ErrorIs(t, h.svc.SetStatus(ctx, acc.ID, domain.StatusSuspended, noMeta), domain.ErrInvalidTransition)
	assert.ErrorIs(t, h.svc.SetStatus(ctx, uuid.New(), domain.StatusActive, noMeta), domain.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, tr := h.active(t, "cp@x.com", "pw1")

	_, err := h.svc.ChangePassword(ctx, acc.ID, dto.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "n3wpassw", RepeatPassword: "n3wpassw"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = h.svc.ChangePassword(ctx, acc.ID, dto.ChangePasswordRequest{OldPassword: "pw1", NewPassword: "n3wpassw", RepeatPassword: "other"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	fresh, err := h.svc.ChangePassword(ctx, acc.ID, dto.ChangePasswordRequest{OldPassword: "pw1", NewPassword: "n3wpassw", RepeatPassword: "n3wpassw"}, noMeta)
	require.NoError(t, err)

	_, err = h.svc.Authenticate(ctx, tr.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenStale)
	_, err = h.svc.Authenticate(ctx, fresh.AccessToken)
	assert.NoError(t, err)

	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "cp@x.com", Password: "n3wpassw"}, noMeta)
	assert.NoError(t, err)
	assert.Contains(t, h.actions(t, acc.ID), events.ActionPasswordChanged)
}

func TestChangeEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, _ := h.active(t, "old@x.com", "pw1")
	h.register(t, "taken@x.com", "pw1")

	_, err := h.svc.ChangeEmail(ctx, acc.ID, dto.ChangeEmailRequest{Email: "new@x.com", Password: "wrong"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = h.svc.ChangeEmail(ctx, acc.ID, dto.ChangeEmailRequest{Email: "Taken@x.com", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	got, err := h.svc.ChangeEmail(ctx, acc.ID, dto.ChangeEmailRequest{Email: "new@x.com", Password: "pw1"}, noMeta)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", got.Email)

	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "new@x.com", Password: "pw1"}, noMeta)
	assert.NoError(t, err)
	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "old@x.com", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	acc, _ := h.active(t, "prof@x.com", "pw1")

	got, err := h.svc.UpdateProfile(context.Background(), acc.ID, dto.UpdateProfileRequest{FirstName: "  Grace "}, noMeta)
	require.NoError(t, err)
	assert.Equal(t, "Grace", got.FirstName)
}

func TestUploadImageReplacesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, _ := h.active(t, "img@x.com", "pw1")

	_, err := h.svc.GetImage(ctx, acc.ID)
	assert.ErrorIs(t, err, domain.ErrNoImage)

	first, err := h.svc.UploadImage(ctx, acc.ID, pngFixture(t, 400, 200), "image/png", noMeta)
	require.NoError(t, err)
	assert.Equal(t, 400, first.Width)

	second, err := h.svc.UploadImage(ctx, acc.ID, pngFixture(t, 50, 50), "image/png", noMeta)
	require.NoError(t, err)

	got, err := h.svc.GetImage(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	n, err := h.store.Images().CountForAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = h.svc.UploadImage(ctx, acc.ID, []byte(strings.Repeat("x", 64)), "image/png", noMeta)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	got, err = h.svc.GetImage(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestDeleteReleasesEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc, tr := h.active(t, "gone@x.com", "pw1")

	require.NoError(t, h.svc.Delete(ctx, acc.ID, noMeta))

	_, err := h.svc.Authenticate(ctx, tr.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenStale)
	_, _, err = h.svc.Login(ctx, dto.LoginRequest{Email: "gone@x.com", Password: "pw1"}, noMeta)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Error(t, h.svc.Delete(ctx, acc.ID, noMeta))

	again, _ := h.register(t, "gone@x.com", "pw1")
	assert.NotEqual(t, acc.ID, again.ID)
	assert.Contains(t, h.actions(t, acc.ID), events.ActionDeleted)
}

func TestBuildLink(t *testing.T) {
	tests := []struct {
		base, want string
	}{
		{"", "c0de"},
		{"https://a.test/activate", "https://a.test/activate/c0de"},
		{"https://a.test/activate/", "https://a.test/activate/c0de"},
		{"https://a.test/reset?code={code}", "https://a.test/reset?code=c0de"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, buildLink(tt.base, "c0de"), tt.base)
	}
}
