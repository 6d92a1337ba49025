package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"accountd/internal/domain"
	"accountd/internal/dto"
	"accountd/internal/httpx"
	"accountd/internal/media"
)

type ctxAccountKey struct{}

func withAccount(ctx context.Context, acc *domain.Account) context.Context {
	return context.WithValue(ctx, ctxAccountKey{}, acc)
}

func accountFrom(ctx context.Context) *domain.Account {
	acc, _ := ctx.Value(ctxAccountKey{}).(*domain.Account)
	return acc
}

func bearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return ""
}

// requireAccount accepts a bearer header or the session cookie, and rejects
// tokens whose account has since changed status or been deleted.
func (h *Handler) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			if c, err := r.Cookie(h.cfg.CookieName); err == nil {
				tok = c.Value
			}
		}
		if tok == "" {
			httpx.Error(w, http.StatusUnauthorized, "missing token")
			return
		}
		acc, err := h.accounts.Authenticate(r.Context(), tok)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), acc)))
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	want := []byte(h.cfg.AdminAPIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("X-Admin-Key"))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			httpx.Error(w, http.StatusUnauthorized, "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, tr *dto.TokenResponse) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    tr.AccessToken,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  tr.ExpiresAt,
		MaxAge:   int(tr.ExpiresIn),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// view renders the public account shape, inlining the thumbnail when the
// account has an image.
func (h *Handler) view(r *http.Request, acc *domain.Account) dto.AccountView {
	v := dto.AccountView{
		ID:          acc.ID.String(),
		Email:       acc.Email,
		FirstName:   acc.FirstName,
		Status:      string(acc.Status),
		IsConfirmed: acc.IsConfirmed(),
		CreatedAt:   acc.CreatedAt,
		UpdatedAt:   acc.UpdatedAt,
	}
	if acc.ProfileImageID != nil {
		if img, err := h.accounts.GetImage(r.Context(), acc.ID); err == nil {
			uri := media.DataURI(img.ThumbnailContentType, img.ThumbnailBytes)
			v.Image = &uri
		}
	}
	return v
}

func imageJSON(img *domain.Image, withOriginal bool) dto.ImageJSON {
	out := dto.ImageJSON{
		ID:                   img.ID.String(),
		ContentType:          img.ContentType,
		ThumbnailContentType: img.ThumbnailContentType,
		Width:                img.Width,
		Height:               img.Height,
		Thumbnail:            media.Base64(img.ThumbnailBytes),
		CreatedAt:            img.CreatedAt,
	}
	if withOriginal {
		out.Data = media.Base64(img.OriginalBytes)
	}
	return out
}
