package http

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"accountd/internal/domain"
	"accountd/internal/dto"
	"accountd/internal/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	httpx.Write(w, http.StatusOK, h.view(r, accountFrom(r.Context())))
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.accounts.UpdateProfile(r.Context(), accountFrom(r.Context()).ID, req, requestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Write(w, http.StatusOK, h.view(r, acc))
}

func (h *Handler) changeEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangeEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.accounts.ChangeEmail(r.Context(), accountFrom(r.Context()).ID, req, requestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Write(w, http.StatusOK, h.view(r, acc))
}

// changePassword revokes every other session, so the caller gets a fresh
// token and cookie.
func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	tr, err := h.accounts.ChangePassword(r.Context(), accountFrom(r.Context()).ID, req, requestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setSessionCookie(w, tr)
	httpx.Write(w, http.StatusOK, tr)
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context(), accountFrom(r.Context()).ID, requestMeta(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	httpx.Write(w, http.StatusOK, nil)
}

func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	raw, contentType, err := readUpload(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	img, err := h.accounts.UploadImage(r.Context(), accountFrom(r.Context()).ID, raw, contentType, requestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Write(w, http.StatusCreated, imageJSON(img, false))
}

// readUpload accepts a multipart form with a "file" part or the raw image as
// the request body.
func readUpload(r *http.Request) ([]byte, string, error) {
	ct := r.Header.Get("Content-Type")
	if mt, _, _ := mime.ParseMediaType(ct); mt == "multipart/form-data" {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
				return nil, "", domain.ErrTooLarge
			}
			return nil, "", domain.ErrInvalidInput
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			return nil, "", err
		}
		return raw, hdr.Header.Get("Content-Type"), nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, "", domain.ErrTooLarge
		}
		return nil, "", err
	}
	if len(raw) == 0 {
		return nil, "", domain.ErrInvalidInput
	}
	return raw, ct, nil
}

// image streams the thumbnail, or the original with ?variant=original.
func (h *Handler) image(w http.ResponseWriter, r *http.Request) {
	img, err := h.accounts.GetImage(r.Context(), accountFrom(r.Context()).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, ct := img.ThumbnailBytes, img.ThumbnailContentType
	switch r.URL.Query().Get("variant") {
	case "", "thumbnail":
	case "original":
		body, ct = img.OriginalBytes, img.ContentType
	default:
		httpx.Error(w, http.StatusBadRequest, "unknown variant")
		return
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) imageJSON(w http.ResponseWriter, r *http.Request) {
	img, err := h.accounts.GetImage(r.Context(), accountFrom(r.Context()).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Write(w, http.StatusOK, imageJSON(img, true))
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req dto.SetStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	to := domain.Status(req.Status)
	if err := h.accounts.SetStatus(r.Context(), id, to, requestMeta(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Write(w, http.StatusOK, map[string]string{"id": id.String(), "status": string(to)})
}
