package http

import (
	"errors"
	"net/http"

	"accountd/internal/domain"
	"accountd/internal/httpx"
	"accountd/internal/observability/middleware"

	validation "github.com/go-ozzo/ozzo-validation"
	"go.uber.org/zap"
)

const internalErrorText = "internal server error"

// statusFor maps domain errors to a status code and a caller-safe text.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "invalid input"
	case errors.Is(err, domain.ErrEmailTaken):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, domain.ErrNotActivated):
		return http.StatusForbidden, "account not activated"
	case errors.Is(err, domain.ErrSuspended):
		return http.StatusForbidden, "account suspended"
	case errors.Is(err, domain.ErrAlreadyActive):
		return http.StatusConflict, "account already active"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid status transition"
	case errors.Is(err, domain.ErrCodeInvalid):
		return http.StatusBadRequest, "invalid code"
	case errors.Is(err, domain.ErrCodeExpired):
		return http.StatusGone, "code expired"
	case errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenBadSignature),
		errors.Is(err, domain.ErrTokenMalformed),
		errors.Is(err, domain.ErrTokenStale):
		return http.StatusUnauthorized, "invalid or expired token"
	case errors.Is(err, domain.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "image too large"
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported image format"
	case errors.Is(err, domain.ErrDecodeFailure):
		return http.StatusUnprocessableEntity, "image could not be decoded"
	case errors.Is(err, domain.ErrNoImage):
		return http.StatusNotFound, "no image"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return http.StatusRequestEntityTooLarge, "request body too large"
	}
	if errors.Is(err, httpx.ErrMalformedBody) {
		return http.StatusBadRequest, httpx.ErrMalformedBody.Error()
	}
	return http.StatusInternalServerError, internalErrorText
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, text := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", append(middleware.Fields(r.Context()),
			zap.String("path", r.URL.Path), zap.Error(err))...)
	} else {
		h.log.Debug("request rejected", append(middleware.Fields(r.Context()),
			zap.Int("status", status), zap.Error(err))...)
	}
	httpx.Error(w, status, text)
}

// decode reads the JSON body into dst and runs its validation rules.
// It writes the error response itself and reports whether to continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst validation.Validatable) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.fail(w, r, err)
		return false
	}
	if err := dst.Validate(); err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			httpx.WriteText(w, http.StatusUnprocessableEntity, "validation failed", verrs)
			return false
		}
		h.fail(w, r, err)
		return false
	}
	return true
}
