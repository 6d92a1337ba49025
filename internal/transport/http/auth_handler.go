package http

import (
	"errors"
	"net/http"

	"accountd/internal/domain"
	"accountd/internal/dto"
	"accountd/internal/httpx"
	"accountd/internal/observability/middleware"
	"accountd/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// same answer whether or not the address exists
const acceptedText = "if the address belongs to an account, an email is on its way"

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IP:        middleware.ClientIPFromContext(r.Context()),
		UserAgent: middleware.UserAgentFromContext(r.Context()),
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.accounts.Register(r.Context(), req, requestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Write(w, http.StatusCreated, dto.RegisterResponse{
		AccountID:                 acc.ID.String(),
		RequiresEmailVerification: true,
	})
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	var req dto.ActivateRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.activateCode(w, r, req.Code)
}

// activateLink serves the link mailed on registration.
func (h *Handler) activateLink(w http.ResponseWriter, r *http.Request) {
	h.activateCode(w, r, chi.URLParam(r, "code"))
}

func (h *Handler) activateCode(w http.ResponseWriter, r *http.Request, code string) {
	acc, tr, err := h.accounts.Activate(r.Context(), code, requestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.session(w, r, acc, tr)
}

func (h *Handler) resendActivation(w http.ResponseWriter, r *http.Request) {
	var req dto.ResendActivationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.accounts.ResendActivation(r.Context(), req.Email, requestMeta(r)); err != nil {
		h.log.Error("resend activation", append(middleware.Fields(r.Context()), zap.Error(err))...)
	}
	httpx.WriteText(w, http.StatusAccepted, acceptedText, nil)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, tr, err := h.accounts.Login(r.Context(), req, requestMeta(r))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.ErrInvalidCredentials
		}
		h.fail(w, r, err)
		return
	}
	h.session(w, r, acc, tr)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	httpx.Write(w, http.StatusOK, nil)
}

func (h *Handler) requestReset(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.accounts.RequestReset(r.Context(), req.Email, requestMeta(r)); err != nil {
		h.log.Error("request reset", append(middleware.Fields(r.Context()), zap.Error(err))...)
	}
	httpx.WriteText(w, http.StatusAccepted, acceptedText, nil)
}

func (h *Handler) completeReset(w http.ResponseWriter, r *http.Request) {
	var req dto.CompleteResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, tr, err := h.accounts.CompleteReset(r.Context(), req, requestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.session(w, r, acc, tr)
}

// session sets the cookie and answers with the account and its token.
func (h *Handler) session(w http.ResponseWriter, r *http.Request, acc *domain.Account, tr *dto.TokenResponse) {
	h.setSessionCookie(w, tr)
	httpx.Write(w, http.StatusOK, dto.SessionResponse{
		Account: h.view(r, acc),
		Token:   *tr,
	})
}
