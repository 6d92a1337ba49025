package http

import (
	"net/http"
	"time"

	"accountd/internal/httpx"
	"accountd/internal/jwtsigner"
	"accountd/internal/observability/middleware"
	"accountd/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes = 64 << 10

type Config struct {
	CookieName   string
	CookieDomain string
	CookieSecure bool

	TrustProxy      bool
	CORSOrigins     []string
	RateLimitPerMin int // per client IP on /v1/auth; 0 disables
	AdminAPIKey     string

	MaxBodyBytes  int64
	ImageMaxBytes int64
}

type Handler struct {
	accounts service.AccountService
	signer   *jwtsigner.Signer
	cfg      Config
	log      *zap.Logger
}

func NewRouter(accounts service.AccountService, signer *jwtsigner.Signer, cfg Config, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "token"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	h := &Handler{accounts: accounts, signer: signer, cfg: cfg, log: log}

	r := chi.NewRouter()
	r.Use(middleware.WithRequestAndTrace(log, cfg.TrustProxy))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsOrAll(cfg.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "X-Admin-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Trace-ID"},
		AllowCredentials: len(cfg.CORSOrigins) > 0, // never alongside the "*" fallback
		MaxAge:           300,
	}))
	r.Use(middleware.WithMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/.well-known/jwks.json", h.jwks)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(httpx.NoStore)
		r.Use(httpx.LimitBody(cfg.MaxBodyBytes))
		if cfg.RateLimitPerMin > 0 {
			r.Use(httprate.Limit(cfg.RateLimitPerMin, time.Minute,
				httprate.WithKeyFuncs(keyByClientIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httpx.Error(w, http.StatusTooManyRequests, "too many requests")
				}),
			))
		}

		r.Post("/register", h.register)
		r.Post("/activate", h.activate)
		r.Get("/activate/{code}", h.activateLink)
		r.Post("/activation/resend", h.resendActivation)
		r.Post("/login", h.login)
		r.Post("/logout", h.logout)
		r.Post("/password/reset-request", h.requestReset)
		r.Post("/password/reset", h.completeReset)
	})

	r.Route("/v1/account", func(r chi.Router) {
		r.Use(httpx.NoStore)
		r.Use(h.requireAccount)

		r.Group(func(r chi.Router) {
			r.Use(httpx.LimitBody(cfg.MaxBodyBytes))
			r.Get("/", h.me)
			r.Put("/", h.updateProfile)
			r.Delete("/", h.deleteAccount)
			r.Put("/email", h.changeEmail)
			r.Put("/password", h.changePassword)
			r.Get("/image", h.image)
			r.Get("/image.json", h.imageJSON)
		})
		// multipart framing needs some room above the image cap
		r.With(httpx.LimitBody(cfg.ImageMaxBytes+defaultMaxBodyBytes)).Post("/image", h.uploadImage)
	})

	if cfg.AdminAPIKey != "" {
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(httpx.NoStore)
			r.Use(h.requireAdmin)
			r.Use(httpx.LimitBody(cfg.MaxBodyBytes))
			r.Put("/accounts/{id}/status", h.setStatus)
		})
	}

	return r
}

func keyByClientIP(r *http.Request) (string, error) {
	if ip := middleware.ClientIPFromContext(r.Context()); ip != "" {
		return ip, nil
	}
	return r.RemoteAddr, nil
}

func originsOrAll(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}

func (h *Handler) jwks(w http.ResponseWriter, r *http.Request) {
	if h.signer == nil {
		httpx.Error(w, http.StatusNotFound, "no public keys")
		return
	}
	jwk, ok := h.signer.PublicJWK()
	if !ok {
		httpx.Error(w, http.StatusNotFound, "no public keys")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"keys": []any{jwk}})
}
