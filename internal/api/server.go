// Package api provides the HTTP API and middleware for pixelmint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pixelmint-ai/pixelmint/internal/auth"
	"github.com/pixelmint-ai/pixelmint/internal/config"
	"github.com/pixelmint-ai/pixelmint/internal/ledger"
	"github.com/pixelmint-ai/pixelmint/internal/metered"
	"github.com/pixelmint-ai/pixelmint/internal/payment"
	"github.com/pixelmint-ai/pixelmint/internal/provider"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	store          store.Store
	authProvider   auth.Provider
	loginProvider  auth.LoginProvider
	ledger         *ledger.Ledger
	metered        *metered.Service
	checkout       *payment.Checkout
	reconciler     *payment.Reconciler
	logger         *slog.Logger
	mux            *chi.Mux
	startTime      time.Time
	maxBodyBytes   int64
	maxUploadBytes int64
	loginRL        *rateLimiter
	rl             *rateLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, ap auth.Provider, lp auth.LoginProvider, l *ledger.Ledger, m *metered.Service, co *payment.Checkout, rec *payment.Reconciler, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:          s,
		authProvider:   ap,
		loginProvider:  lp,
		ledger:         l,
		metered:        m,
		checkout:       co,
		reconciler:     rec,
		logger:         logger.With("component", "api"),
		startTime:      time.Now(),
		maxBodyBytes:   cfg.Server.MaxBodyBytes,
		maxUploadBytes: cfg.Server.MaxUploadBytes,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Auth config endpoint (unauthenticated)
	mux.Get("/api/auth/config", srv.handleAuthConfig)

	// Registration and login only exist under the builtin provider.
	if lp != nil {
		srv.loginRL = newRateLimiter(5, 10)
		mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/auth/register", srv.handleRegister)
		mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/auth/login", srv.handleLogin)
	}

	// Authenticated API routes
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))

		r.Get("/api/credits", srv.handleGetCredits)
		r.Post("/api/generate", srv.handleGenerate)
		r.Post("/api/moderate", srv.handleModerate)
		r.Get("/api/payments/plans", srv.handleListPlans)
		r.Post("/api/payments/checkout", srv.handleCheckout)
		r.Post("/api/payments/verify", srv.handleVerifyPayment)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.loginRL != nil {
		s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

// --- Auth handlers ---

func (s *Server) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"provider": s.authProvider.Name()})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || len(req.Name) > 128 {
		writeError(w, http.StatusBadRequest, "name must be 1-128 characters")
		return
	}
	if !strings.Contains(req.Email, "@") || len(req.Email) > 254 {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 128 {
		writeError(w, http.StatusBadRequest, "password must be 8-128 characters")
		return
	}

	sess, err := s.loginProvider.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAccountExists) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		s.logger.Error("registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"token": sess.Token,
		"name":  sess.Name,
		"email": sess.Email,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.loginProvider.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token": sess.Token,
		"name":  sess.Name,
		"email": sess.Email,
	})
}

// --- Credit handlers ---

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())

	balance, err := s.ledger.Balance(r.Context(), identity.AccountID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"credits": balance,
		"name":    identity.Name,
	})
}

// --- Metered handlers ---

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	identity := getIdentityFromContext(r.Context())

	var req struct {
		Prompt string `json:"prompt"`
		Style  string `json:"style"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.metered.Generate(r.Context(), identity.AccountID, req.Prompt, req.Style)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleModerate accepts either a multipart upload (file field "image", or a
// "url" form field) or a plain JSON body {"url": ...}.
func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())

	var in provider.ModerationInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		if file, header, err := r.FormFile("image"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read image")
				return
			}
			in.Media = data
			in.Filename = header.Filename
		} else {
			in.URL = r.FormValue("url")
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		in.URL = req.URL
	}

	result, err := s.metered.Moderate(r.Context(), identity.AccountID, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- Payment handlers ---

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, payment.Plans)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	identity := getIdentityFromContext(r.Context())

	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.checkout.Create(r.Context(), identity.AccountID, req.Plan)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var req struct {
		TransactionID string `json:"transaction_id"`
		Success       bool   `json:"success"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	result, err := s.reconciler.Settle(r.Context(), req.TransactionID, req.Success)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := map[string]any{"status": string(result.Status)}
	if result.Transaction != nil {
		resp["plan"] = result.Transaction.Plan
		resp["credits"] = result.Transaction.Credits
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

// writeDomainError maps domain sentinels onto HTTP statuses. An insufficient
// balance carries the current balance in the body so clients can render it
// without a second round trip.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, ledger.ErrInsufficientCredit):
		identity := getIdentityFromContext(r.Context())
		balance := 0
		if identity != nil {
			if b, berr := s.ledger.Balance(r.Context(), identity.AccountID); berr == nil {
				balance = b
			}
		}
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":   "insufficient credit",
			"balance": balance,
		})
	case errors.Is(err, provider.ErrQuotaExceeded):
		writeError(w, http.StatusPaymentRequired, "provider quota exceeded")
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, payment.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, payment.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, payment.ErrPlanNotFound):
		writeError(w, http.StatusBadRequest, "unknown plan")
	case errors.Is(err, metered.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "provider timed out")
	case errors.Is(err, provider.ErrBadUpstream), errors.Is(err, provider.ErrNetworkFailure):
		writeError(w, http.StatusBadGateway, "provider unavailable")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
