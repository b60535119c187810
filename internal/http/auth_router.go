package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/service/account"
)

const (
	rateWindowDefault  = time.Minute
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebhook   = 600
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// AuthRouter wires the account endpoints to the account service.
type AuthRouter struct {
	base
	mux        *http.ServeMux
	accounts   account.Service
	adminToken string
	dbHealth   func(context.Context) error
}

// NewAuthRouter assembles the auth service routes.
func NewAuthRouter(logger *slog.Logger, accounts account.Service, limiter RateLimiter, adminToken string, dbHealth func(context.Context) error) *AuthRouter {
	r := &AuthRouter{
		mux:        http.NewServeMux(),
		accounts:   accounts,
		adminToken: strings.TrimSpace(adminToken),
		dbHealth:   dbHealth,
	}
	r.logger = logger
	r.limiter = limiter
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics("auth")
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *AuthRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *AuthRouter) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *AuthRouter) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/logout", r.audit("/auth/logout", r.requireAuth(r.handleLogout)))
	r.mux.HandleFunc("/auth/me", r.audit("/auth/me", r.requireAuth(r.withRateLimit("/auth/me", rateLimitUserRead, rateWindowDefault, rateLimitKeyUser, r.handleMe))))
	r.mux.HandleFunc("/auth/verify", r.audit("/auth/verify", r.withRateLimit("/auth/verify", rateLimitUserWrite, rateWindowDefault, rateLimitKeyIP, r.handleVerify)))
	r.mux.HandleFunc("/admin/unlock", r.audit("/admin/unlock", r.handleAdminUnlock))
}

// requireAuth validates the bearer token locally against the session store.
func (r *AuthRouter) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, claims, err := r.accounts.Authorize(req.Context(), token)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		info := authInfo{UserID: user.ID, SessionID: claims.SessionID, Email: user.Email}
		ctx := context.WithValue(req.Context(), contextKeyAuth, info)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

func (r *AuthRouter) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.accounts.Register(req.Context(), payload.Email, payload.Name, payload.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// no mailer is wired; the activation token rides the signup response
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":             userJSON(user),
		"token":            token,
		"activation_token": user.ActivationToken,
	})
}

func (r *AuthRouter) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.accounts.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  userJSON(user),
		"token": token,
	})
}

func (r *AuthRouter) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for logout", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if err := r.accounts.Logout(req.Context(), info.SessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *AuthRouter) handleMe(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodGet:
		user, _, err := r.accounts.Authorize(req.Context(), mustBearer(req))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		writeJSON(w, http.StatusOK, userJSON(user))
	case http.MethodPatch:
		var payload struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, err := r.accounts.UpdateProfile(req.Context(), info.UserID, payload.Name, payload.Email)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userJSON(user))
	case http.MethodDelete:
		if err := r.accounts.DeleteAccount(req.Context(), info.UserID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (r *AuthRouter) handleVerify(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.accounts.VerifyEmail(req.Context(), payload.Token); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// handleAdminUnlock clears a lockout. It is an operator action authenticated
// by a shared token, not a user session.
func (r *AuthRouter) handleAdminUnlock(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !r.verifyAdminToken(w, req) {
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.accounts.Unlock(req.Context(), payload.Email); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (r *AuthRouter) verifyAdminToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.adminToken
	if expected == "" {
		r.logger.Error("admin token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "admin authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Admin-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("admin token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid admin token")
		return false
	}
	return true
}

func (r *AuthRouter) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeHealth(w, req, r.dbHealth)
}

func mustBearer(req *http.Request) string {
	token, _ := bearerToken(req.Header.Get("Authorization"))
	return token
}

func userJSON(user *domain.User) map[string]any {
	return map[string]any{
		"id":             user.ID,
		"email":          user.Email,
		"name":           user.Name,
		"email_verified": user.EmailVerified,
		"locked":         user.Locked(),
		"created_at":     user.CreatedAt,
	}
}

func writeHealth(w http.ResponseWriter, req *http.Request, dbHealth func(context.Context) error) {
	components := make(map[string]any)
	status := "ok"
	if dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
