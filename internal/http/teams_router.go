package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/service/saga"
	"github.com/pagestack/platform/internal/service/team"
	"github.com/pagestack/platform/internal/ws"
	"github.com/pagestack/platform/pkg/config"
	"github.com/pagestack/platform/pkg/event"
	"github.com/pagestack/platform/pkg/signature"
)

// UserIdentity is the resolved owner of a bearer token.
type UserIdentity struct {
	ID    string
	Email string
}

// IdentityResolver authenticates bearer tokens against the auth service.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (UserIdentity, error)
}

// TeamsRouter wires team endpoints, the inbound lifecycle webhook and the
// team activity websocket.
type TeamsRouter struct {
	base
	mux        *http.ServeMux
	teams      team.Service
	reconciler saga.Reconciler
	identity   IdentityResolver
	hub        *ws.Hub
	upgrader   websocket.Upgrader
	cfg        config.TeamsConfig
	dbHealth   func(context.Context) error
}

// NewTeamsRouter assembles the teams service routes.
func NewTeamsRouter(logger *slog.Logger, teams team.Service, reconciler saga.Reconciler, identity IdentityResolver, hub *ws.Hub, limiter RateLimiter, cfg config.TeamsConfig, dbHealth func(context.Context) error) *TeamsRouter {
	r := &TeamsRouter{
		mux:        http.NewServeMux(),
		teams:      teams,
		reconciler: reconciler,
		identity:   identity,
		hub:        hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cfg:      cfg,
		dbHealth: dbHealth,
	}
	r.logger = logger
	r.limiter = limiter
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics("teams")
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *TeamsRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *TeamsRouter) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *TeamsRouter) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/teams", r.audit("/teams", r.requireAuth(r.withRateLimit("/teams", rateLimitUserWrite, rateWindowDefault, rateLimitKeyUser, r.handleTeams))))
	r.mux.HandleFunc("/teams/", r.audit("/teams/", r.requireAuth(r.withRateLimit("/teams/", rateLimitUserWrite, rateWindowDefault, rateLimitKeyUser, r.handleTeamSubroutes))))
	r.mux.HandleFunc("/webhooks/auth", r.audit("/webhooks/auth", r.withRateLimit("/webhooks/auth", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handleAuthWebhook)))
	r.mux.HandleFunc("/ws/teams", r.audit("/ws/teams", r.requireAuth(r.withRateLimit("/ws/teams", rateLimitWebsocket, rateWindowDefault, rateLimitKeyUser, r.handleTeamWS))))
}

// requireAuth resolves the bearer token through the auth service.
func (r *TeamsRouter) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ident, err := r.identity.Resolve(req.Context(), token)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		info := authInfo{UserID: ident.ID, Email: ident.Email}
		ctx := context.WithValue(req.Context(), contextKeyAuth, info)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

func (r *TeamsRouter) handleTeams(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.teams.Create(req.Context(), info.UserID, payload.Name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, teamJSON(created))
	case http.MethodGet:
		teams, err := r.teams.ListForUser(req.Context(), info.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(teams))
		for i := range teams {
			payload = append(payload, teamJSON(&teams[i]))
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		methodNotAllowed(w)
	}
}

func (r *TeamsRouter) handleTeamSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/teams/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		notFound(w)
		return
	}
	teamID := parts[0]
	switch {
	case len(parts) == 1:
		r.handleTeam(w, req, teamID)
	case len(parts) == 2 && parts[1] == "members":
		r.handleMembers(w, req, teamID)
	case len(parts) == 3 && parts[1] == "members" && parts[2] != "":
		r.handleMember(w, req, teamID, parts[2])
	default:
		notFound(w)
	}
}

func (r *TeamsRouter) handleTeam(w http.ResponseWriter, req *http.Request, teamID string) {
	info, _ := authInfoFromContext(req.Context())
	switch req.Method {
	case http.MethodGet:
		found, err := r.teams.Get(req.Context(), info.UserID, teamID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, teamJSON(found))
	case http.MethodPatch:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := r.teams.Update(req.Context(), info.UserID, teamID, payload.Name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, teamJSON(updated))
	case http.MethodDelete:
		if err := r.teams.Delete(req.Context(), info.UserID, teamID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (r *TeamsRouter) handleMembers(w http.ResponseWriter, req *http.Request, teamID string) {
	info, _ := authInfoFromContext(req.Context())
	switch req.Method {
	case http.MethodGet:
		members, err := r.teams.ListMembers(req.Context(), info.UserID, teamID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(members))
		for i := range members {
			payload = append(payload, memberJSON(&members[i]))
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		var payload struct {
			UserID string `json:"user_id"`
			Role   string `json:"role"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		member, err := r.teams.AddMember(req.Context(), info.UserID, teamID, payload.UserID, domain.Role(payload.Role))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"team_id": member.TeamID,
			"user_id": member.UserID,
			"role":    member.Role,
		})
	default:
		methodNotAllowed(w)
	}
}

func (r *TeamsRouter) handleMember(w http.ResponseWriter, req *http.Request, teamID, userID string) {
	info, _ := authInfoFromContext(req.Context())
	switch req.Method {
	case http.MethodPatch:
		var payload struct {
			Role string `json:"role"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.teams.UpdateMemberRole(req.Context(), info.UserID, teamID, userID, domain.Role(payload.Role)); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case http.MethodDelete:
		if err := r.teams.RemoveMember(req.Context(), info.UserID, teamID, userID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// handleAuthWebhook accepts signed lifecycle events from the auth service.
// The signature is computed over the raw body, so it must be read before
// any JSON decoding.
func (r *TeamsRouter) handleAuthWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if r.mustVerify() {
		sig := req.Header.Get(signature.Header)
		if err := signature.Verify(body, r.cfg.WebhookSecret, sig); err != nil {
			r.logger.Warn("webhook signature rejected", "error", err, "ip", clientIP(req))
			writeServiceError(w, err)
			return
		}
	}
	var env event.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.reconciler.Handle(req.Context(), env); err != nil {
		if errors.Is(err, saga.ErrUnknownEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.logger.Error("lifecycle event handling failed", "event", env.Event, "error", err)
		writeError(w, http.StatusInternalServerError, "event handling failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// mustVerify reports whether inbound signatures are enforced. The skip flag
// only works outside production.
func (r *TeamsRouter) mustVerify() bool {
	if r.cfg.Environment == "production" {
		return true
	}
	return !r.cfg.WebhookSkipVerify
}

func (r *TeamsRouter) handleTeamWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for team websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	teamID := req.URL.Query().Get("team_id")
	if teamID == "" {
		writeError(w, http.StatusBadRequest, "team_id query parameter required")
		return
	}
	if _, err := r.teams.Membership(req.Context(), teamID, info.UserID); err != nil {
		writeError(w, http.StatusForbidden, "not a team member")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(teamID, client)
	go func() {
		defer func() {
			r.hub.Unregister(teamID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *TeamsRouter) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeHealth(w, req, r.dbHealth)
}

func teamJSON(t *domain.Team) map[string]any {
	return map[string]any{
		"id":         t.ID,
		"name":       t.Name,
		"slug":       t.Slug,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
}

func memberJSON(m *domain.MemberInfo) map[string]any {
	return map[string]any{
		"team_id": m.TeamID,
		"user_id": m.UserID,
		"role":    m.Role,
		"email":   m.Email,
		"name":    m.UserName,
	}
}
