package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pagestack/platform/internal/repository/memory"
	"github.com/pagestack/platform/internal/service/lifecycle"
	"github.com/pagestack/platform/internal/service/saga"
	"github.com/pagestack/platform/internal/service/team"
	"github.com/pagestack/platform/internal/ws"
	"github.com/pagestack/platform/pkg/config"
	"github.com/pagestack/platform/pkg/event"
	"github.com/pagestack/platform/pkg/signature"
)

// staticResolver maps bearer tokens to identities without calling authd.
type staticResolver map[string]UserIdentity

func (s staticResolver) Resolve(_ context.Context, token string) (UserIdentity, error) {
	if ident, ok := s[token]; ok {
		return ident, nil
	}
	return UserIdentity{}, errors.New("unknown token")
}

type teamsFixture struct {
	router *TeamsRouter
	store  *memory.TeamStore
}

func newTeamsFixture(t *testing.T, cfg config.TeamsConfig, tokens staticResolver) teamsFixture {
	t.Helper()
	if cfg.MaxTeamsPerUser == 0 {
		cfg.MaxTeamsPerUser = 5
	}
	if cfg.MaxMembersPerTeam == 0 {
		cfg.MaxMembersPerTeam = 10
	}
	store := memory.NewTeamStore()
	publisher := lifecycle.NewPublisher("", "", time.Second, testLogger())
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	teams := team.New(store, publisher, hub, testLogger(), cfg)
	reconciler := saga.New(store, teams, testLogger())
	router := NewTeamsRouter(testLogger(), teams, reconciler, tokens, hub, NewMemoryRateLimiter(), cfg, nil)
	t.Cleanup(router.Close)
	return teamsFixture{router: router, store: store}
}

func defaultTokens() staticResolver {
	return staticResolver{
		"alice-token": {ID: "alice", Email: "alice@example.com"},
		"bob-token":   {ID: "bob", Email: "bob@example.com"},
	}
}

func createTeamHTTP(t *testing.T, f teamsFixture, token, name string) string {
	t.Helper()
	rec := doJSON(t, f.router, http.MethodPost, "/teams", token, map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create team returned %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode team: %v", err)
	}
	return payload.ID
}

func TestTeamEndpointsRequireAuth(t *testing.T) {
	f := newTeamsFixture(t, config.TeamsConfig{}, defaultTokens())
	rec := doJSON(t, f.router, http.MethodGet, "/teams", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, f.router, http.MethodGet, "/teams", "stale-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}
}

func TestTeamCRUDOverHTTP(t *testing.T) {
	f := newTeamsFixture(t, config.TeamsConfig{}, defaultTokens())
	teamID := createTeamHTTP(t, f, "alice-token", "Research")

	rec := doJSON(t, f.router, http.MethodGet, "/teams", "alice-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var teams []map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &teams)
	if len(teams) != 1 || teams[0]["name"] != "Research" {
		t.Fatalf("unexpected team list: %v", teams)
	}

	rec = doJSON(t, f.router, http.MethodPatch, "/teams/"+teamID, "alice-token", map[string]string{"name": "R&D"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, f.router, http.MethodDelete, "/teams/"+teamID, "alice-token", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}
	if f.store.TeamExists(teamID) {
		t.Fatal("team should be gone")
	}
}

func TestNonMemberGetsForbidden(t *testing.T) {
	f := newTeamsFixture(t, config.TeamsConfig{}, defaultTokens())
	teamID := createTeamHTTP(t, f, "alice-token", "Private")

	rec := doJSON(t, f.router, http.MethodGet, "/teams/"+teamID, "bob-token", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMemberLifecycleOverHTTP(t *testing.T) {
	f := newTeamsFixture(t, config.TeamsConfig{}, defaultTokens())
	teamID := createTeamHTTP(t, f, "alice-token", "Research")

	rec := doJSON(t, f.router, http.MethodPost, "/teams/"+teamID+"/members", "alice-token", map[string]string{
		"user_id": "bob", "role": "member",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member returned %d: %s", rec.Code, rec.Body.String())
	}

	// duplicate add conflicts
	rec = doJSON(t, f.router, http.MethodPost, "/teams/"+teamID+"/members", "alice-token", map[string]string{
		"user_id": "bob", "role": "viewer",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate add should be 409, got %d", rec.Code)
	}

	rec = doJSON(t, f.router, http.MethodPatch, "/teams/"+teamID+"/members/bob", "alice-token", map[string]string{"role": "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("role update returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, f.router, http.MethodGet, "/teams/"+teamID+"/members", "alice-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list members returned %d", rec.Code)
	}
	var members []map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &members)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}

	rec = doJSON(t, f.router, http.MethodDelete, "/teams/"+teamID+"/members/bob", "alice-token", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove member returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLastOwnerDemotionForbiddenOverHTTP(t *testing.T) {
	f := newTeamsFixture(t, config.TeamsConfig{}, defaultTokens())
	teamID := createTeamHTTP(t, f, "alice-token", "Research")

	rec := doJSON(t, f.router, http.MethodPatch, "/teams/"+teamID+"/members/alice", "alice-token", map[string]string{"role": "member"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("last-owner demotion should be 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func signedWebhook(t *testing.T, f teamsFixture, secret string, env event.Envelope) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/auth", strings.NewReader(string(body)))
	if secret != "" {
		req.Header.Set(signature.Header, signature.Sign(body, secret))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookProvisionsTeamForNewUser(t *testing.T) {
	cfg := config.TeamsConfig{WebhookSecret: "s3cret"}
	f := newTeamsFixture(t, cfg, defaultTokens())

	rec := signedWebhook(t, f, "s3cret", event.Envelope{
		Event: event.UserCreated,
		User:  &event.UserPayload{ID: "carol", Email: "carol@example.com", Name: "Carol"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("webhook returned %d: %s", rec.Code, rec.Body.String())
	}
	teams, _ := f.store.ListTeamsByUser(context.Background(), "carol")
	if len(teams) != 1 || teams[0].Name != "Carol's Team" {
		t.Fatalf("expected provisioned team, got %v", teams)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	cfg := config.TeamsConfig{WebhookSecret: "s3cret"}
	f := newTeamsFixture(t, cfg, defaultTokens())

	rec := signedWebhook(t, f, "wrong-secret", event.Envelope{
		Event: event.UserCreated,
		User:  &event.UserPayload{ID: "carol", Email: "carol@example.com"},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
	rec = signedWebhook(t, f, "", event.Envelope{
		Event: event.UserCreated,
		User:  &event.UserPayload{ID: "carol", Email: "carol@example.com"},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}
}

func TestWebhookSkipVerifyOnlyOutsideProduction(t *testing.T) {
	env := event.Envelope{
		Event: event.UserCreated,
		User:  &event.UserPayload{ID: "carol", Email: "carol@example.com"},
	}

	dev := newTeamsFixture(t, config.TeamsConfig{
		Environment: "development", WebhookSecret: "s3cret", WebhookSkipVerify: true,
	}, defaultTokens())
	if rec := signedWebhook(t, dev, "", env); rec.Code != http.StatusAccepted {
		t.Fatalf("skip-verify in development should accept, got %d", rec.Code)
	}

	prod := newTeamsFixture(t, config.TeamsConfig{
		Environment: "production", WebhookSecret: "s3cret", WebhookSkipVerify: true,
	}, defaultTokens())
	if rec := signedWebhook(t, prod, "", env); rec.Code != http.StatusUnauthorized {
		t.Fatalf("skip flag must be ignored in production, got %d", rec.Code)
	}
}

func TestWebhookRejectsUnknownEvent(t *testing.T) {
	cfg := config.TeamsConfig{WebhookSecret: "s3cret"}
	f := newTeamsFixture(t, cfg, defaultTokens())

	rec := signedWebhook(t, f, "s3cret", event.Envelope{Event: "user.exploded"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event, got %d", rec.Code)
	}
}

func TestWebhookUserDeletedTransfersOwnership(t *testing.T) {
	cfg := config.TeamsConfig{WebhookSecret: "s3cret"}
	f := newTeamsFixture(t, cfg, defaultTokens())

	teamID := createTeamHTTP(t, f, "alice-token", "Research")
	rec := doJSON(t, f.router, http.MethodPost, "/teams/"+teamID+"/members", "alice-token", map[string]string{
		"user_id": "bob", "role": "admin",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member returned %d", rec.Code)
	}

	wrec := signedWebhook(t, f, "s3cret", event.Envelope{
		Event: event.UserDeleted,
		User:  &event.UserPayload{ID: "alice", Email: "alice@example.com"},
	})
	if wrec.Code != http.StatusAccepted {
		t.Fatalf("webhook returned %d: %s", wrec.Code, wrec.Body.String())
	}

	member, err := f.store.GetMember(context.Background(), teamID, "bob")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.Role != "owner" {
		t.Fatalf("bob should inherit ownership, got %q", member.Role)
	}
	if _, err := f.store.GetMember(context.Background(), teamID, "alice"); err == nil {
		t.Fatal("alice should be removed from the team")
	}
}
