package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/pagestack/platform/internal/repository/memory"
	"github.com/pagestack/platform/internal/service/account"
	"github.com/pagestack/platform/internal/service/lifecycle"
	"github.com/pagestack/platform/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthRouter(t *testing.T, adminToken string) *AuthRouter {
	t.Helper()
	store := memory.NewAccountStore()
	publisher := lifecycle.NewPublisher("", "", time.Second, testLogger())
	accounts := account.New(store, store, publisher, testLogger(), config.AuthConfig{
		JWTSecret:        "test-secret",
		SessionTTL:       time.Hour,
		LockoutThreshold: 5,
		ActivationTTL:    24 * time.Hour,
	})
	r := NewAuthRouter(testLogger(), accounts, NewMemoryRateLimiter(), adminToken, nil)
	t.Cleanup(r.Close)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(payload))
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func signupAndToken(t *testing.T, r *AuthRouter, email string) string {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": email, "name": "Test User", "password": "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Token struct {
			Value string `json:"value"`
		} `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return payload.Token.Value
}

func TestSignupLoginAndMe(t *testing.T) {
	r := newAuthRouter(t, "")
	token := signupAndToken(t, r, "ada@example.com")

	rec := doJSON(t, r, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me returned %d: %s", rec.Code, rec.Body.String())
	}
	var me map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &me)
	if me["email"] != "ada@example.com" {
		t.Fatalf("unexpected me payload: %v", me)
	}

	rec = doJSON(t, r, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "Ada@Example.com", "password": "correct horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMeRequiresToken(t *testing.T) {
	r := newAuthRouter(t, "")
	rec := doJSON(t, r, http.MethodGet, "/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodGet, "/auth/me", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	r := newAuthRouter(t, "")
	token := signupAndToken(t, r, "ada@example.com")

	rec := doJSON(t, r, http.MethodPost, "/auth/logout", token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, r, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token should be dead after logout, got %d", rec.Code)
	}
}

func TestLockoutAndAdminUnlockOverHTTP(t *testing.T) {
	r := newAuthRouter(t, "ops-token")
	signupAndToken(t, r, "ada@example.com")

	login := func(password string) *httptest.ResponseRecorder {
		return doJSON(t, r, http.MethodPost, "/auth/login", "", map[string]string{
			"email": "ada@example.com", "password": password,
		})
	}
	for i := 0; i < 5; i++ {
		if rec := login("wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	if rec := login("correct horse"); rec.Code != http.StatusForbidden {
		t.Fatalf("locked account should be 403, got %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/unlock", strings.NewReader(`{"email":"ada@example.com"}`))
	req.Header.Set("X-Admin-Token", "ops-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unlock returned %d: %s", rec.Code, rec.Body.String())
	}

	if rec := login("correct horse"); rec.Code != http.StatusOK {
		t.Fatalf("login after unlock returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminUnlockRejectsBadToken(t *testing.T) {
	r := newAuthRouter(t, "ops-token")
	req := httptest.NewRequest(http.MethodPost, "/admin/unlock", strings.NewReader(`{"email":"a@example.com"}`))
	req.Header.Set("X-Admin-Token", "wrong")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminUnlockUnconfiguredIsRefused(t *testing.T) {
	r := newAuthRouter(t, "")
	req := httptest.NewRequest(http.MethodPost, "/admin/unlock", strings.NewReader(`{"email":"a@example.com"}`))
	req.Header.Set("X-Admin-Token", "anything")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when no admin token configured, got %d", rec.Code)
	}
}

func TestUpdateProfileAndDeleteAccount(t *testing.T) {
	r := newAuthRouter(t, "")
	token := signupAndToken(t, r, "ada@example.com")

	rec := doJSON(t, r, http.MethodPatch, "/auth/me", token, map[string]string{
		"name": "Ada Lovelace", "email": "countess@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}
	var me map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &me)
	if me["name"] != "Ada Lovelace" {
		t.Fatalf("name not updated: %v", me)
	}

	rec = doJSON(t, r, http.MethodDelete, "/auth/me", token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, r, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deleted account token should be dead, got %d", rec.Code)
	}
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	r := newAuthRouter(t, "")
	signupAndToken(t, r, "ada@example.com")
	rec := doJSON(t, r, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "ada@example.com", "name": "Imposter", "password": "longenough",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSignupRateLimited(t *testing.T) {
	r := newAuthRouter(t, "")
	var last int
	for i := 0; i < rateLimitSignup+1; i++ {
		rec := doJSON(t, r, http.MethodPost, "/auth/signup", "", map[string]string{
			"email":    fmt.Sprintf("user%d@example.com", i),
			"name":     "User",
			"password": "longenough",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding the window, got %d", last)
	}
}

func TestVerifyEmailOverHTTP(t *testing.T) {
	r := newAuthRouter(t, "")
	rec := doJSON(t, r, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "ada@example.com", "name": "Ada", "password": "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup returned %d", rec.Code)
	}
	var payload struct {
		Token struct {
			Value string `json:"value"`
		} `json:"token"`
		ActivationToken string `json:"activation_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if payload.ActivationToken == "" {
		t.Fatal("signup response should carry the activation token")
	}

	rec = doJSON(t, r, http.MethodPost, "/auth/verify", "", map[string]string{"token": payload.ActivationToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodGet, "/auth/me", payload.Token.Value, nil)
	var me map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &me)
	if me["email_verified"] != true {
		t.Fatalf("email should be verified: %v", me)
	}

	// activation tokens are single use
	rec = doJSON(t, r, http.MethodPost, "/auth/verify", "", map[string]string{"token": payload.ActivationToken})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("reused activation token should be 404, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	r := newAuthRouter(t, "")
	rec := doJSON(t, r, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected healthz body: %s", rec.Body.String())
	}
}
