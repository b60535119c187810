package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the pagestack services for interactive
// tools and for service-to-service identity checks.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided service base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from a service.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		if strings.TrimSpace(value) != "" {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + strings.TrimSpace(token)}
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// User reflects auth service user payloads.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"email_verified"`
	Locked        bool      `json:"locked"`
	CreatedAt     time.Time `json:"created_at"`
}

// Token is a session-bound bearer credential.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthResponse captures user plus token payloads from signup and login.
type AuthResponse struct {
	User  User  `json:"user"`
	Token Token `json:"token"`
}

// Signup registers an account and returns the initial session token.
func (c *Client) Signup(ctx context.Context, email, name, password string) (AuthResponse, error) {
	body := map[string]string{"email": email, "name": name, "password": password}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", body, nil, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, nil, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Logout revokes the session behind the token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, bearer(token), nil)
}

// Me resolves the token to its account.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, bearer(token), &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateProfile changes the account name and email.
func (c *Client) UpdateProfile(ctx context.Context, token, name, email string) (User, error) {
	body := map[string]string{"name": name, "email": email}
	var user User
	if err := c.do(ctx, http.MethodPatch, "/auth/me", body, bearer(token), &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// DeleteAccount removes the account and revokes its sessions.
func (c *Client) DeleteAccount(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/auth/me", nil, bearer(token), nil)
}

// VerifyEmail redeems an activation token.
func (c *Client) VerifyEmail(ctx context.Context, activationToken string) error {
	body := map[string]string{"token": activationToken}
	return c.do(ctx, http.MethodPost, "/auth/verify", body, nil, nil)
}

// Unlock clears a lockout. Operator action, authenticated by the admin token.
func (c *Client) Unlock(ctx context.Context, adminToken, email string) error {
	body := map[string]string{"email": email}
	headers := map[string]string{"X-Admin-Token": adminToken}
	return c.do(ctx, http.MethodPost, "/admin/unlock", body, headers, nil)
}

// Team represents a collaborative workspace.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is a membership row with the mirrored user record.
type Member struct {
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ListTeams returns all teams for the authenticated user.
func (c *Client) ListTeams(ctx context.Context, token string) ([]Team, error) {
	var teams []Team
	if err := c.do(ctx, http.MethodGet, "/teams", nil, bearer(token), &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// CreateTeam provisions a team owned by the caller.
func (c *Client) CreateTeam(ctx context.Context, token, name string) (Team, error) {
	var team Team
	if err := c.do(ctx, http.MethodPost, "/teams", map[string]string{"name": name}, bearer(token), &team); err != nil {
		return Team{}, err
	}
	return team, nil
}

// GetTeam fetches one team the caller belongs to.
func (c *Client) GetTeam(ctx context.Context, token, teamID string) (Team, error) {
	var team Team
	path := "/teams/" + url.PathEscape(teamID)
	if err := c.do(ctx, http.MethodGet, path, nil, bearer(token), &team); err != nil {
		return Team{}, err
	}
	return team, nil
}

// DeleteTeam removes a team. Owner only.
func (c *Client) DeleteTeam(ctx context.Context, token, teamID string) error {
	path := "/teams/" + url.PathEscape(teamID)
	return c.do(ctx, http.MethodDelete, path, nil, bearer(token), nil)
}

// ListMembers returns memberships with mirrored user info.
func (c *Client) ListMembers(ctx context.Context, token, teamID string) ([]Member, error) {
	var members []Member
	path := "/teams/" + url.PathEscape(teamID) + "/members"
	if err := c.do(ctx, http.MethodGet, path, nil, bearer(token), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// AddMember adds a user to the team with a role.
func (c *Client) AddMember(ctx context.Context, token, teamID, userID, role string) (Member, error) {
	var member Member
	path := "/teams/" + url.PathEscape(teamID) + "/members"
	body := map[string]string{"user_id": userID, "role": role}
	if err := c.do(ctx, http.MethodPost, path, body, bearer(token), &member); err != nil {
		return Member{}, err
	}
	return member, nil
}

// UpdateMemberRole changes a member's role.
func (c *Client) UpdateMemberRole(ctx context.Context, token, teamID, userID, role string) error {
	path := "/teams/" + url.PathEscape(teamID) + "/members/" + url.PathEscape(userID)
	return c.do(ctx, http.MethodPatch, path, map[string]string{"role": role}, bearer(token), nil)
}

// RemoveMember removes a user from the team.
func (c *Client) RemoveMember(ctx context.Context, token, teamID, userID string) error {
	path := "/teams/" + url.PathEscape(teamID) + "/members/" + url.PathEscape(userID)
	return c.do(ctx, http.MethodDelete, path, nil, bearer(token), nil)
}
