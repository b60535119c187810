package domain

import "time"

// User represents a platform account owned by the auth module.
type User struct {
	ID                  string
	Email               string
	Name                string
	PasswordHash        []byte
	FailedAttempts      int
	LockedAt            *time.Time
	EmailVerified       bool
	ActivationToken     string
	ActivationExpiresAt time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the account is locked out.
func (u *User) Locked() bool {
	return u.LockedAt != nil
}

// Session is a login session. Tokens are bound to a session and die with it.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
