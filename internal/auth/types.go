// Package auth implements user authentication with lockout, bearer-token
// sessions, and permission checks.
package auth

import "time"

// Permission is one grant: a resource/action pair with optional
// conditions that must be a subset of the request context.
type Permission struct {
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Conditions map[string]string `json:"conditions,omitempty"`
}

// User is a stored account. PasswordHash is a PHC-format argon2id string;
// plaintext passwords are never stored.
type User struct {
	ID             string       `json:"id"`
	Username       string       `json:"username"`
	Role           string       `json:"role"`
	Permissions    []Permission `json:"permissions"`
	PasswordHash   string       `json:"passwordHash"`
	CreatedAt      time.Time    `json:"createdAt"`
	LastLogin      time.Time    `json:"lastLogin"`
	FailedAttempts int          `json:"failedAttempts"`
	LastFailedAt   time.Time    `json:"lastFailedAt,omitempty"`
	LockedUntil    *time.Time   `json:"lockedUntil,omitempty"`
	MustRotate     bool         `json:"mustRotate,omitempty"`
	Active         bool         `json:"active"`
}

// Locked reports whether the account is currently locked out.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Session is the server-side state a bearer token references.
type Session struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
	Permissions  []Permission `json:"permissions"`
	Active       bool         `json:"active"`
	IP           string       `json:"ip,omitempty"`
	UserAgent    string       `json:"userAgent,omitempty"`
}

// Expired reports whether the session idled past the timeout or was
// closed.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return !s.Active || now.Sub(s.LastActivity) > timeout
}
