package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/config"
	"aegis/internal/logging"
	"aegis/internal/secure"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	fileUsers    = "users.json"
	fileSessions = "sessions.json"

	// legacyPasswordPrefix is the well-known environment variable family
	// consulted when a loaded user record has no hash.
	legacyPasswordPrefix = "LEGACY_PASSWORD_"
)

// Auditor receives authentication outcomes. Implemented by the audit log.
type Auditor interface {
	Record(ctx context.Context, actor, action, resource string, success bool, details map[string]string)
}

// Service owns users and sessions.
type Service struct {
	mu       sync.Mutex
	users    map[string]*User // by username
	sessions map[string]*Session

	dir     string
	codec   *secure.Codec
	cfg     config.AuthConfig
	signKey []byte
	auditor Auditor

	migrationWarned map[string]bool
	now             func() time.Time
}

// Options configures NewService.
type Options struct {
	Dir     string
	Codec   *secure.Codec
	Config  config.AuthConfig
	SignKey []byte
	Auditor Auditor
}

// NewService builds the service. SignKey must be at least 32 bytes; it
// signs session bearer tokens.
func NewService(opts Options) (*Service, error) {
	if len(opts.SignKey) < 32 {
		return nil, aerr.E(aerr.KindConfig, "auth.NewService", "signing key must be at least 32 bytes")
	}
	return &Service{
		users:           make(map[string]*User),
		sessions:        make(map[string]*Session),
		dir:             opts.Dir,
		codec:           opts.Codec,
		cfg:             opts.Config,
		signKey:         opts.SignKey,
		auditor:         opts.Auditor,
		migrationWarned: make(map[string]bool),
		now:             time.Now,
	}, nil
}

// Load restores users and sessions from disk, running legacy password
// migration on records that lack a hash.
func (s *Service) Load() error {
	var users []*User
	if err := s.loadFile(fileUsers, &users); err != nil {
		return err
	}
	var sessions []*Session
	if err := s.loadFile(fileSessions, &sessions); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.migrateLocked(u)
		s.users[u.Username] = u
	}
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
	}
	return nil
}

func (s *Service) loadFile(name string, dst any) error {
	raw, err := s.codec.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if aerr.Is(err, aerr.KindNotFound) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return aerr.E(aerr.KindPersistenceCorrupt, "auth.load", name, err)
	}
	return nil
}

// migrateLocked rehashes a legacy plaintext password supplied through the
// environment for a user record without a hash. The warning fires once
// per username; the record is flagged for mandatory rotation.
func (s *Service) migrateLocked(u *User) {
	if u.PasswordHash != "" {
		return
	}
	envKey := legacyPasswordPrefix + strings.ToUpper(u.Username)
	plain := os.Getenv(envKey)
	if plain == "" {
		return
	}
	hash, err := secure.HashPassword(plain)
	if err != nil {
		logging.Get(logging.CategoryAuth).Error("legacy password migration failed",
			zap.String("user", u.Username), zap.Error(err))
		return
	}
	u.PasswordHash = hash
	u.MustRotate = true
	if !s.migrationWarned[u.Username] {
		s.migrationWarned[u.Username] = true
		logging.Get(logging.CategoryAuth).Warn("migrated legacy plaintext password; rotation required",
			zap.String("user", u.Username))
	}
}

// CreateUser registers an account. Password length is policed here;
// strength rules beyond length belong to the caller's UI.
func (s *Service) CreateUser(username, password, role string, perms []Permission) (*User, error) {
	const op = "auth.CreateUser"
	if len(password) < s.cfg.PasswordMinLength {
		return nil, aerr.Errorf(aerr.KindValidation, op,
			"password must be at least %d characters", s.cfg.PasswordMinLength)
	}
	hash, err := secure.HashPassword(password)
	if err != nil {
		return nil, aerr.E(aerr.KindInternal, op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return nil, aerr.Errorf(aerr.KindConflictingState, op, "username %s taken", username)
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Role:         role,
		Permissions:  perms,
		PasswordHash: hash,
		CreatedAt:    s.now(),
		Active:       true,
	}
	s.users[username] = u
	return u, nil
}

// AuthResult is a successful authentication: the bearer token and its
// session.
type AuthResult struct {
	Token   string
	Session *Session
	User    *User
}

// Authenticate verifies credentials, enforces lockout, opens a session
// and issues a bearer token. Every attempt is audited.
func (s *Service) Authenticate(ctx context.Context, username, password, ip, userAgent string) (*AuthResult, error) {
	const op = "auth.Authenticate"
	start := s.now()

	fail := func(reason string, kind aerr.Kind) (*AuthResult, error) {
		s.audit(ctx, username, "authenticate", "session", false, map[string]string{
			"reason": reason, "ip": ip, "durationMs": durationMs(s.now().Sub(start)),
		})
		return nil, aerr.E(kind, op, reason)
	}

	s.mu.Lock()
	u, ok := s.users[username]
	if !ok || !u.Active {
		s.mu.Unlock()
		return fail("unknown or inactive user", aerr.KindAuthentication)
	}
	if u.Locked(s.now()) {
		s.mu.Unlock()
		return fail("account locked", aerr.KindAuthentication)
	}
	hash := u.PasswordHash
	s.mu.Unlock()

	match, err := secure.VerifyPassword(password, hash)
	if err != nil {
		return fail("credential verification error", aerr.KindInternal)
	}

	s.mu.Lock()
	if !match {
		// Failures only count toward lockout within one lockout window of
		// the previous failure; older streaks start over.
		if !u.LastFailedAt.IsZero() && s.now().Sub(u.LastFailedAt) > s.cfg.LockoutDurationValue() {
			u.FailedAttempts = 0
		}
		u.LastFailedAt = s.now()
		u.FailedAttempts++
		if u.FailedAttempts >= s.cfg.MaxFailedAttempts {
			until := s.now().Add(s.cfg.LockoutDurationValue())
			u.LockedUntil = &until
			u.FailedAttempts = 0
			logging.Get(logging.CategoryAuth).Warn("account locked",
				zap.String("user", username), zap.Time("until", until))
		}
		s.mu.Unlock()
		return fail("invalid credentials", aerr.KindAuthentication)
	}

	u.FailedAttempts = 0
	u.LastFailedAt = time.Time{}
	u.LockedUntil = nil
	u.LastLogin = s.now()

	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       u.ID,
		CreatedAt:    s.now(),
		LastActivity: s.now(),
		Permissions:  u.Permissions,
		Active:       true,
		IP:           ip,
		UserAgent:    userAgent,
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	token, err := s.issueToken(u, sess)
	if err != nil {
		return nil, aerr.E(aerr.KindInternal, op, err)
	}

	s.audit(ctx, username, "authenticate", "session", true, map[string]string{
		"sessionId": sess.ID, "ip": ip, "durationMs": durationMs(s.now().Sub(start)),
	})
	return &AuthResult{Token: token, Session: sess, User: u}, nil
}

// issueToken signs an HS256 bearer token referencing the session.
func (s *Service) issueToken(u *User, sess *Session) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": u.ID,
		"sid": sess.ID,
		"rol": u.Role,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.JWTExpirationValue()).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
}

// ValidateToken parses a bearer token and resolves its live session.
func (s *Service) ValidateToken(tokenString string) (*Session, error) {
	const op = "auth.ValidateToken"
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, aerr.Errorf(aerr.KindAuthentication, op, "unexpected signing method %v", t.Method.Alg())
		}
		return s.signKey, nil
	})
	if err != nil || !tok.Valid {
		return nil, aerr.E(aerr.KindAuthentication, op, "invalid token", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, aerr.E(aerr.KindAuthentication, op, "malformed claims")
	}
	sid, _ := claims["sid"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok || sess.Expired(s.now(), s.cfg.SessionTimeoutValue()) {
		return nil, aerr.E(aerr.KindAuthentication, op, "session expired")
	}
	sess.LastActivity = s.now()
	return sess, nil
}

// CloseSession deactivates a session.
func (s *Service) CloseSession(id string) {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		sess.Active = false
	}
	s.mu.Unlock()
}

// CheckPermission iterates the user's grants. A "*" resource or action
// matches anything; conditions must be a subset of the request context.
func (s *Service) CheckPermission(userID, resource, action string, reqCtx map[string]string) error {
	const op = "auth.CheckPermission"
	s.mu.Lock()
	var u *User
	for _, candidate := range s.users {
		if candidate.ID == userID {
			u = candidate
			break
		}
	}
	s.mu.Unlock()
	if u == nil {
		return aerr.E(aerr.KindAuthorization, op, "unknown user")
	}

	for _, p := range u.Permissions {
		if !wildcardMatch(p.Resource, resource) || !wildcardMatch(p.Action, action) {
			continue
		}
		if conditionsSubset(p.Conditions, reqCtx) {
			return nil
		}
	}
	return aerr.Errorf(aerr.KindAuthorization, op, "%s on %s denied", action, resource)
}

// UserCount reports the number of registered accounts. The bootstrap
// path uses it to decide whether the initial admin must be created.
func (s *Service) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Persist snapshots users and sessions.
func (s *Service) Persist() error {
	s.mu.Lock()
	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if err := s.persistFile(fileUsers, users); err != nil {
		return err
	}
	return s.persistFile(fileSessions, sessions)
}

func (s *Service) persistFile(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.codec.WriteFile(filepath.Join(s.dir, name), raw)
}

func (s *Service) audit(ctx context.Context, actor, action, resource string, success bool, details map[string]string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, actor, action, resource, success, details)
}

func wildcardMatch(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

func conditionsSubset(conds, reqCtx map[string]string) bool {
	for k, v := range conds {
		if reqCtx[k] != v {
			return false
		}
	}
	return true
}

func durationMs(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
