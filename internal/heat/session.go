package heat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"heatbot/internal/retry"
)

// Credentials for the target system. String never prints the password.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string { return c.Username + ":***" }

// Session is the authenticated handle reused across fetches.
type Session struct {
	ID        string
	Cookies   []*http.Cookie
	CreatedAt time.Time
}

// Authenticator performs the login sequence and returns the resulting cookies.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) ([]*http.Cookie, error)
}

// SessionOptions tune a SessionManager. Zero values fall back to defaults.
type SessionOptions struct {
	Timeout time.Duration
	// Retry applies to network-level login failures; rejected credentials are never retried.
	Retry retry.Policy
	// LoginTimeout bounds one shared login, independent of the deadline of whoever started it.
	LoginTimeout time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// SessionStatus is a read-only snapshot for health reporting.
type SessionStatus struct {
	Valid bool
	Age   time.Duration
	ID    string
}

// SessionManager owns the single process-wide session. Concurrent callers that find it
// expired share one login.
type SessionManager struct {
	auth         Authenticator
	creds        Credentials
	timeout      time.Duration
	loginTimeout time.Duration
	policy       retry.Policy
	now          func() time.Time
	logger       *zap.Logger

	mu      sync.RWMutex
	current *Session
	logins  int
	group   singleflight.Group
}

func NewSessionManager(auth Authenticator, creds Credentials, opts SessionOptions) *SessionManager {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &SessionManager{
		auth:         auth,
		creds:        creds,
		timeout:      opts.Timeout,
		loginTimeout: opts.LoginTimeout,
		policy:       opts.Retry,
		now:          opts.Now,
		logger:       opts.Logger,
	}
}

func (m *SessionManager) validLocked() bool {
	return m.current != nil && m.now().Sub(m.current.CreatedAt) < m.timeout
}

// Ensure returns the live session, logging in first when there is none or it expired.
func (m *SessionManager) Ensure(ctx context.Context) (Session, error) {
	m.mu.RLock()
	if m.validLocked() {
		s := *m.current
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	ch := m.group.DoChan("login", func() (interface{}, error) {
		m.mu.RLock()
		if m.validLocked() {
			s := *m.current
			m.mu.RUnlock()
			return s, nil
		}
		m.mu.RUnlock()
		// Joined callers wait on this login, so it must not end with the first caller's deadline.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.loginTimeout)
		defer cancel()
		return m.login(lctx)
	})
	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			m.logger.Debug("joined in-flight login")
		}
		if r.Err != nil {
			return Session{}, r.Err
		}
		return r.Val.(Session), nil
	}
}

func (m *SessionManager) login(ctx context.Context) (Session, error) {
	ctx, span := tracer.Start(ctx, "session:login")
	defer span.End()

	policy := m.policy
	policy.Retryable = func(err error) bool { return !errors.Is(err, ErrAuthentication) }
	policy.OnRetry = func(err error, attempt int, wait time.Duration) {
		m.logger.Warn("login attempt failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}

	var cookies []*http.Cookie
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		c, err := m.auth.Authenticate(ctx, m.creds)
		if err != nil {
			return err
		}
		cookies = c
		return nil
	})
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		m.logger.Error("login failed", zap.Int("attempts", attempts), zap.Error(err))
		return Session{}, err
	}

	s := Session{ID: uuid.NewString(), Cookies: cookies, CreatedAt: m.now()}
	m.mu.Lock()
	m.current = &s
	m.logins++
	m.mu.Unlock()
	m.logger.Info("logged in to target", zap.String("session", s.ID), zap.Int("cookies", len(cookies)))
	return s, nil
}

// Invalidate drops the current session so the next Ensure logs in again.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.logger.Info("session invalidated", zap.String("session", m.current.ID))
	}
	m.current = nil
}

// Status reports whether a valid session exists and how old it is.
func (m *SessionManager) Status() SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return SessionStatus{}
	}
	return SessionStatus{
		Valid: m.validLocked(),
		Age:   m.now().Sub(m.current.CreatedAt),
		ID:    m.current.ID,
	}
}

// Logins counts successful logins since start.
func (m *SessionManager) Logins() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logins
}
