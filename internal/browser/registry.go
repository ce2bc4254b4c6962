package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tixbot/internal/logger"
)

var ErrSessionInUse = errors.New("browser session already leased")

// Role names the purpose of a browser session. Each role gets its own
// browser so the identity provider and the ticketing site never share state.
type Role int

const (
	RoleIdentity Role = iota
	RoleTargetSite
)

func (r Role) String() string {
	switch r {
	case RoleIdentity:
		return "identity"
	case RoleTargetSite:
		return "target-site"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Factory opens a new browser session for a role.
type Factory func(ctx context.Context, role Role) (Driver, error)

type session struct {
	driver Driver
	leased bool
}

// Registry owns the browser sessions of one purchase workflow. A session is
// created on first lease and lives until Release or CloseAll; only one lease
// per role may be outstanding.
type Registry struct {
	factory Factory
	grace   time.Duration

	mu       sync.Mutex
	sessions map[Role]*session
}

func NewRegistry(factory Factory, grace time.Duration) *Registry {
	return &Registry{
		factory:  factory,
		grace:    grace,
		sessions: make(map[Role]*session),
	}
}

// Lease is exclusive use of a role's session.
type Lease struct {
	Driver Driver

	reg  *Registry
	role Role
	once sync.Once
}

// Return gives the session back to the registry without closing it.
func (l *Lease) Return() {
	l.once.Do(func() {
		l.reg.mu.Lock()
		if s, ok := l.reg.sessions[l.role]; ok {
			s.leased = false
		}
		l.reg.mu.Unlock()
	})
}

// Acquire leases the session for role, opening it if needed.
func (r *Registry) Acquire(ctx context.Context, role Role) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[role]
	if ok && s.leased {
		return nil, fmt.Errorf("%w: %s", ErrSessionInUse, role)
	}
	if !ok {
		d, err := r.factory(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s browser: %w", role, err)
		}
		s = &session{driver: d}
		r.sessions[role] = s
		logger.Get().Info("browser session opened", zap.Stringer("role", role))
	}
	s.leased = true
	return &Lease{Driver: s.driver, reg: r, role: role}, nil
}

// With runs fn with a leased session and closes the session afterwards.
func (r *Registry) With(ctx context.Context, role Role, fn func(Driver) error) error {
	lease, err := r.Acquire(ctx, role)
	if err != nil {
		return err
	}
	defer func() {
		lease.Return()
		if err := r.Release(role); err != nil {
			logger.Get().Warn("failed to close browser session", zap.Stringer("role", role), zap.Error(err))
		}
	}()
	return fn(lease.Driver)
}

// Release closes and forgets the session for role. Unknown roles are a
// no-op.
func (r *Registry) Release(role Role) error {
	r.mu.Lock()
	s, ok := r.sessions[role]
	delete(r.sessions, role)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	logger.Get().Info("closing browser session", zap.Stringer("role", role))
	return s.driver.Close()
}

// CloseAll waits the grace period so in-flight browser operations settle,
// then closes every session. A failing close does not stop the others; all
// failures are joined into the returned error.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[Role]*session)
	r.mu.Unlock()

	if len(sessions) == 0 {
		return nil
	}

	log := logger.Get()
	if r.grace > 0 {
		log.Info("waiting before closing browser sessions", zap.Duration("grace", r.grace))
		time.Sleep(r.grace)
	}
	log.Info("closing browser sessions", zap.Int("count", len(sessions)))

	var errs []error
	for role, s := range sessions {
		if err := s.driver.Close(); err != nil {
			log.Error("failed to close browser session, skipping", zap.Stringer("role", role), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
