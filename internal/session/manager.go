package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/config"
)

// ErrAuthentication marks the fatal case where no valid session could be
// established by any means.
var ErrAuthentication = errors.New("no valid session could be established")

// Probe answers whether a cookie set still authenticates against the live
// service, and runs the manual login flow when it does not. Implemented by
// BrowserProbe in production; tests substitute a fake.
type Probe interface {
	Validate(ctx context.Context, cookies []Cookie) (bool, error)
	InteractiveLogin(ctx context.Context) ([]Cookie, error)
}

// Manager composes the store, the validator, and the interactive login flow
// into a single "ensure I have a valid session" operation.
type Manager struct {
	store *Store
	probe Probe
	cfg   config.SessionConfig
	log   *zap.Logger
	now   func() time.Time
}

func NewManager(store *Store, probe Probe, cfg config.SessionConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store: store,
		probe: probe,
		cfg:   cfg,
		log:   logger.Named("session"),
		now:   time.Now,
	}
}

// EnsureSession returns a cookie set known to authenticate. Persisted cookies
// are used when they are fresh enough and still validate; otherwise the
// interactive login flow replaces them.
func (m *Manager) EnsureSession(ctx context.Context) ([]Cookie, error) {
	cookies := m.store.Load()

	switch {
	case len(cookies) == 0:
		m.log.Info("No persisted session found; login required.")
	case !Usable(cookies, m.cfg.FreshnessWindow, m.now()):
		m.log.Info("Persisted session is stale or missing the auth cookie; login required.")
	default:
		ok, err := m.probe.Validate(ctx, cookies)
		if err != nil {
			m.log.Warn("Session validation errored; falling back to login.", zap.Error(err))
		} else if ok {
			m.log.Info("Existing session is valid.")
			return cookies, nil
		} else {
			m.log.Info("Existing session no longer authenticates; login required.")
		}
	}

	return m.Login(ctx)
}

// Login always runs the interactive login flow and persists its result,
// regardless of any stored session's freshness.
func (m *Manager) Login(ctx context.Context) ([]Cookie, error) {
	cookies, err := m.probe.InteractiveLogin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: interactive login failed: %w", ErrAuthentication, err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: interactive login produced no cookies", ErrAuthentication)
	}
	if err := m.store.Save(cookies); err != nil {
		// A session we cannot persist still authenticates this run.
		m.log.Error("Failed to persist new session.", zap.Error(err))
	}
	m.log.Info("New session established.", zap.Int("cookies", len(cookies)))
	return cookies, nil
}
