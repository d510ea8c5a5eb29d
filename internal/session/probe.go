package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/browser"
	"github.com/rfinnell/demovault/internal/config"
)

// selAvatar only renders for a logged-in account. Page titles and URLs are
// not consulted; they are unreliable across Steam's redirect variants.
const selAvatar = ".user_avatar"

const reverifyTimeout = 10 * time.Second

// BrowserProbe validates sessions and runs the manual login flow against the
// live service through real browsing contexts.
type BrowserProbe struct {
	launcher *browser.Launcher
	steam    config.SteamConfig
	cfg      config.SessionConfig
	navTO    time.Duration
	log      *zap.Logger
}

func NewBrowserProbe(launcher *browser.Launcher, steam config.SteamConfig, cfg config.SessionConfig, navTimeout time.Duration, logger *zap.Logger) *BrowserProbe {
	return &BrowserProbe{
		launcher: launcher,
		steam:    steam,
		cfg:      cfg,
		navTO:    navTimeout,
		log:      logger.Named("session_probe"),
	}
}

var _ Probe = (*BrowserProbe)(nil)

// Validate injects the cookies into a headless browsing context and checks
// for the logged-in indicator on the authenticated-only page. A missing
// indicator is a negative answer, not an error.
func (p *BrowserProbe) Validate(ctx context.Context, cookies []Cookie) (bool, error) {
	bctx, err := p.launcher.NewHeadless(ctx)
	if err != nil {
		return false, err
	}
	defer bctx.Close()

	// The cookie domain must have been visited before injection takes
	// effect reliably.
	if err := bctx.Navigate(p.steam.CommunityURL, p.navTO); err != nil {
		return false, err
	}
	if err := bctx.SetCookies(ToParams(cookies)); err != nil {
		return false, err
	}
	if err := bctx.Navigate(p.steam.ProfileURL, p.navTO); err != nil {
		return false, err
	}
	if err := bctx.WaitVisible(selAvatar, p.cfg.ValidateTimeout); err != nil {
		p.log.Debug("Logged-in indicator did not appear.", zap.Error(err))
		return false, nil
	}
	return true, nil
}

// InteractiveLogin opens a visible browsing context on the login page and
// blocks until a human completes the login, then re-verifies and captures
// the resulting cookies.
func (p *BrowserProbe) InteractiveLogin(ctx context.Context) ([]Cookie, error) {
	bctx, err := p.launcher.NewHeaded(ctx)
	if err != nil {
		return nil, err
	}
	defer bctx.Close()

	if err := bctx.Navigate(p.steam.LoginURL, p.navTO); err != nil {
		return nil, err
	}

	p.log.Info("Waiting for manual login in the browser window...",
		zap.Duration("timeout", p.cfg.LoginTimeout))
	if err := bctx.WaitVisible(selAvatar, p.cfg.LoginTimeout); err != nil {
		return nil, fmt.Errorf("timed out waiting for manual login: %w", err)
	}

	// Re-verify on the authenticated-only page before trusting the session.
	if err := bctx.Navigate(p.steam.ProfileURL, p.navTO); err != nil {
		return nil, err
	}
	if err := bctx.WaitVisible(selAvatar, reverifyTimeout); err != nil {
		return nil, fmt.Errorf("login verification failed: %w", err)
	}

	raw, err := bctx.Cookies()
	if err != nil {
		return nil, err
	}
	return FromCDP(raw), nil
}
