// Package browser owns the chromedp process and tab lifecycle. Every
// browser-driven step in the pipeline borrows a Context from here and must
// close it when done; a Context is not safe for concurrent use.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/config"
)

const closeTimeout = 15 * time.Second

// Launcher creates browsing contexts according to the browser configuration.
type Launcher struct {
	cfg config.BrowserConfig
	log *zap.Logger
}

func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{cfg: cfg, log: logger.Named("browser")}
}

// Context is a single live Chrome process with one attached tab.
type Context struct {
	ctx       context.Context
	log       *zap.Logger
	cancels   []context.CancelFunc
	closeOnce sync.Once
}

// NewHeadless launches a headless browsing context.
func (l *Launcher) NewHeadless(ctx context.Context) (*Context, error) {
	return l.newContext(ctx, true)
}

// NewHeaded launches a visible browsing context for interactive use.
func (l *Launcher) NewHeaded(ctx context.Context) (*Context, error) {
	return l.newContext(ctx, false)
}

func (l *Launcher) newContext(ctx context.Context, headless bool) (*Context, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1920, 1080),
	}
	if headless {
		opts = append(opts, chromedp.Headless)
	}
	for _, arg := range l.cfg.ExtraArgs {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	c := &Context{
		ctx:     tabCtx,
		log:     l.log.With(zap.Bool("headless", headless)),
		cancels: []context.CancelFunc{cancelTab, cancelAlloc},
	}

	// Start the browser eagerly so launch failures surface here rather than
	// on the first action.
	if err := chromedp.Run(tabCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	c.log.Debug("Browsing context started.")
	return c, nil
}

// Ctx exposes the underlying chromedp context for direct action runs.
func (c *Context) Ctx() context.Context {
	return c.ctx
}

// Run executes chromedp actions bounded by the given timeout. A zero timeout
// runs unbounded against the context's own lifetime.
func (c *Context) Run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx := c.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return chromedp.Run(ctx, actions...)
}

// Navigate loads a URL and waits for the document body to be ready.
func (c *Context) Navigate(url string, timeout time.Duration) error {
	c.log.Debug("Navigating.", zap.String("url", url))
	if err := c.Run(timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// WaitVisible blocks until the selector matches a visible element or the
// timeout elapses.
func (c *Context) WaitVisible(sel string, timeout time.Duration) error {
	return c.Run(timeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

// SetCookies injects the given cookie records into the browsing context.
func (c *Context) SetCookies(params []*network.CookieParam) error {
	if len(params) == 0 {
		return nil
	}
	if err := c.Run(10*time.Second, network.SetCookies(params)); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// Cookies returns every cookie visible to the browsing context.
func (c *Context) Cookies() ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := c.Run(10*time.Second, chromedp.ActionFunc(func(ctx context.Context) (err error) {
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

// OuterHTML returns the serialized HTML of the current document.
func (c *Context) OuterHTML(timeout time.Duration) (string, error) {
	var html string
	if err := c.Run(timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture document HTML: %w", err)
	}
	return html, nil
}

// Close tears down the tab and the browser process. Safe to call more than
// once and on partially constructed contexts.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		done := c.ctx.Done()
		for _, cancel := range c.cancels {
			cancel()
		}
		select {
		case <-done:
		case <-time.After(closeTimeout):
			c.log.Warn("Timeout waiting for browsing context to close.")
		}
		c.log.Debug("Browsing context closed.")
	})
}
