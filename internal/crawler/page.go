package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/rfinnell/demovault/internal/browser"
	"github.com/rfinnell/demovault/internal/config"
)

const snapshotTimeout = 30 * time.Second

// jsClickLoadMore clicks the control only when it is actually visible;
// offsetParent is null for hidden elements.
const jsClickLoadMore = `(function() {
	var el = document.querySelector("` + selLoadMore + `");
	if (!el || el.offsetParent === null) { return false; }
	el.click();
	return true;
})()`

// CDPPage drives the live match-history page through a browsing context.
type CDPPage struct {
	bctx       *browser.Context
	url        string
	navTimeout time.Duration
	cfg        config.CrawlerConfig
}

func NewCDPPage(bctx *browser.Context, url string, navTimeout time.Duration, cfg config.CrawlerConfig) *CDPPage {
	return &CDPPage{bctx: bctx, url: url, navTimeout: navTimeout, cfg: cfg}
}

var _ PageDriver = (*CDPPage)(nil)

func (p *CDPPage) WaitReady(ctx context.Context) error {
	if err := p.bctx.Navigate(p.url, p.navTimeout); err != nil {
		return err
	}
	if err := p.bctx.Run(p.navTimeout, chromedp.WaitReady(selScoreboard, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("scoreboard did not render: %w", err)
	}
	return nil
}

func (p *CDPPage) Snapshot(ctx context.Context) (string, error) {
	// Let in-flight row rendering settle before serializing the document.
	if p.cfg.SettleDelay > 0 {
		if err := p.bctx.Run(0, chromedp.Sleep(p.cfg.SettleDelay)); err != nil {
			return "", err
		}
	}
	return p.bctx.OuterHTML(snapshotTimeout)
}

func (p *CDPPage) LoadMore(ctx context.Context) (bool, error) {
	var clicked bool
	if err := p.bctx.Run(10*time.Second, chromedp.Evaluate(jsClickLoadMore, &clicked)); err != nil {
		return false, fmt.Errorf("load-more click failed: %w", err)
	}
	return clicked, nil
}

func (p *CDPPage) WaitRowsAbove(ctx context.Context, n int) error {
	deadline := time.Now().Add(p.cfg.LoadMoreWait)
	for {
		var count int
		if err := p.bctx.Run(5*time.Second, chromedp.Evaluate(jsCountRows, &count)); err != nil {
			return err
		}
		if count > n {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("match count stuck at %d after %s", n, p.cfg.LoadMoreWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
