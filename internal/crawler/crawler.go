package crawler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/config"
)

// PageDriver is the minimal browsing surface the crawl loop needs. The
// production implementation drives a real browsing context; tests script it.
type PageDriver interface {
	// WaitReady blocks until the match-history scoreboard has rendered.
	// Failure here aborts the crawl.
	WaitReady(ctx context.Context) error
	// Snapshot returns the full current document HTML.
	Snapshot(ctx context.Context) (string, error)
	// LoadMore clicks the load-more control. It returns false when the
	// control is absent or hidden, meaning there is nothing left to load.
	LoadMore(ctx context.Context) (bool, error)
	// WaitRowsAbove waits, bounded, for the rendered match-row count to
	// exceed n. An error means no new rows appeared in time.
	WaitRowsAbove(ctx context.Context, n int) error
}

// Crawler implements the paginated match-history walk.
type Crawler struct {
	cfg config.CrawlerConfig
	log *zap.Logger
}

func New(cfg config.CrawlerConfig, logger *zap.Logger) *Crawler {
	return &Crawler{cfg: cfg, log: logger.Named("crawler")}
}

// Crawl walks the match history and hands each newly discovered artifact to
// sink the moment it is found, so downloads interleave with crawling. It
// returns the number of artifacts emitted.
//
// Termination: a run of cfg.MaxStaleRows consecutive rows without a download
// link (matches past the retention window, newest-first ordering assumed), a
// missing or hidden load-more control, or a full cycle that adds no rows.
func (c *Crawler) Crawl(ctx context.Context, page PageDriver, sink func(Artifact)) (int, error) {
	if err := page.WaitReady(ctx); err != nil {
		return 0, fmt.Errorf("match history page did not load: %w", err)
	}

	seen := make(map[string]struct{})
	emitted := 0
	prevRows := 0

	for {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		html, err := page.Snapshot(ctx)
		if err != nil {
			return emitted, fmt.Errorf("failed to snapshot page: %w", err)
		}
		rows, err := parseMatchRows(html)
		if err != nil {
			return emitted, err
		}

		c.log.Debug("Scanned page.", zap.Int("rows", len(rows)), zap.Int("previous", prevRows))
		if len(rows) == prevRows {
			c.log.Info("No new match rows; crawl complete.", zap.Int("artifacts", emitted))
			return emitted, nil
		}
		prevRows = len(rows)

		// Re-scan every rendered row each cycle. Dedup by URL makes the
		// redundancy safe, and earlier rows may have shifted.
		stale := 0
		for _, row := range rows {
			if len(row.ArtifactURLs) == 0 {
				stale++
				if stale >= c.cfg.MaxStaleRows {
					c.log.Info("Consecutive matches without download links; remaining history is past retention.",
						zap.Int("consecutive", stale), zap.Int("artifacts", emitted))
					return emitted, nil
				}
				continue
			}
			stale = 0

			for _, rawURL := range row.ArtifactURLs {
				if !strings.Contains(rawURL, ".dem") {
					continue
				}
				if _, dup := seen[rawURL]; dup {
					continue
				}
				seen[rawURL] = struct{}{}
				sink(Artifact{URL: rawURL, Filename: artifactFilename(rawURL), Stats: row.Stats})
				emitted++
			}
		}

		more, err := page.LoadMore(ctx)
		if err != nil {
			c.log.Debug("Load-more click failed; treating as end of history.", zap.Error(err))
			return emitted, nil
		}
		if !more {
			c.log.Info("Load-more control gone; crawl complete.", zap.Int("artifacts", emitted))
			return emitted, nil
		}
		if err := page.WaitRowsAbove(ctx, prevRows); err != nil {
			c.log.Debug("No additional rows after load-more.", zap.Error(err))
			return emitted, nil
		}
	}
}
