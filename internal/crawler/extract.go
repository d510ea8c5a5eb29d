package crawler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// The page contract lives entirely in these selectors. When Valve changes
// the markup, this block is the only thing that should need editing.
const (
	selScoreboard  = "table.csgo_scoreboard_root"
	selMatchRow    = "tr:has(td.val_left)"
	selDownloadBtn = "div.csgo_scoreboard_btn_gotv"
	selPlayerCell  = "td.inner_name"
	selPlayerLink  = "a.linkTitle"
	selLoadMore    = "#load_more_button"
)

// jsCountRows counts rendered match rows without relying on :has support.
const jsCountRows = `document.querySelectorAll("td.val_left").length`

// matchRow is one parsed match container: its artifact download URLs (often
// zero for matches past the retention window) and its scoreboard.
type matchRow struct {
	ArtifactURLs []string
	Stats        []PlayerStat
}

// parseMatchRows extracts every match row from a full-page HTML snapshot.
func parseMatchRows(html string) ([]matchRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	var rows []matchRow
	doc.Find(selScoreboard).Find(selMatchRow).Each(func(_ int, tr *goquery.Selection) {
		row := matchRow{}
		tr.Find(selDownloadBtn).Each(func(_ int, btn *goquery.Selection) {
			// The clickable URL sits on an ancestor anchor of the button div.
			a := btn.ParentsFiltered("a").First()
			if href, ok := a.Attr("href"); ok && href != "" {
				row.ArtifactURLs = append(row.ArtifactURLs, href)
			}
		})
		row.Stats = parsePlayerStats(tr)
		rows = append(rows, row)
	})
	return rows, nil
}

// parsePlayerStats reads the scoreboard cells of one match container by
// fixed column position. Missing cells degrade to empty strings.
func parsePlayerStats(tr *goquery.Selection) []PlayerStat {
	var stats []PlayerStat
	tr.Find(selPlayerCell).Each(func(_ int, cell *goquery.Selection) {
		link := cell.Find(selPlayerLink).First()
		cells := cell.Parent().ChildrenFiltered("td")

		text := func(i int) string {
			if i < cells.Length() {
				return strings.TrimSpace(cells.Eq(i).Text())
			}
			return ""
		}

		stats = append(stats, PlayerStat{
			ProfileURL:  link.AttrOr("href", ""),
			Name:        strings.TrimSpace(link.Text()),
			Ping:        text(1),
			Kills:       text(2),
			Assists:     text(3),
			Deaths:      text(4),
			MVPs:        text(5),
			HeadshotPct: text(6),
			Score:       text(7),
		})
	})
	return stats
}
