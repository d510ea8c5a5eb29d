// Package crawler walks the authenticated CS2 match-history page and
// discovers downloadable replay artifacts together with per-match scoreboard
// stats. One Crawl consumes one fresh browsing context and is not
// restartable.
package crawler

import (
	"net/url"
	"strings"
)

// PlayerStat is one scoreboard row, kept as free text exactly as rendered.
// Absent cells are empty strings; no numeric parsing happens here.
type PlayerStat struct {
	ProfileURL  string `json:"profile_url"`
	Name        string `json:"name"`
	Ping        string `json:"ping"`
	Kills       string `json:"kills"`
	Assists     string `json:"assists"`
	Deaths      string `json:"deaths"`
	MVPs        string `json:"mvps"`
	HeadshotPct string `json:"hsp"`
	Score       string `json:"score"`
}

// Artifact is one downloadable replay discovered on the page, with the
// scoreboard stats of the match it belongs to. URL is the identity: the same
// URL is never emitted twice within a crawl.
type Artifact struct {
	URL      string
	Filename string
	Stats    []PlayerStat
}

// artifactFilename derives the local filename from the URL's final path
// segment.
func artifactFilename(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		if i := strings.LastIndex(u.Path, "/"); i >= 0 {
			return u.Path[i+1:]
		}
		return u.Path
	}
	if i := strings.LastIndex(rawURL, "/"); i >= 0 {
		return rawURL[i+1:]
	}
	return rawURL
}
