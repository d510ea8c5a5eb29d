// Package session establishes and persists the authenticated Steam session
// the crawler depends on. Cookies are never mutated in place; a stale set is
// wholly replaced by the set captured from a fresh interactive login.
package session

import (
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// AuthCookieName is the cookie that proves a Steam login. A cookie set
// without it, or with it expiring soon, is unusable.
const AuthCookieName = "steamLoginSecure"

// Cookie is one persisted cookie record. Expires is unix seconds; values <= 0
// mean a session cookie with no recorded expiry.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
}

// FromCDP converts cookies captured from a browsing context into the
// persisted representation.
func FromCDP(cookies []*network.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out
}

// ToParams converts persisted cookies into the form the browser accepts.
func ToParams(cookies []Cookie) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expires
		}
		out = append(out, p)
	}
	return out
}

// Usable reports whether the cookie set can plausibly still authenticate:
// the auth cookie must be present, and if it carries an expiry, that expiry
// must be further than the freshness window away. Validation against the
// live service happens separately; this is the cheap local check.
func Usable(cookies []Cookie, window time.Duration, now time.Time) bool {
	for _, c := range cookies {
		if c.Name != AuthCookieName {
			continue
		}
		if c.Expires <= 0 {
			return true
		}
		expiry := time.Unix(int64(c.Expires), 0)
		return expiry.After(now.Add(window))
	}
	return false
}
