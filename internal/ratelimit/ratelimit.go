// Package ratelimit is the abuse-protection layer: a per-source-IP request
// size ceiling, a sliding-window request counter, and a permanent blacklist
// of rejected sources.
package ratelimit

import (
	"time"
)

// Config bounds a single source IP.
type Config struct {
	// MaxRequestBytes caps the accumulated unterminated receive buffer. The
	// check runs on every read, so a client cannot evade it by withholding
	// the newline.
	MaxRequestBytes int
	// Window is the rate-limit interval.
	Window time.Duration
	// MaxRequests is the per-window read ceiling.
	MaxRequests int
}

// Verdict is the outcome of admitting one inbound read.
type Verdict int

const (
	// OK admits the read.
	OK Verdict = iota
	// Banned means the IP was already blacklisted; drop silently.
	Banned
	// Oversized means the buffered request exceeded the byte ceiling; the IP
	// has just been blacklisted and must be persisted and disconnected.
	Oversized
	// RateExceeded means the window ceiling was crossed; same consequences
	// as Oversized.
	RateExceeded
)

type window struct {
	start time.Time
	count int
}

// Guard tracks per-IP abuse state. It is not safe for concurrent use; the
// session manager serializes access alongside the store and registry.
type Guard struct {
	cfg       Config
	windows   map[string]*window
	blacklist map[string]bool

	now func() time.Time // test hook
}

// NewGuard builds a guard pre-seeded with the persisted blacklist.
func NewGuard(cfg Config, blacklisted []string) *Guard {
	g := &Guard{
		cfg:       cfg,
		windows:   make(map[string]*window),
		blacklist: make(map[string]bool),
		now:       time.Now,
	}
	for _, ip := range blacklisted {
		g.blacklist[ip] = true
	}
	return g
}

// Blacklisted reports whether the IP is permanently rejected. Checked at
// accept time so banned sources never reach the command pipeline.
func (g *Guard) Blacklisted(ip string) bool {
	return g.blacklist[ip]
}

// Admit accounts one inbound read from ip with buffered unterminated bytes.
// Oversized and RateExceeded verdicts blacklist the IP as a side effect;
// the caller persists the entry and closes the connection.
func (g *Guard) Admit(ip string, buffered int) Verdict {
	if g.blacklist[ip] {
		return Banned
	}
	if buffered > g.cfg.MaxRequestBytes {
		g.ban(ip)
		return Oversized
	}
	now := g.now()
	w, ok := g.windows[ip]
	if !ok {
		g.windows[ip] = &window{start: now, count: 1}
		return OK
	}
	if now.Sub(w.start) < g.cfg.Window {
		w.count++
		if w.count > g.cfg.MaxRequests {
			g.ban(ip)
			return RateExceeded
		}
		return OK
	}
	w.start = now
	w.count = 1
	return OK
}

// Forget drops the rate window for a disconnected source.
func (g *Guard) Forget(ip string) {
	delete(g.windows, ip)
}

func (g *Guard) ban(ip string) {
	g.blacklist[ip] = true
	delete(g.windows, ip)
}
