// Package expiry resolves per-entry freshness windows from cache-wide defaults
// and per-call overrides.
//
// An entry moves through three states:
//
//	created ── fresh ──> FreshUntil ── stale ──> StaleUntil ── expired
//
// Fresh entries are served directly. Stale entries are still served, but the
// caller triggers a background refresh. Expired entries are treated as a miss.
package expiry

import (
	"math/rand/v2"
	"time"
)

type State uint8

const (
	Fresh State = iota
	Stale
	Expired
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

// Policy holds the cache-wide defaults.
type Policy struct {
	TTL         time.Duration
	StaleWindow time.Duration
	// Jitter adds up to this much random time to the fresh window.
	Jitter time.Duration
}

// Override carries per-call settings. Nil pointers fall back to the Policy.
type Override struct {
	TTL         *time.Duration
	StaleWindow *time.Duration
	Sliding     time.Duration
}

// Settings is a resolved expiration for one write.
type Settings struct {
	TTL         time.Duration
	StaleWindow time.Duration
	Sliding     time.Duration
	jitter      time.Duration
}

func (p Policy) Resolve(o Override) Settings {
	s := Settings{TTL: p.TTL, StaleWindow: p.StaleWindow, Sliding: o.Sliding, jitter: p.Jitter}
	if o.TTL != nil {
		s.TTL = *o.TTL
	}
	if o.StaleWindow != nil {
		s.StaleWindow = *o.StaleWindow
	}
	if s.StaleWindow < 0 {
		s.StaleWindow = 0
	}
	// sliding entries renew on read; their fresh window is the sliding span
	if s.Sliding > 0 {
		s.TTL = s.Sliding
	}
	return s
}

// Cacheable reports whether a value written with s should be stored at all.
// A zero or negative TTL means "do not cache".
func (s Settings) Cacheable() bool { return s.TTL > 0 }

// Deadlines computes absolute deadlines starting at now.
func (s Settings) Deadlines(now time.Time) Deadlines {
	fresh := s.TTL
	if s.jitter > 0 && s.Sliding <= 0 {
		fresh += rand.N(s.jitter)
	}
	d := Deadlines{FreshUntil: now.Add(fresh)}
	d.StaleUntil = d.FreshUntil.Add(s.StaleWindow)
	return d
}

// Deadlines are the absolute freshness limits of a stored entry.
type Deadlines struct {
	FreshUntil time.Time // soft limit
	StaleUntil time.Time // hard limit; equals FreshUntil without a stale window
}

func (d Deadlines) State(now time.Time) State {
	switch {
	case now.Before(d.FreshUntil):
		return Fresh
	case now.Before(d.StaleUntil):
		return Stale
	default:
		return Expired
	}
}

// Remaining is the physical TTL a store should apply so the entry survives
// through its stale window. Zero or negative means it is already expired.
func (d Deadlines) Remaining(now time.Time) time.Duration {
	return d.StaleUntil.Sub(now)
}

// Renew slides the fresh window forward, keeping the stale window length.
func (d Deadlines) Renew(now time.Time, sliding time.Duration) Deadlines {
	stale := d.StaleUntil.Sub(d.FreshUntil)
	out := Deadlines{FreshUntil: now.Add(sliding)}
	out.StaleUntil = out.FreshUntil.Add(stale)
	return out
}
