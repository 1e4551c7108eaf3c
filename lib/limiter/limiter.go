// Teleterm
// Copyright (C) 2025  Teleterm Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package limiter rate limits protocol messages per authenticated user.
package limiter

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/teleterm/teleterm/lib/defaults"
)

// Config holds rate limiter parameters.
type Config struct {
	// Events is how many events each key may emit per Window before
	// getting limited.
	Events int
	// Window is the averaging window for Events.
	Window time.Duration
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Events == 0 {
		c.Events = defaults.RateLimitEvents
	}
	if c.Events < 0 {
		return trace.BadParameter("rate limit events must be positive, got %v", c.Events)
	}
	if c.Window == 0 {
		c.Window = defaults.RateLimitWindow
	}
	if c.Window < 0 {
		return trace.BadParameter("rate limit window must be positive, got %v", c.Window)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Limiter is a set of token buckets keyed by username. Connections that
// have not logged in yet share the bucket of the empty key, so a flood of
// anonymous connections exhausts one budget rather than many.
type Limiter struct {
	clock clockwork.Clock
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter from config.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Limiter{
		clock:   cfg.Clock,
		limit:   rate.Limit(float64(cfg.Events) / cfg.Window.Seconds()),
		burst:   cfg.Events,
		buckets: make(map[string]*rate.Limiter),
	}, nil
}

// Allow reports whether the event should be admitted for key, consuming
// one token from the key's bucket if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.AllowN(l.clock.Now(), 1)
}
