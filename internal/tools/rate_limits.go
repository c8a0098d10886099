// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package tools

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig configures rate limits and cooldowns for tools.
type RateLimitConfig struct {
	DefaultPerMinute int
	PerTool          map[string]int
	Cooldowns        map[string]time.Duration
}

// DefaultRateLimitConfig slows down password guessing through authenticate
// and leaves every other tool at the default rate.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		DefaultPerMinute: 60,
		PerTool: map[string]int{
			"authenticate": 10,
		},
		Cooldowns: map[string]time.Duration{
			"authenticate": time.Second,
		},
	}
}

func (c RateLimitConfig) rateFor(name string) int {
	if rate, ok := c.PerTool[name]; ok {
		return rate
	}
	return c.DefaultPerMinute
}

type toolRateLimiter struct {
	mu          sync.Mutex
	tokens      chan struct{}
	ticker      *time.Ticker
	stop        chan struct{}
	cooldown    time.Duration
	nextAllowed time.Time
	now         func() time.Time
}

func newToolRateLimiter(ratePerMinute int, cooldown time.Duration) *toolRateLimiter {
	if ratePerMinute <= 0 && cooldown <= 0 {
		return nil
	}

	rl := &toolRateLimiter{
		cooldown: cooldown,
		now:      time.Now,
	}

	if ratePerMinute > 0 {
		interval := time.Minute / time.Duration(ratePerMinute)
		if interval <= 0 {
			interval = time.Second
		}
		rl.tokens = make(chan struct{}, ratePerMinute)
		for i := 0; i < ratePerMinute; i++ {
			rl.tokens <- struct{}{}
		}
		rl.ticker = time.NewTicker(interval)
		rl.stop = make(chan struct{})
		go rl.refill()
	}

	return rl
}

func (r *toolRateLimiter) refill() {
	for {
		select {
		case <-r.ticker.C:
			select {
			case r.tokens <- struct{}{}:
			default:
			}
		case <-r.stop:
			return
		}
	}
}

// Allow consumes one token and arms the cooldown.
func (r *toolRateLimiter) Allow() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.nextAllowed.IsZero() && now.Before(r.nextAllowed) {
		return fmt.Errorf("%w: retry after %s", ErrToolInCooldown, r.nextAllowed.Sub(now).Round(100*time.Millisecond))
	}

	if r.tokens != nil {
		select {
		case <-r.tokens:
		default:
			return ErrToolRateLimited
		}
	}

	if r.cooldown > 0 {
		r.nextAllowed = now.Add(r.cooldown)
	}

	return nil
}

func (r *toolRateLimiter) Stop() {
	if r == nil {
		return
	}
	if r.ticker != nil {
		r.ticker.Stop()
	}
	if r.stop != nil {
		close(r.stop)
	}
}
