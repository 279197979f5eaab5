// Package payment enforces the proof-of-payment upload window for bank
// transfer orders.
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Remaining is the time left until expiry, never negative.
func Remaining(now, expiry time.Time) time.Duration {
	if !now.Before(expiry) {
		return 0
	}
	return expiry.Sub(now)
}

type CountdownState int

const (
	CountdownActive CountdownState = iota
	CountdownExpired
)

func (s CountdownState) String() string {
	if s == CountdownExpired {
		return "EXPIRED"
	}
	return "COUNTDOWN_ACTIVE"
}

// Countdown tracks the upload window of one order. Once expired it stays
// expired, and the remaining time it reports never goes up even if the clock
// moves backwards.
type Countdown struct {
	expiry time.Time
	now    Clock

	mu        sync.Mutex
	remaining time.Duration
	expired   bool
}

func NewCountdown(expiry time.Time, now Clock) *Countdown {
	if now == nil {
		now = time.Now
	}
	c := &Countdown{
		expiry:    expiry,
		now:       now,
		remaining: Remaining(now(), expiry),
	}
	c.expired = c.remaining == 0
	return c
}

func (c *Countdown) ExpiresAt() time.Time {
	return c.expiry
}

// Tick recomputes the remaining time from the clock.
func (c *Countdown) Tick() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickLocked()
}

func (c *Countdown) tickLocked() time.Duration {
	if c.expired {
		return 0
	}
	remaining := Remaining(c.now(), c.expiry)
	if remaining < c.remaining {
		c.remaining = remaining
	}
	if c.remaining == 0 {
		c.expired = true
	}
	return c.remaining
}

// Active reports whether uploads are still accepted at the current time.
func (c *Countdown) Active() bool {
	return c.Tick() > 0
}

func (c *Countdown) State() CountdownState {
	if c.Active() {
		return CountdownActive
	}
	return CountdownExpired
}

// Expire ends the window early, for example when the backend rejects a late
// upload before the local clock reached zero.
func (c *Countdown) Expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = 0
	c.expired = true
}

// Run calls onTick with the remaining time immediately and then once per
// interval. It returns nil after reporting zero, or the context error.
func (c *Countdown) Run(ctx context.Context, interval time.Duration, onTick func(time.Duration) error) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		remaining := c.Tick()
		if err := onTick(remaining); err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FormatRemaining renders d as HH:MM:SS, rounding partial seconds up so the
// display only reads 00:00:00 once the window is closed.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "00:00:00"
	}
	seconds := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
