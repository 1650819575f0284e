// Package retry provides the backoff policy used by the broker connection loop
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Strategy selects how the delay grows between attempts
type Strategy string

const (
	// Linear grows the delay as InitialDelay * attempt
	Linear Strategy = "linear"
	// Exponential grows the delay as InitialDelay * Multiplier^(attempt-1)
	Exponential Strategy = "exponential"
)

// Policy describes a bounded retry cycle followed by a cooldown.
// After MaxAttempts consecutive failures the caller waits Cooldown
// and starts a fresh cycle; the policy itself never gives up.
type Policy struct {
	MaxAttempts  int           // Attempts per cycle before the cooldown
	InitialDelay time.Duration // Delay after the first failure
	MaxDelay     time.Duration // Cap applied to every computed delay
	Strategy     Strategy      // linear or exponential
	Multiplier   float64       // Growth factor for exponential, typically 2.0
	Cooldown     time.Duration // Pause once a cycle is exhausted
	AddJitter    bool          // Add up to 25% on top of the computed delay
}

// ConsumerPolicy returns the dashboard-side defaults: 3 attempts, 10s * n, 120s cooldown.
func ConsumerPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Second,
		MaxDelay:     30 * time.Second,
		Strategy:     Linear,
		Multiplier:   2.0,
		Cooldown:     120 * time.Second,
	}
}

// ProducerPolicy returns the publisher-side defaults: 5 attempts, min(5s * n, 30s).
func ProducerPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     30 * time.Second,
		Strategy:     Linear,
		Multiplier:   2.0,
		Cooldown:     60 * time.Second,
	}
}

// Validate reports configuration that would make the loop spin or never back off
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if p.InitialDelay < 0 {
		return errors.New("retry: InitialDelay cannot be negative")
	}
	if p.MaxDelay < 0 {
		return errors.New("retry: MaxDelay cannot be negative")
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	if p.Cooldown <= 0 {
		return errors.New("retry: Cooldown must be positive")
	}
	switch p.Strategy {
	case Linear, Exponential, "":
	default:
		return fmt.Errorf("retry: unknown strategy %q", p.Strategy)
	}
	if p.Multiplier < 0 {
		return errors.New("retry: Multiplier cannot be negative")
	}
	return nil
}

// Exhausted reports whether attempts consecutive failures complete a cycle
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Delay returns the backoff after the given failed attempt (1-based), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch p.Strategy {
	case Exponential:
		mult := p.Multiplier
		if mult <= 0 {
			mult = 2.0
		}
		// Prevent overflow with extremely large multipliers
		if mult > 1000 {
			mult = 1000
		}
		next := float64(p.InitialDelay)
		for i := 1; i < attempt; i++ {
			next *= mult
			if p.MaxDelay > 0 && next > float64(p.MaxDelay) {
				break
			}
			if next > float64(time.Duration(1<<63-1)) {
				next = float64(time.Duration(1<<63 - 1))
				break
			}
		}
		delay = time.Duration(next)
	default:
		delay = p.InitialDelay * time.Duration(attempt)
		if attempt != 0 && delay/time.Duration(attempt) != p.InitialDelay {
			delay = time.Duration(1<<63 - 1)
		}
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.AddJitter && delay >= 4 {
		// Add up to 25% jitter using thread-safe random
		randMu.Lock()
		jitter := time.Duration(randSource.Int63n(int64(delay / 4)))
		randMu.Unlock()
		delay += jitter
	}
	return delay
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep blocks for d with context cancellation support
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
