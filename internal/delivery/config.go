package delivery

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidDelay       = errors.New("delivery: invalid inter-fragment delay")
	ErrInvalidBackoff     = errors.New("delivery: invalid retry backoff")
	ErrInvalidMaxAttempts = errors.New("delivery: invalid max attempts")
	ErrRetriesExhausted   = errors.New("delivery: retries exhausted")
	ErrTargetRequired     = errors.New("delivery: target url required")
)

// Config defines pacing and retry policy for one Loop.
type Config struct {
	// MinDelay and MaxDelay bound the pause after each delivered fragment.
	MinDelay time.Duration
	MaxDelay time.Duration
	Backoff  BackoffConfig
	// MaxAttempts of 0 retries a fragment forever.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		MinDelay: 500 * time.Millisecond,
		MaxDelay: 2 * time.Second,
		Backoff:  FixedBackoff(500 * time.Millisecond),
	}
}

func (c Config) Validate() error {
	if c.MinDelay < 0 {
		return fmt.Errorf("%w: min_delay=%s", ErrInvalidDelay, c.MinDelay)
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("%w: max_delay=%s < min_delay=%s", ErrInvalidDelay, c.MaxDelay, c.MinDelay)
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidBackoff)
	}
	if c.Backoff.Multiplier < 0 {
		return fmt.Errorf("%w: multiplier=%g", ErrInvalidBackoff, c.Backoff.Multiplier)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxAttempts, c.MaxAttempts)
	}
	return nil
}
