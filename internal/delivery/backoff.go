package delivery

import (
	"math"
	rand "math/rand/v2"
	"time"
)

// BackoffConfig sets the wait between attempts at the same fragment.
type BackoffConfig struct {
	InitialDelay time.Duration
	// Multiplier grows the wait per failed attempt; values below 1 hold it fixed.
	Multiplier float64
	// MaxDelay caps growth. Zero leaves it uncapped.
	MaxDelay time.Duration
	// Jitter scales each wait by a factor in [0.5, 1.5).
	Jitter bool
}

// FixedBackoff waits the same interval before every retry.
func FixedBackoff(d time.Duration) BackoffConfig {
	return BackoffConfig{InitialDelay: d, Multiplier: 1}
}

// Delay is the wait after failed attempt n (1-based). A nil rng uses the
// midpoint factor when Jitter is set.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	wait := float64(b.InitialDelay)
	if n > 1 && b.Multiplier > 1 {
		wait *= math.Pow(b.Multiplier, float64(n-1))
	}
	if b.MaxDelay > 0 {
		wait = math.Min(wait, float64(b.MaxDelay))
	}
	if b.Jitter {
		factor := 1.0
		if rng != nil {
			factor = 0.5 + rng.Float64()
		}
		wait *= factor
	}
	return time.Duration(wait)
}
