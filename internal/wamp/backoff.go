package wamp

import (
	"math/rand"
	"time"
)

// BackoffConfig shapes the pause between failed connection attempts.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	// Jitter spreads each delay uniformly over [d/2, 3d/2).
	Jitter bool `toml:"jitter"`
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// Delay returns the pause after the given failed attempt (1-based). The first
// retry always waits exactly InitialDelay.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || b.InitialDelay <= 0 {
		return max(b.InitialDelay, 0)
	}
	growth := max(b.Multiplier, 1.0)

	d := float64(b.InitialDelay)
	capped := false
	for i := 1; i < attempt && !capped; i++ {
		d *= growth
		if b.MaxDelay > 0 && d >= float64(b.MaxDelay) {
			d = float64(b.MaxDelay)
			capped = true
		}
	}
	if !b.Jitter {
		return time.Duration(d)
	}
	spread := 0.5
	if rng != nil {
		spread = rng.Float64()
	}
	return time.Duration(d * (0.5 + spread))
}
