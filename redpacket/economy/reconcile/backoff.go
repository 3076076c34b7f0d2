package reconcile

import (
	rand "math/rand/v2"
	"time"
)

// retryDelay returns the wait before attempt number attempts+1. The ceiling
// doubles per attempt from base up to capDur and the result is drawn from
// [ceiling/2, ceiling] so retries for records that failed together spread out.
func retryDelay(attempts int, base, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if capDur < base {
		capDur = base
	}

	ceiling := base
	for i := 0; i < attempts && ceiling < capDur; i++ {
		ceiling *= 2
	}
	if ceiling > capDur {
		ceiling = capDur
	}

	half := int64(ceiling / 2)
	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(half + 1)
	} else {
		jitter = rand.Int64N(half + 1) //nolint:gosec // non-crypto backoff jitter
	}
	return time.Duration(half + jitter)
}

// newRetryRNG returns a deterministic RNG only when a non-zero seed is provided.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}
