package refresher

import (
	"math/rand/v2"
	"time"
)

// jitteredBackoff mirrors the exponential-with-jitter policy Pollux's
// upstream retry path uses: a 100ms floor doubling per attempt, capped
// at 300ms, with up to 20% jitter so concurrent retries don't align.
func jitteredBackoff(attempt int) time.Duration {
	const (
		min = 100 * time.Millisecond
		max = 300 * time.Millisecond
	)
	d := min << attempt
	if d > max || d < 0 {
		d = max
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 5))
	return d + jitter
}
