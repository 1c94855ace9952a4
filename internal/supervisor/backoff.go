package supervisor

import "time"

const (
	backoffBase   = 5 * time.Second
	backoffCap    = 60 * time.Second
	stableOnline  = 60 * time.Second
	defaultGiveUp = 8
)

// backoff tracks consecutive segmenter failures. The first restart waits 5s,
// subsequent failures double the delay up to the cap. The counter resets once
// the camera has been stably online for a minute.
type backoff struct {
	failures int
	giveUp   int
	base     time.Duration
	max      time.Duration
}

func newBackoff(giveUp int) *backoff {
	if giveUp <= 0 {
		giveUp = defaultGiveUp
	}
	return &backoff{giveUp: giveUp, base: backoffBase, max: backoffCap}
}

// next registers a failure and returns the delay before the retry,
// or false when the retry budget is exhausted.
func (b *backoff) next() (time.Duration, bool) {
	b.failures++
	if b.failures > b.giveUp {
		return 0, false
	}
	d := b.base << (b.failures - 1)
	if d > b.max {
		d = b.max
	}
	return d, true
}

// observeStable resets the counter if the camera has been online long enough.
func (b *backoff) observeStable(onlineSince time.Time, now time.Time) {
	if !onlineSince.IsZero() && now.Sub(onlineSince) >= stableOnline {
		b.failures = 0
	}
}

func (b *backoff) reset() { b.failures = 0 }
