// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package reconnect

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Backoff computes exponentially growing delays between attempts.
// The zero value uses the defaults of DefaultBackoff.
type Backoff struct {
	// Min is the first delay.
	Min time.Duration

	// Max caps the delay.
	Max time.Duration

	// Factor multiplies the delay after every attempt.
	Factor float64

	// Jitter shortens every delay by up to 25% at random, so the delay never
	// exceeds Max.
	Jitter bool

	mu      sync.Mutex
	attempt int
}

// DefaultBackoff returns the backoff used when none is configured.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}
}

func (b *Backoff) params() (min, max time.Duration, factor float64) {
	min, max, factor = b.Min, b.Max, b.Factor
	if min <= 0 {
		min = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	if max < min {
		max = min
	}
	if factor < 1 {
		factor = 2
	}
	return min, max, factor
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	attempt := b.attempt
	b.attempt++
	b.mu.Unlock()

	min, max, factor := b.params()
	d := float64(min) * math.Pow(factor, float64(attempt))
	if d > float64(max) || math.IsInf(d, 0) {
		d = float64(max)
	}
	delay := time.Duration(d)
	if b.Jitter && delay >= 4 {
		randMu.Lock()
		delay -= time.Duration(randSource.Int63n(int64(delay / 4)))
		randMu.Unlock()
	}
	return delay
}

// Reset starts the sequence over.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
