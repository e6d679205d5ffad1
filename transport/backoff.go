// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff defaults.
const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = time.Hour
	DefaultJitter       = 0.1
)

const phi = 1.618033988749895

// Backoff computes reconnection delays.
// Each call to Next returns the current delay with multiplicative jitter and
// grows the delay by the golden ratio up to Max.
//
// The zero value is ready to use with the package defaults.
type Backoff struct {
	// Initial is the first delay and the value Reset returns to.
	Initial time.Duration

	// Max caps the delay before jitter is applied.
	Max time.Duration

	// Jitter is the fraction by which each delay may randomly vary in either
	// direction.
	Jitter float64

	mu    sync.Mutex
	delay time.Duration
	rand  func() float64
}

func (b *Backoff) initial() time.Duration {
	if b.Initial > 0 {
		return b.Initial
	}
	return DefaultInitialDelay
}

func (b *Backoff) max() time.Duration {
	if b.Max > 0 {
		return b.Max
	}
	return DefaultMaxDelay
}

func (b *Backoff) jitter() float64 {
	if b.Jitter > 0 {
		return b.Jitter
	}
	return DefaultJitter
}

// Current returns the delay the next call to Next is based on, without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delay == 0 {
		return b.initial()
	}
	return b.delay
}

// Next returns the delay to wait before the next attempt and advances the
// backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delay == 0 {
		b.delay = b.initial()
	}
	d := b.delay

	next := time.Duration(float64(b.delay) * phi)
	if m := b.max(); next > m || next <= 0 {
		next = m
	}
	b.delay = next

	r := rand.Float64
	if b.rand != nil {
		r = b.rand
	}
	j := b.jitter()
	return time.Duration(float64(d) * (1 - j + 2*j*r()))
}

// Reset returns the backoff to its initial delay, for example after a
// successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = b.initial()
}
