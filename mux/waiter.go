// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"context"
	"errors"
	"sync"
	"time"

	"mellium.im/xmppcore/matcher"
	"mellium.im/xmppcore/stanza"
)

type waitResult struct {
	s   *stanza.Stanza
	err error
}

// Waiter delivers the first stanza matched by its matcher to a single caller.
type Waiter struct {
	d  *Dispatcher
	e  *entry
	ch chan waitResult
}

// Wait registers a one-shot waiter.
// The caller must call Wait (or WaitTimeout) on the result to receive the
// stanza.
func (d *Dispatcher) Wait(name string, m matcher.Matcher) *Waiter {
	w := &Waiter{d: d, ch: make(chan waitResult, 1)}
	w.e = d.add(name, m, w, once)
	return w
}

// HandleStanza satisfies the Handler interface.
func (w *Waiter) HandleStanza(_ context.Context, _ Sender, s *stanza.Stanza) error {
	select {
	case w.ch <- waitResult{s: s}:
	default:
	}
	return nil
}

func (w *Waiter) cancel() {
	w.d.removeEntry(w.e)
	select {
	case w.ch <- waitResult{err: ErrCancelled}:
	default:
	}
}

// Wait blocks until a stanza is matched, the waiter is cancelled or ctx is
// done. If the context deadline passes the waiter is removed and ErrTimeout is
// returned.
func (w *Waiter) Wait(ctx context.Context) (*stanza.Stanza, error) {
	select {
	case r := <-w.ch:
		return r.s, r.err
	case <-ctx.Done():
		w.d.removeEntry(w.e)
		// a stanza may have arrived while the entry was being removed
		select {
		case r := <-w.ch:
			return r.s, r.err
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Stop removes the waiter without completing it.
func (w *Waiter) Stop() {
	w.d.removeEntry(w.e)
}

// WaitTimeout is like Wait with a deadline of timeout from now.
func (w *Waiter) WaitTimeout(timeout time.Duration) (*stanza.Stanza, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.Wait(ctx)
}

// CancelWaiters removes every waiter and completes it with ErrCancelled.
func (d *Dispatcher) CancelWaiters() {
	d.mu.Lock()
	var waiters []*Waiter
	for _, e := range d.entries {
		if w, ok := e.h.(*Waiter); ok {
			waiters = append(waiters, w)
		}
	}
	d.mu.Unlock()
	for _, w := range waiters {
		w.cancel()
	}
}

// Collector buffers every stanza matched by its matcher until it is stopped.
type Collector struct {
	d       *Dispatcher
	e       *entry
	mu      sync.Mutex
	buf     []*stanza.Stanza
	stopped bool
}

// Collect registers a collector.
func (d *Dispatcher) Collect(name string, m matcher.Matcher) *Collector {
	c := &Collector{d: d}
	c.e = d.add(name, m, c, callback)
	return c
}

// HandleStanza satisfies the Handler interface.
func (c *Collector) HandleStanza(_ context.Context, _ Sender, s *stanza.Stanza) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.buf = append(c.buf, s)
	}
	return nil
}

// Stop removes the collector and returns the stanzas collected in the order
// they were received.
func (c *Collector) Stop() []*stanza.Stanza {
	c.d.removeEntry(c.e)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	buf := c.buf
	c.buf = nil
	return buf
}
