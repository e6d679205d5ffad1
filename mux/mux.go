// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package mux implements an XMPP stanza dispatcher.
//
// A Dispatcher holds an ordered list of handlers, each paired with a matcher.
// Every inbound stanza is offered to the handlers in registration order and
// every handler whose matcher accepts it is run.
// Handlers come in several flavors: persistent and one-shot callbacks,
// coroutines that run on their own goroutine, waiters that deliver a single
// stanza to a blocked caller, and collectors that buffer matches until
// stopped.
package mux // import "mellium.im/xmppcore/mux"

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"mellium.im/xmppcore/matcher"
	"mellium.im/xmppcore/stanza"
)

// Errors returned by waiters.
var (
	ErrTimeout   = errors.New("mux: timed out waiting for stanza")
	ErrCancelled = errors.New("mux: waiter cancelled")
)

// Sender is used by handlers to write replies to the stream the stanza arrived
// on.
type Sender interface {
	Send(ctx context.Context, s *stanza.Stanza) error
}

// Handler responds to a stanza.
// Errors returned by handlers are passed to the dispatcher's error handler.
type Handler interface {
	HandleStanza(ctx context.Context, w Sender, s *stanza.Stanza) error
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions as
// handlers. If f is a function with the appropriate signature, HandlerFunc(f)
// is a Handler that calls f.
type HandlerFunc func(ctx context.Context, w Sender, s *stanza.Stanza) error

// HandleStanza calls f(ctx, w, s).
func (f HandlerFunc) HandleStanza(ctx context.Context, w Sender, s *stanza.Stanza) error {
	return f(ctx, w, s)
}

type kind uint8

const (
	callback kind = iota
	once
	coroutine
)

type entry struct {
	name    string
	m       matcher.Matcher
	h       Handler
	kind    kind
	removed atomic.Bool
}

// Dispatcher routes stanzas to handlers.
// It is safe to register and remove handlers from any goroutine, including
// from inside a handler.
type Dispatcher struct {
	mu      sync.Mutex
	entries []*entry
	async   sync.WaitGroup

	sender    Sender
	unhandled func(ctx context.Context, w Sender, s *stanza.Stanza)
	onError   func(ctx context.Context, w Sender, s *stanza.Stanza, err error)
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSender sets the Sender passed to handlers.
func WithSender(w Sender) Option {
	return func(d *Dispatcher) {
		d.sender = w
	}
}

// WithUnhandled sets the function called for stanzas that no handler matched.
// The default is FeatureNotImplemented.
func WithUnhandled(f func(ctx context.Context, w Sender, s *stanza.Stanza)) Option {
	return func(d *Dispatcher) {
		d.unhandled = f
	}
}

// WithErrorHandler sets the function called when a handler returns an error or
// panics.
// The default logs the error and, if the stanza was an IQ request, replies with
// the error (see ReplyError).
func WithErrorHandler(f func(ctx context.Context, w Sender, s *stanza.Stanza, err error)) Option {
	return func(d *Dispatcher) {
		d.onError = f
	}
}

// WithLogger sets the logger used to report handler errors.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New allocates and returns a new Dispatcher.
func New(opt ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:    slog.New(slog.DiscardHandler),
		unhandled: FeatureNotImplemented,
		sender:    discardSender{},
	}
	d.onError = d.defaultOnError
	for _, o := range opt {
		o(d)
	}
	return d
}

type discardSender struct{}

func (discardSender) Send(context.Context, *stanza.Stanza) error { return nil }

func (d *Dispatcher) add(name string, m matcher.Matcher, h Handler, k kind) *entry {
	if m == nil {
		panic("mux: nil matcher")
	}
	if h == nil {
		panic("mux: nil handler")
	}
	e := &entry{name: name, m: m, h: h, kind: k}
	d.mu.Lock()
	d.entries = append(d.entries, e)
	d.mu.Unlock()
	return e
}

// Handle registers a persistent callback that runs for every stanza matched by
// m until it is removed.
func (d *Dispatcher) Handle(name string, m matcher.Matcher, h Handler) {
	d.add(name, m, h, callback)
}

// HandleFunc is like Handle but takes a function.
func (d *Dispatcher) HandleFunc(name string, m matcher.Matcher, f HandlerFunc) {
	d.Handle(name, m, f)
}

// HandleOnce registers a callback that is removed after it runs the first time.
func (d *Dispatcher) HandleOnce(name string, m matcher.Matcher, h Handler) {
	d.add(name, m, h, once)
}

// HandleAsync registers a persistent coroutine callback.
// The handler is started on its own goroutine in registration order and the
// dispatcher does not wait for it before processing the next handler or
// stanza.
func (d *Dispatcher) HandleAsync(name string, m matcher.Matcher, h Handler) {
	d.add(name, m, h, coroutine)
}

// Remove removes all handlers registered under name and reports whether any
// were found.
func (d *Dispatcher) Remove(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	found := false
	out := d.entries[:0]
	for _, e := range d.entries {
		if e.name == name {
			e.removed.Store(true)
			found = true
			continue
		}
		out = append(out, e)
	}
	for i := len(out); i < len(d.entries); i++ {
		d.entries[i] = nil
	}
	d.entries = out
	return found
}

func (d *Dispatcher) removeEntry(target *entry) {
	target.removed.Store(true)
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.entries {
		if e == target {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Has reports whether a handler is registered under name.
func (d *Dispatcher) Has(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.name == name {
			return true
		}
	}
	return false
}

// Dispatch offers s to every registered handler in registration order and
// reports whether any of them matched.
// If none matched, the unhandled hook is called.
func (d *Dispatcher) Dispatch(ctx context.Context, s *stanza.Stanza) bool {
	d.mu.Lock()
	list := make([]*entry, len(d.entries))
	copy(list, d.entries)
	d.mu.Unlock()

	matched := false
	for _, e := range list {
		if e.removed.Load() || !e.m.Match(s) {
			continue
		}
		if e.kind == once {
			if !e.removed.CompareAndSwap(false, true) {
				continue
			}
			d.removeEntry(e)
		}
		matched = true
		if e.kind == coroutine {
			d.async.Add(1)
			go func(e *entry) {
				defer d.async.Done()
				d.run(ctx, e, s)
			}(e)
			continue
		}
		d.run(ctx, e, s)
	}
	if !matched && d.unhandled != nil {
		d.unhandled(ctx, d.sender, s)
	}
	return matched
}

// Drain blocks until all running coroutine handlers have returned.
func (d *Dispatcher) Drain() {
	d.async.Wait()
}

func (d *Dispatcher) run(ctx context.Context, e *entry, s *stanza.Stanza) {
	err := safeHandle(ctx, e.h, d.sender, s)
	if err != nil && d.onError != nil {
		d.onError(ctx, d.sender, s, fmt.Errorf("mux: handler %q: %w", e.name, err))
	}
}

func safeHandle(ctx context.Context, h Handler, w Sender, s *stanza.Stanza) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.HandleStanza(ctx, w, s)
}

func (d *Dispatcher) defaultOnError(ctx context.Context, w Sender, s *stanza.Stanza, err error) {
	d.logger.Info("handler error",
		slog.String("stanza", s.Name().Local),
		slog.String("id", s.ID()),
		slog.Any("err", err),
	)
	if rerr := ReplyError(ctx, w, s, err); rerr != nil {
		d.logger.Info("error sending error reply", slog.Any("err", rerr))
	}
}

// ReplyError answers an IQ request with err.
// If err wraps a stanza.Error it is sent as is, otherwise the reply carries an
// internal-server-error condition.
// Stanzas that are not IQ requests are ignored.
func ReplyError(ctx context.Context, w Sender, s *stanza.Stanza, err error) error {
	iq, ok := stanza.AsIQ(s)
	if !ok || !iq.IsRequest() {
		return nil
	}
	var se stanza.Error
	if !errors.As(err, &se) {
		se = stanza.NewError(stanza.InternalServerError, "")
	}
	if se.Type == "" {
		se.Type = se.Condition.DefaultType()
	}
	return w.Send(ctx, iq.ErrorReply(se).Stanza)
}

// FeatureNotImplemented is the default hook for unhandled stanzas.
// It replies to IQ requests with a feature-not-implemented error and ignores
// everything else.
func FeatureNotImplemented(ctx context.Context, w Sender, s *stanza.Stanza) {
	_ = ReplyError(ctx, w, s, stanza.NewError(stanza.FeatureNotImplemented, ""))
}
