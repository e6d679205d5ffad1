// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"errors"
	"time"

	"mellium.im/xmppcore/matcher"
	"mellium.im/xmppcore/mux"
	"mellium.im/xmppcore/stanza"
)

// IQResult is the outcome of an IQ request.
// Err is nil, ErrTimeout, ErrNotConnected, ErrCancelled or an *IQError (in
// which case IQ holds the error reply).
type IQResult struct {
	IQ  stanza.IQ
	Err error
}

// SendIQ sends an IQ and blocks until a response is received.
// If ctx has no deadline the session's IQ timeout applies.
//
// The reply is matched by id and by sender: replies to requests sent to the
// account itself may come from the bare JID, the domain or carry no from
// attribute at all.
// If the reply is an error IQ it is returned along with an *IQError.
// If the IQ type does not require a response (a result or error IQ) SendIQ
// does not block and the returned IQ is empty.
//
// Exactly one of a reply, ErrTimeout or ErrNotConnected completes each request.
// SendIQ is safe for concurrent use by multiple goroutines.
func (s *Session) SendIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.iqTimeout)
		defer cancel()
	}
	return s.sendIQ(ctx, iq)
}

// SendIQAsync is like SendIQ except that it returns immediately.
// The result is delivered on the returned channel, which receives exactly one
// value. A timeout of zero uses the session's IQ timeout.
func (s *Session) SendIQAsync(iq stanza.IQ, timeout time.Duration) <-chan IQResult {
	if timeout <= 0 {
		timeout = s.iqTimeout
	}
	ch := make(chan IQResult, 1)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	w, err := s.registerIQ(ctx, iq)
	if err != nil {
		cancel()
		ch <- IQResult{Err: err}
		return ch
	}
	go func() {
		defer cancel()
		reply, err := w()
		ch <- IQResult{IQ: reply, Err: err}
	}()
	return ch
}

func (s *Session) sendIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error) {
	w, err := s.registerIQ(ctx, iq)
	if err != nil {
		return stanza.IQ{}, err
	}
	return w()
}

var isIQ = matcher.Func(func(st *stanza.Stanza) bool {
	_, ok := stanza.AsIQ(st)
	return ok
})

// registerIQ registers the reply handler, sends the request and returns a
// function that waits for the reply.
func (s *Session) registerIQ(ctx context.Context, iq stanza.IQ) (func() (stanza.IQ, error), error) {
	c := s.current()
	if c == nil || s.State() != SessionStarted {
		return nil, ErrNotConnected
	}
	if !iq.IsRequest() {
		if err := s.Send(ctx, iq.Stanza); err != nil {
			return nil, err
		}
		return func() (stanza.IQ, error) { return stanza.IQ{}, nil }, nil
	}
	if iq.ID() == "" {
		iq.SetID(s.newID())
	}

	waiter := s.mux.Wait("iq "+iq.ID(), matcher.All(isIQ, matcher.IDSender(iq.ID(), s.LocalAddr(), iq.To())))
	if err := s.Send(ctx, iq.Stanza); err != nil {
		waiter.Stop()
		return nil, err
	}
	return func() (stanza.IQ, error) {
		// a lost connection completes the request with ErrNotConnected
		waitCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		st, err := waiter.Wait(waitCtx)
		if err != nil {
			if c.ctx.Err() != nil && (errors.Is(err, mux.ErrCancelled) || errors.Is(err, context.Canceled)) {
				return stanza.IQ{}, ErrNotConnected
			}
			return stanza.IQ{}, err
		}
		reply, _ := stanza.AsIQ(st)
		if reply.Type() == stanza.ErrorIQ {
			se, _ := st.Err()
			return reply, &IQError{IQ: reply, Err: se}
		}
		return reply, nil
	}, nil
}
