// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"errors"

	"mellium.im/xmppcore/matcher"
	"mellium.im/xmppcore/stanza"
)

// SendMessage is like Send except that it blocks until an error response is
// received or ctx is done.
// Messages are generally fire-and-forget meaning that the success behavior of
// SendMessage is to time out, and that Send should normally be used instead.
// It is thus mainly for use by extensions that need to track error responses
// without handling every message sent through the session.
//
// If ctx has no deadline the session's IQ timeout applies.
// If ctx is done before an error arrives SendMessage returns nil.
// An error reply is returned as a stanza.Error.
//
// SendMessage is safe for concurrent use by multiple goroutines.
func (s *Session) SendMessage(ctx context.Context, msg stanza.Message) error {
	if msg.Type() == stanza.ErrorMessage {
		return s.Send(ctx, msg.Stanza)
	}
	return s.sendAwaitError(ctx, msg.Stanza, "message")
}

// sendAwaitError sends st and waits for an error stanza of the same kind with
// a matching id.
func (s *Session) sendAwaitError(ctx context.Context, st *stanza.Stanza, kind string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.iqTimeout)
		defer cancel()
	}
	if st.ID() == "" {
		st.SetID(s.newID())
	}
	isErr := matcher.Func(func(reply *stanza.Stanza) bool {
		return reply.Name().Local == kind && reply.Element().AttrValue("type") == "error"
	})
	waiter := s.mux.Wait(kind+" "+st.ID(), matcher.All(isErr, matcher.IDSender(st.ID(), s.LocalAddr(), st.To())))
	if err := s.Send(ctx, st); err != nil {
		waiter.Stop()
		return err
	}
	reply, err := waiter.Wait(ctx)
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return nil
	case err != nil:
		return err
	}
	se, _ := reply.Err()
	return se
}
