// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"context"

	"mellium.im/xmppcore/stanza"
)

// IQHandler responds to IQ stanzas.
// The payload is the first child that is not an error element and may be nil.
type IQHandler interface {
	HandleIQ(ctx context.Context, w Sender, iq stanza.IQ, payload *stanza.Element) error
}

// The IQHandlerFunc type is an adapter to allow the use of ordinary functions
// as IQ handlers.
// If f is a function with the appropriate signature, IQHandlerFunc(f) is an
// IQHandler that calls f.
type IQHandlerFunc func(ctx context.Context, w Sender, iq stanza.IQ, payload *stanza.Element) error

// HandleIQ calls f(ctx, w, iq, payload).
func (f IQHandlerFunc) HandleIQ(ctx context.Context, w Sender, iq stanza.IQ, payload *stanza.Element) error {
	return f(ctx, w, iq, payload)
}

// The MessageHandlerFunc type is an adapter to allow the use of ordinary
// functions as handlers for message stanzas.
// Stanzas that are not messages are ignored.
type MessageHandlerFunc func(ctx context.Context, w Sender, msg stanza.Message) error

// HandleStanza calls f if s is a message.
func (f MessageHandlerFunc) HandleStanza(ctx context.Context, w Sender, s *stanza.Stanza) error {
	msg, ok := stanza.AsMessage(s)
	if !ok {
		return nil
	}
	return f(ctx, w, msg)
}

// The PresenceHandlerFunc type is an adapter to allow the use of ordinary
// functions as handlers for presence stanzas.
// Stanzas that are not presences are ignored.
type PresenceHandlerFunc func(ctx context.Context, w Sender, p stanza.Presence) error

// HandleStanza calls f if s is a presence.
func (f PresenceHandlerFunc) HandleStanza(ctx context.Context, w Sender, s *stanza.Stanza) error {
	p, ok := stanza.AsPresence(s)
	if !ok {
		return nil
	}
	return f(ctx, w, p)
}
