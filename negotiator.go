// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"

	"mellium.im/xmppcore/internal/ns"
	intstream "mellium.im/xmppcore/internal/stream"
	"mellium.im/xmppcore/matcher"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
	"mellium.im/xmppcore/transport"
)

// Negotiator establishes a session over a freshly connected transport.
// It is called once per connection and must return nil only when the session
// is ready for stanza traffic.
//
// NegotiateFeatures is used for client sessions. Other negotiators, such as the
// one for the component protocol, can be set with WithNegotiator.
type Negotiator func(ctx context.Context, n *Negotiation) error

// Negotiation gives a Negotiator exclusive access to the stream until it
// returns.
// Stanzas that arrive while negotiating and that are not consumed by the
// negotiator are dispatched once the session starts.
type Negotiation struct {
	s          *Session
	c          *connection
	negotiated map[xml.Name]bool
}

// Session returns the session being negotiated.
func (n *Negotiation) Session() *Session {
	return n.s
}

// Transport returns the transport being negotiated.
func (n *Negotiation) Transport() *transport.Transport {
	return n.c.tr
}

// StreamInfo returns the header most recently received from the server.
func (n *Negotiation) StreamInfo() stream.Info {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	return n.c.info
}

// SetState moves the session to the given state.
func (n *Negotiation) SetState(st State) {
	n.s.setState(st)
}

// Negotiated reports whether the stream feature with the given name has been
// negotiated on this connection.
func (n *Negotiation) Negotiated(name xml.Name) bool {
	return n.negotiated[name]
}

func (n *Negotiation) header() intstream.Header {
	s := n.s
	if s.streamNS == ns.Component {
		return intstream.ComponentHeader(s.origin.Domain().String())
	}
	return intstream.ClientHeader(s.origin.Domainpart(), s.lang)
}

// OpenStream sends a stream header and waits for the server's header.
func (n *Negotiation) OpenStream(ctx context.Context) error {
	if err := intstream.Send(streamWriter{ctx: ctx, tr: n.c.tr}, n.header()); err != nil {
		return err
	}
	ev, err := n.c.parser.Next()
	if err != nil {
		return n.readErr(err)
	}
	if ev.Type != intstream.Open {
		return n.s.sendStreamError(n.c, stream.BadFormat, fmt.Errorf("expected stream header, got %s", ev.Type))
	}
	n.s.mu.Lock()
	n.c.info = ev.Info
	n.s.mu.Unlock()
	n.s.logger.Debug("stream opened", "id", ev.Info.ID, "from", ev.Info.From.String())
	n.s.emit(Event{Name: EventStreamStart})
	return nil
}

// Restart begins a new stream on the same transport, for example after SASL.
func (n *Negotiation) Restart(ctx context.Context) error {
	n.c.parser.Restart()
	return n.OpenStream(ctx)
}

// Upgrade adds a layer such as TLS or compression to the transport.
// The parser is reset so the next read goes through the new layer, a new
// stream must be opened with OpenStream afterwards.
func (n *Negotiation) Upgrade(ctx context.Context, u transport.Upgrader) error {
	if err := n.c.tr.Upgrade(ctx, u); err != nil {
		return err
	}
	n.c.parser.Reset(n.c.tr)
	return nil
}

// Next blocks until the next direct child of the stream arrives.
// A stream error from the server is returned as a *ProtocolError.
func (n *Negotiation) Next(ctx context.Context) (*stanza.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ev, err := n.c.parser.Next()
	if err != nil {
		return nil, n.readErr(err)
	}
	switch ev.Type {
	case intstream.Close:
		return nil, errStreamClosed
	case intstream.Open:
		return nil, n.s.sendStreamError(n.c, stream.BadFormat, errors.New("unexpected stream header"))
	}
	e := ev.Element
	if e.Name.Space == stream.NS && e.Name.Local == "error" {
		se := stream.FromElement(e)
		n.s.emit(Event{Name: EventStreamError, Err: se})
		return nil, &ProtocolError{Err: se, Remote: true}
	}
	return e, nil
}

func (n *Negotiation) readErr(err error) error {
	var perr *intstream.ParseError
	if errors.As(err, &perr) {
		return n.s.sendStreamError(n.c, perr.Err, perr.Cause)
	}
	return err
}

// StreamError sends se followed by the stream footer and returns the
// resulting *ProtocolError, which should be returned by the negotiator.
func (n *Negotiation) StreamError(se stream.Error, cause error) error {
	return n.s.sendStreamError(n.c, se, cause)
}

// Defer queues a stanza received during negotiation for dispatch once the
// session starts.
func (n *Negotiation) Defer(e *stanza.Element) {
	n.c.pending = append(n.c.pending, e)
}

// Send writes e to the stream.
// Elements in the stream's content namespace are written without an xmlns
// attribute.
func (n *Negotiation) Send(ctx context.Context, e *stanza.Element) error {
	out := stanza.StreamSerializer(n.s.reg.Namespace()).String(e)
	return n.c.tr.SendString(ctx, out)
}

// SendIQ sends an IQ request and waits for the reply.
// Stanzas that arrive before the reply are deferred.
// An error reply is returned along with an *IQError.
func (n *Negotiation) SendIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error) {
	if iq.ID() == "" {
		iq.SetID(n.s.newID())
	}
	m := matcher.IDSender(iq.ID(), n.s.LocalAddr(), iq.To())
	if err := n.Send(ctx, iq.Element()); err != nil {
		return stanza.IQ{}, err
	}
	for {
		e, err := n.Next(ctx)
		if err != nil {
			return stanza.IQ{}, err
		}
		if !stanza.Is(e.Name) {
			return stanza.IQ{}, n.s.sendStreamError(n.c, stream.UnsupportedStanzaType, fmt.Errorf("unexpected %s while waiting for iq", e.Name.Local))
		}
		st := n.s.reg.Wrap(e)
		reply, ok := stanza.AsIQ(st)
		if !ok || !m.Match(st) {
			n.Defer(e)
			continue
		}
		if reply.Type() == stanza.ErrorIQ {
			se, _ := st.Err()
			return reply, &IQError{IQ: reply, Err: se}
		}
		return reply, nil
	}
}

type streamWriter struct {
	ctx context.Context
	tr  *transport.Transport
}

func (w streamWriter) Write(p []byte) (int, error) {
	b := make([]byte, len(p))
	copy(b, p)
	if err := w.tr.Send(w.ctx, b); err != nil {
		return 0, err
	}
	return len(p), nil
}
