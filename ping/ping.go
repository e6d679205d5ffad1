// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ping implements XEP-0199: XMPP Ping.
package ping // import "mellium.im/xmppcore/ping"

import (
	"context"
	"encoding/xml"
	"errors"

	"mellium.im/xmppcore"
	"mellium.im/xmppcore/jid"
	"mellium.im/xmppcore/mux"
	"mellium.im/xmppcore/stanza"
)

// NS is the XML namespace used by XMPP pings. It is provided as a convenience.
const NS = `urn:xmpp:ping`

// Name is the name of the ping payload.
var Name = xml.Name{Space: NS, Local: "ping"}

// IQ returns a ping request addressed to to.
func IQ(reg *stanza.Registry, to jid.JID) stanza.IQ {
	iq := reg.NewIQ(stanza.GetIQ)
	if !to.IsZero() {
		iq.SetTo(to)
	}
	iq.SetPayload(stanza.NewElement(NS, "ping"))
	return iq
}

// Handle returns an option that answers pings on an IQMux.
func Handle() mux.IQOption {
	return mux.GetIQFunc(Name, func(ctx context.Context, w mux.Sender, iq stanza.IQ, _ *stanza.Element) error {
		return w.Send(ctx, iq.Reply().Stanza)
	})
}

// Send pings to and blocks until a reply is received.
// An empty JID pings the server.
//
// Entities that don't implement ping reply with service-unavailable or
// feature-not-implemented. Those replies still show that the entity is
// reachable and are not returned as errors.
func Send(ctx context.Context, s *xmpp.Session, to jid.JID) error {
	_, err := s.SendIQ(ctx, IQ(s.Registry(), to))
	var iqErr *xmpp.IQError
	if errors.As(err, &iqErr) {
		switch iqErr.Err.Condition {
		case stanza.ServiceUnavailable, stanza.FeatureNotImplemented:
			return nil
		}
	}
	return err
}
