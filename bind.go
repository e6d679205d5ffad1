// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/jid"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
)

// BindResource is a stream feature that can be used for binding a resource.
// The resourcepart of the session's address is requested, if there is none the
// server assigns one.
// On success the session adopts the full JID returned by the server and emits
// session_bind.
func BindResource() StreamFeature {
	return StreamFeature{
		Name:  xml.Name{Space: ns.Bind, Local: "bind"},
		Order: OrderBind,
		Negotiate: func(ctx context.Context, n *Negotiation, _ *stanza.Element) (bool, error) {
			s := n.Session()
			n.SetState(BindingResource)

			iq := s.reg.NewIQ(stanza.SetIQ)
			bind := stanza.NewElement(ns.Bind, "bind")
			if res := s.origin.Resourcepart(); res != "" {
				bind.AppendChild(stanza.NewElement(ns.Bind, "resource")).Text = res
			}
			iq.SetPayload(bind)

			reply, err := n.SendIQ(ctx, iq)
			if err != nil {
				return false, err
			}
			var addr string
			if p := reply.Payload(); p != nil {
				if j := p.Child(xml.Name{Space: ns.Bind, Local: "jid"}); j != nil {
					addr = strings.TrimSpace(j.Text)
				}
			}
			bound, err := jid.Parse(addr)
			if err != nil {
				return false, s.sendStreamError(n.c, stream.UndefinedCondition, fmt.Errorf("invalid bound jid %q: %w", addr, err))
			}

			s.mu.Lock()
			s.bound = bound
			s.mu.Unlock()
			n.SetState(Bound)
			s.logger.Info("resource bound", "jid", bound.String())
			s.emit(Event{Name: EventSessionBind, JID: bound})
			return true, nil
		},
	}
}

// StartSession is a stream feature that establishes a session as described by
// RFC 3921. Servers that mark the feature <optional/> are not sent the request.
func StartSession() StreamFeature {
	return StreamFeature{
		Name:  xml.Name{Space: ns.Session, Local: "session"},
		Order: OrderSession,
		Negotiate: func(ctx context.Context, n *Negotiation, feature *stanza.Element) (bool, error) {
			if feature.Child(xml.Name{Local: "optional"}) != nil {
				return false, nil
			}
			iq := n.Session().reg.NewIQ(stanza.SetIQ)
			iq.SetPayload(stanza.NewElement(ns.Session, "session"))
			if _, err := n.SendIQ(ctx, iq); err != nil {
				return false, err
			}
			return true, nil
		},
	}
}
