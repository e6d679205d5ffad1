// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package component is used to establish XEP-0114: Jabber Component Protocol
// connections.
package component // import "mellium.im/xmppcore/component"

import (
	"context"
	/* #nosec */
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"mellium.im/xmppcore"
	"mellium.im/xmppcore/dial"
	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/jid"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
)

// A list of namespaces used by this package, provided as a convenience.
const (
	NSAccept = ns.Component
)

var errNoID = errors.New("component: expected server stream to contain stream ID")

// New returns a session that connects to a server as the external component
// addr, authenticating with secret.
// The server is normally reached on an explicit host and port, see
// xmpp.WithHost. Otherwise _xmpp-server._tcp records are looked up for the
// domain of addr.
func New(addr jid.JID, secret []byte, opts ...xmpp.Option) *xmpp.Session {
	reg := stanza.NewRegistry()
	reg.SetNamespace(NSAccept)
	base := []xmpp.Option{
		xmpp.WithDialer(&dial.Dialer{S2S: true}),
		xmpp.WithRegistry(reg),
		xmpp.WithStreamNamespace(NSAccept),
		xmpp.WithNegotiator(Negotiator(secret)),
	}
	return xmpp.New(addr.Domain(), append(base, opts...)...)
}

// Handshake returns the handshake digest sent for the given stream id: the
// lowercase hex encoded SHA-1 of the id followed by the secret.
func Handshake(id string, secret []byte) string {
	/* #nosec */
	h := sha1.New()

	// hash.Write never returns an error per the documentation.
	/* #nosec */
	_, _ = h.Write([]byte(id))

	// hash.Write never returns an error per the documentation.
	/* #nosec */
	_, _ = h.Write(secret)

	return hex.EncodeToString(h.Sum(nil))
}

// Negotiator returns a new function that can be used to negotiate a component
// protocol connection when passed to xmpp.WithNegotiator.
//
// It only supports the initiating side of the component protocol.
func Negotiator(secret []byte) xmpp.Negotiator {
	return func(ctx context.Context, n *xmpp.Negotiation) error {
		if err := n.OpenStream(ctx); err != nil {
			return err
		}
		id := n.StreamInfo().ID
		if id == "" {
			return errNoID
		}

		n.SetState(xmpp.Authenticating)
		hs := stanza.NewElement(NSAccept, "handshake")
		hs.Text = Handshake(id, secret)
		if err := n.Send(ctx, hs); err != nil {
			return err
		}

		for {
			e, err := n.Next(ctx)
			if err != nil {
				return err
			}
			switch {
			case e.Name.Local == "handshake":
				if strings.TrimSpace(e.Text) != "" || len(e.Children) > 0 {
					return fmt.Errorf("component: unexpected handshake payload %q", e.Text)
				}
				return nil
			case stanza.Is(e.Name):
				n.Defer(e)
			default:
				return n.StreamError(stream.UnsupportedStanzaType, fmt.Errorf("component: unknown start element: %v", e.Name))
			}
		}
	}
}
