// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package compress implements XEP-0138: Stream Compression.
//
// Be advised: stream compression has many of the same security considerations
// as TLS compression (see RFC3749 §6) and may be difficult to implement safely
// without special expertise.
package compress // import "mellium.im/xmppcore/compress"

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"

	"mellium.im/xmppcore"
	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
	"mellium.im/xmppcore/transport"
)

// Namespaces used by stream compression.
const (
	NSFeatures = ns.Features
	NSProtocol = ns.Compress
)

// Feature is the name of the compression stream feature.
var Feature = xml.Name{Space: NSFeatures, Local: "compression"}

// New returns a new xmpp.StreamFeature that can be used to negotiate stream
// compression.
// The returned stream feature always supports ZLIB compression, other
// compression methods are tried first in the order given.
//
// Compression is optional. If the server supports none of the methods, or
// rejects all of them, the stream stays uncompressed.
func New(methods ...Method) xmpp.StreamFeature {
	methods = append(methods[:len(methods):len(methods)], ZLIB)
	return xmpp.StreamFeature{
		Name:    Feature,
		Order:   xmpp.OrderCompression,
		Restart: true,
		Negotiate: func(ctx context.Context, n *xmpp.Negotiation, feature *stanza.Element) (bool, error) {
			offered := make(map[string]bool)
			for _, m := range feature.ChildrenNamed(xml.Name{Space: NSFeatures, Local: "method"}) {
				offered[m.Text] = true
			}
			for _, m := range methods {
				if !offered[m.Name] {
					continue
				}
				ok, err := negotiate(ctx, n, m)
				if err != nil || ok {
					return ok, err
				}
			}
			return false, nil
		},
	}
}

func negotiate(ctx context.Context, n *xmpp.Negotiation, m Method) (bool, error) {
	req := stanza.NewElement(NSProtocol, "compress")
	method := stanza.NewElement(NSProtocol, "method")
	method.Text = m.Name
	req.AppendChild(method)
	if err := n.Send(ctx, req); err != nil {
		return false, err
	}

	resp, err := n.Next(ctx)
	if err != nil {
		return false, err
	}
	switch {
	case resp.Name == xml.Name{Space: NSProtocol, Local: "compressed"}:
	case resp.Name == xml.Name{Space: NSProtocol, Local: "failure"}:
		// The stream continues uncompressed and the next method may be tried.
		return false, nil
	default:
		return false, n.StreamError(stream.UnsupportedStanzaType, fmt.Errorf("unexpected %s during compression", resp.Name.Local))
	}

	err = n.Upgrade(ctx, transport.UpgraderFunc(func(_ context.Context, conn net.Conn) (net.Conn, error) {
		return Wrap(conn, m)
	}))
	if err != nil {
		return false, errors.Join(errors.New("compress: setting up "+m.Name), err)
	}
	return true, nil
}
