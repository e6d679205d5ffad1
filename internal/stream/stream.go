// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream contains internal stream parsing and handling behavior.
package stream // import "mellium.im/xmppcore/internal/stream"

import (
	"bufio"
	"encoding/xml"
	"io"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/stream"
)

// Footer closes a stream.
const Footer = `</stream:stream>`

// XMLDecl is the XML declaration optionally written before a stream header.
const XMLDecl = `<?xml version="1.0" encoding="UTF-8"?>`

// Header contains the attributes written on an outgoing stream header.
// Empty values are omitted.
type Header struct {
	// XMLNS is the content namespace (jabber:client, jabber:server or
	// jabber:component:accept).
	XMLNS   string
	To      string
	From    string
	ID      string
	Version string
	Lang    string

	// Declaration prefixes the header with an XML declaration.
	Declaration bool
}

// ClientHeader returns the header opened by a client toward domain.
func ClientHeader(domain, lang string) Header {
	return Header{
		XMLNS:   ns.Client,
		To:      domain,
		Version: stream.DefaultVersion.String(),
		Lang:    lang,
	}
}

// ComponentHeader returns the header opened by an external component.
func ComponentHeader(to string) Header {
	return Header{
		XMLNS: ns.Component,
		To:    to,
	}
}

// Send writes the header as a literal (not self-closing) start tag so that
// subsequent stanzas appear as its children.
// We don't use an xml.Encoder both because Go's standard library xml package
// really doesn't like the namespaced stream:stream attribute and because we can
// guarantee well-formedness of the XML with a print in this case.
//
// The attribute order is fixed: xmlns, xmlns:stream, to, from, id, version,
// xml:lang.
func Send(w io.Writer, h Header) error {
	b := bufio.NewWriter(w)
	if h.Declaration {
		if _, err := b.WriteString(XMLDecl); err != nil {
			return err
		}
	}
	if _, err := b.WriteString(`<stream:stream`); err != nil {
		return err
	}
	for _, attr := range [...]struct{ name, value string }{
		{"xmlns", h.XMLNS},
		{"xmlns:stream", stream.NS},
		{"to", h.To},
		{"from", h.From},
		{"id", h.ID},
		{"version", h.Version},
		{"xml:lang", h.Lang},
	} {
		if attr.value == "" {
			continue
		}
		if err := writeAttr(b, attr.name, attr.value); err != nil {
			return err
		}
	}
	if err := b.WriteByte('>'); err != nil {
		return err
	}
	return b.Flush()
}

func writeAttr(b *bufio.Writer, name, value string) error {
	if _, err := b.WriteString(" " + name + `="`); err != nil {
		return err
	}
	if err := xml.EscapeText(b, []byte(value)); err != nil {
		return err
	}
	return b.WriteByte('"')
}
