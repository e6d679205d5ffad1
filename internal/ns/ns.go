// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are used by the xmpp package and
// other internal packages.
package ns // import "mellium.im/xmppcore/internal/ns"

// List of commonly used namespaces.
const (
	Bind      = "urn:ietf:params:xml:ns:xmpp-bind"
	Client    = "jabber:client"
	Component = "jabber:component:accept"
	Compress  = "http://jabber.org/protocol/compress"
	Features  = "http://jabber.org/features/compress"
	SASL      = "urn:ietf:params:xml:ns:xmpp-sasl"
	Server    = "jabber:server"
	Session   = "urn:ietf:params:xml:ns:xmpp-session"
	Stanza    = "urn:ietf:params:xml:ns:xmpp-stanzas"
	StartTLS  = "urn:ietf:params:xml:ns:xmpp-tls"
	Stream    = "http://etherx.jabber.org/streams"
	Streams   = "urn:ietf:params:xml:ns:xmpp-streams"
	XML       = "http://www.w3.org/XML/1998/namespace"
)
