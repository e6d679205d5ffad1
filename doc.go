// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpp provides the core of an XMPP client and external component as
// described by RFC 6120 and XEP-0114.
//
// A Session owns a single transport and multiplexes the XML stream carried
// over it into stanzas.
// Connecting a session resolves the server (see package dial), opens the
// stream and negotiates stream features in order: STARTTLS, SASL
// authentication, optional compression, resource binding and session
// establishment.
// Once the session is started inbound stanzas pass through the inbound filter
// chain and are routed by the session's dispatcher (see package mux), and IQ
// requests sent with SendIQ are correlated with their replies.
//
//	s := xmpp.New(jid.MustParse("me@example.net"), xmpp.WithPassword("", "pass"))
//	s.Mux().HandleFunc("echo", matcher.Name(xml.Name{Local: "message"}), echo)
//	err := s.Connect(ctx)
//
// Lifecycle changes are reported as named events (see the Event constants)
// to handlers registered with On and Once.
// Run keeps a session connected, reconnecting with exponential backoff after
// a connection is lost.
//
// Sessions for external components are created by package component.
package xmpp // import "mellium.im/xmppcore"
