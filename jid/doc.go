// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements XMPP addresses (historically called "Jabber ID's" or
// "JID's") as described in RFC 7622 and transformers for the escaping mechanism
// defined in XEP-0106: JID Escaping.
//
// A JID is a small comparable value. Two JIDs produced by Parse or New are
// equal with == if and only if their normalized string forms are equal.
// Normalization of each part is delegated to a Profile; the DefaultProfile uses
// the PRECIS and IDNA profiles from golang.org/x/text and golang.org/x/net.
package jid // import "mellium.im/xmppcore/jid"
