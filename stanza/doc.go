// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains functionality for dealing with XMPP stanzas and
// stanza level errors.
//
// Stanzas (Message, Presence, and IQ) are the "primitives" of XMPP. Messages
// are used to send data that is fire-and-forget such as chat messages, Presence
// is used as a general broadcast and publish-subscribe mechanism and is used to
// broadcast availability on the network (sometimes called "status" in chat, eg.
// online, offline, or away), and IQ (Info-Query) is used as a request response
// mechanism for data that requires a response (eg. fetching an avatar or a list
// of client features).
//
// Every stanza is an Element tree viewed through a Class. Classes declare
// interfaces (attributes, child text, boolean child elements and custom
// accessors) that are read and written through a string keyed facade, and a
// Registry attaches plugin classes to parents so that extensions can nest
// typed views inside the core stanzas:
//
//	reg := stanza.NewRegistry()
//	reg.Register(stanza.IQClass, pingClass)
//	iq := reg.NewIQ(stanza.GetIQ)
//	iq.Plugin("ping")
package stanza // import "mellium.im/xmppcore/stanza"
