// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package matcher contains predicates that select inbound stanzas.
//
// A Matcher never modifies the stanza it inspects and is safe for concurrent
// use once constructed.
// Matchers are combined with handlers from the mux package:
//
//	d.Register("ping", mux.NewCallback(
//		matcher.StanzaPath("iq@type=get/ping"),
//		handlePing,
//	))
package matcher // import "mellium.im/xmppcore/matcher"
