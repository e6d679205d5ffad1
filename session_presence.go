// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"

	"mellium.im/xmppcore/stanza"
)

// SendPresence is like Send except that it blocks until an error response is
// received or ctx is done.
// See SendMessage for details.
func (s *Session) SendPresence(ctx context.Context, p stanza.Presence) error {
	if p.Type() == stanza.ErrorPresence {
		return s.Send(ctx, p.Stanza)
	}
	return s.sendAwaitError(ctx, p.Stanza, "presence")
}
