// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/xml"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mellium.im/xmppcore"
	"mellium.im/xmppcore/internal/xmpptest"
	"mellium.im/xmppcore/jid"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/transport"
)

func TestEcho(t *testing.T) {
	replies := make(chan *stanza.Element, 1)
	srv := &xmpptest.Server{
		Bound: "bot@example.net/echo",
		Handler: func(c *xmpptest.Conn, e *stanza.Element) error {
			switch {
			case e.Name.Local == "presence":
				// Once we're available send one message that should be ignored and one
				// that should be echoed.
				return c.Send(`<message type="headline" from="a@example.net/x"><body>news</body></message>` +
					`<message type="chat" id="m1" from="a@example.net/x"><body>hi</body></message>`)
			case e.Name.Local == "message":
				replies <- e
			}
			return nil
		},
	}
	conn, _ := srv.Pipe()
	s := xmpp.New(jid.MustParse("bot@example.net"), xmpp.WithKeepalive(0))
	register(s, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.ConnectTransport(ctx, transport.New(conn)))
	t.Cleanup(func() {
		_ = s.Abort()
	})

	select {
	case e := <-replies:
		assert.Equal(t, "chat", e.AttrValue("type"))
		assert.Equal(t, "m1", e.AttrValue("id"))
		assert.Equal(t, "a@example.net/x", e.AttrValue("to"))
		body := e.Child(xml.Name{Local: "body"})
		require.NotNil(t, body)
		assert.Equal(t, "hi", body.Text)
	case <-ctx.Done():
		t.Fatal("no reply received")
	}
}
