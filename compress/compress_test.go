// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package compress_test

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/sasl"

	"mellium.im/xmppcore"
	"mellium.im/xmppcore/compress"
	"mellium.im/xmppcore/internal/xmpptest"
	"mellium.im/xmppcore/jid"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/transport"
)

func TestWrapRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	ca, err := compress.Wrap(a, compress.ZLIB)
	require.NoError(t, err)
	cb, err := compress.Wrap(b, compress.ZLIB)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ca.Close()
		_ = cb.Close()
	})

	const msg = "<message><body>hello hello hello hello</body></message>"
	go func() {
		_, _ = io.WriteString(ca, msg)
	}()
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(cb, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, string(buf))

	_, ok := ca.(interface{ ConnectionState() tls.ConnectionState })
	assert.False(t, ok, "plain connection should not report a TLS state")
}

func TestWrapKeepsTLSState(t *testing.T) {
	a, _ := net.Pipe()
	c, err := compress.Wrap(tls.Client(a, &tls.Config{MinVersion: tls.VersionTLS12}), compress.ZLIB)
	require.NoError(t, err)
	_, ok := c.(interface{ ConnectionState() tls.ConnectionState })
	assert.True(t, ok, "TLS state should be forwarded")
	_ = c.Close()
}

func connect(t *testing.T, srv *xmpptest.Server) (*xmpp.Session, *xmpptest.Conn, <-chan error) {
	t.Helper()
	conns := make(chan *xmpptest.Conn, 1)
	srv.Users = map[string]string{"u": "pencil"}
	srv.Mechanisms = []string{"PLAIN"}
	srv.Handler = func(c *xmpptest.Conn, e *stanza.Element) error {
		if e.Name.Local == "message" {
			select {
			case conns <- c:
			default:
			}
		}
		return nil
	}
	conn, serverErr := srv.Pipe()
	s := xmpp.New(jid.MustParse("u@d/r"),
		xmpp.WithKeepalive(0),
		xmpp.WithDisconnectWait(time.Second),
		xmpp.WithPassword("", "pencil"),
		xmpp.WithMechanisms(sasl.Plain),
		xmpp.AllowInsecurePlain(),
	)
	s.RegisterFeature(compress.New())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.ConnectTransport(ctx, transport.New(conn)))
	t.Cleanup(func() {
		_ = s.Abort()
	})

	msg := s.Registry().NewMessage(stanza.ChatMessage)
	msg.SetTo(jid.MustParse("x@y"))
	msg.SetBody("ping")
	require.NoError(t, s.Send(ctx, msg.Stanza))
	select {
	case c := <-conns:
		return s, c, serverErr
	case <-ctx.Done():
		t.Fatal("server never received the message")
	}
	return nil, nil, nil
}

func TestNegotiate(t *testing.T) {
	srv := &xmpptest.Server{Compress: true}
	s, c, serverErr := connect(t, srv)

	assert.True(t, c.Compressed())
	assert.Equal(t, 3, c.Streams())
	assert.Equal(t, xmpp.SessionStarted, s.State())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Disconnect(ctx))
	require.NoError(t, s.Wait())
	select {
	case err := <-serverErr:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("server did not shut down")
	}
}

func TestNotOffered(t *testing.T) {
	srv := &xmpptest.Server{}
	_, c, _ := connect(t, srv)

	assert.False(t, c.Compressed())
	assert.Equal(t, 2, c.Streams())
}
