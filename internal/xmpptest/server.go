// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides utilities for XMPP testing.
package xmpptest // import "mellium.im/xmppcore/internal/xmpptest"

import (
	"bytes"
	"crypto/sha1" // #nosec G505
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"mellium.im/xmppcore/compress"
	"mellium.im/xmppcore/internal/ns"
	intstream "mellium.im/xmppcore/internal/stream"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
)

// Server is a minimal in-memory XMPP server.
// It answers the stream header, STARTTLS, SASL PLAIN, resource binding,
// session establishment and the component handshake itself and passes every
// other element to Handler.
//
// The zero value serves a client stream with no features.
type Server struct {
	// Domain is sent in the from attribute of stream headers. The default is
	// the to attribute of the client's header.
	Domain string

	// StreamID is sent in the id attribute of stream headers.
	StreamID string

	// TLS, if set, causes STARTTLS to be offered until the stream is secure.
	TLS        *tls.Config
	RequireTLS bool

	// Mechanisms are offered until the client has authenticated.
	// Only PLAIN credentials are checked (against Users), any other mechanism
	// fails with not-authorized.
	Mechanisms []string
	Users      map[string]string

	// Bound is the JID returned by resource binding. If empty, the client's
	// authentication identity at Domain with the requested resource is used.
	Bound string

	// BeforeBind is raw XML sent right before the resource binding result.
	BeforeBind string

	// Compress causes zlib stream compression to be offered after
	// authentication.
	Compress bool

	// Secret is the component handshake secret.
	Secret string

	// Reject, if set, is sent instead of the features list and the stream is
	// closed.
	Reject stream.Error

	// Features, if set, returns the features advertised on each new stream
	// instead of those derived from the fields above.
	Features func(c *Conn) string

	// Handler receives all elements that the server does not handle itself.
	Handler func(c *Conn, e *stanza.Element) error
}

// Conn is one client connection to a Server.
type Conn struct {
	srv    *Server
	parser *intstream.Parser

	mu         sync.Mutex
	conn       net.Conn
	info       stream.Info
	streams    int
	secure     bool
	compressed bool
	authed     string
	received   []*stanza.Element
}

// Serve handles a single client connection until the client closes its stream
// or the connection fails.
// It always closes conn.
func (s *Server) Serve(conn net.Conn) error {
	c := &Conn{srv: s, conn: conn, parser: intstream.NewParser(conn)}
	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		_ = c.conn.Close()
	}()
	return c.serve()
}

// Pipe starts a server on one end of an in-memory connection and returns the
// other end.
// The returned channel receives the result of Serve.
func (s *Server) Pipe() (net.Conn, <-chan error) {
	client, server := net.Pipe()
	errs := make(chan error, 1)
	go func() {
		errs <- s.Serve(server)
	}()
	return client, errs
}

// Streams returns the number of stream headers received.
func (c *Conn) Streams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams
}

// Secure reports whether STARTTLS has been negotiated.
func (c *Conn) Secure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secure
}

// Compressed reports whether stream compression has been negotiated.
func (c *Conn) Compressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compressed
}

// Info returns the most recent client stream header.
func (c *Conn) Info() stream.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Received returns every element received so far.
func (c *Conn) Received() []*stanza.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*stanza.Element(nil), c.received...)
}

// Send writes raw XML to the client.
func (c *Conn) Send(s string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	_, err := io.WriteString(conn, s)
	return err
}

// SendElement serializes e in the stream's content namespace and writes it.
func (c *Conn) SendElement(e *stanza.Element) error {
	return c.Send(stanza.StreamSerializer(c.Info().XMLNS).String(e))
}

// Close closes the underlying connection without closing the stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (c *Conn) serve() error {
	for {
		ev, err := c.parser.Next()
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
			return nil
		case err != nil:
			return err
		}
		switch ev.Type {
		case intstream.Open:
			if err := c.open(ev.Info); err != nil {
				return err
			}
		case intstream.Close:
			_ = c.Send(intstream.Footer)
			return nil
		case intstream.Element:
			c.mu.Lock()
			c.received = append(c.received, ev.Element)
			c.mu.Unlock()
			if err := c.handle(ev.Element); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) open(info stream.Info) error {
	c.mu.Lock()
	c.info = info
	c.streams++
	c.mu.Unlock()

	from := c.srv.Domain
	if from == "" {
		from = info.To.String()
	}
	h := intstream.Header{
		XMLNS: info.XMLNS,
		From:  from,
		ID:    c.srv.StreamID,
	}
	if info.XMLNS != ns.Component {
		h.Version = stream.DefaultVersion.String()
	}
	var buf bytes.Buffer
	if err := intstream.Send(&buf, h); err != nil {
		return err
	}
	if c.srv.Reject.Err != "" {
		return c.Send(buf.String() + c.srv.Reject.String() + intstream.Footer)
	}
	if info.XMLNS == ns.Component {
		return c.Send(buf.String())
	}
	return c.Send(buf.String() + "<stream:features>" + c.features() + "</stream:features>")
}

func (c *Conn) features() string {
	if c.srv.Features != nil {
		return c.srv.Features(c)
	}
	c.mu.Lock()
	secure, authed, compressed := c.secure, c.authed != "", c.compressed
	c.mu.Unlock()

	var b strings.Builder
	if c.srv.TLS != nil && !secure {
		b.WriteString(`<starttls xmlns="` + ns.StartTLS + `">`)
		if c.srv.RequireTLS {
			b.WriteString(`<required/>`)
		}
		b.WriteString(`</starttls>`)
	}
	if !authed && len(c.srv.Mechanisms) > 0 {
		b.WriteString(`<mechanisms xmlns="` + ns.SASL + `">`)
		for _, m := range c.srv.Mechanisms {
			b.WriteString(`<mechanism>` + m + `</mechanism>`)
		}
		b.WriteString(`</mechanisms>`)
		return b.String()
	}
	if c.srv.Compress && authed && !compressed {
		b.WriteString(`<compression xmlns="` + ns.Features + `"><method>zlib</method></compression>`)
	}
	b.WriteString(`<bind xmlns="` + ns.Bind + `"/><session xmlns="` + ns.Session + `"><optional/></session>`)
	return b.String()
}

func (c *Conn) handle(e *stanza.Element) error {
	switch e.Name {
	case xml.Name{Space: ns.StartTLS, Local: "starttls"}:
		return c.startTLS()
	case xml.Name{Space: ns.SASL, Local: "auth"}:
		return c.auth(e)
	case xml.Name{Space: ns.Compress, Local: "compress"}:
		return c.compress(e)
	case xml.Name{Space: ns.Component, Local: "handshake"}:
		return c.handshake(e)
	case xml.Name{Space: ns.Client, Local: "iq"}:
		if ok, err := c.iq(e); ok || err != nil {
			return err
		}
	}
	if c.srv.Handler != nil {
		return c.srv.Handler(c, e)
	}
	return nil
}

func (c *Conn) startTLS() error {
	if c.srv.TLS == nil {
		return c.Send(`<failure xmlns="` + ns.StartTLS + `"/>` + intstream.Footer)
	}
	if err := c.Send(`<proceed xmlns="` + ns.StartTLS + `"/>`); err != nil {
		return err
	}
	c.mu.Lock()
	tlsConn := tls.Server(c.conn, c.srv.TLS)
	c.mu.Unlock()
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = tlsConn
	c.secure = true
	c.mu.Unlock()
	c.parser.Reset(tlsConn)
	return nil
}

func (c *Conn) compress(e *stanza.Element) error {
	m := e.Child(xml.Name{Space: ns.Compress, Local: "method"})
	if !c.srv.Compress || m == nil || m.Text != compress.ZLIB.Name {
		return c.Send(`<failure xmlns="` + ns.Compress + `"><unsupported-method/></failure>`)
	}
	if err := c.Send(`<compressed xmlns="` + ns.Compress + `"/>`); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := compress.Wrap(c.conn, compress.ZLIB)
	if err != nil {
		return err
	}
	c.conn = conn
	c.compressed = true
	c.parser.Reset(conn)
	return nil
}

func (c *Conn) auth(e *stanza.Element) error {
	fail := `<failure xmlns="` + ns.SASL + `"><not-authorized/></failure>`
	if e.AttrValue("mechanism") != "PLAIN" {
		return c.Send(fail)
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(e.Text))
	if err != nil {
		return c.Send(`<failure xmlns="` + ns.SASL + `"><incorrect-encoding/></failure>`)
	}
	parts := bytes.Split(payload, []byte{0})
	if len(parts) != 3 {
		return c.Send(fail)
	}
	user, pass := string(parts[1]), string(parts[2])
	if want, ok := c.srv.Users[user]; !ok || want != pass {
		return c.Send(fail)
	}
	c.mu.Lock()
	c.authed = user
	c.mu.Unlock()
	if err := c.Send(`<success xmlns="` + ns.SASL + `"/>`); err != nil {
		return err
	}
	c.parser.Restart()
	return nil
}

// Handshake returns the component handshake digest for a stream id and secret.
func Handshake(id, secret string) string {
	/* #nosec */
	h := sha1.Sum([]byte(id + secret))
	return hex.EncodeToString(h[:])
}

func (c *Conn) handshake(e *stanza.Element) error {
	if strings.TrimSpace(e.Text) != Handshake(c.srv.StreamID, c.srv.Secret) {
		return c.Send(stream.NotAuthorized.String() + intstream.Footer)
	}
	return c.Send(`<handshake/>`)
}

// iq answers bind and session requests.
func (c *Conn) iq(e *stanza.Element) (bool, error) {
	if e.AttrValue("type") != "set" {
		return false, nil
	}
	id := e.AttrValue("id")
	if bind := e.Child(xml.Name{Space: ns.Bind, Local: "bind"}); bind != nil {
		addr := c.srv.Bound
		if addr == "" {
			var res string
			if r := bind.Child(xml.Name{Space: ns.Bind, Local: "resource"}); r != nil {
				res = r.Text
			}
			if res == "" {
				res = "generated"
			}
			c.mu.Lock()
			addr = fmt.Sprintf("%s/%s", c.info.To.Domainpart(), res)
			if c.authed != "" {
				addr = c.authed + "@" + addr
			}
			c.mu.Unlock()
		}
		return true, c.Send(c.srv.BeforeBind + `<iq type="result" id="` + id + `"><bind xmlns="` + ns.Bind + `"><jid>` + addr + `</jid></bind></iq>`)
	}
	if e.Child(xml.Name{Space: ns.Session, Local: "session"}) != nil {
		return true, c.Send(`<iq type="result" id="` + id + `"/>`)
	}
	return false, nil
}
