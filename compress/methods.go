// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package compress

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// Method is a stream compression method.
// Custom methods may be defined, but generally speaking the only supported
// methods will be those with names defined in the "Stream Compression Methods
// Registry" maintained by the XSF Editor:
// https://xmpp.org/registrar/compress.html
//
// Writes to the value returned by Wrap must be flushed to the underlying
// writer before they return.
type Method struct {
	Name string
	Wrap func(rw io.ReadWriter) (io.ReadWriteCloser, error)
}

// ZLIB compresses the stream using the zlib format (RFC 1950).
// It is always supported.
var ZLIB = Method{
	Name: "zlib",
	Wrap: func(rw io.ReadWriter) (io.ReadWriteCloser, error) {
		w, err := zlib.NewWriterLevel(rw, zlib.DefaultCompression)
		if err != nil {
			return nil, err
		}
		return &zlibConn{raw: rw, w: w}, nil
	},
}

// zlibConn defers creation of the reader until the first read.
// The zlib reader consumes the header as soon as it is created, but the peer
// only starts compressing once it has seen our new stream header.
type zlibConn struct {
	rm  sync.Mutex
	raw io.ReadWriter
	r   io.ReadCloser

	wm sync.Mutex
	w  *zlib.Writer
}

func (z *zlibConn) Read(p []byte) (int, error) {
	z.rm.Lock()
	defer z.rm.Unlock()
	if z.r == nil {
		r, err := zlib.NewReader(z.raw)
		if err != nil {
			return 0, err
		}
		z.r = r
	}
	return z.r.Read(p)
}

func (z *zlibConn) Write(p []byte) (int, error) {
	z.wm.Lock()
	defer z.wm.Unlock()
	n, err := z.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, z.w.Flush()
}

func (z *zlibConn) Close() error {
	z.wm.Lock()
	err := z.w.Close()
	z.wm.Unlock()

	z.rm.Lock()
	defer z.rm.Unlock()
	if z.r != nil {
		err = errors.Join(err, z.r.Close())
	}
	return err
}

// Wrap returns a connection that compresses writes to and decompresses reads
// from conn using m.
// If conn is a TLS connection its ConnectionState is still available on the
// returned connection.
func Wrap(conn net.Conn, m Method) (net.Conn, error) {
	rwc, err := m.Wrap(conn)
	if err != nil {
		return nil, err
	}
	c := &compressedConn{Conn: conn, rwc: rwc}
	if st, ok := conn.(interface {
		ConnectionState() tls.ConnectionState
	}); ok {
		return tlsCompressedConn{compressedConn: c, state: st.ConnectionState}, nil
	}
	return c, nil
}

type compressedConn struct {
	net.Conn
	rwc io.ReadWriteCloser
}

func (c *compressedConn) Read(p []byte) (int, error)  { return c.rwc.Read(p) }
func (c *compressedConn) Write(p []byte) (int, error) { return c.rwc.Write(p) }

// Close must not block on a peer that stopped reading, so the connection is
// closed before the compressor writes its trailer.
func (c *compressedConn) Close() error {
	err := c.Conn.Close()
	_ = c.rwc.Close()
	return err
}

type tlsCompressedConn struct {
	*compressedConn
	state func() tls.ConnectionState
}

func (c tlsCompressedConn) ConnectionState() tls.ConnectionState {
	return c.state()
}
