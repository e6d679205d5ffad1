// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package transport provides the byte stream underneath an XMPP session.
//
// A Transport owns a single writer goroutine so that bytes are delivered in the
// order they were sent, even when Send is called from several goroutines.
// Layers such as TLS or stream compression are added mid-stream with Upgrade,
// which runs on the writer goroutine after everything queued before it has been
// written.
package transport // import "mellium.im/xmppcore/transport"

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"mellium.im/xmppcore/dial"
)

// DefaultQueueSize is the number of writes that may be queued before Send
// blocks.
const DefaultQueueSize = 64

// Errors returned by transports.
var (
	ErrClosed = errors.New("transport: closed")
)

// Upgrader wraps a connection in a new layer, for example TLS.
type Upgrader interface {
	Upgrade(ctx context.Context, conn net.Conn) (net.Conn, error)
}

// The UpgraderFunc type is an adapter to allow the use of ordinary functions as
// upgraders.
type UpgraderFunc func(ctx context.Context, conn net.Conn) (net.Conn, error)

// Upgrade calls f(ctx, conn).
func (f UpgraderFunc) Upgrade(ctx context.Context, conn net.Conn) (net.Conn, error) {
	return f(ctx, conn)
}

// TLS returns an upgrader that performs a client TLS handshake.
func TLS(cfg *tls.Config) Upgrader {
	return UpgraderFunc(func(ctx context.Context, conn net.Conn) (net.Conn, error) {
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, err
		}
		return tlsConn, nil
	})
}

// IsCertificateError reports whether err was caused by a certificate that
// could not be verified.
func IsCertificateError(err error) bool {
	var verr *tls.CertificateVerificationError
	return errors.As(err, &verr)
}

// ConnectConfig controls how Connect finds and dials the server.
type ConnectConfig struct {
	// Dialer is used to resolve and dial the server. If nil a zero dial.Dialer
	// is used.
	Dialer *dial.Dialer

	// Network is passed to the dialer. The default is "tcp".
	Network string

	// Domain is the XMPP domain being connected to.
	Domain string

	// Host and Port bypass SRV lookups when Host is set.
	Host string
	Port uint16

	// QueueSize overrides DefaultQueueSize.
	QueueSize int

	// Logger receives debug records for all traffic.
	Logger *slog.Logger
}

// Connect resolves and dials the server and returns a transport over the
// resulting connection.
func Connect(ctx context.Context, cfg ConnectConfig) (*Transport, error) {
	d := cfg.Dialer
	if d == nil {
		d = &dial.Dialer{}
	}
	network := cfg.Network
	if network == "" {
		network = "tcp"
	}
	var conn net.Conn
	var err error
	if cfg.Host != "" {
		conn, err = d.DialHost(ctx, network, cfg.Domain, cfg.Host, cfg.Port)
	} else {
		conn, err = d.Dial(ctx, network, cfg.Domain)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: connecting to %s: %w", cfg.Domain, err)
	}
	opts := []Option{WithLogger(cfg.Logger)}
	if cfg.QueueSize > 0 {
		opts = append(opts, WithQueueSize(cfg.QueueSize))
	}
	return New(conn, opts...), nil
}

type request struct {
	data    []byte
	upgrade Upgrader
	ctx     context.Context
	done    chan error
}

// Transport is an ordered, upgradable byte stream.
type Transport struct {
	mu   sync.Mutex
	conn net.Conn
	err  error

	queue     chan request
	closing   chan struct{}
	stopped   chan struct{}
	peerGone  chan struct{}
	closeOnce sync.Once
	peerOnce  sync.Once

	logger *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport, *int)

// WithLogger sets the logger used for traffic records.
// A nil logger discards.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport, _ *int) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithQueueSize sets the number of writes that may be queued before Send
// blocks.
func WithQueueSize(n int) Option {
	return func(_ *Transport, size *int) {
		*size = n
	}
}

// New returns a transport over an established connection and starts its
// writer goroutine.
func New(conn net.Conn, opts ...Option) *Transport {
	t := &Transport{
		conn:     conn,
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
		peerGone: make(chan struct{}),
		logger:   slog.New(slog.DiscardHandler),
	}
	size := DefaultQueueSize
	for _, o := range opts {
		o(t, &size)
	}
	t.queue = make(chan request, size)
	go t.writer()
	return t
}

func (t *Transport) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *Transport) fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	t.shutdown()
	_ = t.current().Close()
}

// Err returns the error that closed the transport, if any.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transport) writer() {
	defer close(t.stopped)
	for {
		select {
		case <-t.closing:
			return
		case req := <-t.queue:
			err := t.handle(req)
			if req.done != nil {
				req.done <- err
			}
			if err != nil {
				t.fail(err)
				return
			}
		}
	}
}

func (t *Transport) handle(req request) error {
	conn := t.current()
	if req.upgrade != nil {
		ctx := req.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		upgraded, err := req.upgrade.Upgrade(ctx, conn)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.conn = upgraded
		t.mu.Unlock()
		t.logger.Debug("transport upgraded", slog.String("type", fmt.Sprintf("%T", upgraded)))
		return nil
	}
	if len(req.data) == 0 {
		return nil
	}
	t.logger.Debug("SEND", slog.String("data", string(req.data)))
	_, err := conn.Write(req.data)
	return err
}

func (t *Transport) enqueue(ctx context.Context, req request) error {
	select {
	case <-t.closing:
		if err := t.Err(); err != nil {
			return err
		}
		return ErrClosed
	default:
	}
	select {
	case t.queue <- req:
		return nil
	case <-t.closing:
		if err := t.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) wait(ctx context.Context, done chan error) error {
	select {
	case err := <-done:
		return err
	case <-t.stopped:
		// the request may have completed just before the writer stopped
		select {
		case err := <-done:
			return err
		default:
		}
		if err := t.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues b for delivery.
// It only blocks if the queue is full.
// The slice must not be modified after it is passed to Send.
func (t *Transport) Send(ctx context.Context, b []byte) error {
	return t.enqueue(ctx, request{data: b})
}

// SendString is like Send but takes a string.
func (t *Transport) SendString(ctx context.Context, s string) error {
	return t.Send(ctx, []byte(s))
}

// Flush blocks until every write queued before it has been delivered to the
// connection.
func (t *Transport) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	if err := t.enqueue(ctx, request{done: done}); err != nil {
		return err
	}
	return t.wait(ctx, done)
}

// Upgrade wraps the connection with u after every write queued before it has
// been delivered.
// Reads made after Upgrade returns use the new layer.
// If the upgrade fails the transport is closed.
func (t *Transport) Upgrade(ctx context.Context, u Upgrader) error {
	done := make(chan error, 1)
	if err := t.enqueue(ctx, request{upgrade: u, ctx: ctx, done: done}); err != nil {
		return err
	}
	return t.wait(ctx, done)
}

// StartTLS performs a client TLS handshake over the connection.
func (t *Transport) StartTLS(ctx context.Context, cfg *tls.Config) error {
	return t.Upgrade(ctx, TLS(cfg))
}

// ConnectionState returns the TLS state of the connection if it is secured.
func (t *Transport) ConnectionState() (tls.ConnectionState, bool) {
	type stater interface {
		ConnectionState() tls.ConnectionState
	}
	c, ok := t.current().(stater)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return c.ConnectionState(), true
}

// Secure reports whether the connection is protected by TLS.
func (t *Transport) Secure() bool {
	_, ok := t.ConnectionState()
	return ok
}

// Read reads from the current layer of the connection.
// Once Read returns an error the peer is considered gone.
func (t *Transport) Read(p []byte) (int, error) {
	n, err := t.current().Read(p)
	if n > 0 {
		t.logger.Debug("RECV", slog.String("data", string(p[:n])))
	}
	if err != nil {
		t.peerOnce.Do(func() { close(t.peerGone) })
	}
	return n, err
}

// LocalAddr returns the local network address.
func (t *Transport) LocalAddr() net.Addr {
	return t.current().LocalAddr()
}

// RemoteAddr returns the remote network address.
func (t *Transport) RemoteAddr() net.Addr {
	return t.current().RemoteAddr()
}

// Done returns a channel that is closed when the transport is closed.
func (t *Transport) Done() <-chan struct{} {
	return t.stopped
}

// Disconnect sends footer (if not empty) and waits up to wait for the peer to
// close the connection before closing it.
func (t *Transport) Disconnect(ctx context.Context, footer string, wait time.Duration) error {
	if footer != "" {
		err := t.SendString(ctx, footer)
		if err == nil {
			err = t.Flush(ctx)
		}
		if err != nil {
			t.Abort()
			return err
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-t.peerGone:
	case <-t.stopped:
	case <-timer.C:
		t.logger.Debug("peer did not close the stream in time", slog.Duration("wait", wait))
	case <-ctx.Done():
	}
	return t.Abort()
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.closing)
	})
}

// Abort closes the connection immediately, discarding queued writes.
func (t *Transport) Abort() error {
	t.shutdown()
	conn := t.current()
	err := conn.Close()
	<-t.stopped
	// an upgrade may have replaced the connection while the writer stopped
	if c := t.current(); c != conn {
		_ = c.Close()
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
