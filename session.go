// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"mellium.im/sasl"

	"mellium.im/xmppcore/dial"
	"mellium.im/xmppcore/internal/ns"
	intstream "mellium.im/xmppcore/internal/stream"
	"mellium.im/xmppcore/jid"
	"mellium.im/xmppcore/mux"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
	"mellium.im/xmppcore/transport"
)

// Defaults used when the corresponding option is not set.
const (
	DefaultIQTimeout      = 30 * time.Second
	DefaultDisconnectWait = 2 * time.Second
	DefaultKeepalive      = 5 * time.Minute
)

var (
	errStreamClosed = errors.New("xmpp: stream closed by peer")

	// ErrAborted is returned by Connect when the connection is aborted before
	// negotiation completes.
	ErrAborted = errors.New("xmpp: connection aborted")
)

// A Session represents an XMPP session comprising an input and an output XML
// stream over a single transport.
//
// A Session may be connected, disconnected and connected again. Handlers,
// filters, events and stream features registered on the session survive
// reconnections.
type Session struct {
	origin    jid.JID
	logger    *slog.Logger
	reg       *stanza.Registry
	mux       *mux.Dispatcher
	negotiate Negotiator
	newID     func() string
	events    events
	filters   filters

	dialer          *dial.Dialer
	resolver        dial.Resolver
	host            string
	port            uint16
	tlsConfig       *tls.Config
	identity        string
	password        string
	mechanisms      []sasl.Mechanism
	allowPlain      bool
	disableStartTLS bool
	forceStartTLS   bool
	lang            string
	streamNS        string
	keepalive       time.Duration
	iqTimeout       time.Duration
	disconnectWait  time.Duration
	backoff         *transport.Backoff

	fmu      sync.Mutex
	features []StreamFeature

	mu         sync.Mutex
	state      State
	bound      jid.JID
	conn       *connection
	last       *connection
	connecting bool
}

// connection is the state belonging to a single transport.
type connection struct {
	tr      *transport.Transport
	parser  *intstream.Parser
	info    stream.Info
	ctx     context.Context
	cancel  context.CancelCauseFunc
	pending []*stanza.Element
	closing atomic.Bool
	done    chan struct{}
	err     error
}

// New returns a disconnected session for the given address.
// For clients addr is the account JID (a resource is requested from the server
// during resource binding if it is set).
func New(addr jid.JID, opts ...Option) *Session {
	s := &Session{
		origin:         addr,
		logger:         slog.New(slog.DiscardHandler),
		reg:            stanza.NewRegistry(),
		newID:          uuid.NewString,
		keepalive:      DefaultKeepalive,
		iqTimeout:      DefaultIQTimeout,
		disconnectWait: DefaultDisconnectWait,
		backoff:        &transport.Backoff{},
		streamNS:       ns.Client,
	}
	for _, o := range opts {
		o(s)
	}
	if s.negotiate == nil {
		s.negotiate = NegotiateFeatures
	}
	if s.features == nil {
		s.features = ClientFeatures(s.identity, s.password, s.mechanisms...)
	}
	s.mux = mux.New(
		mux.WithSender(s),
		mux.WithLogger(s.logger),
		mux.WithUnhandled(s.unhandled),
	)
	return s
}

// Mux returns the dispatcher that inbound stanzas are routed through.
func (s *Session) Mux() *mux.Dispatcher {
	return s.mux
}

// Registry returns the stanza registry used to wrap inbound stanzas.
func (s *Session) Registry() *stanza.Registry {
	return s.reg
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.Debug("state changed", "state", st.String())
}

// LocalAddr returns the bound address of the session, or the configured
// address if no resource has been bound.
func (s *Session) LocalAddr() jid.JID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound.IsZero() {
		return s.bound
	}
	return s.origin
}

// RemoteAddr returns the address of the server.
func (s *Session) RemoteAddr() jid.JID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.info.From.IsZero() {
		return s.conn.info.From
	}
	return s.origin.Domain()
}

// StreamInfo returns the attributes of the stream header most recently
// received from the server.
func (s *Session) StreamInfo() stream.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return stream.Info{}
	}
	return s.conn.info
}

// ConnectionState returns the TLS state of the connection if it is secured.
func (s *Session) ConnectionState() (tls.ConnectionState, bool) {
	c := s.current()
	if c == nil {
		return tls.ConnectionState{}, false
	}
	return c.tr.ConnectionState()
}

func (s *Session) current() *connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil || s.connecting {
		return ErrAlreadyConnected
	}
	s.connecting = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.connecting = false
	s.mu.Unlock()
}

// Connect resolves and dials the server, negotiates the stream and starts
// processing inbound stanzas.
// It returns once the session is started or negotiation failed.
//
// If ctx is canceled before negotiation completes the connection is aborted.
// After Connect returns, ctx has no effect.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	tr, err := transport.Connect(ctx, transport.ConnectConfig{
		Dialer: s.connDialer(),
		Domain: s.origin.Domainpart(),
		Host:   s.host,
		Port:   s.port,
		Logger: s.logger,
	})
	if err != nil {
		s.logger.Info("connection failed", "domain", s.origin.Domainpart(), "err", err)
		s.emit(Event{Name: EventConnectionFailed, Err: err})
		return err
	}
	return s.establish(ctx, tr)
}

func (s *Session) connDialer() *dial.Dialer {
	if s.resolver == nil {
		return s.dialer
	}
	var d dial.Dialer
	if s.dialer != nil {
		d = *s.dialer
	}
	d.DNS = s.resolver
	return &d
}

// ConnectTransport is like Connect except that it negotiates a session over an
// already connected transport.
func (s *Session) ConnectTransport(ctx context.Context, tr *transport.Transport) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	return s.establish(ctx, tr)
}

func (s *Session) establish(ctx context.Context, tr *transport.Transport) error {
	c := &connection{
		tr:     tr,
		parser: intstream.NewParser(tr),
		done:   make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancelCause(context.Background())

	s.mu.Lock()
	s.conn = c
	s.last = c
	s.state = TCPConnected
	s.bound = jid.JID{}
	s.mu.Unlock()
	s.logger.Info("connected", "remote", tr.RemoteAddr().String())
	s.emit(Event{Name: EventConnected})

	stop := context.AfterFunc(ctx, func() {
		c.closing.Store(true)
		_ = tr.Abort()
	})
	n := &Negotiation{s: s, c: c, negotiated: make(map[xml.Name]bool)}
	err := s.negotiate(ctx, n)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if c.closing.Load() {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = fmt.Errorf("%w: %w", ErrAborted, err)
			}
		}
		s.teardown(c, err)
		return err
	}

	s.setState(SessionStarted)
	g, gctx := errgroup.WithContext(c.ctx)
	g.Go(func() error {
		return s.readLoop(gctx, c)
	})
	if s.keepalive > 0 {
		g.Go(func() error {
			return s.keepaliveLoop(gctx, c)
		})
	}
	go func() {
		s.teardown(c, g.Wait())
	}()

	addr := s.LocalAddr()
	s.logger.Info("session started", "jid", addr.String())
	s.emit(Event{Name: EventSessionStart, JID: addr})
	return nil
}

func (s *Session) readLoop(ctx context.Context, c *connection) error {
	defer c.cancel(ErrNotConnected)

	pending := c.pending
	c.pending = nil
	for _, e := range pending {
		if err := s.handleElement(ctx, c, e); err != nil {
			return err
		}
	}
	for {
		ev, err := c.parser.Next()
		if err != nil {
			return s.readErr(c, err)
		}
		switch ev.Type {
		case intstream.Close:
			if c.closing.Load() {
				return nil
			}
			s.logger.Info("stream closed by peer")
			sendCtx, cancel := context.WithTimeout(context.Background(), s.disconnectWait)
			_ = c.tr.SendString(sendCtx, intstream.Footer)
			_ = c.tr.Flush(sendCtx)
			cancel()
			return errStreamClosed
		case intstream.Open:
			return s.sendStreamError(c, stream.BadFormat, errors.New("unexpected stream header"))
		case intstream.Element:
			if err := s.handleElement(ctx, c, ev.Element); err != nil {
				return err
			}
		}
	}
}

func (s *Session) readErr(c *connection, err error) error {
	if c.closing.Load() {
		return nil
	}
	var perr *intstream.ParseError
	if errors.As(err, &perr) {
		return s.sendStreamError(c, perr.Err, perr.Cause)
	}
	return fmt.Errorf("xmpp: reading stream: %w", err)
}

// sendStreamError writes se and the stream footer and returns the resulting
// protocol error.
func (s *Session) sendStreamError(c *connection, se stream.Error, cause error) error {
	s.logger.Info("sending stream error", "condition", se.Err, "cause", cause)
	ctx, cancel := context.WithTimeout(context.Background(), s.disconnectWait)
	defer cancel()
	if err := c.tr.SendString(ctx, se.String()+intstream.Footer); err == nil {
		_ = c.tr.Flush(ctx)
	}
	return &ProtocolError{Err: se, Cause: cause}
}

func (s *Session) handleElement(ctx context.Context, c *connection, e *stanza.Element) error {
	if e.Name.Space == stream.NS && e.Name.Local == "error" {
		se := stream.FromElement(e)
		s.logger.Info("received stream error", "condition", se.Err, "text", se.Text)
		s.emit(Event{Name: EventStreamError, Err: se})
		return &ProtocolError{Err: se, Remote: true}
	}
	st := s.filters.apply(Inbound, s.reg.Wrap(e))
	if st == nil {
		return nil
	}
	s.mux.Dispatch(ctx, st)
	return nil
}

func (s *Session) unhandled(ctx context.Context, w mux.Sender, st *stanza.Stanza) {
	if stanza.Is(st.Name()) && st.Element().AttrValue("type") == "error" {
		se, _ := st.Err()
		s.emit(Event{Name: EventStanzaError, Stanza: st, Err: se})
		return
	}
	mux.FeatureNotImplemented(ctx, w, st)
}

func (s *Session) keepaliveLoop(ctx context.Context, c *connection) error {
	t := time.NewTicker(s.keepalive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if s.State() != SessionStarted {
				continue
			}
			if err := c.tr.SendString(ctx, " "); err != nil {
				s.logger.Debug("keepalive failed", "err", err)
				return nil
			}
		}
	}
}

func (s *Session) teardown(c *connection, err error) {
	c.cancel(ErrNotConnected)
	s.mux.CancelWaiters()
	_ = c.tr.Abort()

	s.mu.Lock()
	started := s.state == SessionStarted
	if s.conn == c {
		s.conn = nil
		s.state = Disconnected
	}
	s.mu.Unlock()

	c.err = err
	if err != nil {
		s.logger.Info("disconnected", "err", err)
	} else {
		s.logger.Info("disconnected")
	}
	if started {
		s.emit(Event{Name: EventSessionEnd})
	}
	s.emit(Event{Name: EventDisconnected, Err: err})
	close(c.done)
}

// Wait blocks until the most recent connection has been torn down and returns
// the error that ended it.
// A connection closed with Disconnect or Abort ends with a nil error.
func (s *Session) Wait() error {
	s.mu.Lock()
	c := s.last
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	<-c.done
	return c.err
}

// Disconnect closes the output stream and waits (up to the configured
// disconnect wait or until ctx is done) for the server to close its stream
// before closing the transport.
// Use Wait to block until the session has been torn down.
func (s *Session) Disconnect(ctx context.Context) error {
	c := s.current()
	if c == nil {
		return ErrNotConnected
	}
	c.closing.Store(true)
	s.logger.Info("disconnecting")
	return c.tr.Disconnect(ctx, intstream.Footer, s.disconnectWait)
}

// Abort closes the transport immediately without closing the stream.
func (s *Session) Abort() error {
	c := s.current()
	if c == nil {
		return ErrNotConnected
	}
	c.closing.Store(true)
	return c.tr.Abort()
}

// Run connects and keeps the session connected until ctx is canceled or the
// session is closed with Disconnect or Abort.
// After a connection is lost Run waits for the next backoff delay, emitting
// reconnect_delay, before connecting again.
// Errors that are not retryable (see Retryable) are returned immediately.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.Abort()
	})
	defer stop()

	for {
		err := s.Connect(ctx)
		if err == nil {
			s.backoff.Reset()
			if err = s.Wait(); err == nil {
				return nil
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !Retryable(err) {
			return err
		}
		d := s.backoff.Next()
		s.logger.Info("reconnecting", "delay", d, "err", err)
		s.emit(Event{Name: EventReconnectDelay, Delay: d, Err: err})
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Send transmits a stanza.
// Root stanzas without an id are given one.
// The outbound filter chain runs before serialization and may drop the stanza.
//
// Send is safe for concurrent use by multiple goroutines and returns
// ErrNotConnected unless the session is started.
func (s *Session) Send(ctx context.Context, st *stanza.Stanza) error {
	c := s.current()
	if c == nil || s.State() != SessionStarted {
		return ErrNotConnected
	}
	if stanza.Is(st.Name()) && st.ID() == "" {
		st.SetID(s.newID())
	}
	if st = s.filters.apply(Outbound, st); st == nil {
		return nil
	}
	return c.tr.SendString(ctx, st.String())
}

// SendElement wraps e with the session's registry and sends it.
func (s *Session) SendElement(ctx context.Context, e *stanza.Element) error {
	return s.Send(ctx, s.reg.Wrap(e))
}
