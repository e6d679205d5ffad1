// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"sync"
	"time"

	"mellium.im/xmppcore/jid"
	"mellium.im/xmppcore/stanza"
)

// Names of the lifecycle events emitted by a session.
const (
	EventConnected        = "connected"
	EventConnectionFailed = "connection_failed"
	EventDisconnected     = "disconnected"
	EventStreamStart      = "stream_start"
	EventStreamNegotiated = "stream_negotiated"
	EventTLSSuccess       = "tls_success"
	EventInvalidChain     = "ssl_invalid_chain"
	EventAuthSuccess      = "auth_success"
	EventFailedAuth       = "failed_auth"
	EventFailedAllAuth    = "failed_all_auth"
	EventSessionBind      = "session_bind"
	EventSessionStart     = "session_start"
	EventSessionEnd       = "session_end"
	EventStanzaError      = "stanza_error"
	EventStreamError      = "stream_error"
	EventReconnectDelay   = "reconnect_delay"
)

// Event is passed to event handlers.
// Only the fields relevant to the event are set.
type Event struct {
	Name    string
	Session *Session

	// JID is the bound address for session_bind and session_start.
	JID jid.JID

	// Stanza is the offending stanza for stanza_error.
	Stanza *stanza.Stanza

	// Err is the cause of failure events, disconnected and reconnect_delay.
	Err error

	// Mechanism is the SASL mechanism for auth events.
	Mechanism string

	// Delay is the wait before the next attempt for reconnect_delay.
	Delay time.Duration
}

// An EventHandler is called synchronously on the goroutine that emitted the
// event, so it must not block.
type EventHandler func(Event)

type eventHandler struct {
	name string
	f    EventHandler
	once bool
}

type events struct {
	mu       sync.Mutex
	handlers []*eventHandler
}

func (e *events) add(h *eventHandler) func() {
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
	return func() { e.remove(h) }
}

func (e *events) remove(target *eventHandler) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range e.handlers {
		if h == target {
			e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
			return true
		}
	}
	return false
}

func (e *events) emit(ev Event) {
	e.mu.Lock()
	var list []*eventHandler
	for _, h := range e.handlers {
		if h.name == ev.Name {
			list = append(list, h)
		}
	}
	e.mu.Unlock()
	for _, h := range list {
		if h.once && !e.remove(h) {
			continue
		}
		h.f(ev)
	}
}

// On registers f to be called every time the named event is emitted.
// The returned function removes the handler.
func (s *Session) On(name string, f EventHandler) (remove func()) {
	return s.events.add(&eventHandler{name: name, f: f})
}

// Once is like On but the handler is removed after it is called.
func (s *Session) Once(name string, f EventHandler) (remove func()) {
	return s.events.add(&eventHandler{name: name, f: f, once: true})
}

func (s *Session) emit(ev Event) {
	ev.Session = s
	s.logger.Debug("event", "name", ev.Name)
	s.events.emit(ev)
}
