// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"errors"
	"fmt"

	"mellium.im/xmppcore/internal/saslerr"
	"mellium.im/xmppcore/mux"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
	"mellium.im/xmppcore/transport"
)

// Errors returned by the xmpp package.
var (
	ErrNotConnected     = errors.New("xmpp: not connected")
	ErrAlreadyConnected = errors.New("xmpp: already connected")
	ErrNoMechanism      = errors.New("xmpp: no usable SASL mechanism")
	ErrTLSRequired      = errors.New("xmpp: server does not offer STARTTLS")
	ErrTLSFailed        = errors.New("xmpp: server refused STARTTLS")

	// ErrTimeout and ErrCancelled are returned by waiters and IQ requests.
	ErrTimeout   = mux.ErrTimeout
	ErrCancelled = mux.ErrCancelled
)

// IQError is returned when the reply to an IQ request has type error.
type IQError struct {
	IQ  stanza.IQ
	Err stanza.Error
}

func (e *IQError) Error() string {
	return fmt.Sprintf("xmpp: iq %s: %s", e.IQ.ID(), e.Err.Condition)
}

// Unwrap returns the stanza error so that errors.Is can match conditions.
func (e *IQError) Unwrap() error {
	return e.Err
}

// ProtocolError tears down the stream.
// Remote errors were received from the peer, local ones were sent to it.
type ProtocolError struct {
	Err    stream.Error
	Remote bool
	Cause  error
}

func (e *ProtocolError) Error() string {
	side := "sent"
	if e.Remote {
		side = "received"
	}
	if e.Cause != nil {
		return fmt.Sprintf("xmpp: stream error %s (%s): %v", e.Err.Err, side, e.Cause)
	}
	return fmt.Sprintf("xmpp: stream error %s (%s)", e.Err.Err, side)
}

// Unwrap returns the stream error condition and the local cause, if any.
func (e *ProtocolError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// AuthError is returned when every SASL mechanism failed.
type AuthError struct {
	Failures []error
}

func (e *AuthError) Error() string {
	if len(e.Failures) == 0 {
		return ErrNoMechanism.Error()
	}
	return fmt.Sprintf("xmpp: authentication failed: %v", e.Failures[len(e.Failures)-1])
}

// Unwrap returns the individual mechanism failures.
func (e *AuthError) Unwrap() []error {
	if len(e.Failures) == 0 {
		return []error{ErrNoMechanism}
	}
	return e.Failures
}

// Retryable reports whether a connection that ended with err may be
// reestablished automatically.
// Errors that would only repeat on a new connection (authentication failures,
// untrusted certificates, protocol violations committed by us and a few stream
// errors sent by the server) are not retryable.
func Retryable(err error) bool {
	if err == nil {
		return true
	}
	var authErr *AuthError
	if errors.As(err, &authErr) || errors.Is(err, saslerr.Failure{}) {
		return false
	}
	if transport.IsCertificateError(err) || errors.Is(err, ErrTLSRequired) {
		return false
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		if !perr.Remote {
			return false
		}
		for _, cond := range [...]stream.Error{stream.Conflict, stream.NotAuthorized, stream.PolicyViolation} {
			if errors.Is(perr.Err, cond) {
				return false
			}
		}
	}
	return true
}
