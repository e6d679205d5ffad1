// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"crypto/tls"
	"log/slog"
	"time"

	"mellium.im/sasl"

	"mellium.im/xmppcore/dial"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/transport"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for lifecycle records (Info) and raw traffic
// (Debug). A nil logger discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistry sets the stanza registry used to wrap inbound stanzas.
func WithRegistry(r *stanza.Registry) Option {
	return func(s *Session) {
		s.reg = r
	}
}

// WithNegotiator replaces the stream feature negotiation with n.
func WithNegotiator(n Negotiator) Option {
	return func(s *Session) {
		s.negotiate = n
	}
}

// WithStreamNamespace sets the content namespace announced in the stream
// header. Only jabber:client and jabber:component:accept are supported.
func WithStreamNamespace(space string) Option {
	return func(s *Session) {
		s.streamNS = space
	}
}

// WithFeatures replaces the default client stream features.
func WithFeatures(f ...StreamFeature) Option {
	return func(s *Session) {
		s.features = append([]StreamFeature{}, f...)
	}
}

// WithPassword sets the credentials used by the default SASL feature.
// Identity is the authorization identity and is normally empty.
func WithPassword(identity, password string) Option {
	return func(s *Session) {
		s.identity = identity
		s.password = password
	}
}

// WithMechanisms sets the SASL mechanisms used by the default SASL feature in
// order of preference.
func WithMechanisms(m ...sasl.Mechanism) Option {
	return func(s *Session) {
		s.mechanisms = m
	}
}

// AllowInsecurePlain permits the PLAIN mechanism on streams that are not
// protected by TLS.
func AllowInsecurePlain() Option {
	return func(s *Session) {
		s.allowPlain = true
	}
}

// WithDialer sets the dialer used by Connect.
func WithDialer(d *dial.Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithResolver sets the resolver used to look up SRV and address records.
// It applies to the dialer set with WithDialer, or to the default dialer.
func WithResolver(r dial.Resolver) Option {
	return func(s *Session) {
		s.resolver = r
	}
}

// WithHost connects to host instead of looking up SRV records.
// A zero port uses the default port for the connection type.
func WithHost(host string, port uint16) Option {
	return func(s *Session) {
		s.host = host
		s.port = port
	}
}

// WithTLSConfig sets the TLS configuration used by STARTTLS.
// If ServerName is empty the domain of the session is used.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Session) {
		s.tlsConfig = cfg
	}
}

// DisableStartTLS never negotiates STARTTLS even if it is offered.
func DisableStartTLS() Option {
	return func(s *Session) {
		s.disableStartTLS = true
	}
}

// ForceStartTLS fails negotiation if the server does not offer STARTTLS on an
// unencrypted stream.
func ForceStartTLS() Option {
	return func(s *Session) {
		s.forceStartTLS = true
	}
}

// WithLang sets the xml:lang of the stream header.
func WithLang(lang string) Option {
	return func(s *Session) {
		s.lang = lang
	}
}

// WithKeepalive sets the whitespace keepalive interval.
// Zero disables keepalives.
func WithKeepalive(d time.Duration) Option {
	return func(s *Session) {
		s.keepalive = d
	}
}

// WithIQTimeout sets the default time SendIQ waits for a reply.
func WithIQTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.iqTimeout = d
		}
	}
}

// WithDisconnectWait sets how long Disconnect waits for the server to close its
// stream.
func WithDisconnectWait(d time.Duration) Option {
	return func(s *Session) {
		s.disconnectWait = d
	}
}

// WithBackoff sets the reconnection backoff used by Run.
func WithBackoff(b *transport.Backoff) Option {
	return func(s *Session) {
		if b != nil {
			s.backoff = b
		}
	}
}

// WithIDFunc sets the function used to generate stanza ids.
// The default returns random UUIDs.
func WithIDFunc(f func() string) Option {
	return func(s *Session) {
		s.newID = f
	}
}
