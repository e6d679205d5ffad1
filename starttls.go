// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"crypto/tls"
	"fmt"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
	"mellium.im/xmppcore/transport"
)

// StartTLS returns a new stream feature that can be used for negotiating TLS.
// If cfg is nil the session's TLS config (see WithTLSConfig) is used.
//
// When the server certificate cannot be verified the ssl_invalid_chain event is
// emitted and the connection fails. Callers that want to accept such
// certificates must do so from cfg (for example with VerifyConnection).
func StartTLS(cfg *tls.Config) StreamFeature {
	return StreamFeature{
		Name:    startTLSName,
		Order:   OrderStartTLS,
		Restart: true,
		Negotiate: func(ctx context.Context, n *Negotiation, _ *stanza.Element) (bool, error) {
			s := n.Session()
			if s.disableStartTLS || n.Transport().Secure() {
				return false, nil
			}
			n.SetState(StartingTLS)

			err := n.Send(ctx, stanza.NewElement(ns.StartTLS, "starttls"))
			if err != nil {
				return false, err
			}
			resp, err := n.Next(ctx)
			if err != nil {
				return false, err
			}
			switch {
			case resp.Name.Space != ns.StartTLS:
				return false, s.sendStreamError(n.c, stream.UnsupportedStanzaType, fmt.Errorf("unexpected %s during STARTTLS", resp.Name.Local))
			case resp.Name.Local == "proceed":
			case resp.Name.Local == "failure":
				// The server closes the stream after a failure.
				return false, ErrTLSFailed
			default:
				return false, s.sendStreamError(n.c, stream.UnsupportedStanzaType, fmt.Errorf("unexpected %s during STARTTLS", resp.Name.Local))
			}

			err = n.Upgrade(ctx, transport.TLS(s.clientTLSConfig(cfg)))
			if err != nil {
				if transport.IsCertificateError(err) {
					s.logger.Info("invalid certificate chain", "err", err)
					s.emit(Event{Name: EventInvalidChain, Err: err})
				}
				return false, err
			}
			s.logger.Info("TLS negotiated")
			s.emit(Event{Name: EventTLSSuccess})
			return true, nil
		},
	}
}

func (s *Session) clientTLSConfig(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		cfg = s.tlsConfig
	}
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = s.origin.Domainpart()
	}
	return cfg
}
