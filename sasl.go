// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"mellium.im/sasl"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/internal/saslerr"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
)

// DefaultMechanisms is the list of SASL mechanisms used when none are
// configured, strongest first.
var DefaultMechanisms = []sasl.Mechanism{
	sasl.ScramSha256Plus,
	sasl.ScramSha1Plus,
	sasl.ScramSha256,
	sasl.ScramSha1,
	sasl.Plain,
}

// External is the SASL EXTERNAL mechanism. The server authenticates the
// client using credentials from a lower layer, normally a TLS client
// certificate, and the authorization identity (if any) is sent as the initial
// response.
var External = sasl.Mechanism{
	Name: "EXTERNAL",
	Start: func(m *sasl.Negotiator) (bool, []byte, interface{}, error) {
		_, _, identity := m.Credentials()
		return false, identity, nil, nil
	},
	Next: func(*sasl.Negotiator, []byte, interface{}) (bool, []byte, interface{}, error) {
		return false, nil, nil, sasl.ErrTooManySteps
	},
}

// SASL returns a stream feature for performing authentication using the Simple
// Authentication and Security Layer (SASL) as defined in RFC 4422.
// The order in which mechanisms are specified will be the preferred order, so
// stronger mechanisms should be listed first. If no mechanisms are given
// DefaultMechanisms is used.
//
// Each mechanism offered by the server is tried in turn: a <failure/> emits
// failed_auth and moves on to the next mechanism. When none are left
// failed_all_auth is emitted and an *AuthError is returned.
// PLAIN is skipped on streams that are not encrypted unless AllowInsecurePlain
// is set.
func SASL(identity, password string, mechanisms ...sasl.Mechanism) StreamFeature {
	if len(mechanisms) == 0 {
		mechanisms = DefaultMechanisms
	}
	return StreamFeature{
		Name:    xml.Name{Space: ns.SASL, Local: "mechanisms"},
		Order:   OrderSASL,
		Restart: true,
		Negotiate: func(ctx context.Context, n *Negotiation, feature *stanza.Element) (bool, error) {
			s := n.Session()
			n.SetState(Authenticating)

			var offered []string
			for _, m := range feature.ChildrenNamed(xml.Name{Space: ns.SASL, Local: "mechanism"}) {
				offered = append(offered, strings.TrimSpace(m.Text))
			}
			connState, secure := n.Transport().ConnectionState()

			authErr := &AuthError{}
			for _, m := range mechanisms {
				if !contains(offered, m.Name) {
					continue
				}
				if m.Name == sasl.Plain.Name && !secure && !s.allowPlain {
					s.logger.Debug("skipping PLAIN on an insecure stream")
					continue
				}
				if strings.HasSuffix(m.Name, "-PLUS") && !secure {
					continue
				}

				opts := []sasl.Option{
					sasl.Credentials(func() ([]byte, []byte, []byte) {
						return []byte(s.origin.Localpart()), []byte(password), []byte(identity)
					}),
					sasl.RemoteMechanisms(offered...),
				}
				if secure {
					opts = append(opts, sasl.TLSState(connState))
				}
				err := authenticate(ctx, n, m, sasl.NewClient(m, opts...))
				var fail saslerr.Failure
				if errors.As(err, &fail) {
					s.logger.Info("authentication failed", "mechanism", m.Name, "condition", fail.Condition.String())
					s.emit(Event{Name: EventFailedAuth, Mechanism: m.Name, Err: fail})
					authErr.Failures = append(authErr.Failures, fail)
					continue
				}
				if err != nil {
					return false, err
				}
				s.logger.Info("authenticated", "mechanism", m.Name)
				s.emit(Event{Name: EventAuthSuccess, Mechanism: m.Name})
				return true, nil
			}
			s.emit(Event{Name: EventFailedAllAuth, Err: authErr})
			return false, authErr
		},
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func authenticate(ctx context.Context, n *Negotiation, m sasl.Mechanism, client *sasl.Negotiator) error {
	more, resp, err := client.Step(nil)
	if err != nil {
		return err
	}
	auth := stanza.NewElement(ns.SASL, "auth")
	auth.SetAttrValue("mechanism", m.Name)
	auth.Text = encodeSASL(resp)
	if err = n.Send(ctx, auth); err != nil {
		return err
	}

	for {
		e, err := n.Next(ctx)
		if err != nil {
			return err
		}
		if e.Name.Space != ns.SASL {
			return n.s.sendStreamError(n.c, stream.UnsupportedStanzaType, fmt.Errorf("unexpected %s during SASL", e.Name.Local))
		}
		switch e.Name.Local {
		case "challenge":
			challenge, err := decodeSASL(e.Text)
			if err != nil {
				return n.s.sendStreamError(n.c, stream.BadFormat, err)
			}
			if more, resp, err = client.Step(challenge); err != nil {
				return err
			}
			r := stanza.NewElement(ns.SASL, "response")
			r.Text = encodeSASL(resp)
			if err = n.Send(ctx, r); err != nil {
				return err
			}
		case "success":
			data, err := decodeSASL(e.Text)
			if err != nil {
				return n.s.sendStreamError(n.c, stream.BadFormat, err)
			}
			// Additional data with success carries the server's final message
			// (eg. the SCRAM server signature) and must be verified.
			if len(data) > 0 && more {
				if _, _, err = client.Step(data); err != nil {
					return err
				}
			}
			return nil
		case "failure":
			return saslerr.FromElement(e, language.Make(n.s.lang))
		default:
			return n.s.sendStreamError(n.c, stream.UnsupportedStanzaType, fmt.Errorf("unexpected %s during SASL", e.Name.Local))
		}
	}
}

// RFC 6120 §6.4.2:
//
//	If the initiating entity needs to send a zero-length initial response, it
//	MUST transmit the response as a single equals sign character ("="), which
//	indicates that the response is present but contains no data.
func encodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeSASL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "=" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
