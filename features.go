// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"slices"

	"mellium.im/sasl"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
)

// ErrRequiredFeature is returned when the server requires a stream feature
// that could not be negotiated.
// The stream is closed with an unsupported-feature error and the returned
// *ProtocolError wraps ErrRequiredFeature.
var ErrRequiredFeature = errors.New("xmpp: required stream feature not negotiated")

// Orders of the built in stream features.
const (
	OrderStartTLS    = 0
	OrderSASL        = 100
	OrderCompression = 1000
	OrderBind        = 10000
	OrderSession     = 10001
)

// A StreamFeature represents a feature that may be selected during stream
// negotiation.
type StreamFeature struct {
	// The XML name of the feature in the <stream:features/> list.
	Name xml.Name

	// Features offered in the same list are negotiated in ascending order.
	Order int

	// Restart causes a new stream to be opened after the feature was
	// negotiated. Features after it in the list are not considered until the
	// server sends its next features list.
	Restart bool

	// Negotiate is called with the feature element from the server's list.
	// It reports whether the feature was negotiated. A feature that declines
	// (for example because it is disabled or optional) returns false and a nil
	// error.
	Negotiate func(ctx context.Context, n *Negotiation, feature *stanza.Element) (bool, error)
}

// ClientFeatures returns the stream features used by client sessions by
// default: STARTTLS, SASL, resource binding and session establishment.
func ClientFeatures(identity, password string, mechanisms ...sasl.Mechanism) []StreamFeature {
	return []StreamFeature{
		StartTLS(nil),
		SASL(identity, password, mechanisms...),
		BindResource(),
		StartSession(),
	}
}

// RegisterFeature adds a stream feature, replacing any feature with the same
// name.
// It takes effect on the next connection.
func (s *Session) RegisterFeature(f StreamFeature) {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	s.features = slices.DeleteFunc(s.features, func(old StreamFeature) bool {
		return old.Name == f.Name
	})
	s.features = append(s.features, f)
}

// RemoveFeature removes the stream feature with the given name and reports
// whether it was registered.
func (s *Session) RemoveFeature(name xml.Name) bool {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	n := len(s.features)
	s.features = slices.DeleteFunc(s.features, func(f StreamFeature) bool {
		return f.Name == name
	})
	return len(s.features) != n
}

func (s *Session) streamFeatures() []StreamFeature {
	s.fmu.Lock()
	list := slices.Clone(s.features)
	s.fmu.Unlock()
	slices.SortStableFunc(list, func(a, b StreamFeature) int {
		return a.Order - b.Order
	})
	return list
}

var (
	featuresName = xml.Name{Space: stream.NS, Local: "features"}
	startTLSName = xml.Name{Space: ns.StartTLS, Local: "starttls"}
)

// NegotiateFeatures opens the stream and negotiates the session's stream
// features until the server sends a features list that does not lead to a
// stream restart.
func NegotiateFeatures(ctx context.Context, n *Negotiation) error {
	if err := n.OpenStream(ctx); err != nil {
		return err
	}
	for {
		n.SetState(Features)
		list, err := n.features(ctx)
		if err != nil {
			return err
		}
		if n.s.forceStartTLS && !n.Transport().Secure() && list.Child(startTLSName) == nil {
			return n.StreamError(stream.PolicyViolation, ErrTLSRequired)
		}

		restart := false
		for _, f := range n.s.streamFeatures() {
			if n.negotiated[f.Name] {
				continue
			}
			fe := list.Child(f.Name)
			if fe == nil {
				continue
			}
			ok, err := f.Negotiate(ctx, n, fe)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			n.negotiated[f.Name] = true
			if f.Restart {
				restart = true
				break
			}
		}
		if restart {
			if err := n.Restart(ctx); err != nil {
				return err
			}
			continue
		}

		for _, fe := range list.Children {
			if !n.negotiated[fe.Name] && fe.Child(xml.Name{Space: fe.Name.Space, Local: "required"}) != nil {
				return n.StreamError(stream.UnsupportedFeature, fmt.Errorf("%w: %s", ErrRequiredFeature, fe.Name.Local))
			}
		}
		n.s.emit(Event{Name: EventStreamNegotiated})
		return nil
	}
}

// features reads the next features list, deferring any stanzas that arrive
// first.
func (n *Negotiation) features(ctx context.Context) (*stanza.Element, error) {
	for {
		e, err := n.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case e.Name == featuresName:
			return e, nil
		case stanza.Is(e.Name):
			n.Defer(e)
		default:
			return nil, n.s.sendStreamError(n.c, stream.UnsupportedStanzaType, fmt.Errorf("expected features, got %s", e.Name.Local))
		}
	}
}
