// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package matcher

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/jid"
	"mellium.im/xmppcore/stanza"
)

// Matcher reports whether a stanza should be handed to a handler.
type Matcher interface {
	Match(s *stanza.Stanza) bool
}

// The Func type is an adapter to allow the use of ordinary functions as
// matchers.
type Func func(s *stanza.Stanza) bool

// Match calls f(s).
func (f Func) Match(s *stanza.Stanza) bool {
	return f(s)
}

// Any matches every stanza.
var Any Matcher = Func(func(*stanza.Stanza) bool { return true })

// ID matches stanzas with the given id.
func ID(id string) Matcher {
	return Func(func(s *stanza.Stanza) bool {
		return s.ID() == id
	})
}

// IDSender matches replies to a request with the given id that was sent by self
// to peer.
// Servers answer requests sent to the account itself (or with no to address)
// from the bare JID, the domain or with no from at all, and a reply from the
// bare JID of a full peer address is accepted as well.
func IDSender(id string, self, peer jid.JID) Matcher {
	allowed := map[string]struct{}{
		peer.String():        {},
		peer.Bare().String(): {},
	}
	if peer.IsZero() || peer.Bare().Equal(self.Bare()) || peer.Equal(self.Domain()) {
		allowed[""] = struct{}{}
		allowed[self.Bare().String()] = struct{}{}
		allowed[self.Domain().String()] = struct{}{}
		allowed[self.String()] = struct{}{}
	}
	return Func(func(s *stanza.Stanza) bool {
		if s.ID() != id {
			return false
		}
		_, ok := allowed[s.Element().AttrValue("from")]
		if ok {
			return true
		}
		from := s.From()
		if from.IsZero() {
			return false
		}
		_, ok = allowed[from.String()]
		return ok
	})
}

// StanzaPath matches stanzas against a path over the typed interface chain,
// for example "iq@type=set/bind".
// See stanza.Stanza.Match for the syntax.
func StanzaPath(path string) Matcher {
	return Func(func(s *stanza.Stanza) bool {
		return s.Match(path)
	})
}

// Many matches when any of ms match.
func Many(ms ...Matcher) Matcher {
	return Func(func(s *stanza.Stanza) bool {
		for _, m := range ms {
			if m.Match(s) {
				return true
			}
		}
		return false
	})
}

// All matches when every one of ms match.
func All(ms ...Matcher) Matcher {
	return Func(func(s *stanza.Stanza) bool {
		for _, m := range ms {
			if !m.Match(s) {
				return false
			}
		}
		return true
	})
}

// Name matches stanzas by the XML name of their element.
// An empty namespace or local name matches any value.
func Name(name xml.Name) Matcher {
	return Func(func(s *stanza.Stanza) bool {
		n := s.Name()
		return (name.Space == "" || name.Space == n.Space) &&
			(name.Local == "" || name.Local == n.Local)
	})
}

var errEmptyPath = errors.New("matcher: empty path")

type step struct {
	name  xml.Name
	preds []pred
}

type pred struct {
	attr     xml.Name
	value    string
	hasValue bool
}

func (st step) match(e *stanza.Element) bool {
	if st.name.Local != "*" && st.name.Local != e.Name.Local {
		return false
	}
	if st.name.Space != "" && st.name.Space != e.Name.Space {
		return false
	}
	for _, p := range st.preds {
		v, ok := e.Attribute(p.attr)
		if !ok || (p.hasValue && v != p.value) {
			return false
		}
	}
	return true
}

// XPath returns a matcher for a simplified XPath expression.
// Steps are separated by "/" and have the form "{namespace}local" or "local"
// (any namespace) or "*", optionally followed by predicates "[@attr]" or
// "[@attr='value']".
// Attribute names may carry the xml prefix ("[@xml:lang='en']") or a namespace
// ("[@{urn:example}attr]"); unprefixed names match attributes without a
// namespace.
// The first step is matched against the stanza itself and each following step
// against the children of the elements matched by the previous one.
func XPath(path string) (Matcher, error) {
	steps, err := parseXPath(path)
	if err != nil {
		return nil, err
	}
	return Func(func(s *stanza.Stanza) bool {
		cur := []*stanza.Element{s.Element()}
		if !steps[0].match(cur[0]) {
			return false
		}
		for _, st := range steps[1:] {
			var next []*stanza.Element
			for _, e := range cur {
				for _, c := range e.Children {
					if st.match(c) {
						next = append(next, c)
					}
				}
			}
			if len(next) == 0 {
				return false
			}
			cur = next
		}
		return true
	}), nil
}

// MustXPath is like XPath but panics if the path cannot be parsed.
func MustXPath(path string) Matcher {
	m, err := XPath(path)
	if err != nil {
		panic(err)
	}
	return m
}

func parseXPath(path string) ([]step, error) {
	parts := stanza.SplitPath(path)
	if len(parts) == 0 {
		return nil, errEmptyPath
	}
	steps := make([]step, 0, len(parts))
	for _, part := range parts {
		st, err := parseStep(part)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func parseStep(part string) (step, error) {
	var st step
	if strings.HasPrefix(part, "{") {
		end := strings.IndexByte(part, '}')
		if end < 0 {
			return st, fmt.Errorf("matcher: unterminated namespace in %q", part)
		}
		st.name.Space = part[1:end]
		part = part[end+1:]
	}
	local := part
	if i := strings.IndexByte(part, '['); i >= 0 {
		local = part[:i]
		part = part[i:]
	} else {
		part = ""
	}
	if local == "" {
		return st, fmt.Errorf("matcher: missing element name in path step")
	}
	st.name.Local = local

	for part != "" {
		end := strings.IndexByte(part, ']')
		if !strings.HasPrefix(part, "[@") || end < 0 {
			return st, fmt.Errorf("matcher: invalid predicate %q", part)
		}
		expr := part[2:end]
		part = part[end+1:]
		var p pred
		name := expr
		if i := strings.IndexByte(expr, '='); i >= 0 {
			name = expr[:i]
			p.value = strings.Trim(expr[i+1:], `'"`)
			p.hasValue = true
		}
		attr, err := parseAttrName(name)
		if err != nil {
			return st, err
		}
		p.attr = attr
		st.preds = append(st.preds, p)
	}
	return st, nil
}

// parseAttrName accepts "local", "xml:local" and "{namespace}local".
// Unprefixed names only match attributes without a namespace.
func parseAttrName(s string) (xml.Name, error) {
	var n xml.Name
	switch {
	case strings.HasPrefix(s, "{"):
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return n, fmt.Errorf("matcher: unterminated namespace in attribute %q", s)
		}
		n.Space, n.Local = s[1:end], s[end+1:]
	case strings.HasPrefix(s, "xml:"):
		n.Space, n.Local = ns.XML, s[len("xml:"):]
	case strings.ContainsRune(s, ':'):
		return n, fmt.Errorf("matcher: unknown prefix in attribute %q", s)
	default:
		n.Local = s
	}
	if n.Local == "" {
		return n, errors.New("matcher: empty attribute in predicate")
	}
	return n, nil
}

// XMLMask matches stanzas whose XML is a superset of mask: every attribute and
// non-empty text of the mask must be present with the same value and every
// mask child must match some child of the stanza.
// Mask elements without a namespace are in space.
func XMLMask(mask, space string) (Matcher, error) {
	m, err := stanza.ParseString(mask)
	if err != nil {
		return nil, fmt.Errorf("matcher: invalid mask: %w", err)
	}
	setDefaultNS(m, space)
	return Func(func(s *stanza.Stanza) bool {
		return maskMatch(s.Element(), m)
	}), nil
}

// MustXMLMask is like XMLMask but panics if the mask cannot be parsed.
func MustXMLMask(mask, space string) Matcher {
	m, err := XMLMask(mask, space)
	if err != nil {
		panic(err)
	}
	return m
}

func setDefaultNS(e *stanza.Element, space string) {
	if e.Name.Space == "" {
		e.Name.Space = space
	}
	for _, c := range e.Children {
		setDefaultNS(c, e.Name.Space)
	}
}

func maskMatch(e, mask *stanza.Element) bool {
	if e.Name != mask.Name {
		return false
	}
	if t := strings.TrimSpace(mask.Text); t != "" && t != strings.TrimSpace(e.Text) {
		return false
	}
	for _, a := range mask.Attr {
		v, ok := e.Attribute(a.Name)
		if !ok || v != a.Value {
			return false
		}
	}
	for _, mc := range mask.Children {
		found := false
		for _, c := range e.Children {
			if maskMatch(c, mc) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
