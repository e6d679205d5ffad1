// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
)

// DefaultMaxDepth is the nesting limit used when Parser.MaxDepth is zero.
const DefaultMaxDepth = 256

// EventType is the kind of an Event.
type EventType uint8

// A list of parser events.
const (
	// Open is emitted once per stream header.
	Open EventType = iota + 1

	// Element is emitted for every complete direct child of the stream.
	Element

	// Close is emitted when the stream end tag arrives.
	Close
)

func (t EventType) String() string {
	switch t {
	case Open:
		return "stream-open"
	case Element:
		return "stanza"
	case Close:
		return "stream-close"
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// Event is a single step of the stream document.
type Event struct {
	Type    EventType
	Info    stream.Info
	Element *stanza.Element
}

// ParseError is returned for malformed input. Err is the stream error that
// should be sent to the peer before closing the stream.
type ParseError struct {
	Err   stream.Error
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream: %s: %v", e.Err.Err, e.Cause)
	}
	return "stream: " + e.Err.Err
}

// Unwrap returns the stream error condition.
func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(se stream.Error, format string, v ...interface{}) *ParseError {
	return &ParseError{Err: se, Cause: fmt.Errorf(format, v...)}
}

// rawReader reads tokens without namespace translation and drops the XML
// declaration that may begin a stream document.
type rawReader struct {
	d       *xml.Decoder
	started bool
}

func (r *rawReader) Token() (xml.Token, error) {
	tok, err := r.d.RawToken()
	if r.started || tok == nil {
		return tok, err
	}
	r.started = true
	if pi, ok := tok.(xml.ProcInst); ok && pi.Target == "xml" && err == nil {
		return r.d.RawToken()
	}
	return tok, err
}

// Parser reads a never ending stream document and emits one event per stream
// header, direct child and stream footer.
// Children are detached from the root as soon as they are complete so memory
// use does not grow with the life of the stream.
//
// Namespace prefixes are resolved by the parser itself so that stream restarts
// and the unusual shape of the document (a root that is never closed) do not
// depend on decoder state.
type Parser struct {
	// MaxDepth bounds element nesting inside a stanza.
	MaxDepth int

	br     *bufio.Reader
	toks   xml.TokenReader
	scopes []map[string]string
	stack  []*stanza.Element
	opened bool
	closed bool

	// the decoder holds back the byte that ended a text token
	pendingByte bool
}

// NewParser returns a parser reading from r.
func NewParser(r io.Reader) *Parser {
	p := &Parser{}
	p.Reset(r)
	return p
}

// Reset discards all state and starts parsing a new document from r.
// It is used when the underlying connection is replaced (eg. after STARTTLS).
func (p *Parser) Reset(r io.Reader) {
	if br, ok := r.(*bufio.Reader); ok {
		p.br = br
	} else {
		p.br = bufio.NewReader(r)
	}
	p.pendingByte = false
	p.Restart()
}

// Restart starts a new document on the same input without losing any buffered
// bytes.
// It is used for stream restarts after SASL or compression negotiation.
func (p *Parser) Restart() {
	if p.pendingByte {
		_ = p.br.UnreadByte()
		p.pendingByte = false
	}
	d := xml.NewDecoder(p.br)
	d.Strict = true
	p.toks = &rawReader{d: d}
	p.scopes = p.scopes[:0]
	p.stack = nil
	p.opened = false
	p.closed = false
}

// Opened reports whether a stream header has been read since the last reset.
func (p *Parser) Opened() bool {
	return p.opened
}

func (p *Parser) maxDepth() int {
	if p.MaxDepth > 0 {
		return p.MaxDepth
	}
	return DefaultMaxDepth
}

// Next blocks until the next event is available.
// Errors that are not a *ParseError come from the underlying reader.
func (p *Parser) Next() (Event, error) {
	if p.closed {
		return Event{}, io.EOF
	}
	for {
		tok, err := p.toks.Token()
		if err != nil {
			return Event{}, p.decodeErr(err)
		}
		_, p.pendingByte = tok.(xml.CharData)

		switch t := tok.(type) {
		case xml.StartElement:
			ev, ok, err := p.start(t)
			if err != nil || ok {
				return ev, err
			}
		case xml.EndElement:
			ev, ok, err := p.end(t)
			if err != nil || ok {
				return ev, err
			}
		case xml.CharData:
			if len(p.stack) == 0 {
				if len(strings.TrimSpace(string(t))) != 0 {
					return Event{}, parseErr(stream.BadFormat, "text %q outside of a stanza", t)
				}
				continue
			}
			stanza.AppendText(p.stack[len(p.stack)-1], string(t))
		case xml.ProcInst:
			if t.Target == "xml" && !p.opened {
				continue
			}
			return Event{}, parseErr(stream.RestrictedXML, "processing instruction %q", t.Target)
		case xml.Comment:
			return Event{}, parseErr(stream.RestrictedXML, "comment")
		case xml.Directive:
			return Event{}, parseErr(stream.RestrictedXML, "directive")
		}
	}
}

func (p *Parser) decodeErr(err error) error {
	if errors.Is(err, io.EOF) {
		if len(p.stack) > 0 {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	var synErr *xml.SyntaxError
	if errors.As(err, &synErr) {
		switch {
		case strings.Contains(synErr.Msg, "unexpected EOF"):
			return io.ErrUnexpectedEOF
		case strings.Contains(synErr.Msg, "entity"):
			return &ParseError{Err: stream.RestrictedXML, Cause: err}
		case strings.Contains(synErr.Msg, "encoding"):
			return &ParseError{Err: stream.UnsupportedEncoding, Cause: err}
		}
		return &ParseError{Err: stream.NotWellFormed, Cause: err}
	}
	if strings.Contains(err.Error(), "CharsetReader") {
		return &ParseError{Err: stream.UnsupportedEncoding, Cause: err}
	}
	return err
}

func (p *Parser) lookup(prefix string) (string, bool) {
	switch prefix {
	case "xml":
		return ns.XML, true
	case "xmlns":
		return "", false
	}
	for i := len(p.scopes) - 1; i >= 0; i-- {
		if uri, ok := p.scopes[i][prefix]; ok {
			return uri, true
		}
	}
	return "", prefix == ""
}

func (p *Parser) pushScope(attrs []xml.Attr) {
	var scope map[string]string
	for _, a := range attrs {
		var prefix string
		switch {
		case a.Name.Space == "" && a.Name.Local == "xmlns":
		case a.Name.Space == "xmlns":
			prefix = a.Name.Local
		default:
			continue
		}
		if scope == nil {
			scope = make(map[string]string)
		}
		scope[prefix] = a.Value
	}
	p.scopes = append(p.scopes, scope)
}

func (p *Parser) resolve(start xml.StartElement) (*stanza.Element, error) {
	space, ok := p.lookup(start.Name.Space)
	if !ok {
		return nil, parseErr(stream.BadNamespacePrefix, "undeclared prefix %q on <%s>", start.Name.Space, start.Name.Local)
	}
	e := &stanza.Element{Name: xml.Name{Space: space, Local: start.Name.Local}}
	for _, a := range start.Attr {
		if stanza.IsNamespaceDecl(a.Name) {
			continue
		}
		if a.Name.Space != "" {
			space, ok := p.lookup(a.Name.Space)
			if !ok {
				return nil, parseErr(stream.BadNamespacePrefix, "undeclared prefix %q on attribute %s", a.Name.Space, a.Name.Local)
			}
			a.Name.Space = space
		}
		e.Attr = append(e.Attr, a)
	}
	return e, nil
}

func (p *Parser) start(t xml.StartElement) (Event, bool, error) {
	reopen := p.opened && len(p.stack) == 0 && t.Name.Local == "stream"
	if reopen {
		p.scopes = p.scopes[:0]
		p.opened = false
	}
	p.pushScope(t.Attr)
	e, err := p.resolve(t)
	if err != nil {
		return Event{}, false, err
	}

	if !p.opened {
		switch {
		case e.Name.Local != "stream":
			return Event{}, false, parseErr(stream.BadFormat, "expected stream header, got <%s>", e.Name.Local)
		case e.Name.Space != stream.NS:
			return Event{}, false, parseErr(stream.InvalidNamespace, "stream header in namespace %q", e.Name.Space)
		}
		info := stream.Info{}
		if err := info.FromStartElement(xml.StartElement{Name: e.Name, Attr: t.Attr}); err != nil {
			var se stream.Error
			if errors.As(err, &se) {
				return Event{}, false, &ParseError{Err: se}
			}
			return Event{}, false, err
		}
		p.opened = true
		return Event{Type: Open, Info: info}, true, nil
	}

	if len(p.stack) >= p.maxDepth() {
		return Event{}, false, parseErr(stream.PolicyViolation, "maximum nesting depth of %d exceeded", p.maxDepth())
	}
	if n := len(p.stack); n > 0 {
		p.stack[n-1].AppendChild(e)
	}
	p.stack = append(p.stack, e)
	return Event{}, false, nil
}

func (p *Parser) end(t xml.EndElement) (Event, bool, error) {
	space, ok := p.lookup(t.Name.Space)
	if !ok {
		return Event{}, false, parseErr(stream.BadNamespacePrefix, "undeclared prefix %q on </%s>", t.Name.Space, t.Name.Local)
	}
	name := xml.Name{Space: space, Local: t.Name.Local}
	if len(p.scopes) > 0 {
		p.scopes = p.scopes[:len(p.scopes)-1]
	}

	n := len(p.stack)
	if n == 0 {
		if !p.opened || name != (xml.Name{Space: stream.NS, Local: "stream"}) {
			return Event{}, false, parseErr(stream.NotWellFormed, "unexpected end tag </%s>", t.Name.Local)
		}
		p.closed = true
		return Event{Type: Close}, true, nil
	}

	top := p.stack[n-1]
	if top.Name != name {
		return Event{}, false, parseErr(stream.NotWellFormed, "element <%s> closed by </%s>", top.Name.Local, t.Name.Local)
	}
	p.stack[n-1] = nil
	p.stack = p.stack[:n-1]
	if n > 1 {
		return Event{}, false, nil
	}
	return Event{Type: Element, Element: top}, true, nil
}
