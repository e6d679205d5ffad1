// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"mellium.im/xmlstream"
	"mellium.im/xmppcore/internal/attr"
	"mellium.im/xmppcore/internal/ns"
)

// Element is a namespaced XML element.
// Text is the character data before the first child and Tail is the character
// data that follows the element inside its parent.
type Element struct {
	Name     xml.Name
	Attr     []xml.Attr
	Text     string
	Tail     string
	Children []*Element
}

// NewElement returns an empty element with the given namespace and local name.
func NewElement(space, local string) *Element {
	return &Element{Name: xml.Name{Space: space, Local: local}}
}

// AttrValue returns the value of the attribute with the given local name and
// no namespace, or the empty string.
func (e *Element) AttrValue(local string) string {
	_, v := attr.Lookup(e.Attr, xml.Name{Local: local})
	return v
}

// SetAttrValue sets an attribute without a namespace.
// Setting the empty string removes the attribute.
func (e *Element) SetAttrValue(local, value string) {
	e.SetAttribute(xml.Name{Local: local}, value)
}

// Attribute returns the value of the attribute with the given name.
func (e *Element) Attribute(name xml.Name) (string, bool) {
	idx, v := attr.Lookup(e.Attr, name)
	return v, idx != -1
}

// SetAttribute sets the attribute with the given name.
// Setting the empty string removes the attribute.
func (e *Element) SetAttribute(name xml.Name, value string) {
	if value == "" {
		e.Attr = attr.Remove(e.Attr, name)
		return
	}
	e.Attr = attr.Set(e.Attr, name, value)
}

// Lang returns the xml:lang attribute of the element.
func (e *Element) Lang() string {
	v, _ := e.Attribute(xml.Name{Space: ns.XML, Local: "lang"})
	return v
}

// Child returns the first direct child with the given name or nil.
// An empty namespace in name matches any namespace.
func (e *Element) Child(name xml.Name) *Element {
	for _, c := range e.Children {
		if nameMatch(name, c.Name) {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every direct child with the given name in document
// order.
// An empty namespace in name matches any namespace.
func (e *Element) ChildrenNamed(name xml.Name) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if nameMatch(name, c.Name) {
			out = append(out, c)
		}
	}
	return out
}

func nameMatch(want, got xml.Name) bool {
	return want.Local == got.Local && (want.Space == "" || want.Space == got.Space)
}

// AppendChild adds c to the end of the child list and returns it.
func (e *Element) AppendChild(c *Element) *Element {
	e.Children = append(e.Children, c)
	return c
}

// RemoveChild removes c from the child list.
// It reports whether c was a child of e.
func (e *Element) RemoveChild(c *Element) bool {
	for i, child := range e.Children {
		if child == c {
			copy(e.Children[i:], e.Children[i+1:])
			e.Children[len(e.Children)-1] = nil
			e.Children = e.Children[:len(e.Children)-1]
			return true
		}
	}
	return false
}

// RemoveChildren removes every direct child with the given name and returns
// the number of removed children.
func (e *Element) RemoveChildren(name xml.Name) int {
	out := e.Children[:0]
	n := 0
	for _, c := range e.Children {
		if nameMatch(name, c.Name) {
			n++
			continue
		}
		out = append(out, c)
	}
	for i := len(out); i < len(e.Children); i++ {
		e.Children[i] = nil
	}
	e.Children = out
	return n
}

// Copy returns a deep copy of the element.
// The tail of the element is not copied.
func (e *Element) Copy() *Element {
	if e == nil {
		return nil
	}
	c := &Element{
		Name: e.Name,
		Text: e.Text,
	}
	if e.Attr != nil {
		c.Attr = make([]xml.Attr, len(e.Attr))
		copy(c.Attr, e.Attr)
	}
	if e.Children != nil {
		c.Children = make([]*Element, 0, len(e.Children))
		for _, child := range e.Children {
			cc := child.Copy()
			cc.Tail = child.Tail
			c.Children = append(c.Children, cc)
		}
	}
	return c
}

// StartElement returns the start token of the element.
func (e *Element) StartElement() xml.StartElement {
	start := xml.StartElement{Name: e.Name}
	if len(e.Attr) > 0 {
		start.Attr = make([]xml.Attr, len(e.Attr))
		copy(start.Attr, e.Attr)
	}
	return start
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (e *Element) TokenReader() xml.TokenReader {
	readers := make([]xml.TokenReader, 0, 2*len(e.Children)+1)
	if e.Text != "" {
		readers = append(readers, xmlstream.Token(xml.CharData(e.Text)))
	}
	for _, c := range e.Children {
		readers = append(readers, c.TokenReader())
		if c.Tail != "" {
			readers = append(readers, xmlstream.Token(xml.CharData(c.Tail)))
		}
	}
	return xmlstream.Wrap(xmlstream.MultiReader(readers...), e.StartElement())
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (e *Element) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface.
func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	if err != nil {
		return err
	}
	return enc.Flush()
}

// String serializes the element without a default namespace.
func (e *Element) String() string {
	return Serializer{}.String(e)
}

// ReadElement consumes tokens from r until the end of the element started by
// start and returns the resulting tree.
// Namespace declarations are dropped since names carry their namespace.
func ReadElement(r xml.TokenReader, start xml.StartElement) (*Element, error) {
	root := elementFromStart(start)
	stack := []*Element{root}
	for {
		tok, err := r.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		cur := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			child := elementFromStart(t)
			cur.AppendChild(child)
			stack = append(stack, child)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return root, nil
			}
		case xml.CharData:
			AppendText(cur, string(t))
		}
	}
}

// AppendText appends character data to the element at the current position:
// the text if it has no children yet or the tail of its last child.
func AppendText(e *Element, s string) {
	if n := len(e.Children); n > 0 {
		e.Children[n-1].Tail += s
		return
	}
	e.Text += s
}

func elementFromStart(start xml.StartElement) *Element {
	e := &Element{Name: start.Name}
	for _, a := range start.Attr {
		if IsNamespaceDecl(a.Name) {
			continue
		}
		e.Attr = append(e.Attr, a)
	}
	return e
}

// IsNamespaceDecl reports whether the attribute name is an XML namespace
// declaration.
func IsNamespaceDecl(name xml.Name) bool {
	return name.Space == "xmlns" || (name.Space == "" && name.Local == "xmlns")
}

// Parse reads the first element from r.
func Parse(r io.Reader) (*Element, error) {
	d := xml.NewDecoder(r)
	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return nil, errors.New("stanza: no element found")
			}
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return ReadElement(d, start)
		}
	}
}

// ParseString is like Parse but reads from a string.
func ParseString(s string) (*Element, error) {
	return Parse(strings.NewReader(s))
}

// MustParseString is like ParseString but panics on error.
// It simplifies initialization of elements from known-good constant strings.
func MustParseString(s string) *Element {
	e, err := ParseString(s)
	if err != nil {
		panic(fmt.Sprintf("stanza: ParseString(%q): %v", s, err))
	}
	return e
}

// Marshal encodes v using encoding/xml and returns the resulting element.
func Marshal(v interface{}) (*Element, error) {
	var buf bytes.Buffer
	if err := xml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return Parse(&buf)
}

// Unmarshal decodes the element into v using encoding/xml.
func Unmarshal(e *Element, v interface{}) error {
	return xml.NewTokenDecoder(e.TokenReader()).Decode(v)
}
