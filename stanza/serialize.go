// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"mellium.im/xmppcore/internal/ns"
)

// Serializer writes elements in a form suitable for an XMPP stream.
//
// Elements in the default Namespace are written without an xmlns attribute.
// Namespaces listed in Prefixes are assumed to be declared by an enclosing
// element (for example the stream prefix on the stream header) and are written
// using their prefix.
type Serializer struct {
	Namespace  string
	Prefixes   map[string]string
	EscapeApos bool
	CDATA      bool
}

// StreamSerializer returns a serializer for stanzas written as children of a
// stream header with the given content namespace.
func StreamSerializer(space string) Serializer {
	return Serializer{
		Namespace: space,
		Prefixes:  map[string]string{ns.Stream: "stream"},
	}
}

// String returns the serialized form of e.
func (s Serializer) String(e *Element) string {
	var sb strings.Builder
	s.write(&sb, e, s.Namespace)
	return sb.String()
}

// Write writes the serialized form of e to w.
func (s Serializer) Write(w io.Writer, e *Element) error {
	bw := bufio.NewWriter(w)
	s.write(bw, e, s.Namespace)
	return bw.Flush()
}

type stringWriter interface {
	WriteString(string) (int, error)
	WriteByte(byte) error
}

func (s Serializer) write(w stringWriter, e *Element, defaultNS string) {
	w.WriteByte('<')
	var tag string
	childNS := defaultNS
	switch prefix, ok := s.Prefixes[e.Name.Space]; {
	case ok && e.Name.Space != "":
		tag = prefix + ":" + e.Name.Local
		w.WriteString(tag)
	case e.Name.Space == "" || e.Name.Space == defaultNS:
		tag = e.Name.Local
		w.WriteString(tag)
	default:
		tag = e.Name.Local
		w.WriteString(tag)
		w.WriteString(` xmlns="`)
		w.WriteString(s.escape(e.Name.Space))
		w.WriteByte('"')
		childNS = e.Name.Space
	}

	var declared map[string]string
	for _, a := range e.Attr {
		if IsNamespaceDecl(a.Name) {
			continue
		}
		w.WriteByte(' ')
		switch prefix, ok := s.Prefixes[a.Name.Space]; {
		case a.Name.Space == "":
		case a.Name.Space == ns.XML || a.Name.Space == "xml":
			w.WriteString("xml:")
		case ok:
			w.WriteString(prefix)
			w.WriteByte(':')
		default:
			if declared == nil {
				declared = make(map[string]string)
			}
			p, ok := declared[a.Name.Space]
			if !ok {
				p = "ns" + strconv.Itoa(len(declared)+1)
				declared[a.Name.Space] = p
				w.WriteString("xmlns:")
				w.WriteString(p)
				w.WriteString(`="`)
				w.WriteString(s.escape(a.Name.Space))
				w.WriteString(`" `)
			}
			w.WriteString(p)
			w.WriteByte(':')
		}
		w.WriteString(a.Name.Local)
		w.WriteString(`="`)
		w.WriteString(s.escape(a.Value))
		w.WriteByte('"')
	}

	if e.Text == "" && len(e.Children) == 0 {
		w.WriteString("/>")
		return
	}
	w.WriteByte('>')
	s.text(w, e.Text)
	for _, c := range e.Children {
		s.write(w, c, childNS)
		s.text(w, c.Tail)
	}
	w.WriteString("</")
	w.WriteString(tag)
	w.WriteByte('>')
}

func (s Serializer) text(w stringWriter, text string) {
	if text == "" {
		return
	}
	if s.CDATA {
		w.WriteString("<![CDATA[")
		w.WriteString(strings.ReplaceAll(text, "]]>", "]]]]><![CDATA[>"))
		w.WriteString("]]>")
		return
	}
	w.WriteString(s.escape(text))
}

var (
	escaper     = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;")
	escaperApos = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;", `'`, "&apos;")
)

func (s Serializer) escape(text string) string {
	if s.EscapeApos {
		return escaperApos.Replace(text)
	}
	return escaper.Replace(text)
}
