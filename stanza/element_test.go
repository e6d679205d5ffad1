// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"testing"

	"mellium.im/xmlstream"
	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/stanza"
)

var (
	_ xmlstream.Marshaler = (*stanza.Element)(nil)
	_ xmlstream.WriterTo  = (*stanza.Element)(nil)
	_ xml.Marshaler       = (*stanza.Element)(nil)
)

var serializeTests = [...]struct {
	in  string
	s   stanza.Serializer
	out string
}{
	0: {
		in:  `<message xmlns="jabber:client" to="a@b"><body>hi</body></message>`,
		s:   stanza.Serializer{Namespace: ns.Client},
		out: `<message to="a@b"><body>hi</body></message>`,
	},
	1: {
		in:  `<message xmlns="jabber:client"/>`,
		out: `<message xmlns="jabber:client"/>`,
	},
	2: {
		in:  `<iq xmlns="jabber:client"><ping xmlns="urn:xmpp:ping"/></iq>`,
		s:   stanza.Serializer{Namespace: ns.Client},
		out: `<iq><ping xmlns="urn:xmpp:ping"/></iq>`,
	},
	3: {
		in:  `<message xmlns="jabber:client" xml:lang="en"><body>a &amp; b &lt; "c" 'd'</body></message>`,
		s:   stanza.Serializer{Namespace: ns.Client},
		out: `<message xml:lang="en"><body>a &amp; b &lt; &quot;c&quot; 'd'</body></message>`,
	},
	4: {
		in:  `<body xmlns="jabber:client">'d'</body>`,
		s:   stanza.Serializer{Namespace: ns.Client, EscapeApos: true},
		out: `<body>&apos;d&apos;</body>`,
	},
	5: {
		in:  `<body xmlns="jabber:client">a &lt; ]]&gt; b</body>`,
		s:   stanza.Serializer{Namespace: ns.Client, CDATA: true},
		out: `<body><![CDATA[a < ]]]]><![CDATA[> b]]></body>`,
	},
	6: {
		in:  `<error xmlns="http://etherx.jabber.org/streams"><conflict xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></error>`,
		s:   stanza.StreamSerializer(ns.Client),
		out: `<stream:error><conflict xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error>`,
	},
	7: {
		in:  `<a xmlns="urn:a" xmlns:b="urn:b" b:c="d"/>`,
		s:   stanza.Serializer{Namespace: "urn:a"},
		out: `<a xmlns:ns1="urn:b" ns1:c="d"/>`,
	},
	8: {
		in:  `<a xmlns="urn:a">text<b/>tail<c/>more</a>`,
		s:   stanza.Serializer{Namespace: "urn:a"},
		out: `<a>text<b/>tail<c/>more</a>`,
	},
	9: {
		in:  `<a xmlns="urn:a"><b xmlns="urn:b"><c/></b><d/></a>`,
		s:   stanza.Serializer{Namespace: "urn:a"},
		out: `<a><b xmlns="urn:b"><c/></b><d/></a>`,
	},
}

func TestSerialize(t *testing.T) {
	for i, tc := range serializeTests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			e, err := stanza.ParseString(tc.in)
			if err != nil {
				t.Fatalf("error parsing input: %v", err)
			}
			if out := tc.s.String(e); out != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, out)
			}
			var buf bytes.Buffer
			if err := tc.s.Write(&buf, e); err != nil {
				t.Fatalf("error writing: %v", err)
			}
			if buf.String() != tc.out {
				t.Errorf("Write and String differ:\nwant=%s,\n got=%s", tc.out, buf.String())
			}
		})
	}
}

func TestElementRoundTrip(t *testing.T) {
	const in = `<iq xmlns="jabber:client" type="get" id="1"><query xmlns="urn:example"><item a="b">x</item></query></iq>`
	e := stanza.MustParseString(in)
	e2, err := stanza.ParseString(e.String())
	if err != nil {
		t.Fatal(err)
	}
	if e.String() != e2.String() {
		t.Errorf("round trip changed element:\nwant=%s,\n got=%s", e, e2)
	}
}

func TestElementTokenReader(t *testing.T) {
	e := stanza.MustParseString(`<iq xmlns="jabber:client" id="1"><ping xmlns="urn:xmpp:ping"/></iq>`)
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := e.WriteXML(enc); err != nil {
		t.Fatal(err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}
	const want = `<iq xmlns="jabber:client" id="1"><ping xmlns="urn:xmpp:ping"></ping></iq>`
	if buf.String() != want {
		t.Errorf("wrong encoding:\nwant=%s,\n got=%s", want, buf.String())
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	type bind struct {
		XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
		Resource string   `xml:"resource,omitempty"`
		JID      string   `xml:"jid,omitempty"`
	}
	e, err := stanza.Marshal(bind{Resource: "r"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Name.Space != ns.Bind || e.Name.Local != "bind" {
		t.Errorf("wrong name: %v", e.Name)
	}
	if c := e.Child(xml.Name{Local: "resource"}); c == nil || c.Text != "r" {
		t.Fatalf("missing resource child: %s", e)
	}

	var b bind
	if err := stanza.Unmarshal(stanza.MustParseString(`<bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><jid>u@d/r</jid></bind>`), &b); err != nil {
		t.Fatal(err)
	}
	if b.JID != "u@d/r" {
		t.Errorf("wrong jid: want=%q, got=%q", "u@d/r", b.JID)
	}
}

func TestElementChildren(t *testing.T) {
	e := stanza.MustParseString(`<a xmlns="urn:a"><b/><c/><b/></a>`)
	name := xml.Name{Space: "urn:a", Local: "b"}
	if n := len(e.ChildrenNamed(name)); n != 2 {
		t.Errorf("wrong number of children: want=2, got=%d", n)
	}
	c := e.Child(xml.Name{Local: "c"})
	if !e.RemoveChild(c) {
		t.Errorf("expected child to be removed")
	}
	if e.RemoveChild(c) {
		t.Errorf("child removed twice")
	}
	if n := e.RemoveChildren(name); n != 2 || len(e.Children) != 0 {
		t.Errorf("wrong removal: n=%d, children=%v", n, e.Children)
	}
}

func TestElementCopy(t *testing.T) {
	e := stanza.MustParseString(`<a xmlns="urn:a" x="1"><b>t</b></a>`)
	c := e.Copy()
	c.SetAttrValue("x", "2")
	c.Children[0].Text = "u"
	if e.AttrValue("x") != "1" || e.Children[0].Text != "t" {
		t.Errorf("copy shares state with the original: %s", e)
	}
}
