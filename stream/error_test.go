// Copyright 2015 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"testing"

	"mellium.im/xmlstream"
	"mellium.im/xmppcore/stanza"
	"mellium.im/xmppcore/stream"
)

var (
	_ error              = (*stream.Error)(nil)
	_ error              = stream.Error{}
	_ xml.Marshaler      = (*stream.Error)(nil)
	_ xml.Marshaler      = stream.Error{}
	_ xml.Unmarshaler    = (*stream.Error)(nil)
	_ xmlstream.WriterTo = stream.Error{}
)

var marshalSeeOtherHostTests = [...]struct {
	ipaddr net.Addr
	xml    string
}{
	// see-other-host errors should wrap IPv6 addresses in brackets.
	0: {&net.IPAddr{IP: net.ParseIP("::1")}, `<error xmlns="http://etherx.jabber.org/streams"><see-other-host xmlns="urn:ietf:params:xml:ns:xmpp-streams">[::1]</see-other-host></error>`},
	1: {&net.IPAddr{IP: net.ParseIP("127.0.0.1")}, `<error xmlns="http://etherx.jabber.org/streams"><see-other-host xmlns="urn:ietf:params:xml:ns:xmpp-streams">127.0.0.1</see-other-host></error>`},
}

func TestMarshalSeeOtherHost(t *testing.T) {
	for i, test := range marshalSeeOtherHostTests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			soh := stream.SeeOtherHostError(test.ipaddr)
			xb, err := xml.Marshal(soh)
			if err != nil {
				t.Fatal(err)
			}
			if xbs := string(xb); xbs != test.xml {
				t.Errorf("Bad output:\nwant=`%s`,\ngot=`%s`", test.xml, xbs)
			}
		})
	}
}

var unmarshalTests = [...]struct {
	xml string
	se  stream.Error
	err bool
}{
	0: {
		`<stream:error xmlns:stream="http://etherx.jabber.org/streams"><restricted-xml xmlns="urn:ietf:params:xml:ns:xmpp-streams"></restricted-xml></stream:error>`,
		stream.RestrictedXML, false,
	},
	1: {
		`<stream:error></a>`,
		stream.RestrictedXML, true,
	},
	2: {
		`<stream:error xmlns:stream="http://etherx.jabber.org/streams"><conflict xmlns="urn:ietf:params:xml:ns:xmpp-streams"/><text xmlns="urn:ietf:params:xml:ns:xmpp-streams" xml:lang="en">Replaced</text></stream:error>`,
		stream.Error{Err: "conflict", Text: "Replaced", Lang: "en"}, false,
	},
	3: {
		`<stream:error xmlns:stream="http://etherx.jabber.org/streams"><see-other-host xmlns="urn:ietf:params:xml:ns:xmpp-streams">[2001:db8::1]:5222</see-other-host></stream:error>`,
		stream.Error{Err: "see-other-host", Content: "[2001:db8::1]:5222"}, false,
	},
}

func TestUnmarshal(t *testing.T) {
	for i, test := range unmarshalTests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			s := stream.Error{}
			err := xml.Unmarshal([]byte(test.xml), &s)
			switch {
			case test.err && err == nil:
				t.Errorf("Expected unmarshaling error for `%v` to fail", test.xml)
				return
			case !test.err && err != nil:
				t.Error(err)
				return
			case err != nil:
				return
			case s != test.se:
				t.Errorf("Expected `%#v` but got `%#v`", test.se, s)
			}
		})
	}
}

func TestErrorReturnsErr(t *testing.T) {
	if stream.RestrictedXML.Error() != "restricted-xml" {
		t.Error("Error should return the name of the err")
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("reading: %w", stream.Error{Err: "conflict", Text: "bye"})
	if !errors.Is(err, stream.Conflict) {
		t.Errorf("expected wrapped error to match conflict")
	}
	if errors.Is(err, stream.Reset) {
		t.Errorf("expected wrapped error not to match reset")
	}
}

func TestErrorString(t *testing.T) {
	se := stream.Error{Err: "policy-violation", Text: "too big"}
	const want = `<stream:error><policy-violation xmlns="urn:ietf:params:xml:ns:xmpp-streams"/><text xmlns="urn:ietf:params:xml:ns:xmpp-streams">too big</text></stream:error>`
	if s := se.String(); s != want {
		t.Errorf("wrong output:\nwant=%s,\n got=%s", want, s)
	}
	if se2 := stream.FromElement(stanza.MustParseString(want[:13] + ` xmlns:stream="http://etherx.jabber.org/streams"` + want[13:])); se2 != se {
		t.Errorf("round trip failed: %#v", se2)
	}
}
