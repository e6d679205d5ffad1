// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"errors"
	"fmt"
	"testing"

	"mellium.im/xmlstream"
	"mellium.im/xmppcore/jid"
)

var (
	_ error               = (*Error)(nil)
	_ error               = Error{}
	_ xmlstream.WriterTo  = (*Error)(nil)
	_ xmlstream.WriterTo  = Error{}
	_ xmlstream.Marshaler = (*Error)(nil)
	_ xmlstream.Marshaler = Error{}
)

func TestErrorReturnsCondition(t *testing.T) {
	s := Error{Condition: "leprosy"}
	if string(s.Condition) != s.Error() {
		t.Errorf("Expected stanza error to return condition `leprosy` but got %s", s.Error())
	}
	s = Error{Condition: "nope", Text: "Text"}
	if s.Text != s.Error() {
		t.Errorf("Expected stanza error to return text `Text` but got %s", s.Error())
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(ItemNotFound, ""))
	if !errors.Is(err, Error{Condition: ItemNotFound}) {
		t.Errorf("expected wrapped error to match its condition")
	}
	if errors.Is(err, Error{Condition: BadRequest}) {
		t.Errorf("expected wrapped error not to match a different condition")
	}
	if !errors.Is(err, Error{}) {
		t.Errorf("expected wrapped error to match any stanza error")
	}
}

func TestDefaultConditions(t *testing.T) {
	for i, tc := range [...]struct {
		cond Condition
		typ  ErrorType
	}{
		0: {BadRequest, Modify},
		1: {FeatureNotImplemented, Cancel},
		2: {ServiceUnavailable, Cancel},
		3: {ItemNotFound, Cancel},
		4: {NotAuthorized, Auth},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			if DefaultConditions[i] != tc.cond {
				t.Errorf("wrong default condition: want=%s, got=%s", tc.cond, DefaultConditions[i])
			}
			if typ := tc.cond.DefaultType(); typ != tc.typ {
				t.Errorf("wrong default type: want=%s, got=%s", tc.typ, typ)
			}
		})
	}
}

func TestMarshalStanzaError(t *testing.T) {
	for i, data := range [...]struct {
		se  Error
		xml string
		err bool
	}{
		0: {Error{}, "", true},
		1: {Error{Condition: UnexpectedRequest}, `<error><unexpected-request xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></unexpected-request></error>`, false},
		2: {Error{Type: Cancel, Condition: UnexpectedRequest}, `<error type="cancel"><unexpected-request xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></unexpected-request></error>`, false},
		3: {Error{Type: Wait, Condition: UndefinedCondition}, `<error type="wait"><undefined-condition xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></undefined-condition></error>`, false},
		4: {Error{Type: Modify, By: jid.MustParse("test@example.net"), Condition: SubscriptionRequired}, `<error type="modify" by="test@example.net"><subscription-required xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></subscription-required></error>`, false},
		5: {Error{Type: Continue, Condition: ServiceUnavailable, Text: "test"}, `<error type="continue"><service-unavailable xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></service-unavailable><text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">test</text></error>`, false},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			b, err := xml.Marshal(data.se)
			switch {
			case data.err && err == nil:
				t.Errorf("Expected an error when marshaling stanza error %v", data.se)
			case !data.err && err != nil:
				t.Error(err)
			case err != nil:
				return
			case string(b) != data.xml:
				t.Errorf("Expected marshaling stanza error '%v' to be:\n`%s`\nbut got:\n`%s`.", data.se, data.xml, string(b))
			}
		})
	}
}

func TestUnmarshalStanzaError(t *testing.T) {
	for i, data := range [...]struct {
		xml  string
		lang string
		se   Error
		err  bool
	}{
		0: {"", "", Error{}, true},
		1: {`<error><unexpected-request xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></unexpected-request></error>`,
			"", Error{Condition: UnexpectedRequest}, false},
		2: {`<error type="cancel"><registration-required xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></registration-required></error>`,
			"", Error{Type: Cancel, Condition: RegistrationRequired}, false},
		3: {`<error type="modify" by="test@example.net"><subscription-required xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></subscription-required></error>`,
			"", Error{Type: Modify, By: jid.MustParse("test@example.net"), Condition: SubscriptionRequired}, false},
		4: {`<error type="auth"><resource-constraint xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></resource-constraint><text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas" xml:lang="en">test</text></error>`,
			"", Error{Type: Auth, Condition: ResourceConstraint, Text: "test", Lang: "en"}, false},
		5: {`<error type="auth"><resource-constraint xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></resource-constraint><text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas" xml:lang="en">test</text><text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas" xml:lang="de">German</text></error>`,
			"de", Error{Type: Auth, Condition: ResourceConstraint, Text: "German", Lang: "de"}, false},
		6: {`<error><other xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></other></error>`,
			"", Error{Condition: Condition("other")}, false},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			se2 := Error{Lang: data.lang}
			err := xml.Unmarshal([]byte(data.xml), &se2)
			switch {
			case data.err && err == nil:
				t.Errorf("Expected an error when unmarshaling stanza error `%s`", data.xml)
			case !data.err && err != nil:
				t.Error(err)
			case err != nil:
				return
			case data.se != se2:
				t.Errorf("Expected unmarshaled stanza error:\n`%#v`\nbut got:\n`%#v`", data.se, se2)
			}
		})
	}
}

func TestErrorPlugin(t *testing.T) {
	reg := NewRegistry()
	iq := reg.NewIQ(GetIQ)
	iq.SetID("1")
	reply := iq.ErrorReply(NewError(FeatureNotImplemented, "no"))
	if reply.Type() != ErrorIQ {
		t.Errorf("wrong reply type: %s", reply.Type())
	}
	p, ok := reply.LookupPlugin("error")
	if !ok {
		t.Fatalf("error plugin missing: %s", reply)
	}
	if c := p.Get("condition"); c != string(FeatureNotImplemented) {
		t.Errorf("wrong condition: %q", c)
	}
	if typ := p.Get("type"); typ != string(Cancel) {
		t.Errorf("wrong type: %q", typ)
	}
	if text := p.Get("text"); text != "no" {
		t.Errorf("wrong text: %q", text)
	}

	if err := p.Set("condition", string(ItemNotFound)); err != nil {
		t.Fatal(err)
	}
	se, ok := reply.Err()
	if !ok || se.Condition != ItemNotFound || se.Text != "no" {
		t.Errorf("wrong error after changing condition: %#v", se)
	}
	p.Del("text")
	if se, _ := reply.Err(); se.Text != "" {
		t.Errorf("text not removed: %s", reply)
	}

	const want = `<iq type="error" id="1"><error type="cancel"><item-not-found xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></error></iq>`
	if s := reply.String(); s != want {
		t.Errorf("wrong serialization:\nwant=%s,\n got=%s", want, s)
	}
}
