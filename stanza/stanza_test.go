// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"encoding/xml"
	"fmt"
	"testing"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/stanza"
)

var testPluginClass = &stanza.Class{
	Name:           "foo",
	Namespace:      "urn:example:foo",
	PluginAttrib:   "foo",
	Interfaces:     []string{"boolean", "some_string", "child"},
	BoolInterfaces: []string{"boolean"},
	SubInterfaces:  []string{"child"},
}

var testItemClass = &stanza.Class{
	Name:       "item",
	Namespace:  "urn:example:foo",
	Interfaces: []string{"name"},
}

func newTestRegistry() *stanza.Registry {
	reg := stanza.NewRegistry()
	reg.Register(stanza.IQClass, testPluginClass)
	reg.Register(testPluginClass, testItemClass, stanza.Iterable())
	return reg
}

func TestPluginRoundTrip(t *testing.T) {
	reg := newTestRegistry()
	iq := reg.NewIQ(stanza.GetIQ)
	foo := iq.Plugin("foo")
	if err := foo.Set("boolean", "True"); err != nil {
		t.Fatal(err)
	}
	if err := foo.Set("some_string", "s"); err != nil {
		t.Fatal(err)
	}

	e, err := stanza.ParseString(iq.Element().String())
	if err != nil {
		t.Fatalf("error reparsing %s: %v", iq, err)
	}
	iq2, ok := stanza.AsIQ(reg.Wrap(e))
	if !ok {
		t.Fatalf("reparsed stanza is not an iq: %s", e)
	}
	foo2, ok := iq2.LookupPlugin("foo")
	if !ok {
		t.Fatalf("plugin missing after round trip: %s", e)
	}
	for _, key := range testPluginClass.Interfaces {
		if v1, v2 := foo.Get(key), foo2.Get(key); v1 != v2 {
			t.Errorf("interface %q changed: want=%q, got=%q", key, v1, v2)
		}
	}
	if !foo2.GetBool("boolean") {
		t.Errorf("expected boolean interface to be set")
	}
	if iq2.Type() != stanza.GetIQ {
		t.Errorf("wrong iq type after round trip: %q", iq2.Type())
	}
}

func TestPluginStableView(t *testing.T) {
	reg := newTestRegistry()
	iq := reg.NewIQ(stanza.SetIQ)
	p1 := iq.Plugin("foo")
	p2 := iq.Plugin("foo")
	if p1 != p2 {
		t.Fatalf("plugin views are not stable")
	}
	if p1.Parent() != iq.Stanza {
		t.Errorf("plugin parent is wrong")
	}
	if err := p1.Set("some_string", "x"); err != nil {
		t.Fatal(err)
	}
	child := iq.Element().Child(xml.Name{Space: "urn:example:foo", Local: "foo"})
	if child == nil || child.AttrValue("some_string") != "x" {
		t.Fatalf("plugin mutation did not write through: %s", iq)
	}
	iq.Del("foo")
	if _, ok := iq.LookupPlugin("foo"); ok {
		t.Errorf("plugin still present after delete: %s", iq)
	}
	if len(iq.Element().Children) != 0 {
		t.Errorf("plugin element still present after delete: %s", iq)
	}
}

func TestUnknownInterface(t *testing.T) {
	reg := stanza.NewRegistry()
	m := reg.NewMessage(stanza.ChatMessage)
	if v := m.Get("nope"); v != "" {
		t.Errorf("unknown interface returned %q", v)
	}
	if err := m.Set("nope", "x"); err != nil {
		t.Errorf("setting an unknown interface errored: %v", err)
	}
	if p := m.Plugin("nope"); p != nil {
		t.Errorf("unknown plugin returned a view")
	}
	m.Del("nope")
}

func TestInterfaceSetClear(t *testing.T) {
	reg := stanza.NewRegistry()
	for i, tc := range [...]struct {
		s     *stanza.Stanza
		key   string
		value string
		want  string
	}{
		0: {s: reg.New(stanza.MessageClass), key: "body", value: "hello", want: "hello"},
		1: {s: reg.New(stanza.MessageClass), key: "to", value: "a@b/c", want: "a@b/c"},
		2: {s: reg.New(stanza.MessageClass), key: "subject", value: "s", want: "s"},
		3: {s: reg.New(stanza.MessageClass), key: "thread", value: "t1", want: "t1"},
		4: {s: reg.New(stanza.MessageClass), key: "lang", value: "en", want: "en"},
		5: {s: reg.New(stanza.PresenceClass), key: "status", value: "away!", want: "away!"},
		6: {s: reg.New(stanza.PresenceClass), key: "priority", value: "5", want: "5"},
		7: {s: reg.New(stanza.PresenceClass), key: "show", value: "dnd", want: "dnd"},
		8: {s: reg.New(stanza.IQClass), key: "id", value: "abc", want: "abc"},
		9: {s: reg.New(stanza.IQClass), key: "query", value: "urn:example", want: "urn:example"},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			if err := tc.s.Set(tc.key, tc.value); err != nil {
				t.Fatal(err)
			}
			if v := tc.s.Get(tc.key); v != tc.want {
				t.Errorf("wrong value: want=%q, got=%q", tc.want, v)
			}
			tc.s.Del(tc.key)
			if v := tc.s.Get(tc.key); v != "" {
				t.Errorf("value not cleared: %q", v)
			}
			if err := tc.s.Set(tc.key, tc.value); err != nil {
				t.Fatal(err)
			}
			if err := tc.s.Set(tc.key, ""); err != nil {
				t.Fatal(err)
			}
			if v := tc.s.Get(tc.key); v != "" {
				t.Errorf("value not cleared by empty set: %q", v)
			}
			if n := len(tc.s.Element().Children); n != 0 {
				t.Errorf("children left behind: %s", tc.s)
			}
		})
	}
}

func TestInvalidValues(t *testing.T) {
	reg := stanza.NewRegistry()
	if err := reg.NewIQ(stanza.GetIQ).Set("type", "bogus"); err == nil {
		t.Errorf("expected error setting invalid iq type")
	}
	if err := reg.NewMessage("").Set("type", "bogus"); err == nil {
		t.Errorf("expected error setting invalid message type")
	}
	if err := reg.NewPresence(stanza.AvailablePresence).Set("priority", "high"); err == nil {
		t.Errorf("expected error setting invalid priority")
	}
}

func TestLangInterfaces(t *testing.T) {
	reg := stanza.NewRegistry()
	m := reg.NewMessage(stanza.ChatMessage)
	if err := m.Set("lang", "en"); err != nil {
		t.Fatal(err)
	}
	m.SetBody("hello")
	if err := m.Set("body|fr", "bonjour"); err != nil {
		t.Fatal(err)
	}
	if b := m.Body(); b != "hello" {
		t.Errorf("wrong default language body: %q", b)
	}
	if b := m.Get("body|fr"); b != "bonjour" {
		t.Errorf("wrong french body: %q", b)
	}
	langs := m.LangMap("body")
	if len(langs) != 2 || langs["en"] != "hello" || langs["fr"] != "bonjour" {
		t.Errorf("wrong lang map: %v", langs)
	}
	m.Del("body|fr")
	if langs := m.LangMap("body"); len(langs) != 1 {
		t.Errorf("wrong lang map after delete: %v", langs)
	}
	m.SetLangMap("body", map[string]string{"de": "hallo"})
	if b := m.Get("body|de"); b != "hallo" {
		t.Errorf("wrong german body: %q", b)
	}
	fr := m.Element().ChildrenNamed(xml.Name{Space: ns.Client, Local: "body"})
	if len(fr) != 1 || fr[0].Lang() != "de" {
		t.Errorf("wrong body elements: %s", m)
	}
}

func TestSetLangMapOrder(t *testing.T) {
	reg := stanza.NewRegistry()
	values := map[string]string{"fr": "bonjour", "de": "hallo", "en": "hello", "es": "hola", "it": "ciao"}
	var want string
	for i := 0; i < 10; i++ {
		m := reg.NewMessage(stanza.ChatMessage)
		if err := m.Set("lang", "en"); err != nil {
			t.Fatal(err)
		}
		m.SetLangMap("body", values)
		var langs []string
		for _, b := range m.Element().ChildrenNamed(xml.Name{Space: ns.Client, Local: "body"}) {
			l := b.Lang()
			if l == "" {
				l = "en"
			}
			langs = append(langs, l)
		}
		if got := fmt.Sprint(langs); got != "[de en es fr it]" {
			t.Fatalf("wrong body order: %s", got)
		}
		out := m.String()
		if i == 0 {
			want = out
			continue
		}
		if out != want {
			t.Fatalf("serialization differs between runs:\nwant=%s\n got=%s", want, out)
		}
	}
}

func TestIterable(t *testing.T) {
	reg := newTestRegistry()
	foo := reg.New(testPluginClass)
	for _, name := range []string{"a", "b", "c"} {
		item := reg.New(testItemClass)
		if err := item.Set("name", name); err != nil {
			t.Fatal(err)
		}
		foo.Append(item)
	}
	items := foo.Iter()
	if len(items) != 3 {
		t.Fatalf("wrong number of items: %d", len(items))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got := items[i].Get("name"); got != want {
			t.Errorf("item %d: want=%q, got=%q", i, want, got)
		}
	}
	if again := foo.Iter(); again[1] != items[1] {
		t.Errorf("iterable views are not stable")
	}
}

func TestExtensionAndOverrides(t *testing.T) {
	nick := &stanza.Class{
		Name:         "nick",
		Namespace:    "http://jabber.org/protocol/nick",
		PluginAttrib: "nick",
		Interfaces:   []string{"nick"},
		IsExtension:  true,
		Accessors: map[string]stanza.Accessor{
			"nick": {
				Get: func(s *stanza.Stanza, _ string) string { return s.Element().Text },
				Set: func(s *stanza.Stanza, v, _ string) error {
					s.Element().Text = v
					return nil
				},
			},
		},
	}
	upper := &stanza.Class{
		Name:       "upper",
		Namespace:  "urn:example:upper",
		Interfaces: []string{"body"},
		Overrides:  []string{"set:body"},
		Accessors: map[string]stanza.Accessor{
			"body": {
				Set: func(s *stanza.Stanza, v, _ string) error {
					parent := s.Parent()
					parent.Element().RemoveChildren(xml.Name{Local: "body"})
					body := parent.Element().AppendChild(stanza.NewElement(parent.Name().Space, "body"))
					body.Text = "[" + v + "]"
					return nil
				},
			},
		},
	}
	reg := stanza.NewRegistry()
	reg.Register(stanza.MessageClass, nick)
	reg.Register(stanza.MessageClass, upper, stanza.Overrides())

	m := reg.NewMessage(stanza.ChatMessage)
	if err := m.Set("nick", "juliet"); err != nil {
		t.Fatal(err)
	}
	if n := m.Get("nick"); n != "juliet" {
		t.Errorf("extension interface not exposed: %q", n)
	}
	m.SetBody("hi")
	if b := m.Get("body"); b != "[hi]" {
		t.Errorf("override not applied: %q", b)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected duplicate plugin attrib to panic")
		}
	}()
	reg := stanza.NewRegistry()
	reg.Register(stanza.IQClass, &stanza.Class{Name: "a", PluginAttrib: "x"})
	reg.Register(stanza.IQClass, &stanza.Class{Name: "b", PluginAttrib: "x"})
}

func TestIndependentRegistries(t *testing.T) {
	r1 := newTestRegistry()
	r2 := stanza.NewRegistry()
	if r1.NewIQ(stanza.GetIQ).Plugin("foo") == nil {
		t.Errorf("plugin missing from registry it was registered on")
	}
	if r2.NewIQ(stanza.GetIQ).Plugin("foo") != nil {
		t.Errorf("plugin leaked into an independent registry")
	}
}

func TestMatch(t *testing.T) {
	reg := newTestRegistry()
	iq := reg.NewIQ(stanza.SetIQ)
	iq.SetID("1")
	item := reg.New(testItemClass)
	_ = item.Set("name", "x@y")
	iq.Plugin("foo").Append(item)

	msg := reg.NewMessage(stanza.ChatMessage)
	msg.SetBody("hi")

	for i, tc := range [...]struct {
		s    *stanza.Stanza
		path string
		ok   bool
	}{
		0:  {iq.Stanza, "iq", true},
		1:  {iq.Stanza, "iq@type=set", true},
		2:  {iq.Stanza, "iq@type=get", false},
		3:  {iq.Stanza, "iq@type=set@id=1", true},
		4:  {iq.Stanza, "iq@type=set/foo", true},
		5:  {iq.Stanza, "iq/foo/item@name=x@y", true},
		6:  {iq.Stanza, "iq/foo/item@name=y", false},
		7:  {iq.Stanza, "iq/foo/item", true},
		8:  {iq.Stanza, "iq/bar", false},
		9:  {iq.Stanza, "{jabber:client}iq/{urn:example:foo}foo", true},
		10: {iq.Stanza, "message", false},
		11: {msg.Stanza, "message@type=chat/body", true},
		12: {msg.Stanza, "message/subject", false},
		13: {iq.Stanza, "", false},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			if ok := tc.s.Match(tc.path); ok != tc.ok {
				t.Errorf("wrong match result for %q: want=%t, got=%t", tc.path, tc.ok, ok)
			}
		})
	}
}

func TestSplitPath(t *testing.T) {
	steps := stanza.SplitPath("{jabber:client}iq@type=set/{urn:a/b}query")
	if len(steps) != 2 || steps[1] != "{urn:a/b}query" {
		t.Errorf("wrong steps: %q", steps)
	}
}
