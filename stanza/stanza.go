// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"mellium.im/xmppcore/internal/ns"
	"mellium.im/xmppcore/jid"
)

var xmlLang = xml.Name{Space: ns.XML, Local: "lang"}

// Is tests whether name is a valid stanza based on name and space.
func Is(name xml.Name) bool {
	return (name.Local == "iq" || name.Local == "message" || name.Local == "presence") &&
		isContentNS(name.Space)
}

// Stanza is a typed view over an Element described by a Class.
//
// Interfaces are addressed with string keys. A key may carry a language in the
// form "body|fr"; the language "*" is reserved for LangMap.
// Plugin views returned by Plugin are cached so that repeated lookups return
// the same value and mutations write through to the shared element tree.
//
// A Stanza is not safe for concurrent use.
type Stanza struct {
	reg    *Registry
	class  *Class
	el     *Element
	parent *Stanza
	views  map[*Element]*Stanza
}

// Class returns the class of the stanza.
func (s *Stanza) Class() *Class { return s.class }

// Element returns the element backing the stanza.
func (s *Stanza) Element() *Element { return s.el }

// Registry returns the registry used to resolve plugins.
func (s *Stanza) Registry() *Registry { return s.reg }

// Parent returns the stanza this view is a plugin of or nil.
func (s *Stanza) Parent() *Stanza { return s.parent }

// Name returns the qualified name of the backing element.
func (s *Stanza) Name() xml.Name { return s.el.Name }

// Lang returns the xml:lang of the stanza, inherited from its parent if unset.
func (s *Stanza) Lang() string {
	if l := s.el.Lang(); l != "" {
		return l
	}
	if s.parent != nil {
		return s.parent.Lang()
	}
	return ""
}

func splitKey(key string) (string, string) {
	if i := strings.IndexByte(key, '|'); i != -1 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func (s *Stanza) subName(key string) xml.Name {
	return xml.Name{Space: s.el.Name.Space, Local: key}
}

// Get returns the value of an interface or the empty string if the interface
// is unset or unknown.
func (s *Stanza) Get(key string) string {
	key, lang := splitKey(key)
	if p := s.reg.override(s.class, "get", key); p != nil {
		return s.pluginView(p).getInterface(key, lang)
	}
	if s.class.HasInterface(key) {
		return s.getInterface(key, lang)
	}
	if c := s.reg.pluginByAttrib(s.class, key); c != nil && c.IsExtension {
		if p, ok := s.LookupPlugin(key); ok {
			return p.getInterface(key, lang)
		}
	}
	return ""
}

func (s *Stanza) getInterface(key, lang string) string {
	if a, ok := s.class.Accessors[key]; ok && a.Get != nil {
		return a.Get(s, lang)
	}
	switch {
	case s.class.has(s.class.BoolInterfaces, key):
		if s.el.Child(s.subName(key)) != nil {
			return "true"
		}
		return ""
	case s.class.has(s.class.SubInterfaces, key):
		return s.subText(key, lang)
	case key == "lang":
		return s.el.Lang()
	}
	return s.el.AttrValue(key)
}

// Set sets the value of an interface.
// Setting the empty string removes the backing attribute or child element.
// Setting an unknown interface is a no-op.
func (s *Stanza) Set(key, value string) error {
	key, lang := splitKey(key)
	if p := s.reg.override(s.class, "set", key); p != nil {
		return s.pluginView(p).setInterface(key, value, lang)
	}
	if s.class.HasInterface(key) {
		return s.setInterface(key, value, lang)
	}
	if c := s.reg.pluginByAttrib(s.class, key); c != nil {
		if !c.IsExtension {
			return fmt.Errorf("stanza: %q is a plugin of %s, use Plugin to modify it", key, s.class)
		}
		if value == "" {
			s.DelPlugin(key)
			return nil
		}
		return s.Plugin(key).setInterface(key, value, lang)
	}
	return nil
}

func (s *Stanza) setInterface(key, value, lang string) error {
	if a, ok := s.class.Accessors[key]; ok && a.Set != nil {
		if value == "" {
			s.delInterface(key, lang)
			return nil
		}
		return a.Set(s, value, lang)
	}
	switch {
	case s.class.has(s.class.BoolInterfaces, key):
		s.SetBool(key, truthy(value))
	case s.class.has(s.class.SubInterfaces, key):
		s.setSubText(key, value, lang)
	case key == "lang":
		s.el.SetAttribute(xmlLang, value)
	default:
		s.el.SetAttrValue(key, value)
	}
	return nil
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v != ""
	}
	return b
}

// Del removes an interface or plugin.
func (s *Stanza) Del(key string) {
	key, lang := splitKey(key)
	if p := s.reg.override(s.class, "del", key); p != nil {
		s.pluginView(p).delInterface(key, lang)
		return
	}
	if s.class.HasInterface(key) {
		s.delInterface(key, lang)
		return
	}
	if c := s.reg.pluginByAttrib(s.class, key); c != nil {
		s.DelPlugin(key)
	}
}

func (s *Stanza) delInterface(key, lang string) {
	if a, ok := s.class.Accessors[key]; ok && a.Del != nil {
		a.Del(s, lang)
		return
	}
	switch {
	case s.class.has(s.class.BoolInterfaces, key):
		s.el.RemoveChildren(s.subName(key))
	case s.class.has(s.class.SubInterfaces, key):
		s.setSubText(key, "", lang)
	case key == "lang":
		s.el.SetAttribute(xmlLang, "")
	default:
		s.el.SetAttrValue(key, "")
	}
}

// GetBool reports whether the child element backing a boolean interface is
// present.
func (s *Stanza) GetBool(key string) bool {
	return s.Get(key) != ""
}

// SetBool adds or removes the empty child element backing a boolean interface.
func (s *Stanza) SetBool(key string, v bool) {
	name := s.subName(key)
	switch present := s.el.Child(name) != nil; {
	case v && !present:
		s.el.AppendChild(NewElement(name.Space, name.Local))
	case !v && present:
		s.el.RemoveChildren(name)
	}
}

func (s *Stanza) childLang(c *Element, def string) string {
	if l, ok := c.Attribute(xmlLang); ok {
		return l
	}
	return def
}

func (s *Stanza) subText(key, lang string) string {
	children := s.el.ChildrenNamed(s.subName(key))
	if !s.class.has(s.class.LangInterfaces, key) {
		if len(children) == 0 {
			return ""
		}
		return children[0].Text
	}
	def := s.Lang()
	if lang == "" || lang == "*" {
		lang = def
	}
	var result string
	for _, c := range children {
		if s.childLang(c, def) == lang {
			return c.Text
		}
		if c.Text != "" {
			result = c.Text
		}
	}
	return result
}

func (s *Stanza) setSubText(key, value, lang string) {
	name := s.subName(key)
	if !s.class.has(s.class.LangInterfaces, key) {
		s.el.RemoveChildren(name)
		if value != "" {
			child := NewElement(name.Space, name.Local)
			child.Text = value
			s.el.AppendChild(child)
		}
		return
	}

	def := s.Lang()
	if lang == "*" {
		s.el.RemoveChildren(name)
		if value == "" {
			return
		}
		lang = def
	}
	if lang == "" {
		lang = def
	}
	out := s.el.Children[:0]
	for _, c := range s.el.Children {
		if c.Name == name && s.childLang(c, def) == lang {
			continue
		}
		out = append(out, c)
	}
	s.el.Children = out
	if value == "" {
		return
	}
	child := NewElement(name.Space, name.Local)
	child.Text = value
	if lang != def {
		child.SetAttribute(xmlLang, lang)
	}
	s.el.AppendChild(child)
}

// LangMap returns the values of a language interface keyed by language.
// Children without an xml:lang attribute use the language of the stanza.
func (s *Stanza) LangMap(key string) map[string]string {
	out := make(map[string]string)
	def := s.Lang()
	for _, c := range s.el.ChildrenNamed(s.subName(key)) {
		out[s.childLang(c, def)] = c.Text
	}
	return out
}

// SetLangMap replaces every value of a language interface.
// Children are appended in lexical order of their language.
func (s *Stanza) SetLangMap(key string, values map[string]string) {
	s.el.RemoveChildren(s.subName(key))
	for _, lang := range slices.Sorted(maps.Keys(values)) {
		s.setSubText(key, values[lang], lang)
	}
}

func (s *Stanza) view(c *Class, e *Element) *Stanza {
	if v, ok := s.views[e]; ok {
		return v
	}
	if s.views == nil {
		s.views = make(map[*Element]*Stanza)
	}
	v := &Stanza{reg: s.reg, class: c, el: e, parent: s}
	s.views[e] = v
	return v
}

func (s *Stanza) childName(c *Class) xml.Name {
	space := c.Namespace
	if space == "" {
		space = s.el.Name.Space
	}
	return xml.Name{Space: space, Local: c.Name}
}

func (s *Stanza) lookup(c *Class) (*Stanza, bool) {
	name := s.childName(c)
	for _, child := range s.el.Children {
		if child.Name == name {
			return s.view(c, child), true
		}
	}
	return nil, false
}

func (s *Stanza) pluginView(c *Class) *Stanza {
	if v, ok := s.lookup(c); ok {
		return v
	}
	name := s.childName(c)
	e := NewElement(name.Space, name.Local)
	s.el.AppendChild(e)
	return s.view(c, e)
}

// Plugin returns the plugin registered under attrib, creating its element if
// it does not exist yet.
// If no plugin is registered under attrib, Plugin returns nil.
func (s *Stanza) Plugin(attrib string) *Stanza {
	c := s.reg.pluginByAttrib(s.class, attrib)
	if c == nil {
		return nil
	}
	return s.pluginView(c)
}

// LookupPlugin is like Plugin but it never creates the plugin element.
func (s *Stanza) LookupPlugin(attrib string) (*Stanza, bool) {
	c := s.reg.pluginByAttrib(s.class, attrib)
	if c == nil {
		return nil, false
	}
	return s.lookup(c)
}

// DelPlugin removes every element of the plugin registered under attrib.
func (s *Stanza) DelPlugin(attrib string) {
	c := s.reg.pluginByAttrib(s.class, attrib)
	if c == nil {
		return
	}
	name := s.childName(c)
	for _, child := range s.el.ChildrenNamed(name) {
		if v, ok := s.views[child]; ok {
			v.parent = nil
			delete(s.views, child)
		}
	}
	s.el.RemoveChildren(name)
}

// Enable creates the plugin registered under attrib if it is missing.
func (s *Stanza) Enable(attrib string) *Stanza {
	return s.Plugin(attrib)
}

// Plugins returns views of every child element that has a registered plugin
// class, in document order.
func (s *Stanza) Plugins() []*Stanza {
	var out []*Stanza
	for _, child := range s.el.Children {
		if c := s.reg.pluginByTag(s.class, s.el.Name.Space, child.Name); c != nil {
			out = append(out, s.view(c, child))
		}
	}
	return out
}

// Iter returns views of the iterable plugins of the stanza in document order.
func (s *Stanza) Iter() []*Stanza {
	var out []*Stanza
	for _, child := range s.el.Children {
		c := s.reg.pluginByTag(s.class, s.el.Name.Space, child.Name)
		if c != nil && s.reg.isIterable(s.class, c) {
			out = append(out, s.view(c, child))
		}
	}
	return out
}

// Append adds child as the last child of s.
// The child view becomes a plugin view of s.
func (s *Stanza) Append(child *Stanza) {
	s.el.AppendChild(child.el)
	child.parent = s
	if s.views == nil {
		s.views = make(map[*Element]*Stanza)
	}
	s.views[child.el] = child
}

// AppendElement adds e as the last child of s.
func (s *Stanza) AppendElement(e *Element) {
	s.el.AppendChild(e)
}

// Copy returns a deep copy of the stanza detached from any parent.
func (s *Stanza) Copy() *Stanza {
	return &Stanza{reg: s.reg, class: s.class, el: s.el.Copy()}
}

// String serializes the stanza as it would appear on a stream.
func (s *Stanza) String() string {
	return StreamSerializer(s.reg.Namespace()).String(s.el)
}

// ID returns the id attribute.
func (s *Stanza) ID() string { return s.el.AttrValue("id") }

// SetID sets the id attribute.
func (s *Stanza) SetID(id string) { s.el.SetAttrValue("id", id) }

// Type returns the type interface of the stanza.
func (s *Stanza) Type() string { return s.Get("type") }

// To returns the parsed to attribute or the zero JID if it is unset or
// invalid.
func (s *Stanza) To() jid.JID { return s.jidAttr("to") }

// From returns the parsed from attribute or the zero JID if it is unset or
// invalid.
func (s *Stanza) From() jid.JID { return s.jidAttr("from") }

// SetTo sets the to attribute. The zero JID removes it.
func (s *Stanza) SetTo(j jid.JID) { s.el.SetAttrValue("to", j.String()) }

// SetFrom sets the from attribute. The zero JID removes it.
func (s *Stanza) SetFrom(j jid.JID) { s.el.SetAttrValue("from", j.String()) }

func (s *Stanza) jidAttr(local string) jid.JID {
	v := s.el.AttrValue(local)
	if v == "" {
		return jid.JID{}
	}
	j, err := jid.Parse(v)
	if err != nil {
		return jid.JID{}
	}
	return j
}

// Err returns the stanza error carried by the stanza, if any.
func (s *Stanza) Err() (Error, bool) {
	p, ok := s.LookupPlugin("error")
	if !ok {
		return Error{}, false
	}
	return ErrorFromElement(p.el), true
}

// SetErr replaces the error payload of the stanza with se.
func (s *Stanza) SetErr(se Error) {
	s.DelPlugin("error")
	e := se.Element(s.el.Name.Space)
	if c := s.reg.pluginByAttrib(s.class, "error"); c != nil {
		s.Append(s.reg.WrapClass(c, e))
		return
	}
	s.el.AppendChild(e)
}
