// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"fmt"
	"sync"

	"mellium.im/xmppcore/internal/ns"
)

// Accessor is a set of custom functions backing an interface of a Class.
// Any of the functions may be nil in which case the default behavior for the
// interface is used.
type Accessor struct {
	Get func(s *Stanza, lang string) string
	Set func(s *Stanza, value, lang string) error
	Del func(s *Stanza, lang string)
}

// Class describes a kind of stanza or stanza plugin.
//
// An empty Namespace means the element lives in the namespace of the stream
// (for root stanzas) or of the parent stanza (for plugins).
// An empty PluginAttrib defaults to Name.
type Class struct {
	Name           string
	Namespace      string
	PluginAttrib   string
	Interfaces     []string
	SubInterfaces  []string
	BoolInterfaces []string
	LangInterfaces []string
	Accessors      map[string]Accessor

	// Overrides lists parent interfaces this class takes over when registered
	// with the Overrides option, in the form "set:body", "get:body" or
	// "del:body".
	Overrides []string

	// IsExtension makes the parent expose the interface of this plugin named
	// PluginAttrib as if it were one of its own interfaces.
	IsExtension bool
}

// Attrib returns the key used to address the class when nested.
func (c *Class) Attrib() string {
	if c.PluginAttrib != "" {
		return c.PluginAttrib
	}
	return c.Name
}

func (c *Class) has(list []string, key string) bool {
	for _, v := range list {
		if v == key {
			return true
		}
	}
	return false
}

// HasInterface reports whether key is one of the interfaces of the class.
func (c *Class) HasInterface(key string) bool {
	return c.has(c.Interfaces, key)
}

func (c *Class) String() string {
	if c.Namespace == "" {
		return c.Name
	}
	return "{" + c.Namespace + "}" + c.Name
}

type plugins struct {
	byAttrib  map[string]*Class
	byTag     map[xml.Name]*Class
	iterable  map[*Class]bool
	overrides map[string]*Class
}

// Registry records which plugin classes may appear under which parent classes
// and which classes may appear directly under the stream.
// A Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	namespace string
	roots     map[xml.Name]*Class
	plugins   map[*Class]*plugins
}

// NewRegistry returns a registry containing the core stanzas (message,
// presence and iq) and their error plugins.
// Root stanzas created from the registry use the jabber:client namespace.
func NewRegistry() *Registry {
	r := NewEmptyRegistry(ns.Client)
	r.RegisterRoot(MessageClass)
	r.RegisterRoot(PresenceClass)
	r.RegisterRoot(IQClass)
	r.Register(MessageClass, ErrorClass)
	r.Register(PresenceClass, ErrorClass)
	r.Register(IQClass, ErrorClass)
	return r
}

// NewEmptyRegistry returns a registry without any classes.
// Root stanzas with an empty namespace are created in space.
func NewEmptyRegistry(space string) *Registry {
	return &Registry{
		namespace: space,
		roots:     make(map[xml.Name]*Class),
		plugins:   make(map[*Class]*plugins),
	}
}

// Namespace returns the content namespace of the registry.
func (r *Registry) Namespace() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namespace
}

// SetNamespace changes the content namespace used for new root stanzas.
func (r *Registry) SetNamespace(space string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.namespace = space
}

// RegisterOption configures a plugin registration.
type RegisterOption func(*registration)

type registration struct {
	iterable  bool
	overrides bool
}

// Iterable makes multiple instances of the plugin accessible in order through
// Stanza.Iter.
func Iterable() RegisterOption {
	return func(r *registration) {
		r.iterable = true
	}
}

// Overrides activates the interface overrides declared by the plugin class.
func Overrides() RegisterOption {
	return func(r *registration) {
		r.overrides = true
	}
}

// RegisterRoot declares a class that may appear as a direct child of the
// stream.
// Classes with an empty namespace match stanzas in any of the content
// namespaces (jabber:client, jabber:server and jabber:component:accept).
func (r *Registry) RegisterRoot(c *Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roots[xml.Name{Space: c.Namespace, Local: c.Name}] = c
}

// Register attaches child to parent so that parent.Plugin(child.Attrib())
// returns a child view.
// Registering two different classes under the same attrib panics.
func (r *Registry) Register(parent, child *Class, opts ...RegisterOption) {
	var reg registration
	for _, o := range opts {
		o(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.plugins[parent]
	if p == nil {
		p = &plugins{
			byAttrib:  make(map[string]*Class),
			byTag:     make(map[xml.Name]*Class),
			iterable:  make(map[*Class]bool),
			overrides: make(map[string]*Class),
		}
		r.plugins[parent] = p
	}
	attrib := child.Attrib()
	if existing, ok := p.byAttrib[attrib]; ok && existing != child {
		panic(fmt.Sprintf("stanza: plugin attrib %q already registered on %s by %s", attrib, parent, existing))
	}
	p.byAttrib[attrib] = child
	p.byTag[xml.Name{Space: child.Namespace, Local: child.Name}] = child
	if reg.iterable {
		p.iterable[child] = true
	}
	if reg.overrides {
		for _, o := range child.Overrides {
			p.overrides[o] = child
		}
	}
}

func (r *Registry) pluginByAttrib(parent *Class, attrib string) *Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.plugins[parent]
	if p == nil {
		return nil
	}
	return p.byAttrib[attrib]
}

// pluginByTag looks up the plugin class for a child element.
// Classes without a namespace match children in the parent's namespace.
func (r *Registry) pluginByTag(parent *Class, parentNS string, name xml.Name) *Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.plugins[parent]
	if p == nil {
		return nil
	}
	if c, ok := p.byTag[name]; ok {
		return c
	}
	if name.Space == parentNS {
		return p.byTag[xml.Name{Local: name.Local}]
	}
	return nil
}

func (r *Registry) isIterable(parent, child *Class) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.plugins[parent]
	return p != nil && p.iterable[child]
}

func (r *Registry) override(parent *Class, op, key string) *Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.plugins[parent]
	if p == nil {
		return nil
	}
	return p.overrides[op+":"+key]
}

func isContentNS(space string) bool {
	return space == ns.Client || space == ns.Server || space == ns.Component
}

func (r *Registry) rootClass(name xml.Name) *Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.roots[name]; ok {
		return c
	}
	if isContentNS(name.Space) || name.Space == r.namespace {
		return r.roots[xml.Name{Local: name.Local}]
	}
	return nil
}

// New creates an empty stanza of class c.
func (r *Registry) New(c *Class) *Stanza {
	space := c.Namespace
	if space == "" {
		space = r.Namespace()
	}
	return &Stanza{
		reg:   r,
		class: c,
		el:    NewElement(space, c.Name),
	}
}

// Wrap returns a stanza view over an existing element.
// Elements that do not match a registered root class are given an ad hoc class
// with no interfaces.
func (r *Registry) Wrap(e *Element) *Stanza {
	c := r.rootClass(e.Name)
	if c == nil {
		c = &Class{Name: e.Name.Local, Namespace: e.Name.Space}
	}
	return &Stanza{reg: r, class: c, el: e}
}

// WrapClass returns a view of class c over an existing element.
func (r *Registry) WrapClass(c *Class, e *Element) *Stanza {
	return &Stanza{reg: r, class: c, el: e}
}
