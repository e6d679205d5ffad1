// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr contains helpers for working with lists of XML attributes.
package attr // import "mellium.im/xmppcore/internal/attr"

import (
	"encoding/xml"
)

// Get returns the index and value of the first attribute with the provided
// local name from a list of attributes or -1 and an empty string if no such
// attribute exists.
func Get(attr []xml.Attr, local string) (int, string) {
	for idx, a := range attr {
		if a.Name.Local == local {
			return idx, a.Value
		}
	}
	return -1, ""
}

// Lookup is like Get but it matches the full name including the namespace.
func Lookup(attr []xml.Attr, name xml.Name) (int, string) {
	for idx, a := range attr {
		if a.Name == name {
			return idx, a.Value
		}
	}
	return -1, ""
}

// Set replaces the value of the first attribute matching name or appends a new
// attribute if none exists and returns the resulting list.
func Set(attr []xml.Attr, name xml.Name, value string) []xml.Attr {
	idx, _ := Lookup(attr, name)
	if idx == -1 {
		return append(attr, xml.Attr{Name: name, Value: value})
	}
	attr[idx].Value = value
	return attr
}

// Remove deletes every attribute matching name and returns the resulting list.
func Remove(attr []xml.Attr, name xml.Name) []xml.Attr {
	out := attr[:0]
	for _, a := range attr {
		if a.Name != name {
			out = append(out, a)
		}
	}
	return out
}
