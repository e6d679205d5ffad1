// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"sync"

	"mellium.im/xmppcore/stanza"
)

// Direction selects the filter chain a filter is added to.
type Direction uint8

// Filter chains.
const (
	Inbound Direction = iota
	Outbound
)

// A Filter inspects or rewrites a stanza before it is dispatched (inbound) or
// serialized (outbound).
// Returning nil drops the stanza.
type Filter func(s *stanza.Stanza) *stanza.Stanza

type namedFilter struct {
	name string
	f    Filter
}

type filters struct {
	mu    sync.Mutex
	chain [2][]namedFilter
}

// AddFilter appends f to the chain for dir.
func (s *Session) AddFilter(dir Direction, name string, f Filter) {
	s.filters.mu.Lock()
	defer s.filters.mu.Unlock()
	s.filters.chain[dir] = append(s.filters.chain[dir], namedFilter{name: name, f: f})
}

// RemoveFilter removes the filters registered under name from the chain for
// dir and reports whether any were found.
func (s *Session) RemoveFilter(dir Direction, name string) bool {
	s.filters.mu.Lock()
	defer s.filters.mu.Unlock()
	found := false
	var out []namedFilter
	for _, f := range s.filters.chain[dir] {
		if f.name == name {
			found = true
			continue
		}
		out = append(out, f)
	}
	s.filters.chain[dir] = out
	return found
}

func (f *filters) apply(dir Direction, st *stanza.Stanza) *stanza.Stanza {
	f.mu.Lock()
	chain := f.chain[dir]
	f.mu.Unlock()
	for _, nf := range chain {
		if st = nf.f(st); st == nil {
			return nil
		}
	}
	return st
}
