// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"strings"
)

// Match reports whether the stanza matches a stanza path.
//
// A stanza path is a list of steps separated by "/". Each step names a stanza
// by its element name, its {namespace}name, or its plugin attrib and may be
// followed by interface checks in the form "@key=value":
//
//	iq@type=set/bind
//	message@type=chat/body
//
// The first step is matched against s itself and every following step against
// its iterable children, existing plugins or (for the last step) sub
// interfaces with a value.
func (s *Stanza) Match(path string) bool {
	steps := SplitPath(path)
	if len(steps) == 0 {
		return false
	}
	return s.match(steps)
}

func (s *Stanza) match(steps []string) bool {
	tag, checks := splitStep(steps[0])
	if !s.tagMatches(tag) {
		return false
	}
	for _, check := range checks {
		k, v, _ := strings.Cut(check, "=")
		if s.Get(k) != v {
			return false
		}
	}
	if len(steps) == 1 {
		return true
	}

	rest := steps[1:]
	for _, sub := range s.Iter() {
		if sub.match(rest) {
			return true
		}
	}
	next, _ := splitStep(rest[0])
	if i := strings.LastIndexByte(next, '}'); i != -1 {
		next = next[i+1:]
	}
	if len(rest) == 1 && s.class.has(s.class.SubInterfaces, next) && s.Get(next) != "" {
		return true
	}
	if p, ok := s.LookupPlugin(next); ok && p.match(rest) {
		return true
	}
	return false
}

func (s *Stanza) tagMatches(tag string) bool {
	if tag == "" || tag == "*" {
		return true
	}
	name := s.el.Name
	return tag == name.Local ||
		tag == "{"+name.Space+"}"+name.Local ||
		tag == s.class.Attrib()
}

// SplitPath splits a stanza path into steps.
// Slashes inside a {namespace} are not treated as separators.
func SplitPath(path string) []string {
	var steps []string
	depth := 0
	start := 0
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case '/':
			if depth == 0 {
				if i > start {
					steps = append(steps, path[start:i])
				}
				start = i + 1
			}
		}
	}
	if start < len(path) {
		steps = append(steps, path[start:])
	}
	return steps
}

// splitStep splits a step into its tag and "key=value" checks.
// An "@" that is not followed by a key=value pair is treated as part of the
// previous value so that checks against JIDs work.
func splitStep(step string) (string, []string) {
	// Skip over a leading {namespace} which may contain "@".
	off := 0
	if strings.HasPrefix(step, "{") {
		if i := strings.IndexByte(step, '}'); i != -1 {
			off = i
		}
	}
	i := strings.IndexByte(step[off:], '@')
	if i == -1 {
		return step, nil
	}
	tag := step[:off+i]
	var checks []string
	for _, part := range strings.Split(step[off+i+1:], "@") {
		if len(checks) > 0 && !strings.Contains(part, "=") {
			checks[len(checks)-1] += "@" + part
			continue
		}
		checks = append(checks, part)
	}
	return tag, checks
}
