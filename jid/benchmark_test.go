// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package jid

import (
	"testing"
)

var parseBenchmarks = [...]struct {
	name string
	in   string
}{
	{name: "full", in: "user@example.com/resource"},
	{name: "bare", in: "user@example.com"},
	{name: "ipv4", in: "user@127.0.0.1/resource"},
	{name: "ipv6", in: "user@[::1]/resource"},
	{name: "unicode", in: "ρωμέος@example.com/Σ"},
}

func BenchmarkParse(b *testing.B) {
	for _, bc := range parseBenchmarks {
		b.Run(bc.name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				_, _ = Parse(bc.in)
			}
		})
	}
}

func BenchmarkSplit(b *testing.B) {
	for b.Loop() {
		_, _, _, _ = SplitString("user@example.com/resource")
	}
}

func BenchmarkNewFull(b *testing.B) {
	for b.Loop() {
		_, _ = New("user", "example.com", "resource")
	}
}

func BenchmarkWithResource(b *testing.B) {
	j := MustParse("example.com/res")
	for b.Loop() {
		_, _ = j.WithResource("res")
	}
}

func BenchmarkString(b *testing.B) {
	j := JID{local: "user", domain: "example.com", resource: "resource"}
	for b.Loop() {
		_ = j.String()
	}
}

func BenchmarkEscapeString(b *testing.B) {
	for b.Loop() {
		_ = EscapeString(EscapedChars)
	}
}

func BenchmarkUnescapeString(b *testing.B) {
	for b.Loop() {
		_ = UnescapeString(allescaped)
	}
}
