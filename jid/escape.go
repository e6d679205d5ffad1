// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package jid

import (
	"strings"

	"golang.org/x/text/transform"
)

var (
	// Escape is a transform that maps escapable runes to their escaped form as
	// defined in XEP-0106: JID Escaping.
	Escape transform.Transformer = escapeMapping{}

	// Unescape is a transform that maps valid escape sequences to their unescaped
	// form as defined in XEP-0106: JID Escaping.
	Unescape transform.Transformer = unescapeMapping{}
)

// EscapedChars is a string composed of all the characters that will be escaped
// or unescaped by the transformers in this package (in no particular order).
const EscapedChars = ` "&'/:<>@\`

// fmt.Printf("% x", EscapedChars):
// 20 22 26 27 2f 3a 3c 3e 40 5c
const hexdigits = "0123456789abcdef"

func unescapeSeq(a, b byte) (byte, bool) {
	switch string([]byte{a, b}) {
	case "20":
		return ' ', true
	case "22":
		return '"', true
	case "26":
		return '&', true
	case "27":
		return '\'', true
	case "2f":
		return '/', true
	case "3a":
		return ':', true
	case "3c":
		return '<', true
	case "3e":
		return '>', true
	case "40":
		return '@', true
	case "5c":
		return '\\', true
	}
	return 0, false
}

type escapeMapping struct{ transform.NopResetter }

func (escapeMapping) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if strings.IndexByte(EscapedChars, c) == -1 {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = c
			nDst++
			nSrc++
			continue
		}
		if nDst+3 > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = '\\'
		dst[nDst+1] = hexdigits[c>>4]
		dst[nDst+2] = hexdigits[c&0x0f]
		nDst += 3
		nSrc++
	}
	return nDst, nSrc, nil
}

type unescapeMapping struct{ transform.NopResetter }

func (unescapeMapping) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c == '\\' {
			if nSrc+3 > len(src) && !atEOF {
				return nDst, nSrc, transform.ErrShortSrc
			}
			if nSrc+3 <= len(src) {
				if r, ok := unescapeSeq(src[nSrc+1], src[nSrc+2]); ok {
					if nDst >= len(dst) {
						return nDst, nSrc, transform.ErrShortDst
					}
					dst[nDst] = r
					nDst++
					nSrc += 3
					continue
				}
			}
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

// EscapeString applies the Escape transformer to s.
func EscapeString(s string) string {
	out, _, err := transform.String(Escape, s)
	if err != nil {
		return s
	}
	return out
}

// UnescapeString applies the Unescape transformer to s.
func UnescapeString(s string) string {
	out, _, err := transform.String(Unescape, s)
	if err != nil {
		return s
	}
	return out
}
