// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package jid

import (
	"fmt"
	"testing"

	"golang.org/x/text/transform"
)

const allescaped = `\20\22\26\27\2f\3a\3c\3e\40\5c`

var unescapeTestCases = [...]struct {
	escaped, unescaped string
	atEOF              bool
	err                error
}{
	0: {allescaped, EscapedChars, true, nil},
	1: {`a\20`, `a `, true, nil},
	2: {`a\`, `a\`, true, nil},
	3: {`a\`, `a`, false, transform.ErrShortSrc},
	4: {`nothingtodohere`, `nothingtodohere`, true, nil},
	5: {`nothingtodohere`, `nothingtodohere`, false, nil},
	6: {`a\a\20`, `a\a `, false, nil},
	7: {`aa\2`, `aa\2`, true, nil},
	8: {`aa\2`, `aa`, false, transform.ErrShortSrc},
	9: {`\5c20`, `\20`, true, nil},
}

func TestUnescape(t *testing.T) {
	for i, tc := range unescapeTestCases {
		t.Run(fmt.Sprintf("Transform/%d", i), func(t *testing.T) {
			buf := make([]byte, 100)
			switch nDst, _, err := Unescape.Transform(buf, []byte(tc.escaped), tc.atEOF); {
			case err != tc.err:
				t.Errorf("Unexpected error, got=%v, want=%v", err, tc.err)
			case string(buf[:nDst]) != tc.unescaped:
				t.Errorf("Unescaped localpart should be `%s` but got: `%s`", tc.unescaped, string(buf[:nDst]))
			}
		})
		t.Run(fmt.Sprintf("String/%d", i), func(t *testing.T) {
			if tc.err != nil {
				t.Skip("Skipping test with expected error")
			}
			if unescaped := UnescapeString(tc.escaped); unescaped != tc.unescaped {
				t.Errorf("Unescaped localpart should be `%s` but got: `%s`", tc.unescaped, unescaped)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	for i, tc := range [...]struct {
		unescaped, escaped string
	}{
		0: {EscapedChars, allescaped},
		1: {`nothingtodohere`, `nothingtodohere`},
		2: {"", ""},
		3: {`a `, `a\20`},
		4: {"d'artagnan", `d\27artagnan`},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			switch e, _, err := transform.String(Escape, tc.unescaped); {
			case err != nil:
				t.Errorf("Unexpected error: %v", err)
			case e != tc.escaped:
				t.Errorf("Escaped localpart should be `%s` but got: `%s`", tc.escaped, e)
			}
		})
	}
}

func TestEscapeShortDst(t *testing.T) {
	dst := make([]byte, 2)
	nDst, nSrc, err := Escape.Transform(dst, []byte("a "), true)
	if err != transform.ErrShortDst {
		t.Errorf("Unexpected error, got=%v, want=%v", err, transform.ErrShortDst)
	}
	if nDst != 1 || nSrc != 1 {
		t.Errorf("Unexpected progress: nDst=%d, nSrc=%d", nDst, nSrc)
	}
}

func TestEscapeMallocs(t *testing.T) {
	src := []byte(EscapedChars)
	dst := make([]byte, len(src)*3)

	if n := testing.AllocsPerRun(1000, func() { Escape.Transform(dst, src, true) }); n > 0 {
		t.Errorf("got %f allocs, want 0", n)
	}
}
