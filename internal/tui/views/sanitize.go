package views

import (
	"strings"
	"unicode"
)

// joiners are codepoints that glue emoji into sequences tcell measures
// wrongly: skin tone modifiers, ZWJ and the variation selectors.
var joiners = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200D, Hi: 0x200D, Stride: 1},
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1F3FB, Hi: 0x1F3FF, Stride: 1},
		{Lo: 0xE0100, Hi: 0xE01EF, Stride: 1},
	},
}

// sanitizeForTerminal drops emoji joiners, so 👍🏻 renders as a single
// two-cell 👍, and control characters other than newline and tab, which
// could otherwise move the cursor.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), unicode.Is(joiners, r):
			return -1
		}
		return r
	}, s)
}
