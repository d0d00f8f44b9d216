package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// FoldText reduces s to a comparison form: compatibility-decomposed,
// combining marks dropped, case-folded and with runs of whitespace
// collapsed to a single space.
func FoldText(s string) string {
	decomposed := Normalize(s)
	var sb strings.Builder
	sb.Grow(len(decomposed))
	space := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsSpace(r):
			space = sb.Len() > 0
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(r)
	}
	return folder.String(sb.String())
}
