// Package normalize canonicalizes product titles into cache and rule keys.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// symbols that carry meaning in product titles and survive as standalone tokens
const keptSymbols = "&+%#"

// Key returns the canonical form of a product title: NFKC folded, lowercased, with
// meaningless punctuation removed and whitespace collapsed to single spaces.
// Key is idempotent: Key(Key(s)) == Key(s).
func Key(title string) string {
	runes := []rune(strings.ToLower(norm.NFKC.String(title)))

	var b strings.Builder
	b.Grow(len(runes))
	pendingSpace := false
	emit := func(r rune) {
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}

	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r):
			emit(r)
		case r == '\'' || r == '’' || r == '`':
			// dropped without a separator so "levi's" and "levis" share a key
		case (r == '.' || r == ',') && between(runes, i, unicode.IsDigit):
			emit(r)
		case strings.ContainsRune(keptSymbols, r):
			pendingSpace = true
			emit(r)
			pendingSpace = true
		default:
			pendingSpace = true
		}
	}
	// dropping an apostrophe can leave a base letter next to a combining mark
	return norm.NFKC.String(b.String())
}

// Tokens splits a normalized key into its space separated tokens.
func Tokens(key string) []string {
	return strings.Fields(key)
}

func between(runes []rune, i int, pred func(rune) bool) bool {
	return i > 0 && i < len(runes)-1 && pred(runes[i-1]) && pred(runes[i+1])
}
