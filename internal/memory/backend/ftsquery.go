package backend

import "strings"

// ftsSpecialChars are the FTS5 syntax characters that force a word to be
// quoted, per spec.md §4.7: `" * : ^ ( ) + -`.
const ftsSpecialChars = `"*:^()+-`

func needsQuoting(word string) bool {
	return strings.ContainsAny(word, ftsSpecialChars)
}

// EscapeFTS5Query turns free-form user text into a safe FTS5 MATCH
// expression: split on whitespace, quote any word containing a special
// character (doubling internal quotes), and OR the terms together so the
// query degrades to "any word matches" rather than erroring on syntax
// SQLite's FTS5 parser would otherwise reject.
func EscapeFTS5Query(text string) string {
	words := strings.Fields(text)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if needsQuoting(w) {
			escaped := strings.ReplaceAll(w, `"`, `""`)
			terms = append(terms, `"`+escaped+`"`)
		} else {
			terms = append(terms, w)
		}
	}
	return strings.Join(terms, " OR ")
}
