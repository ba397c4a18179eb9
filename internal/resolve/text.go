package resolve

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

var quotePairs = [][2]string{
	{"'", "'"},
	{`"`, `"`},
	{"‘", "’"},
	{"“", "”"},
}

// LiteralText extracts the text a target is expected to show on screen: the
// first quoted segment of the description, or the whole description.
// Double-quoted segments written with Go escapes are unquoted.
func LiteralText(description string) string {
	best, bestAt := "", -1
	for _, q := range quotePairs {
		open := openingQuote(description, q[0])
		if open < 0 || (bestAt >= 0 && open >= bestAt) {
			continue
		}
		rest := description[open+len(q[0]):]
		end := closingQuote(rest, q[1])
		if end <= 0 {
			continue
		}
		best, bestAt = rest[:end], open
		if q[1] == `"` && strings.Contains(best, `\`) {
			if u, err := strconv.Unquote(`"` + best + `"`); err == nil {
				best = u
			}
		}
	}
	if bestAt >= 0 {
		return strings.TrimSpace(best)
	}
	return strings.TrimSpace(description)
}

// openingQuote finds q where it starts a word, so apostrophes inside words
// like "user's" are skipped.
func openingQuote(s, q string) int {
	for off := 0; off < len(s); {
		i := strings.Index(s[off:], q)
		if i < 0 {
			return -1
		}
		i += off
		if i == 0 {
			return 0
		}
		prev, _ := utf8.DecodeLastRuneInString(s[:i])
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return i
		}
		off = i + len(q)
	}
	return -1
}

// closingQuote finds q where it ends a word, so "Women's" does not close a
// single-quoted literal. Backslash-escaped double quotes are skipped.
func closingQuote(s, q string) int {
	for off := 0; off < len(s); {
		i := strings.Index(s[off:], q)
		if i < 0 {
			return -1
		}
		i += off
		off = i + len(q)
		if q == `"` && escaped(s[:i]) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(s[off:])
		if off == len(s) || (!unicode.IsLetter(next) && !unicode.IsDigit(next)) {
			return i
		}
	}
	return -1
}

// escaped reports whether s ends in an odd run of backslashes.
func escaped(s string) bool {
	n := 0
	for n < len(s) && s[len(s)-1-n] == '\\' {
		n++
	}
	return n%2 == 1
}

// NormalizeText lower-cases s and collapses runs of whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Similarity is one minus the edit distance over the longer length, on
// normalized text.
func Similarity(a, b string) float64 {
	a, b = NormalizeText(a), NormalizeText(b)
	if a == b {
		return 1
	}
	n := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if n == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(n)
}
