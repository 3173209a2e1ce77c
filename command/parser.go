package command

import (
	"strings"
	"unicode"
)

// Parse splits a chat line (command marker already removed) into tokens.
// A token is either the contents of a non-empty double-quoted span or a
// maximal run of non-whitespace characters. Quotes cannot be escaped; a quote
// with no closing partner is kept as an ordinary character of its run.
func Parse(line string) []string {
	rs := []rune(line)
	var out []string
	for i := 0; i < len(rs); {
		if unicode.IsSpace(rs[i]) {
			i++
			continue
		}
		if rs[i] == '"' {
			if end := closingQuote(rs, i+1); end > i+1 {
				out = append(out, string(rs[i+1:end]))
				i = end + 1
				continue
			}
		}
		j := i
		for j < len(rs) && !unicode.IsSpace(rs[j]) {
			j++
		}
		out = append(out, string(rs[i:j]))
		i = j
	}
	return out
}

func closingQuote(rs []rune, from int) int {
	for k := from; k < len(rs); k++ {
		if rs[k] == '"' {
			return k
		}
	}
	return -1
}

// Quote joins tokens so that Parse returns them unchanged, wrapping any token
// that contains whitespace in double quotes.
func Quote(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if strings.IndexFunc(t, unicode.IsSpace) >= 0 {
			t = `"` + t + `"`
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " ")
}
