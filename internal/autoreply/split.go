package autoreply

import (
	"regexp"
	"strconv"
	"strings"
)

// protectedPattern matches substrings whose dots must never act as sentence
// boundaries: URLs, www hosts, email addresses, quoted spans, numbered-list
// markers ("12. "), abbreviations ("e.g."), and other dotted tokens.
// URL/host/email alternatives deliberately stop before a trailing
// sentence terminator so "Visit https://a.b/c." still ends a sentence.
var protectedPattern = regexp.MustCompile(
	`(https?://\S*[^\s.?!])` +
		`|(www\.\S*[^\s.?!])` +
		`|([^\s@]+@[^\s@]+\.\S*[^\s.?!])` +
		`|("[^"]*"|'[^']*')` +
		`|(\b\d+\.\s)` +
		`|(\b[A-Za-z](?:\.[A-Za-z])+\.?)` +
		`|(\w+\.\w+)`,
)

// sentencePattern matches one sentence-like run in masked text: everything up
// to a terminator (optionally followed by a closing quote) or end of input.
var sentencePattern = regexp.MustCompile(`[^.?!]+(?:[.?!]+["']?|$)`)

// maskDelim wraps positional placeholders. NUL never occurs in chat text and
// contains no sentence terminators, so masked spans cannot split.
const maskDelim = "\x00"

// Split breaks reply text into an ordered sequence of sentence-like parts.
// Protected substrings are masked with positional placeholders, the masked
// text is split on sentence boundaries, and the placeholders are restored
// into the resulting parts. Pure and stateless; empty input yields nil.
func Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	protected := protectedPattern.FindAllString(text, -1)
	idx := 0
	masked := protectedPattern.ReplaceAllStringFunc(text, func(string) string {
		p := placeholder(idx)
		idx++
		return p
	})

	raw := sentencePattern.FindAllString(masked, -1)

	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		// Restore highest indexes first so placeholder 1 cannot clobber
		// the prefix of placeholder 10.
		for i := len(protected) - 1; i >= 0; i-- {
			part = strings.Replace(part, placeholder(i), protected[i], 1)
		}
		if strings.TrimSpace(part) == "" {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

func placeholder(i int) string {
	return maskDelim + strconv.Itoa(i) + maskDelim
}
