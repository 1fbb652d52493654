package agent

import (
	"strings"
	"unicode"

	radix "github.com/armon/go-radix"
)

// defaultInjectionPhrases are structured-query fragments that have no
// business appearing in task text.
var defaultInjectionPhrases = []string{
	"drop table",
	"drop database",
	"delete from",
	"truncate table",
	"insert into",
	"select * from",
	"union select",
	"alter table",
	"create table",
	"grant all",
	"or 1=1",
	"exec(",
	"execute immediate",
	"<script",
}

// shellMeta are characters with shell or query significance; any occurrence
// in a string argument rejects the field.
const shellMeta = ";|&`$<>"

// Scanner detects injection-style patterns in string arguments: control
// characters, shell metacharacters, and out-of-place query keywords held in
// a radix tree for prefix matching.
type Scanner struct {
	phrases *radix.Tree
}

// NewScanner builds a scanner from the default phrase set plus any
// configured extras.
func NewScanner(extra ...string) *Scanner {
	tree := radix.New()
	for _, p := range defaultInjectionPhrases {
		tree.Insert(strings.ToLower(p), struct{}{})
	}
	for _, p := range extra {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			tree.Insert(p, struct{}{})
		}
	}
	return &Scanner{phrases: tree}
}

// Scan reports the first offending pattern found in value, if any.
func (s *Scanner) Scan(value string) (string, bool) {
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return "control character", true
		}
	}

	if i := strings.IndexAny(value, shellMeta); i >= 0 {
		return string(value[i]), true
	}

	normalized := normalizeForScan(value)
	for i := range normalized {
		prefix, _, ok := s.phrases.LongestPrefix(normalized[i:])
		if !ok {
			continue
		}
		// Phrases ending mid-word only match at a word boundary, so
		// "update settings" does not trip "update set".
		end := i + len(prefix)
		last := prefix[len(prefix)-1]
		if !wordChar(last) || end == len(normalized) || !wordChar(normalized[end]) {
			return prefix, true
		}
	}
	return "", false
}

// normalizeForScan lowercases and collapses whitespace runs so phrase
// matching is layout-independent.
func normalizeForScan(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func wordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}
