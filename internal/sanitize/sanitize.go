// Package sanitize cleans free-text fields before they are persisted.
package sanitize

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// Text strips markup and control characters from s, normalises it to NFKC
// and collapses runs of whitespace. Content inside script and style
// elements is dropped entirely.
func Text(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return clean(b.String())
		case html.StartTagToken:
			if name, _ := z.TagName(); dropsContent(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); dropsContent(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
		// tags are separators, not joiners
		if tt != html.TextToken {
			b.WriteByte(' ')
		}
	}
}

func dropsContent(tag string) bool {
	return tag == "script" || tag == "style"
}

func clean(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '<' || r == '>':
			return -1
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
