package ingest

import (
	"strings"
	"unicode/utf8"
)

// cleanText trims s and replaces each invalid UTF-8 byte with U+FFFD.
// Course exports and building pages are not always UTF-8 clean, and the
// stored bodies must round-trip through encoding/json unchanged.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if utf8.ValidString(s) {
		return s
	}

	out := make([]byte, 0, len(s)+len(s)/8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			out = append(out, "�"...)
			i++
			continue
		}
		out = append(out, s[i:i+size]...)
		i += size
	}
	return string(out)
}
