package layfs

import (
	"path"
	"strings"
)

// hostPattern rewrites the DOS wildcards a host may pass into path.Match
// syntax: < is *, > is ? and " is a literal dot. Characters that are special
// to path.Match but literal in host patterns are escaped.
func hostPattern(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for _, r := range pattern {
		switch r {
		case '<':
			b.WriteByte('*')
		case '>':
			b.WriteByte('?')
		case '"':
			b.WriteByte('.')
		case '\\', '[', ']':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// matchPattern reports whether name matches a host search pattern. An empty
// pattern, "*" and "*.*" match everything.
func matchPattern(pattern, name string) bool {
	switch pattern {
	case "", "*", "*.*":
		return true
	}
	ok, err := path.Match(hostPattern(pattern), name)
	return err == nil && ok
}
