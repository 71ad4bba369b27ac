package scope

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Pattern is a compiled path glob. '*' matches within one path segment and
// '**' matches across segments. Because gobwas/glob treats "**/" literally,
// each pattern is expanded into variants where a "**/" segment may also
// match nothing, so "**/*.md" matches "README.md" and "a/**/b" matches "a/b".
type Pattern struct {
	raw   string
	globs []glob.Glob
}

// Compile parses a glob pattern. A trailing "/" is shorthand for "/**".
func Compile(pattern string) (*Pattern, error) {
	p := Normalize(pattern)
	if p == "" {
		return nil, fmt.Errorf("empty glob pattern")
	}
	if strings.HasSuffix(pattern, "/") {
		p += "/**"
	}

	variants := expand(p)
	globs := make([]glob.Glob, 0, len(variants))
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}

	return &Pattern{raw: pattern, globs: globs}, nil
}

// MustCompile is like Compile but panics on error. Intended for constants.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether path (relative, any separator) matches.
func (p *Pattern) Match(path string) bool {
	path = Normalize(path)
	for _, g := range p.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// String returns the pattern as written.
func (p *Pattern) String() string {
	return p.raw
}

// expand returns pattern plus every variant obtained by letting "**/"
// segments match zero directories, and a trailing "/**" match the
// directory itself.
func expand(pattern string) []string {
	seen := map[string]bool{pattern: true}
	queue := []string{pattern}
	out := []string{}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		out = append(out, p)

		var next []string
		if strings.HasPrefix(p, "**/") {
			next = append(next, p[len("**/"):])
		}
		if strings.HasSuffix(p, "/**") && len(p) > len("/**") {
			next = append(next, strings.TrimSuffix(p, "/**"))
		}
		for i := strings.Index(p, "/**/"); i >= 0; {
			next = append(next, p[:i]+"/"+p[i+len("/**/"):])
			j := strings.Index(p[i+1:], "/**/")
			if j < 0 {
				break
			}
			i += 1 + j
		}

		for _, n := range next {
			if n != "" && !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}

	return out
}

// Normalize converts a path to the slash-separated relative form every
// matcher in this package works on.
func Normalize(path string) string {
	p := filepath.ToSlash(path)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return strings.TrimSuffix(strings.TrimPrefix(p, "/"), "/")
}
