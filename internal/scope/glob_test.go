package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"package.json", "package.json", true},
		{"package.json", "sub/package.json", false},
		{"*.md", "README.md", true},
		{"*.md", "docs/guide.md", false},
		{"**/*.md", "README.md", true},
		{"**/*.md", "docs/guide.md", true},
		{"**/*.md", "docs/deep/guide.md", true},
		{"src/**", "src/a.ts", true},
		{"src/**", "src/lib/a.ts", true},
		{"src/**", "srcx/a.ts", false},
		{"src/*", "src/lib/a.ts", false},
		{"src/**/test.ts", "src/test.ts", true},
		{"src/**/test.ts", "src/a/b/test.ts", true},
		{"a/**/**/b", "a/b", true},
		{"examples/", "examples/demo/main.go", true},
		{"examples/", "examples", true},
		{"./docs/*.md", "docs/a.md", true},
		{"docs/*.md", "./docs/a.md", true},
		{"*.{js,ts}", "index.ts", true},
		{"*.{js,ts}", "index.go", false},
		{"**", "anything/at/all", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.path, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.path))
		})
	}
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile("src/[abc")
	assert.Error(t, err)

	_, err = Compile("")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a/b", Normalize("./a/b/"))
	assert.Equal(t, "a/b", Normalize("/a/b"))
	assert.Equal(t, "a", Normalize("a"))
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("[") })
	assert.Equal(t, "*.go", MustCompile("*.go").String())
}
