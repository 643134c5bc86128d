package imports

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseImports(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected []string
	}{
		{
			name:     "no imports",
			source:   "var x = 1;",
			expected: []string{},
		},
		{
			name:     "single import",
			source:   "// @import /lib/util.js\nvar x = 1;",
			expected: []string{"/lib/util.js"},
		},
		{
			name:     "lua import",
			source:   "-- @import /lib/util.lua\nlocal x = 1",
			expected: []string{"/lib/util.lua"},
		},
		{
			name:     "multiple imports",
			source:   "// @import /lib/util.js\n// @import ./math.js\nvar x = 1;",
			expected: []string{"/lib/util.js", "./math.js"},
		},
		{
			name:     "not an import - in comment",
			source:   "// This is a note: @import is cool\nvar x = 1;",
			expected: []string{},
		},
		{
			name:     "not an import - indented",
			source:   "  // @import /lib/util.js\nvar x = 1;",
			expected: []string{},
		},
		{
			name:     "import with trailing whitespace",
			source:   "// @import /lib/util.js   \nvar x = 1;",
			expected: []string{"/lib/util.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.expected, ParseImports(tt.source)); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestRemoveImports(t *testing.T) {
	for _, tc := range []struct {
		source   string
		expected string
	}{
		{"var x = 1;", "var x = 1;"},
		{"// @import /lib/util.js\nvar x = 1;", "\nvar x = 1;"},
		{"-- @import /lib/util.lua\n-- regular comment\nlocal x = 1", "\n-- regular comment\nlocal x = 1"},
		{"// @import /lib/util.js\n\n\nvar x = 1;", "\n\n\nvar x = 1;"},
		{"// @import /lib/util.js \t\nvar x = 1;", "\nvar x = 1;"},
	} {
		if got := RemoveImports(tc.source); got != tc.expected {
			t.Errorf("RemoveImports(%q) = %q, want %q", tc.source, got, tc.expected)
		}
	}
}

func TestResolvePath(t *testing.T) {
	for _, tc := range []struct {
		from, imp, want string
	}{
		{"/mobs/wolf.js", "/lib/util.js", "/lib/util.js"},
		{"/mobs/wolf.js", "./util.js", "/mobs/util.js"},
		{"/mobs/wolf.js", "../lib/util.js", "/lib/util.js"},
		{"/mobs/wolf.js", "util.js", "/mobs/util.js"},
		{"/a/b/c/d.js", "../../lib/util.js", "/a/lib/util.js"},
	} {
		if got := ResolvePath(tc.from, tc.imp); got != tc.want {
			t.Errorf("ResolvePath(%q, %q) = %q, want %q", tc.from, tc.imp, got, tc.want)
		}
	}
}

type loader struct {
	sources map[string]string
	calls   int
}

func (l *loader) load(ctx context.Context, path string) ([]byte, error) {
	l.calls++
	source, found := l.sources[path]
	if !found {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return []byte(source), nil
}

func TestResolveChained(t *testing.T) {
	l := &loader{sources: map[string]string{
		"/lib/base.js": "var base = 'base';",
		"/lib/util.js": "// @import ./base.js\nvar util = base + '-util';",
		"/mobs/wolf.js": "// @import ../lib/util.js\nlog(util);",
	}}
	r := NewResolver()
	got, err := r.Resolve(context.Background(), "/mobs/wolf.js", l.load)
	if err != nil {
		t.Fatal(err)
	}
	want := "var base = 'base';\nvar util = base + '-util';\nlog(util);"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if diff := cmp.Diff([]string{"/mobs/wolf.js", "/lib/util.js", "/lib/base.js"}, r.Deps("/mobs/wolf.js")); diff != "" {
		t.Error(diff)
	}
}

func TestResolveDiamond(t *testing.T) {
	l := &loader{sources: map[string]string{
		"/d.js": "var d = 'd';",
		"/b.js": "// @import /d.js\nvar b = d + '-b';",
		"/c.js": "// @import /d.js\nvar c = d + '-c';",
		"/a.js": "// @import /b.js\n// @import /c.js\nlog(b, c);",
	}}
	got, err := NewResolver().Resolve(context.Background(), "/a.js", l.load)
	if err != nil {
		t.Fatal(err)
	}
	want := "var d = 'd';\nvar b = d + '-b';\nvar c = d + '-c';\n\nlog(b, c);"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveErrors(t *testing.T) {
	l := &loader{sources: map[string]string{
		"/a.js":    "// @import /b.js\nvar a = 'a';",
		"/b.js":    "// @import /a.js\nvar b = 'b';",
		"/main.js": "// @import /missing.js\nvar x = 1;",
	}}
	r := NewResolver()
	if _, err := r.Resolve(context.Background(), "/a.js", l.load); err == nil || !strings.Contains(err.Error(), "circular") {
		t.Errorf("got %v, want circular import error", err)
	}
	if _, err := r.Resolve(context.Background(), "/main.js", l.load); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("got %v, want missing file error", err)
	}
}

func TestCachingAndInvalidation(t *testing.T) {
	l := &loader{sources: map[string]string{
		"/lib/util.js": "var util = 'util';",
		"/main.js":     "// @import /lib/util.js\nvar x = util;",
		"/other.js":    "var y = 2;",
	}}
	r := NewResolver()
	ctx := context.Background()
	for _, path := range []string{"/main.js", "/other.js"} {
		if _, err := r.Resolve(ctx, path, l.load); err != nil {
			t.Fatal(err)
		}
	}
	calls := l.calls
	if _, err := r.Resolve(ctx, "/main.js", l.load); err != nil {
		t.Fatal(err)
	}
	if l.calls != calls {
		t.Errorf("cached resolve loaded %v files", l.calls-calls)
	}

	l.sources["/lib/util.js"] = "var util = 'changed';"
	r.Invalidate("/lib/util.js")
	if r.Deps("/main.js") != nil {
		t.Error("dependent of changed file still cached")
	}
	if r.Deps("/other.js") == nil {
		t.Error("unrelated file was invalidated")
	}
	got, err := r.Resolve(ctx, "/main.js", l.load)
	if err != nil {
		t.Fatal(err)
	}
	if want := "var util = 'changed';\nvar x = util;"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	r.InvalidateAll()
	if r.Deps("/other.js") != nil {
		t.Error("InvalidateAll kept entries")
	}
}

func TestInvalidateDuringResolve(t *testing.T) {
	l := &loader{sources: map[string]string{
		"/main.js": "var version = 'old';",
	}}
	r := NewResolver()
	ctx := context.Background()
	// The file changes after it was read, but before the resolution is done.
	reloading := func(ctx context.Context, path string) ([]byte, error) {
		b, err := l.load(ctx, path)
		l.sources["/main.js"] = "var version = 'new';"
		r.Invalidate("/main.js")
		return b, err
	}
	got, err := r.Resolve(ctx, "/main.js", reloading)
	if err != nil {
		t.Fatal(err)
	}
	if want := "var version = 'old';"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if r.Deps("/main.js") != nil {
		t.Error("cached a resolution that raced with an invalidation")
	}
	if got, err = r.Resolve(ctx, "/main.js", l.load); err != nil {
		t.Fatal(err)
	}
	if want := "var version = 'new';"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if r.Deps("/main.js") == nil {
		t.Error("undisturbed resolution wasn't cached")
	}
}
