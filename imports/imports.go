// Package imports concatenates scripts with the libraries they import.
//
// A line `// @import path` (or `-- @import path` in Lua) at the very start of
// a line pulls in another script before the importing one. Paths starting with
// / are absolute, everything else is relative to the importing file.
package imports

import (
	"context"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/scriptai"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

const (
	defaultMaxEntries = 1024
	defaultTTL        = 10 * time.Minute
)

var importPattern = regexp.MustCompile(`(?m)^(?://|--) @import[ \t]+(\S+)[ \t]*$`)

// LoadFunc loads the raw source of a path.
type LoadFunc func(ctx context.Context, path string) ([]byte, error)

type entry struct {
	source string
	deps   []string
}

// Resolver resolves and caches import trees.
type Resolver struct {
	cache cache.Cache[string, *entry]

	// generation grows with every invalidation. A resolution that saw it
	// change may have read outdated files, and isn't cached.
	lock       scriptai.RWLock
	generation uint64
}

func NewResolver() *Resolver {
	return &Resolver{
		cache: cache.NewCache[string, *entry]().WithMaxKeys(defaultMaxEntries).WithTTL(defaultTTL),
	}
}

// Resolve returns the source of sourcePath with every import resolved,
// dependencies first and each file at most once.
func (r *Resolver) Resolve(ctx context.Context, sourcePath string, load LoadFunc) (string, error) {
	if e, found := r.cache.Get(sourcePath); found {
		return e.source, nil
	}
	generation := r.currentGeneration()
	rctx := &resolveContext{
		inProgress: map[string]bool{},
		included:   map[string]bool{},
		load:       load,
	}
	source, deps, err := rctx.resolve(ctx, sourcePath)
	if err != nil {
		return "", err
	}
	r.store(generation, sourcePath, &entry{source: source, deps: deps})
	return source, nil
}

func (r *Resolver) currentGeneration() uint64 {
	defer r.lock.AcquireRead().Release()
	return r.generation
}

func (r *Resolver) store(generation uint64, sourcePath string, e *entry) {
	defer r.lock.AcquireWrite().Release()
	if r.generation != generation {
		return
	}
	r.cache.Set(sourcePath, e, 0)
}

// Deps returns the files the cached resolution of sourcePath was built from,
// or nil if it isn't cached.
func (r *Resolver) Deps(sourcePath string) []string {
	if e, found := r.cache.Peek(sourcePath); found {
		return append([]string{}, e.deps...)
	}
	return nil
}

// Invalidate forgets every cached resolution that includes changedPath.
func (r *Resolver) Invalidate(changedPath string) {
	defer r.lock.AcquireWrite().Release()
	r.generation++
	for _, key := range r.cache.Keys() {
		e, found := r.cache.Peek(key)
		if !found {
			continue
		}
		for _, dep := range e.deps {
			if dep == changedPath {
				r.cache.Invalidate(key)
				break
			}
		}
	}
}

func (r *Resolver) InvalidateAll() {
	defer r.lock.AcquireWrite().Release()
	r.generation++
	r.cache.Purge()
}

type resolveContext struct {
	inProgress map[string]bool
	included   map[string]bool
	load       LoadFunc
}

func (rctx *resolveContext) resolve(ctx context.Context, sourcePath string) (string, []string, error) {
	if rctx.inProgress[sourcePath] {
		return "", nil, errors.Errorf("circular import detected: %s", sourcePath)
	}
	if rctx.included[sourcePath] {
		return "", []string{sourcePath}, nil
	}

	rctx.inProgress[sourcePath] = true
	defer delete(rctx.inProgress, sourcePath)

	sourceBytes, err := rctx.load(ctx, sourcePath)
	if err != nil {
		return "", nil, errors.Wrapf(err, "loading %s", sourcePath)
	}
	source := string(sourceBytes)

	deps := []string{sourcePath}
	resolved := &strings.Builder{}
	for _, imp := range ParseImports(source) {
		depSource, depDeps, err := rctx.resolve(ctx, ResolvePath(sourcePath, imp))
		if err != nil {
			return "", nil, errors.WithMessagef(err, "in %s", sourcePath)
		}
		resolved.WriteString(depSource)
		deps = append(deps, depDeps...)
	}
	resolved.WriteString(RemoveImports(source))

	rctx.included[sourcePath] = true
	return resolved.String(), deps, nil
}

func ParseImports(source string) []string {
	matches := importPattern.FindAllStringSubmatch(source, -1)
	result := make([]string, 0, len(matches))
	for _, match := range matches {
		result = append(result, match[1])
	}
	return result
}

// RemoveImports blanks the import lines, keeping the line count.
func RemoveImports(source string) string {
	return importPattern.ReplaceAllString(source, "")
}

func ResolvePath(fromPath, importPath string) string {
	if strings.HasPrefix(importPath, "/") {
		return path.Clean(importPath)
	}
	return path.Clean(path.Join(path.Dir(fromPath), importPath))
}
