// Package storage keeps script sources and the bindings of scripts to actors
// and templates.
package storage

import (
	"context"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/scriptai"
	"github.com/zond/scriptai/imports"
	"github.com/zond/scriptai/storage/dbm"
	"github.com/zond/scriptai/structs"
)

type BindingKind string

const (
	ActorBinding    BindingKind = "actor"
	TemplateBinding BindingKind = "template"
)

func (k BindingKind) Valid() bool {
	return k == ActorBinding || k == TemplateBinding
}

type Source struct {
	Path    string
	Content []byte
	ModTime time.Time
}

type Binding struct {
	Kind BindingKind
	Key  string
	Path string
}

func (b *Binding) id() string {
	return bindingID(b.Kind, b.Key)
}

func bindingID(kind BindingKind, key string) string {
	return string(kind) + ":" + key
}

type Storage struct {
	sources  *dbm.TypeHash[Source]
	bindings *dbm.TypeHash[Binding]
	resolver *imports.Resolver
}

func New(ctx context.Context, dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, scriptai.WithStack(err)
	}
	o := &opener{Dir: dir}
	s := &Storage{
		sources:  openTypeHash[Source](o, "sources"),
		bindings: openTypeHash[Binding](o, "bindings"),
		resolver: imports.NewResolver(),
	}
	if o.Err != nil {
		o.closeAll()
		return nil, o.Err
	}
	return s, nil
}

func (s *Storage) Close() error {
	err := s.sources.Close()
	if bErr := s.bindings.Close(); err == nil {
		err = bErr
	}
	return err
}

// CleanPath turns p into the absolute slash separated form sources are
// stored under.
func CleanPath(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

func (s *Storage) PutSource(ctx context.Context, p string, content []byte, modTime time.Time) error {
	p = CleanPath(p)
	if err := s.sources.Set(p, &Source{Path: p, Content: content, ModTime: modTime}, true); err != nil {
		return scriptai.WithStack(err)
	}
	s.resolver.Invalidate(p)
	return nil
}

func (s *Storage) GetSource(ctx context.Context, p string) (*Source, error) {
	return s.sources.Get(CleanPath(p))
}

func (s *Storage) DelSource(ctx context.Context, p string) error {
	p = CleanPath(p)
	if err := s.sources.Del(p); err != nil {
		return scriptai.WithStack(err)
	}
	s.resolver.Invalidate(p)
	return nil
}

// Sources returns every stored source, without content, sorted by path.
func (s *Storage) Sources(ctx context.Context) ([]Source, error) {
	result := []Source{}
	if err := s.sources.Each(func(_ string, src *Source) (bool, error) {
		result = append(result, Source{Path: src.Path, ModTime: src.ModTime})
		return true, nil
	}); err != nil {
		return nil, scriptai.WithStack(err)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})
	return result, nil
}

// Bind binds the source at p to an actor or a template. The source must exist.
func (s *Storage) Bind(ctx context.Context, kind BindingKind, key string, p string) error {
	if !kind.Valid() {
		return errors.Errorf("unknown binding kind %q", kind)
	}
	p = CleanPath(p)
	if _, err := s.sources.Get(p); err != nil {
		return errors.WithMessagef(err, "binding %s %q to %q", kind, key, p)
	}
	b := &Binding{Kind: kind, Key: key, Path: p}
	if err := s.bindings.Set(b.id(), b, true); err != nil {
		return scriptai.WithStack(err)
	}
	log.Printf("bound %s %q to %q", kind, key, p)
	return nil
}

// Unbind removes a binding. A missing binding is os.ErrNotExist.
func (s *Storage) Unbind(ctx context.Context, kind BindingKind, key string) error {
	return s.bindings.Del(bindingID(kind, key))
}

// Bindings returns every binding, sorted by kind and key.
func (s *Storage) Bindings(ctx context.Context) ([]Binding, error) {
	result := []Binding{}
	if err := s.bindings.Each(func(_ string, b *Binding) (bool, error) {
		result = append(result, *b)
		return true, nil
	}); err != nil {
		return nil, scriptai.WithStack(err)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Kind == result[j].Kind {
			return result[i].Key < result[j].Key
		}
		return result[i].Kind < result[j].Kind
	})
	return result, nil
}

// BoundPath returns the path of the source bound to actor, or else to its
// template entry.
func (s *Storage) BoundPath(ctx context.Context, actor structs.ActorID, entry string) (string, error) {
	b, err := s.bindings.Get(bindingID(ActorBinding, string(actor)))
	if errors.Is(err, os.ErrNotExist) && entry != "" {
		b, err = s.bindings.Get(bindingID(TemplateBinding, entry))
	}
	if err != nil {
		return "", err
	}
	return b.Path, nil
}

func (s *Storage) load(ctx context.Context, p string) ([]byte, error) {
	src, err := s.sources.Get(p)
	if err != nil {
		return nil, err
	}
	return src.Content, nil
}

// Resolve implements engine.Sources. The returned source has its imports
// resolved.
func (s *Storage) Resolve(ctx context.Context, actor structs.ActorID, entry string) (string, []byte, error) {
	p, err := s.BoundPath(ctx, actor, entry)
	if err != nil {
		return "", nil, err
	}
	source, err := s.resolver.Resolve(ctx, p, s.load)
	if err != nil {
		return "", nil, err
	}
	return p, []byte(source), nil
}
