// Package engine is where hooks meet scripts.
//
// An Engine finds the script bound to an actor, runs the callback the script
// registered for the hook, and turns everything that can go wrong on the way
// into NotHandled so the host falls back on its defaults.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/scriptai"
	"github.com/zond/scriptai/registry"
	"github.com/zond/scriptai/stats"
	"github.com/zond/scriptai/structs"
)

const (
	DefaultTimeout = 200 * time.Millisecond
)

var (
	ErrTimeout = errors.New("script timeout")
)

// Host is what the running script can reach of the world outside it.
type Host struct {
	// Console receives what the script logs.
	Console io.Writer
	// PeekState returns the state of another actor's scripts.
	PeekState func(id structs.ActorID) (string, bool)
}

func (h *Host) Logf(format string, args ...any) {
	if h != nil && h.Console != nil {
		log.New(h.Console, "", 0).Printf(format, args...)
	}
}

// Invocation is one callback run.
type Invocation struct {
	Source  string
	Origin  string
	Hook    string
	Args    map[string]any
	State   string
	Host    *Host
	Timeout time.Duration
}

// Result of an Invocation. Args are the possibly rewritten arguments.
type Result struct {
	Handled bool
	State   string
	Args    map[string]any
}

// Backend runs scripts in one language.
type Backend interface {
	Call(ctx context.Context, inv *Invocation) (*Result, error)
}

// Sources finds the script for an actor: bound to the actor itself, or else to
// its template. A missing binding is os.ErrNotExist.
type Sources interface {
	Resolve(ctx context.Context, actor structs.ActorID, entry string) (path string, source []byte, err error)
}

// Consoles hands out per actor log writers.
type Consoles interface {
	Writer(id structs.ActorID) io.Writer
}

type Options struct {
	Tables   *registry.Registry
	Sources  Sources
	Stats    *stats.Stats
	Consoles Consoles
	// Backends by source file extension, e.g. ".js".
	Backends map[string]Backend
	Timeout  time.Duration
}

// Engine is the scripting runtime of one or more regions. It is safe for
// concurrent use by the goroutines driving them.
type Engine struct {
	tables   *registry.Registry
	sources  Sources
	stats    *stats.Stats
	consoles Consoles
	backends map[string]Backend
	timeout  time.Duration
}

func New(opts Options) *Engine {
	e := &Engine{
		tables:   opts.Tables,
		sources:  opts.Sources,
		stats:    opts.Stats,
		consoles: opts.Consoles,
		backends: map[string]Backend{},
		timeout:  opts.Timeout,
	}
	for ext, b := range opts.Backends {
		e.backends[ext] = b
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.stats == nil {
		e.stats = stats.New(0)
	}
	return e
}

func (e *Engine) Stats() *stats.Stats {
	return e.stats
}

func (e *Engine) console(id structs.ActorID) io.Writer {
	if e.consoles == nil {
		return nil
	}
	return e.consoles.Writer(id)
}

func (e *Engine) peekState(id structs.ActorID) (string, bool) {
	t, found := e.tables.Lookup(id)
	if !found {
		return "", false
	}
	return t.State(), true
}

// Offer implements hooks.Runtime.
func (e *Engine) Offer(ctx context.Context, ev *structs.Event) (verdict structs.Verdict) {
	path, source, err := e.sources.Resolve(ctx, ev.Actor, ev.Entry)
	if errors.Is(err, os.ErrNotExist) {
		return structs.NotHandled
	} else if err != nil {
		log.Printf("resolving script for %q (%q): %v", ev.Actor, ev.Entry, err)
		return structs.NotHandled
	}
	backend, found := e.backends[filepath.Ext(path)]
	if !found {
		log.Printf("no backend for %q bound to %q", path, ev.Actor)
		return structs.NotHandled
	}
	table, found := e.tables.Lookup(ev.Actor)
	if !found {
		return structs.NotHandled
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("panic: %v", r)
			e.fail(ev, path, time.Since(start), stats.CategoryPanic, err)
			verdict = structs.NotHandled
		}
	}()

	res, err := backend.Call(ctx, &Invocation{
		Source: string(source),
		Origin: path,
		Hook:   ev.Category.String(),
		Args:   ev.Args(),
		State:  table.State(),
		Host: &Host{
			Console:   e.console(ev.Actor),
			PeekState: e.peekState,
		},
		Timeout: e.timeout,
	})
	if err != nil {
		category := stats.CategoryScript
		if errors.Is(err, ErrTimeout) {
			category = stats.CategoryTimeout
		}
		e.fail(ev, path, time.Since(start), category, err)
		return structs.NotHandled
	}

	table.SetState(res.State)
	// Rewritten in/out arguments count even when the script declines, since the
	// default handler reads them next.
	if err := ev.ApplyArgs(res.Args); err != nil {
		e.fail(ev, path, time.Since(start), stats.CategoryArgs, err)
		return structs.NotHandled
	}
	if !res.Handled {
		e.stats.RecordExecution(ev.Actor, path, ev.Category, time.Since(start), structs.NotHandled)
		return structs.NotHandled
	}
	e.stats.RecordExecution(ev.Actor, path, ev.Category, time.Since(start), structs.Handled)
	return structs.Handled
}

func (e *Engine) fail(ev *structs.Event, path string, d time.Duration, category stats.ErrorCategory, err error) {
	err = scriptai.WithStack(err)
	log.Printf("%v for %q in %q failed: %v", ev.Category, ev.Actor, path, err)
	if w := e.console(ev.Actor); w != nil {
		fmt.Fprintf(w, "---- error in %s (%v) ----\n%v\n", path, ev.Category, err)
	}
	e.stats.RecordError(ev.Actor, path, ev.Category, d, category, err)
}
