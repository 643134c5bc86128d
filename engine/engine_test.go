package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/zond/scriptai/registry"
	"github.com/zond/scriptai/stats"
	"github.com/zond/scriptai/structs"
)

type fakeSources map[string]string

func (f fakeSources) Resolve(ctx context.Context, actor structs.ActorID, entry string) (string, []byte, error) {
	if path, found := f[string(actor)]; found {
		return path, []byte("source of " + path), nil
	}
	if path, found := f[entry]; found {
		return path, []byte("source of " + path), nil
	}
	return "", nil, os.ErrNotExist
}

type fakeBackend func(inv *Invocation) (*Result, error)

func (f fakeBackend) Call(ctx context.Context, inv *Invocation) (*Result, error) {
	return f(inv)
}

type fakeConsoles map[structs.ActorID]*bytes.Buffer

func (f fakeConsoles) Writer(id structs.ActorID) io.Writer {
	if _, found := f[id]; !found {
		f[id] = &bytes.Buffer{}
	}
	return f[id]
}

type fixture struct {
	tables   *registry.Registry
	consoles fakeConsoles
	engine   *Engine
	calls    []*Invocation
}

func newFixture(t *testing.T, sources fakeSources, backend func(inv *Invocation) (*Result, error)) *fixture {
	t.Helper()
	f := &fixture{
		tables:   registry.New(),
		consoles: fakeConsoles{},
	}
	f.engine = New(Options{
		Tables:   f.tables,
		Sources:  sources,
		Consoles: f.consoles,
		Backends: map[string]Backend{
			".js": fakeBackend(func(inv *Invocation) (*Result, error) {
				f.calls = append(f.calls, inv)
				return backend(inv)
			}),
		},
	})
	return f
}

func (f *fixture) spawn(t *testing.T, id structs.ActorID) *registry.Table {
	t.Helper()
	table, err := f.tables.Create(id)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func handled(inv *Invocation) (*Result, error) {
	return &Result{Handled: true, State: inv.State, Args: inv.Args}, nil
}

func TestUnbound(t *testing.T) {
	f := newFixture(t, fakeSources{}, handled)
	f.spawn(t, "wolf")
	if v := f.engine.Offer(context.Background(), &structs.Event{Category: structs.Tick, Actor: "wolf", Entry: "wolf_template"}); v != structs.NotHandled {
		t.Errorf("got %v for unbound actor", v)
	}
	if len(f.calls) != 0 {
		t.Errorf("backend called %v times", len(f.calls))
	}
}

func TestBindingPrecedence(t *testing.T) {
	f := newFixture(t, fakeSources{"wolf": "/wolf.js", "wolf_template": "/pack.js"}, handled)
	f.spawn(t, "wolf")
	f.spawn(t, "cub")
	ctx := context.Background()
	f.engine.Offer(ctx, &structs.Event{Category: structs.Tick, Actor: "wolf", Entry: "wolf_template"})
	f.engine.Offer(ctx, &structs.Event{Category: structs.Tick, Actor: "cub", Entry: "wolf_template"})
	got := []string{}
	for _, call := range f.calls {
		got = append(got, call.Origin)
	}
	if diff := cmp.Diff([]string{"/wolf.js", "/pack.js"}, got); diff != "" {
		t.Error(diff)
	}
}

func TestInvocation(t *testing.T) {
	f := newFixture(t, fakeSources{"wolf": "/wolf.js"}, handled)
	f.spawn(t, "wolf").SetState(`{"x":1}`)
	damage := uint32(7)
	f.engine.Offer(context.Background(), &structs.Event{Category: structs.DamageTaken, Actor: "wolf", Other: "hero", Damage: &damage})
	if len(f.calls) != 1 {
		t.Fatalf("got %v calls", len(f.calls))
	}
	inv := f.calls[0]
	if inv.Hook != "damageTaken" || inv.Source != "source of /wolf.js" || inv.State != `{"x":1}` || inv.Timeout != DefaultTimeout {
		t.Errorf("got %+v", inv)
	}
	if diff := cmp.Diff(map[string]any{"actor": "wolf", "attacker": "hero", "damage": int64(7)}, inv.Args); diff != "" {
		t.Error(diff)
	}
	inv.Host.Logf("hello %s", "world")
	if got := f.consoles["wolf"].String(); got != "hello world\n" {
		t.Errorf("got console %q", got)
	}
}

func TestHandledRewritesArgsAndState(t *testing.T) {
	f := newFixture(t, fakeSources{"wolf": "/wolf.js"}, func(inv *Invocation) (*Result, error) {
		return &Result{Handled: true, State: `{"hits":1}`, Args: map[string]any{"damage": float64(3)}}, nil
	})
	table := f.spawn(t, "wolf")
	damage := uint32(7)
	if v := f.engine.Offer(context.Background(), &structs.Event{Category: structs.DamageTaken, Actor: "wolf", Damage: &damage}); v != structs.Handled {
		t.Errorf("got %v", v)
	}
	if damage != 3 {
		t.Errorf("got damage %v, want 3", damage)
	}
	if got := table.State(); got != `{"hits":1}` {
		t.Errorf("got state %q", got)
	}
	if hooks := f.engine.Stats().Hooks(); len(hooks) != 1 || hooks[0].Handled != 1 {
		t.Errorf("got %+v", hooks)
	}
}

func TestDeclinedRewritesArgsAndState(t *testing.T) {
	f := newFixture(t, fakeSources{"wolf": "/wolf.js"}, func(inv *Invocation) (*Result, error) {
		return &Result{Handled: false, State: `{"seen":true}`, Args: map[string]any{"damage": float64(3)}}, nil
	})
	table := f.spawn(t, "wolf")
	damage := uint32(7)
	if v := f.engine.Offer(context.Background(), &structs.Event{Category: structs.DamageTaken, Actor: "wolf", Damage: &damage}); v != structs.NotHandled {
		t.Errorf("got %v", v)
	}
	if damage != 3 {
		t.Errorf("got damage %v after a declining rewrite, want 3", damage)
	}
	if got := table.State(); got != `{"seen":true}` {
		t.Errorf("got state %q", got)
	}
}

func TestFailures(t *testing.T) {
	for _, tc := range []struct {
		name     string
		backend  func(inv *Invocation) (*Result, error)
		category stats.ErrorCategory
	}{
		{
			name: "script error",
			backend: func(inv *Invocation) (*Result, error) {
				return nil, fmt.Errorf("ReferenceError: x is not defined")
			},
			category: stats.CategoryScript,
		},
		{
			name: "timeout",
			backend: func(inv *Invocation) (*Result, error) {
				return nil, errors.WithStack(ErrTimeout)
			},
			category: stats.CategoryTimeout,
		},
		{
			name: "panic",
			backend: func(inv *Invocation) (*Result, error) {
				panic("boom")
			},
			category: stats.CategoryPanic,
		},
		{
			name: "bad args",
			backend: func(inv *Invocation) (*Result, error) {
				return &Result{Handled: true, State: "{}", Args: map[string]any{"damage": "lots"}}, nil
			},
			category: stats.CategoryArgs,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, fakeSources{"wolf": "/wolf.js"}, tc.backend)
			f.spawn(t, "wolf")
			damage := uint32(7)
			if v := f.engine.Offer(context.Background(), &structs.Event{Category: structs.DamageTaken, Actor: "wolf", Damage: &damage}); v != structs.NotHandled {
				t.Errorf("got %v", v)
			}
			if damage != 7 {
				t.Errorf("failed hook rewrote damage to %v", damage)
			}
			if diff := cmp.Diff(map[stats.ErrorCategory]uint64{tc.category: 1}, f.engine.Stats().ErrorCategories()); diff != "" {
				t.Error(diff)
			}
			if got := f.consoles["wolf"].String(); !strings.Contains(got, "---- error in /wolf.js (damageTaken) ----") {
				t.Errorf("got console %q", got)
			}
		})
	}
}

func TestMissingTable(t *testing.T) {
	f := newFixture(t, fakeSources{"wolf": "/wolf.js"}, handled)
	if v := f.engine.Offer(context.Background(), &structs.Event{Category: structs.Tick, Actor: "wolf"}); v != structs.NotHandled {
		t.Errorf("got %v", v)
	}
	if len(f.calls) != 0 {
		t.Errorf("backend called for actor without table")
	}
}

func TestUnknownExtension(t *testing.T) {
	f := newFixture(t, fakeSources{"wolf": "/wolf.py"}, handled)
	f.spawn(t, "wolf")
	if v := f.engine.Offer(context.Background(), &structs.Event{Category: structs.Tick, Actor: "wolf"}); v != structs.NotHandled {
		t.Errorf("got %v", v)
	}
}

func TestPeekState(t *testing.T) {
	f := newFixture(t, fakeSources{"wolf": "/wolf.js"}, handled)
	f.spawn(t, "wolf")
	f.spawn(t, "leader").SetState(`{"target":"hero"}`)
	f.engine.Offer(context.Background(), &structs.Event{Category: structs.Tick, Actor: "wolf"})
	peek := f.calls[0].Host.PeekState
	if state, found := peek("leader"); !found || state != `{"target":"hero"}` {
		t.Errorf("got %q, %v", state, found)
	}
	if _, found := peek("nobody"); found {
		t.Error("found state of missing actor")
	}
}
