package lua

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/zond/scriptai/engine"
	"github.com/zond/scriptai/registry"
	"github.com/zond/scriptai/structs"
)

func TestHandled(t *testing.T) {
	console := &bytes.Buffer{}
	res, err := Backend{}.Call(context.Background(), &engine.Invocation{
		Source: `
function hooks.damageTaken(ev)
  state.hits = (state.hits or 0) + 1
  ev.damage = math.floor(ev.damage / 2)
  log("hit by", ev.attacker)
  return true
end
`,
		Origin: "/wolf.lua",
		Hook:   structs.DamageTaken.String(),
		Args:   map[string]any{"actor": "wolf", "attacker": "hero", "damage": int64(11)},
		State:  `{"hits":4}`,
		Host:   &engine.Host{Console: console},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Handled {
		t.Error("callback returning true didn't handle the hook")
	}
	if res.State != `{"hits":5}` {
		t.Errorf("got state %q", res.State)
	}
	damage := uint32(11)
	ev := &structs.Event{Category: structs.DamageTaken, Damage: &damage}
	if err := ev.ApplyArgs(res.Args); err != nil {
		t.Fatal(err)
	}
	if damage != 5 {
		t.Errorf("got damage %v, want 5", damage)
	}
	if got := console.String(); got != "hit by hero\n" {
		t.Errorf("got console %q", got)
	}
}

func TestNotHandled(t *testing.T) {
	for _, tc := range []struct {
		name   string
		source string
		hook   string
	}{
		{
			name:   "no callback",
			source: `function hooks.tick(ev) return true end`,
			hook:   "justDied",
		},
		{
			name:   "returns nothing",
			source: `function hooks.tick(ev) state.ticked = true end`,
			hook:   "tick",
		},
		{
			name:   "returns truthy non-boolean",
			source: `function hooks.tick(ev) return 1 end`,
			hook:   "tick",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Backend{}.Call(context.Background(), &engine.Invocation{
				Source: tc.source,
				Origin: tc.name,
				Hook:   tc.hook,
				Args:   map[string]any{"actor": "wolf"},
			})
			if err != nil {
				t.Fatal(err)
			}
			if res.Handled {
				t.Error("hook handled")
			}
		})
	}
}

type oneSource string

func (o oneSource) Resolve(ctx context.Context, actor structs.ActorID, entry string) (string, []byte, error) {
	return "/wolf.lua", []byte(o), nil
}

func TestDeclinedRewriteReachesDefault(t *testing.T) {
	tables := registry.New()
	if _, err := tables.Create("wolf"); err != nil {
		t.Fatal(err)
	}
	e := engine.New(engine.Options{
		Tables: tables,
		Sources: oneSource(`
function hooks.damageTaken(ev)
  ev.damage = 3
  return false
end
`),
		Backends: map[string]engine.Backend{".lua": Backend{}},
	})
	damage := uint32(7)
	ev := &structs.Event{Category: structs.DamageTaken, Actor: "wolf", Other: "hero", Damage: &damage}
	if v := e.Offer(context.Background(), ev); v != structs.NotHandled {
		t.Errorf("got %v", v)
	}
	if damage != 3 {
		t.Errorf("got damage %v, want the rewritten 3", damage)
	}
}

func TestStateRoundTrip(t *testing.T) {
	res, err := Backend{}.Call(context.Background(), &engine.Invocation{
		Source: `
function hooks.tick(ev)
  table.insert(state.path, ev.elapsed)
  state.leader = peekState("leader").name
  state.nobody = peekState("nobody") == nil
  return true
end
`,
		Origin: "/walker.lua",
		Hook:   "tick",
		Args:   map[string]any{"elapsed": int64(100)},
		State:  `{"path":[10,20]}`,
		Host: &engine.Host{
			PeekState: func(id structs.ActorID) (string, bool) {
				if id == "leader" {
					return `{"name":"alpha"}`, true
				}
				return "", false
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	// goccy sorts map keys.
	if diff := cmp.Diff(`{"leader":"alpha","nobody":true,"path":[10,20,100]}`, res.State); diff != "" {
		t.Error(diff)
	}
}

func TestErrors(t *testing.T) {
	for _, source := range []string{
		`function hooks.tick(ev) error("oops") end`,
		`this is not lua`,
		`hooks = 5`,
		`function hooks.tick(ev) return peekState() end`,
	} {
		if _, err := (Backend{}).Call(context.Background(), &engine.Invocation{
			Source: source,
			Origin: "/broken.lua",
			Hook:   "tick",
			Host:   &engine.Host{PeekState: func(structs.ActorID) (string, bool) { return "", false }},
		}); err == nil {
			t.Errorf("wanted error from %q", source)
		}
	}
}

func TestTimeout(t *testing.T) {
	start := time.Now()
	_, err := Backend{}.Call(context.Background(), &engine.Invocation{
		Source:  `function hooks.tick(ev) while true do end end`,
		Origin:  "/spin.lua",
		Hook:    "tick",
		Timeout: 50 * time.Millisecond,
	})
	if !errors.Is(err, engine.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("timeout took %v", d)
	}
}
