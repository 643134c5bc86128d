package world

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zond/scriptai/registry"
	"github.com/zond/scriptai/structs"
)

type fakeRuntime struct {
	lock   sync.Mutex
	events []string
	handle map[structs.Category]func(ev *structs.Event) structs.Verdict
}

func (f *fakeRuntime) Offer(_ context.Context, ev *structs.Event) structs.Verdict {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.events = append(f.events, string(ev.Actor)+":"+ev.Category.String())
	if h := f.handle[ev.Category]; h != nil {
		return h(ev)
	}
	return structs.NotHandled
}

// of returns the categories offered for id, in order.
func (f *fakeRuntime) of(id structs.ActorID) []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	result := []string{}
	for _, ev := range f.events {
		if after, found := strings.CutPrefix(ev, string(id)+":"); found {
			result = append(result, after)
		}
	}
	return result
}

var (
	wolf = Template{Name: "wolf", Health: 100, Damage: 7}
	deer = Template{Name: "deer", Health: 100, Passive: true}
)

type fixture struct {
	ctx       context.Context
	rt        *fakeRuntime
	tables    *registry.Registry
	world     *World
	region    *Region
	despawned []structs.ActorID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		rt:     &fakeRuntime{handle: map[structs.Category]func(*structs.Event) structs.Verdict{}},
		tables: registry.New(),
	}
	f.world = New(Options{
		Tables:  f.tables,
		Runtime: f.rt,
		Despawned: func(id structs.ActorID) {
			f.despawned = append(f.despawned, id)
		},
	})
	f.region = f.world.AddRegion("forest")
	return f
}

func (f *fixture) spawn(t *testing.T, tmpl Template) structs.ActorID {
	t.Helper()
	id, err := f.region.Spawn(tmpl)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (f *fixture) step() {
	f.region.Step(f.ctx, 100*time.Millisecond)
}

func (f *fixture) want(t *testing.T, id structs.ActorID, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, f.rt.of(id)); diff != "" {
		t.Errorf("events of %q (-want +got):\n%s", id, diff)
	}
}

func (f *fixture) info(t *testing.T, id structs.ActorID) (health uint32, alive bool) {
	t.Helper()
	for _, a := range f.world.Actors() {
		if a.ID == id {
			return a.Health, a.Alive
		}
	}
	t.Fatalf("%q not listed", id)
	return 0, false
}

func TestAddRegion(t *testing.T) {
	f := newFixture(t)
	if f.world.AddRegion("forest") != f.region {
		t.Error("AddRegion replaced an existing region")
	}
	if r, found := f.world.Region("forest"); !found || r.Name() != "forest" {
		t.Errorf("got %v, %v", r, found)
	}
	if _, found := f.world.Region("desert"); found {
		t.Error("found missing region")
	}
}

func TestSpawnRespawnsFirst(t *testing.T) {
	f := newFixture(t)
	a := f.spawn(t, wolf)
	if _, found := f.tables.Lookup(a); found {
		t.Error("table created before the spawn was applied")
	}
	f.step()
	f.want(t, a, "respawned", "tick")
	if _, found := f.tables.Lookup(a); !found {
		t.Error("no table after spawn")
	}
	if health, alive := f.info(t, a); health != 100 || !alive {
		t.Errorf("got %v, %v", health, alive)
	}

	b := f.spawn(t, deer)
	f.step()
	f.want(t, a, "respawned", "tick", "moveInLineOfSight", "tick")
	f.want(t, b, "respawned", "tick")
}

func TestDamage(t *testing.T) {
	f := newFixture(t)
	a := f.spawn(t, wolf)
	b := f.spawn(t, deer)
	f.step()

	f.region.Damage(a, b, 30)
	f.step()
	if health, _ := f.info(t, b); health != 70 {
		t.Errorf("got health %v, want 70", health)
	}
	if target := f.region.creatures[b].target; target != a {
		t.Errorf("default DamageTaken didn't target attacker, got %q", target)
	}

	f.rt.handle[structs.DamageTaken] = func(ev *structs.Event) structs.Verdict {
		*ev.Damage = 1
		return structs.Handled
	}
	f.region.Damage("player", b, 30)
	f.step()
	if health, _ := f.info(t, b); health != 69 {
		t.Errorf("got health %v, want 69", health)
	}
	if target := f.region.creatures[b].target; target != a {
		t.Errorf("handled DamageTaken ran the default, target is %q", target)
	}
}

func TestDeathAndRespawn(t *testing.T) {
	f := newFixture(t)
	tmpl := deer
	tmpl.Health = 10
	tmpl.CorpseDelay = 100 * time.Millisecond
	tmpl.RespawnDelay = time.Hour
	f.rt.handle[structs.CorpseRemoved] = func(ev *structs.Event) structs.Verdict {
		*ev.RespawnDelay = 50
		return structs.Handled
	}
	d := f.spawn(t, tmpl)
	f.step()

	f.region.Damage("player", d, 10)
	f.step()
	if health, alive := f.info(t, d); health != 0 || alive {
		t.Errorf("got %v, %v after lethal damage", health, alive)
	}
	f.step()
	if health, alive := f.info(t, d); health != 10 || !alive {
		t.Errorf("got %v, %v after respawn", health, alive)
	}
	f.step()
	f.want(t, d, "respawned", "tick", "damageTaken", "justDied", "tick", "corpseRemoved", "tick", "respawned", "tick")
}

func TestCombat(t *testing.T) {
	f := newFixture(t)
	a := f.spawn(t, wolf)
	b := f.spawn(t, deer)
	f.step()

	f.region.Attack(a, b)
	f.region.Step(f.ctx, attackInterval)
	if health, _ := f.info(t, b); health != 93 {
		t.Errorf("got health %v, want 93", health)
	}
	f.want(t, a, "respawned", "moveInLineOfSight", "tick", "enterCombat", "attackStart", "tick")

	f.region.Damage(a, b, 1000)
	f.step()
	if _, alive := f.info(t, b); alive {
		t.Error("deer survived")
	}
	if target := f.region.creatures[a].target; target != "" {
		t.Errorf("killer still targets %q", target)
	}
	f.want(t, a, "respawned", "moveInLineOfSight", "tick", "enterCombat", "attackStart", "tick", "killedUnit", "tick")
	// Tick order between a and b depends on their ids.
	if got := f.rt.of(b); len(got) < 3 || !cmp.Equal(got[:3], []string{"respawned", "tick", "attackedBy"}) {
		t.Errorf("got events %v for the victim", got)
	}
}

func TestEvade(t *testing.T) {
	f := newFixture(t)
	a := f.spawn(t, wolf)
	f.step()
	f.region.Attack(a, "ghost")
	f.step()
	f.want(t, a, "respawned", "tick", "enterCombat", "attackStart", "tick", "enterEvadeMode", "justReachedHome")
	if target := f.region.creatures[a].target; target != "" {
		t.Errorf("still targets %q", target)
	}
}

func TestUnplaced(t *testing.T) {
	f := newFixture(t)
	a := f.spawn(t, wolf)
	f.step()

	f.region.SetPlaced(a, false)
	f.region.FinishMovement(a, 1, 7)
	f.region.Emote("player", a, 3)
	f.step()
	f.want(t, a, "respawned", "tick")
	if got := f.world.Actors()[0].PendingMovements; got != 1 {
		t.Errorf("got %d pending movements, want 1", got)
	}

	f.region.SetPlaced(a, true)
	f.step()
	f.want(t, a, "respawned", "tick", "movementFinished", "tick")
	if got := f.region.creatures[a].lastPoint; got != 7 {
		t.Errorf("got last point %d, want 7", got)
	}
}

func TestSummon(t *testing.T) {
	f := newFixture(t)
	owner := f.spawn(t, deer)
	f.step()
	summon, err := f.region.Summon(owner, deer)
	if err != nil {
		t.Fatal(err)
	}
	f.step()
	f.want(t, owner, "respawned", "tick", "moveInLineOfSight", "justSummoned", "tick")
	f.want(t, summon, "respawned", "isSummonedBy", "tick")

	f.region.Damage("player", owner, 1)
	f.region.Cast(owner, summon, 42)
	f.step()
	f.want(t, summon, "respawned", "isSummonedBy", "tick", "ownerAttackedBy", "spellHit", "tick")
	f.want(t, owner, "respawned", "tick", "moveInLineOfSight", "justSummoned", "tick", "damageTaken", "spellHitTarget", "tick")

	f.region.Despawn(summon)
	f.step()
	if _, found := f.tables.Lookup(summon); found {
		t.Error("despawned summon still has a table")
	}
	if diff := cmp.Diff([]structs.ActorID{summon}, f.despawned); diff != "" {
		t.Error(diff)
	}
	f.want(t, owner, "respawned", "tick", "moveInLineOfSight", "justSummoned", "tick", "damageTaken", "spellHitTarget", "tick", "summonedCreatureDespawn", "tick")
	if len(f.world.Actors()) != 1 {
		t.Errorf("got %v", f.world.Actors())
	}
}

// refusingTables fails to create tables for the refused actors.
type refusingTables struct {
	*registry.Registry
	refused map[structs.ActorID]bool
}

func (r *refusingTables) Create(id structs.ActorID) (*registry.Table, error) {
	if r.refused[id] {
		return nil, registry.ErrAlreadyExists
	}
	return r.Registry.Create(id)
}

func TestFailedRespawn(t *testing.T) {
	f := newFixture(t)
	tables := &refusingTables{Registry: f.tables, refused: map[structs.ActorID]bool{}}
	f.world = New(Options{
		Tables:  tables,
		Runtime: f.rt,
		Despawned: func(id structs.ActorID) {
			f.despawned = append(f.despawned, id)
		},
	})
	f.region = f.world.AddRegion("forest")
	owner := f.spawn(t, deer)
	f.step()
	fragile := deer
	fragile.Health = 10
	summon, err := f.region.Summon(owner, fragile)
	if err != nil {
		t.Fatal(err)
	}
	f.step()

	tables.refused[summon] = true
	f.region.Damage("player", summon, 10)
	f.step()
	f.step()
	if diff := cmp.Diff([]structs.ActorID{summon}, f.despawned); diff != "" {
		t.Error(diff)
	}
	if summons := f.region.creatures[owner].summons; len(summons) != 0 {
		t.Errorf("owner still has summons %v", summons)
	}
	got := f.rt.of(owner)
	want := []string{"respawned", "tick", "moveInLineOfSight", "justSummoned", "tick", "summonedCreatureDies", "tick"}
	if len(got) < len(want) || !cmp.Equal(want, got[:len(want)]) || !slices.Contains(got[len(want):], "summonedCreatureDespawn") {
		t.Errorf("got owner events %v", got)
	}
	if _, found := f.tables.Lookup(summon); found {
		t.Error("table left for the failed respawn")
	}
	if len(f.world.Actors()) != 1 {
		t.Errorf("got %v", f.world.Actors())
	}
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	f.world = New(Options{Tables: f.tables, Runtime: f.rt, TickInterval: 5 * time.Millisecond})
	for _, name := range []string{"forest", "cave"} {
		if _, err := f.world.AddRegion(name).Spawn(wolf); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.world.Run(ctx)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for len(f.world.Actors()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("spawns never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.world.Actors(); got[0].Region != "cave" || got[1].Region != "forest" {
		t.Errorf("got %+v", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := f.tables.Len(); n != 0 {
		t.Errorf("%d tables left after shutdown", n)
	}
	if n := len(f.world.Actors()); n != 0 {
		t.Errorf("%d actors left after shutdown", n)
	}
}
