package world

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/zond/scriptai"
	"github.com/zond/scriptai/console"
	"github.com/zond/scriptai/hooks"
	"github.com/zond/scriptai/structs"
)

// Region is simulated by its own goroutine. Everything that changes its
// creatures is queued, and applied at the start of the next Step.
type Region struct {
	name      string
	runtime   hooks.Runtime
	tables    hooks.Tables
	despawned func(structs.ActorID)

	pendingLock scriptai.RWLock
	pending     []func()

	// Only touched by the goroutine calling Step.
	creatures map[structs.ActorID]*Creature
	ctx       context.Context

	snapshotLock scriptai.RWLock
	snapshot     []console.ActorInfo
}

func (r *Region) Name() string {
	return r.name
}

// Runtime implements hooks.Region.
func (r *Region) Runtime() hooks.Runtime {
	return r.runtime
}

func (r *Region) enqueue(f func()) {
	defer r.pendingLock.AcquireWrite().Release()
	r.pending = append(r.pending, f)
}

func (r *Region) takePending() []func() {
	defer r.pendingLock.AcquireWrite().Release()
	result := r.pending
	r.pending = nil
	return result
}

func (r *Region) sorted() []*Creature {
	result := make([]*Creature, 0, len(r.creatures))
	for _, c := range r.creatures {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].id < result[j].id
	})
	return result
}

// present returns c if it's still in the region.
func (r *Region) present(id structs.ActorID) *Creature {
	return r.creatures[id]
}

// with runs f with the creature id, or logs that it's missing.
func (r *Region) with(id structs.ActorID, f func(c *Creature)) {
	if c := r.present(id); c != nil {
		f(c)
		return
	}
	log.Printf("no creature %q in %q", id, r.name)
}

// Step applies queued changes and ticks every creature.
func (r *Region) Step(ctx context.Context, elapsed time.Duration) {
	r.ctx = ctx
	defer func() {
		r.ctx = nil
	}()
	for _, f := range r.takePending() {
		f()
	}
	for _, c := range r.sorted() {
		if r.present(c.id) != c {
			continue
		}
		c.controller.OnUpdate(ctx, elapsed)
		r.decay(c, elapsed)
	}
	r.publish()
}

// Run steps the region every interval until ctx is done, and then detaches
// every creature.
func (r *Region) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			// Despawn hooks still get to run.
			r.ctx = context.WithoutCancel(ctx)
			for _, c := range r.sorted() {
				r.detach(c)
			}
			r.ctx = nil
			r.publish()
			return nil
		case now := <-ticker.C:
			r.Step(ctx, now.Sub(last))
			last = now
		}
	}
}

func (r *Region) publish() {
	infos := make([]console.ActorInfo, 0, len(r.creatures))
	for _, c := range r.sorted() {
		infos = append(infos, console.ActorInfo{
			ID:               c.id,
			Template:         c.tmpl.Name,
			Region:           r.name,
			Health:           c.health,
			Alive:            c.alive,
			PendingMovements: c.controller.PendingMovements(),
		})
	}
	defer r.snapshotLock.AcquireWrite().Release()
	r.snapshot = infos
}

// Actors returns the creatures as of the last Step.
func (r *Region) Actors() []console.ActorInfo {
	defer r.snapshotLock.AcquireRead().Release()
	return append([]console.ActorInfo(nil), r.snapshot...)
}

func (r *Region) attach(c *Creature) error {
	controller, err := hooks.New(c, c, r.tables)
	if err != nil {
		log.Printf("attaching %q in %q: %v", c.id, r.name, err)
		return err
	}
	c.controller = controller
	c.health = c.tmpl.Health
	c.alive = true
	others := r.sorted()
	r.creatures[c.id] = c
	for _, other := range others {
		if r.present(other.id) == other {
			other.controller.OnMoveInLineOfSight(r.ctx, c.id)
		}
	}
	return nil
}

func (r *Region) detach(c *Creature) {
	c.controller.Close()
	r.forget(c)
}

// forget removes c, which has no live controller anymore, from the region.
func (r *Region) forget(c *Creature) {
	delete(r.creatures, c.id)
	if owner := r.present(c.summoner); owner != nil {
		delete(owner.summons, c.id)
		owner.controller.OnSummonedCreatureDespawn(r.ctx, c.id)
	}
	if r.despawned != nil {
		r.despawned(c.id)
	}
}

func (r *Region) respawn(c *Creature) {
	c.controller.Close()
	controller, err := hooks.New(c, c, r.tables)
	if err != nil {
		log.Printf("respawning %q in %q: %v", c.id, r.name, err)
		r.forget(c)
		return
	}
	c.controller = controller
	c.health = c.tmpl.Health
	c.alive = true
	c.deadFor = 0
	c.corpseGone = false
	c.respawnIn = 0
}

// decay removes the corpses of dead creatures and respawns them.
func (r *Region) decay(c *Creature, elapsed time.Duration) {
	if c.alive {
		return
	}
	if c.corpseGone {
		c.respawnIn -= elapsed
		if c.respawnIn <= 0 {
			r.respawn(c)
		}
		return
	}
	c.deadFor += elapsed
	if c.deadFor < c.tmpl.CorpseDelay {
		return
	}
	delay := uint32(c.tmpl.RespawnDelay.Milliseconds())
	c.controller.OnCorpseRemoved(r.ctx, &delay)
	c.corpseGone = true
	c.respawnIn = time.Duration(delay) * time.Millisecond
}

// hit deals damage to victim, after letting its scripts change the amount.
func (r *Region) hit(attacker structs.ActorID, victim *Creature, amount uint32) {
	if !victim.alive {
		return
	}
	victim.controller.OnDamageTaken(r.ctx, attacker, &amount)
	for summon := range victim.summons {
		if s := r.present(summon); s != nil {
			s.controller.OnOwnerAttackedBy(r.ctx, attacker)
		}
	}
	if a := r.present(attacker); a != nil {
		for summon := range a.summons {
			if s := r.present(summon); s != nil {
				s.controller.OnOwnerAttacked(r.ctx, victim.id)
			}
		}
	}
	if amount < victim.health {
		victim.health -= amount
		return
	}
	victim.health = 0
	r.kill(victim, attacker)
}

func (r *Region) kill(victim *Creature, killer structs.ActorID) {
	victim.alive = false
	victim.target = ""
	victim.deadFor = 0
	victim.corpseGone = false
	victim.controller.OnJustDied(r.ctx, killer)
	if k := r.present(killer); k != nil {
		k.controller.OnKilledUnit(r.ctx, victim.id)
	}
	if owner := r.present(victim.summoner); owner != nil {
		owner.controller.OnSummonedCreatureDies(r.ctx, victim.id, killer)
	}
}

func (r *Region) evade(c *Creature) {
	c.target = ""
	c.controller.OnEnterEvadeMode(r.ctx)
	c.controller.OnJustReachedHome(r.ctx)
}

func (r *Region) newCreature(tmpl Template) (*Creature, error) {
	id, err := structs.NextActorID()
	if err != nil {
		return nil, err
	}
	return &Creature{
		id:      id,
		tmpl:    tmpl,
		region:  r,
		placed:  true,
		summons: map[structs.ActorID]bool{},
	}, nil
}

// Spawn queues a new creature, and returns the id it will have.
func (r *Region) Spawn(tmpl Template) (structs.ActorID, error) {
	c, err := r.newCreature(tmpl)
	if err != nil {
		return "", err
	}
	r.enqueue(func() {
		r.attach(c)
	})
	return c.id, nil
}

// Summon queues a new creature owned by summoner.
func (r *Region) Summon(summoner structs.ActorID, tmpl Template) (structs.ActorID, error) {
	c, err := r.newCreature(tmpl)
	if err != nil {
		return "", err
	}
	c.summoner = summoner
	r.enqueue(func() {
		r.with(summoner, func(owner *Creature) {
			if err := r.attach(c); err != nil {
				return
			}
			owner.summons[c.id] = true
			owner.controller.OnJustSummoned(r.ctx, c.id)
			if r.present(c.id) == c {
				c.controller.OnIsSummonedBy(r.ctx, summoner)
			}
		})
	})
	return c.id, nil
}

func (r *Region) Despawn(id structs.ActorID) {
	r.enqueue(func() {
		r.with(id, r.detach)
	})
}

// Attack makes attacker start fighting victim.
func (r *Region) Attack(attacker structs.ActorID, victim structs.ActorID) {
	r.enqueue(func() {
		r.with(attacker, func(c *Creature) {
			c.target = victim
			c.controller.OnEnterCombat(r.ctx, victim)
			c.controller.OnAttackStart(r.ctx, victim)
		})
		if v := r.present(victim); v != nil && v.alive {
			v.controller.OnAttackedBy(r.ctx, attacker)
		}
	})
}

// Damage hurts victim. The attacker doesn't have to be in the region.
func (r *Region) Damage(attacker structs.ActorID, victim structs.ActorID, amount uint32) {
	r.enqueue(func() {
		r.with(victim, func(c *Creature) {
			r.hit(attacker, c, amount)
		})
	})
}

func (r *Region) FinishMovement(id structs.ActorID, motionType uint32, pointID uint32) {
	r.enqueue(func() {
		r.with(id, func(c *Creature) {
			c.controller.OnMovementFinished(motionType, pointID)
		})
	})
}

func (r *Region) Emote(player structs.ActorID, target structs.ActorID, emoteID uint32) {
	r.enqueue(func() {
		r.with(target, func(c *Creature) {
			c.controller.OnReceiveEmote(r.ctx, player, emoteID)
		})
	})
}

func (r *Region) Cast(caster structs.ActorID, target structs.ActorID, spellID uint32) {
	r.enqueue(func() {
		r.with(target, func(c *Creature) {
			c.controller.OnSpellHit(r.ctx, caster, spellID)
		})
		if c := r.present(caster); c != nil {
			c.controller.OnSpellHitTarget(r.ctx, target, spellID)
		}
	})
}

// SetPlaced takes a creature out of the region without destroying it, or puts
// it back. Unplaced creatures get no hooks at all.
func (r *Region) SetPlaced(id structs.ActorID, placed bool) {
	r.enqueue(func() {
		r.with(id, func(c *Creature) {
			c.placed = placed
		})
	})
}
