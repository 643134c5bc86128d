package hooks

import (
	"context"
	"log"
	"time"

	"github.com/zond/scriptai"
	"github.com/zond/scriptai/deferred"
	"github.com/zond/scriptai/structs"
)

// Controller dispatches the hooks of one actor.
//
// A Controller is owned by its actor, and only the goroutine driving the
// actor's region may call it.
type Controller struct {
	actor    Actor
	defaults Defaults
	tables   Tables

	justSpawned bool
	movements   deferred.Queue
	closed      bool
}

// New attaches a controller to a newly spawned actor and creates its script
// table. An error means the actor already had a table; the attach must be
// abandoned.
func New(actor Actor, defaults Defaults, tables Tables) (*Controller, error) {
	if _, err := tables.Create(actor.ID()); err != nil {
		return nil, scriptai.WithStack(err)
	}
	return &Controller{
		actor:       actor,
		defaults:    defaults,
		tables:      tables,
		justSpawned: true,
	}, nil
}

// Close detaches the controller and deletes the actor's script table. The
// host must call it when the actor is destroyed, also when that happens in the
// middle of a dispatch. Hooks raised after Close are dropped.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.tables.Delete(c.actor.ID())
}

// PendingMovements returns the number of movement completions waiting for
// the next tick.
func (c *Controller) PendingMovements() int {
	return c.movements.Len()
}

func (c *Controller) runtime() Runtime {
	region := c.actor.Region()
	if region == nil {
		return nil
	}
	return region.Runtime()
}

func (c *Controller) respawnIfPending(ctx context.Context) {
	if c.justSpawned {
		c.justSpawned = false
		c.OnRespawned(ctx)
	}
}

func (c *Controller) dispatch(ctx context.Context, ev *structs.Event) {
	if c.closed {
		return
	}
	c.respawnIfPending(ctx)
	rt := c.runtime()
	if rt == nil {
		return
	}
	h, found := hooksByCategory[ev.Category]
	if !found {
		log.Printf("no hook for %v raised against %q", ev.Category, c.actor.ID())
		return
	}
	ev.Actor = c.actor.ID()
	ev.Entry = c.actor.Template()
	// A script may have destroyed the actor; then there's nothing to fall back on.
	if h.offer(ctx, rt, ev) == structs.NotHandled && !c.closed {
		h.fallback(c, ev)
	}
}

// OnUpdate is the tick entry point. In order it: fires the pending respawn,
// stops if the actor isn't in a region, replays buffered movement
// completions, and finally offers the tick itself.
func (c *Controller) OnUpdate(ctx context.Context, elapsed time.Duration) {
	if c.closed {
		return
	}
	c.respawnIfPending(ctx)
	if c.runtime() == nil {
		return
	}
	c.movements.Drain(func(p structs.MovementPoint) {
		c.dispatch(ctx, &structs.Event{
			Category:   structs.MovementFinished,
			MotionType: p.MotionType,
			PointID:    p.PointID,
		})
	})
	c.dispatch(ctx, &structs.Event{
		Category: structs.Tick,
		Elapsed:  elapsed,
	})
}

// OnRespawned is normally fired by the controller itself, before anything
// else reaches the actor after an attach. It clears the pending respawn first,
// so a respawn raised while the actor is outside every region is lost rather
// than retried.
func (c *Controller) OnRespawned(ctx context.Context) {
	c.justSpawned = false
	c.dispatch(ctx, &structs.Event{Category: structs.Respawned})
}

// OnMovementFinished only buffers the point. It is dispatched at the start of
// the next OnUpdate.
func (c *Controller) OnMovementFinished(motionType uint32, pointID uint32) {
	if c.closed {
		return
	}
	c.movements.Push(structs.MovementPoint{MotionType: motionType, PointID: pointID})
}

func (c *Controller) OnEnterCombat(ctx context.Context, target structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.EnterCombat, Other: target})
}

// OnDamageTaken may rewrite *damage if a script changes it.
func (c *Controller) OnDamageTaken(ctx context.Context, attacker structs.ActorID, damage *uint32) {
	c.dispatch(ctx, &structs.Event{Category: structs.DamageTaken, Other: attacker, Damage: damage})
}

func (c *Controller) OnKilledUnit(ctx context.Context, victim structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.KilledUnit, Other: victim})
}

func (c *Controller) OnJustDied(ctx context.Context, killer structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.JustDied, Other: killer})
}

func (c *Controller) OnJustSummoned(ctx context.Context, summon structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.JustSummoned, Other: summon})
}

func (c *Controller) OnSummonedCreatureDespawn(ctx context.Context, summon structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.SummonedCreatureDespawn, Other: summon})
}

func (c *Controller) OnIsSummonedBy(ctx context.Context, summoner structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.IsSummonedBy, Other: summoner})
}

func (c *Controller) OnSummonedCreatureDies(ctx context.Context, summon structs.ActorID, killer structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.SummonedCreatureDies, Other: summon, Killer: killer})
}

func (c *Controller) OnOwnerAttackedBy(ctx context.Context, attacker structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.OwnerAttackedBy, Other: attacker})
}

func (c *Controller) OnOwnerAttacked(ctx context.Context, target structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.OwnerAttacked, Other: target})
}

func (c *Controller) OnAttackStart(ctx context.Context, target structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.AttackStart, Other: target})
}

func (c *Controller) OnEnterEvadeMode(ctx context.Context) {
	c.dispatch(ctx, &structs.Event{Category: structs.EnterEvadeMode})
}

func (c *Controller) OnAttackedBy(ctx context.Context, attacker structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.AttackedBy, Other: attacker})
}

func (c *Controller) OnJustReachedHome(ctx context.Context) {
	c.dispatch(ctx, &structs.Event{Category: structs.JustReachedHome})
}

func (c *Controller) OnReceiveEmote(ctx context.Context, player structs.ActorID, emoteID uint32) {
	c.dispatch(ctx, &structs.Event{Category: structs.ReceiveEmote, Other: player, EmoteID: emoteID})
}

// OnCorpseRemoved may rewrite *respawnDelay if a script changes it.
func (c *Controller) OnCorpseRemoved(ctx context.Context, respawnDelay *uint32) {
	c.dispatch(ctx, &structs.Event{Category: structs.CorpseRemoved, RespawnDelay: respawnDelay})
}

func (c *Controller) OnMoveInLineOfSight(ctx context.Context, who structs.ActorID) {
	c.dispatch(ctx, &structs.Event{Category: structs.MoveInLineOfSight, Other: who})
}

func (c *Controller) OnSpellHit(ctx context.Context, caster structs.ActorID, spellID uint32) {
	c.dispatch(ctx, &structs.Event{Category: structs.SpellHit, Other: caster, SpellID: spellID})
}

func (c *Controller) OnSpellHitTarget(ctx context.Context, target structs.ActorID, spellID uint32) {
	c.dispatch(ctx, &structs.Event{Category: structs.SpellHitTarget, Other: target, SpellID: spellID})
}
