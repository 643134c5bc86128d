// Package hooks lets scripts take over the behavior of host actors.
//
// Every hook the host raises against an actor goes through its Controller.
// The Controller offers the hook to the scripting runtime of the region the
// actor is in, and runs the host's built-in behavior only when no script
// handled it.
package hooks

import (
	"context"
	"time"

	"github.com/zond/scriptai/registry"
	"github.com/zond/scriptai/structs"
)

// Runtime is the scripting runtime serving one region.
//
// Offer must not fail: a script that errors counts as NotHandled.
type Runtime interface {
	Offer(ctx context.Context, ev *structs.Event) structs.Verdict
}

// Region is an independently simulated part of the world.
type Region interface {
	Runtime() Runtime
}

// Actor is the host side of a controlled actor.
type Actor interface {
	ID() structs.ActorID
	Template() string
	// Region returns nil while the actor is not placed in any region.
	Region() Region
	// Passive actors skip default AI on ticks no script handled.
	Passive() bool
}

// Tables is where controllers register their actors' script state.
type Tables interface {
	Create(id structs.ActorID) (*registry.Table, error)
	Delete(id structs.ActorID)
}

// Defaults is the host's built-in behavior, one method per hook.
type Defaults interface {
	JustRespawned()
	UpdateAI(elapsed time.Duration)
	MovementInform(motionType uint32, pointID uint32)
	EnterCombat(target structs.ActorID)
	DamageTaken(attacker structs.ActorID, damage *uint32)
	KilledUnit(victim structs.ActorID)
	JustDied(killer structs.ActorID)
	JustSummoned(summon structs.ActorID)
	SummonedCreatureDespawn(summon structs.ActorID)
	IsSummonedBy(summoner structs.ActorID)
	SummonedCreatureDies(summon structs.ActorID, killer structs.ActorID)
	OwnerAttackedBy(attacker structs.ActorID)
	OwnerAttacked(target structs.ActorID)
	AttackStart(target structs.ActorID)
	EnterEvadeMode()
	AttackedBy(attacker structs.ActorID)
	JustReachedHome()
	ReceiveEmote(player structs.ActorID, emoteID uint32)
	CorpseRemoved(respawnDelay *uint32)
	MoveInLineOfSight(who structs.ActorID)
	SpellHit(caster structs.ActorID, spellID uint32)
	SpellHitTarget(target structs.ActorID, spellID uint32)
}
