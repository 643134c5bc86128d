package world

import (
	"time"

	"github.com/zond/scriptai/hooks"
	"github.com/zond/scriptai/structs"
)

const (
	attackInterval = 2 * time.Second
)

// Template is what creatures of one kind are spawned from.
type Template struct {
	Name    string
	Health  uint32
	Damage  uint32
	Passive bool
	// CorpseDelay is how long a corpse stays before it's removed.
	CorpseDelay time.Duration
	// RespawnDelay is how long after corpse removal the creature comes back.
	RespawnDelay time.Duration
}

// Creature is a host actor with just enough built-in behavior to show
// what scripts change.
//
// Everything but the id and template belongs to the goroutine driving the
// creature's region.
type Creature struct {
	id         structs.ActorID
	tmpl       Template
	region     *Region
	placed     bool
	controller *hooks.Controller

	summoner structs.ActorID
	summons  map[structs.ActorID]bool

	health     uint32
	alive      bool
	target     structs.ActorID
	swing      time.Duration
	deadFor    time.Duration
	corpseGone bool
	respawnIn  time.Duration
	lastPoint  uint32
}

func (c *Creature) ID() structs.ActorID {
	return c.id
}

func (c *Creature) Template() string {
	return c.tmpl.Name
}

// Region returns nil while the creature isn't placed. The nil is untyped, so
// callers comparing against nil see it.
func (c *Creature) Region() hooks.Region {
	if !c.placed || c.region == nil {
		return nil
	}
	return c.region
}

func (c *Creature) Passive() bool {
	return c.tmpl.Passive
}

func (c *Creature) JustRespawned() {
	c.health = c.tmpl.Health
	c.alive = true
	c.target = ""
	c.swing = 0
}

func (c *Creature) UpdateAI(elapsed time.Duration) {
	if !c.alive || c.target == "" {
		return
	}
	target, found := c.region.creatures[c.target]
	if !found || !target.alive {
		c.region.evade(c)
		return
	}
	c.swing += elapsed
	for c.swing >= attackInterval && c.alive && target.alive {
		c.swing -= attackInterval
		c.region.hit(c.id, target, c.tmpl.Damage)
	}
}

func (c *Creature) MovementInform(motionType uint32, pointID uint32) {
	c.lastPoint = pointID
}

func (c *Creature) EnterCombat(target structs.ActorID) {
	c.swing = 0
}

// DamageTaken fights back against the first attacker.
func (c *Creature) DamageTaken(attacker structs.ActorID, damage *uint32) {
	if c.target == "" && attacker != c.id {
		c.target = attacker
	}
}

func (c *Creature) KilledUnit(victim structs.ActorID) {
	if c.target == victim {
		c.target = ""
	}
}

func (c *Creature) JustDied(killer structs.ActorID) {}

func (c *Creature) JustSummoned(summon structs.ActorID) {}

func (c *Creature) SummonedCreatureDespawn(summon structs.ActorID) {}

// IsSummonedBy makes a summon pick up its summoner's fight.
func (c *Creature) IsSummonedBy(summoner structs.ActorID) {
	if owner, found := c.region.creatures[summoner]; found && c.target == "" {
		c.target = owner.target
	}
}

func (c *Creature) SummonedCreatureDies(summon structs.ActorID, killer structs.ActorID) {}

func (c *Creature) OwnerAttackedBy(attacker structs.ActorID) {
	if c.target == "" {
		c.target = attacker
	}
}

func (c *Creature) OwnerAttacked(target structs.ActorID) {
	if c.target == "" {
		c.target = target
	}
}

func (c *Creature) AttackStart(target structs.ActorID) {}

func (c *Creature) EnterEvadeMode() {
	c.health = c.tmpl.Health
}

func (c *Creature) AttackedBy(attacker structs.ActorID) {
	if c.target == "" {
		c.target = attacker
	}
}

func (c *Creature) JustReachedHome() {}

func (c *Creature) ReceiveEmote(player structs.ActorID, emoteID uint32) {}

func (c *Creature) CorpseRemoved(respawnDelay *uint32) {}

func (c *Creature) MoveInLineOfSight(who structs.ActorID) {}

func (c *Creature) SpellHit(caster structs.ActorID, spellID uint32) {}

func (c *Creature) SpellHitTarget(target structs.ActorID, spellID uint32) {}
