package structs

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Category is a hook the host raises against an actor.
type Category int

const (
	Respawned Category = iota
	Tick
	MovementFinished
	EnterCombat
	DamageTaken
	KilledUnit
	JustDied
	JustSummoned
	SummonedCreatureDespawn
	IsSummonedBy
	SummonedCreatureDies
	OwnerAttackedBy
	OwnerAttacked
	AttackStart
	EnterEvadeMode
	AttackedBy
	JustReachedHome
	ReceiveEmote
	CorpseRemoved
	MoveInLineOfSight
	SpellHit
	SpellHitTarget
	categoryCount
)

// Script facing callback names, indexed by Category.
var categoryNames = [categoryCount]string{
	Respawned:               "respawned",
	Tick:                    "tick",
	MovementFinished:        "movementFinished",
	EnterCombat:             "enterCombat",
	DamageTaken:             "damageTaken",
	KilledUnit:              "killedUnit",
	JustDied:                "justDied",
	JustSummoned:            "justSummoned",
	SummonedCreatureDespawn: "summonedCreatureDespawn",
	IsSummonedBy:            "isSummonedBy",
	SummonedCreatureDies:    "summonedCreatureDies",
	OwnerAttackedBy:         "ownerAttackedBy",
	OwnerAttacked:           "ownerAttacked",
	AttackStart:             "attackStart",
	EnterEvadeMode:          "enterEvadeMode",
	AttackedBy:              "attackedBy",
	JustReachedHome:         "justReachedHome",
	ReceiveEmote:            "receiveEmote",
	CorpseRemoved:           "corpseRemoved",
	MoveInLineOfSight:       "moveInLineOfSight",
	SpellHit:                "spellHit",
	SpellHitTarget:          "spellHitTarget",
}

func (c Category) String() string {
	if c < 0 || c >= categoryCount {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

func (c Category) Valid() bool {
	return c >= 0 && c < categoryCount
}

func Categories() []Category {
	result := make([]Category, categoryCount)
	for i := range result {
		result[i] = Category(i)
	}
	return result
}

// Event is one hook invocation. Which argument fields are meaningful depends
// on Category.
//
// Damage and RespawnDelay are in/out arguments: a script may overwrite them,
// and a default handler that runs afterwards reads the overwritten value.
type Event struct {
	Category Category
	Actor    ActorID
	// Entry is the template the actor was spawned from.
	Entry string

	// Other is the second actor: target, attacker, killer, victim, summon,
	// summoner, emoting player or spell caster, depending on Category.
	Other ActorID
	// Killer is only set for SummonedCreatureDies.
	Killer ActorID

	Elapsed    time.Duration
	MotionType uint32
	PointID    uint32
	EmoteID    uint32
	SpellID    uint32

	Damage       *uint32
	RespawnDelay *uint32
}

// Args returns the arguments handed to scripts. Durations are milliseconds.
func (e *Event) Args() map[string]any {
	result := map[string]any{
		"actor": string(e.Actor),
	}
	if e.Entry != "" {
		result["entry"] = e.Entry
	}
	switch e.Category {
	case Tick:
		result["elapsed"] = e.Elapsed.Milliseconds()
	case MovementFinished:
		result["motionType"] = int64(e.MotionType)
		result["pointId"] = int64(e.PointID)
	case EnterCombat, AttackStart, OwnerAttacked, KilledUnit, MoveInLineOfSight:
		result["target"] = string(e.Other)
	case AttackedBy, OwnerAttackedBy:
		result["attacker"] = string(e.Other)
	case DamageTaken:
		result["attacker"] = string(e.Other)
		if e.Damage != nil {
			result["damage"] = int64(*e.Damage)
		}
	case JustDied:
		result["killer"] = string(e.Other)
	case JustSummoned, SummonedCreatureDespawn:
		result["summon"] = string(e.Other)
	case SummonedCreatureDies:
		result["summon"] = string(e.Other)
		result["killer"] = string(e.Killer)
	case IsSummonedBy:
		result["summoner"] = string(e.Other)
	case ReceiveEmote:
		result["player"] = string(e.Other)
		result["emoteId"] = int64(e.EmoteID)
	case CorpseRemoved:
		if e.RespawnDelay != nil {
			result["respawnDelay"] = int64(*e.RespawnDelay)
		}
	case SpellHit:
		result["caster"] = string(e.Other)
		result["spellId"] = int64(e.SpellID)
	case SpellHitTarget:
		result["target"] = string(e.Other)
		result["spellId"] = int64(e.SpellID)
	}
	return result
}

// ApplyArgs copies the in/out arguments back from args as returned by a
// script. Every other key is ignored.
func (e *Event) ApplyArgs(args map[string]any) error {
	switch e.Category {
	case DamageTaken:
		return errors.WithMessage(applyUint32(args, "damage", e.Damage), "damage")
	case CorpseRemoved:
		return errors.WithMessage(applyUint32(args, "respawnDelay", e.RespawnDelay), "respawnDelay")
	}
	return nil
}

func applyUint32(args map[string]any, key string, dst *uint32) error {
	if dst == nil {
		return nil
	}
	raw, found := args[key]
	if !found || raw == nil {
		return nil
	}
	n, err := toInt64(raw)
	if err != nil {
		return err
	}
	if n < 0 {
		n = 0
	} else if n > math.MaxUint32 {
		n = math.MaxUint32
	}
	*dst = uint32(n)
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, nil
		}
		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case interface{ Int64() (int64, error) }:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		if s, ok := n.(fmt.Stringer); ok {
			f, err := strconv.ParseFloat(s.String(), 64)
			if err != nil {
				return 0, errors.WithStack(err)
			}
			return int64(f), nil
		}
	}
	return 0, errors.Errorf("%v (%T) is not a number", v, v)
}
