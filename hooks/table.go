package hooks

import (
	"context"

	"github.com/zond/scriptai/structs"
)

// hook is how one category is dispatched: offer first, fallback if declined.
type hook struct {
	offer    func(ctx context.Context, rt Runtime, ev *structs.Event) structs.Verdict
	fallback func(c *Controller, ev *structs.Event)
}

func offerScript(ctx context.Context, rt Runtime, ev *structs.Event) structs.Verdict {
	return rt.Offer(ctx, ev)
}

var hooksByCategory = map[structs.Category]hook{
	structs.Respawned: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.JustRespawned()
		},
	},
	structs.Tick: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			if !c.actor.Passive() {
				c.defaults.UpdateAI(ev.Elapsed)
			}
		},
	},
	structs.MovementFinished: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.MovementInform(ev.MotionType, ev.PointID)
		},
	},
	structs.EnterCombat: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.EnterCombat(ev.Other)
		},
	},
	structs.DamageTaken: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.DamageTaken(ev.Other, ev.Damage)
		},
	},
	structs.KilledUnit: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.KilledUnit(ev.Other)
		},
	},
	structs.JustDied: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.JustDied(ev.Other)
		},
	},
	structs.JustSummoned: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.JustSummoned(ev.Other)
		},
	},
	structs.SummonedCreatureDespawn: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.SummonedCreatureDespawn(ev.Other)
		},
	},
	structs.IsSummonedBy: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.IsSummonedBy(ev.Other)
		},
	},
	structs.SummonedCreatureDies: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.SummonedCreatureDies(ev.Other, ev.Killer)
		},
	},
	structs.OwnerAttackedBy: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.OwnerAttackedBy(ev.Other)
		},
	},
	structs.OwnerAttacked: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.OwnerAttacked(ev.Other)
		},
	},
	structs.AttackStart: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.AttackStart(ev.Other)
		},
	},
	structs.EnterEvadeMode: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.EnterEvadeMode()
		},
	},
	structs.AttackedBy: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.AttackedBy(ev.Other)
		},
	},
	structs.JustReachedHome: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.JustReachedHome()
		},
	},
	structs.ReceiveEmote: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.ReceiveEmote(ev.Other, ev.EmoteID)
		},
	},
	structs.CorpseRemoved: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.CorpseRemoved(ev.RespawnDelay)
		},
	},
	structs.MoveInLineOfSight: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.MoveInLineOfSight(ev.Other)
		},
	},
	structs.SpellHit: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.SpellHit(ev.Other, ev.SpellID)
		},
	},
	structs.SpellHitTarget: {
		offer: offerScript,
		fallback: func(c *Controller, ev *structs.Event) {
			c.defaults.SpellHitTarget(ev.Other, ev.SpellID)
		},
	},
}
