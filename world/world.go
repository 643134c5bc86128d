// Package world is a small host for controlled actors: regions of creatures,
// each region ticked by its own goroutine.
package world

import (
	"context"
	"sort"
	"time"

	"github.com/zond/scriptai"
	"github.com/zond/scriptai/console"
	"github.com/zond/scriptai/hooks"
	"github.com/zond/scriptai/structs"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTickInterval = 100 * time.Millisecond
)

type Options struct {
	Tables  hooks.Tables
	Runtime hooks.Runtime
	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration
	// Despawned is called from the region goroutine for every destroyed creature.
	Despawned func(id structs.ActorID)
}

type World struct {
	opts    Options
	regions *scriptai.SyncMap[string, *Region]
}

func New(opts Options) *World {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return &World{
		opts:    opts,
		regions: scriptai.NewSyncMap[string, *Region](),
	}
}

// AddRegion returns the region with name, creating it if necessary. Regions
// added after Run are not run.
func (w *World) AddRegion(name string) *Region {
	r := &Region{
		name:      name,
		runtime:   w.opts.Runtime,
		tables:    w.opts.Tables,
		despawned: w.opts.Despawned,
		creatures: map[structs.ActorID]*Creature{},
	}
	if !w.regions.SetIfMissing(name, r) {
		return w.regions.Get(name)
	}
	return r
}

func (w *World) Region(name string) (*Region, bool) {
	return w.regions.GetHas(name)
}

// Actors implements console.Actors.
func (w *World) Actors() []console.ActorInfo {
	result := []console.ActorInfo{}
	for _, r := range w.regions.Each() {
		result = append(result, r.Actors()...)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Region == result[j].Region {
			return result[i].ID < result[j].ID
		}
		return result[i].Region < result[j].Region
	})
	return result
}

// Run runs every region until ctx is done.
func (w *World) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range w.regions.Each() {
		g.Go(func() error {
			return r.Run(ctx, w.opts.TickInterval)
		})
	}
	return g.Wait()
}
