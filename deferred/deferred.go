// Package deferred buffers movement completion notifications until the next
// tick of the actor that received them.
//
// The host reports a finished movement leg before it has committed the
// actor's new movement state, so a script reacting immediately could issue a
// new movement order against half updated state.
package deferred

import (
	"github.com/zond/scriptai/structs"
)

// Queue is a FIFO of movement points. It belongs to one actor and is only
// touched by the goroutine driving that actor.
type Queue struct {
	points []structs.MovementPoint
}

func (q *Queue) Push(p structs.MovementPoint) {
	q.points = append(q.points, p)
}

func (q *Queue) Len() int {
	return len(q.points)
}

// Drain calls f with every buffered point in the order they were pushed, then
// clears them. Points pushed by f are kept for the next Drain.
func (q *Queue) Drain(f func(structs.MovementPoint)) {
	if len(q.points) == 0 {
		return
	}
	points := q.points
	q.points = nil
	for _, p := range points {
		f(p)
	}
}
