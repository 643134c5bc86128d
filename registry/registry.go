// Package registry maps actors to their persistent script state.
//
// There is one Registry per process. It is created at startup and handed to
// every hook controller and script engine that needs it. Entries are created
// when a controller attaches to an actor and deleted when it detaches; nothing
// else creates or deletes them.
package registry

import (
	"log"
	"sort"

	"github.com/pkg/errors"
	"github.com/zond/scriptai"
	"github.com/zond/scriptai/structs"
)

var (
	ErrAlreadyExists = errors.New("script table already exists")
)

const (
	emptyState = "{}"
)

// Table is the script side state of one actor.
type Table struct {
	actor    structs.ActorID
	lock     scriptai.RWLock
	state    string
	released bool
}

func (t *Table) Actor() structs.ActorID {
	return t.actor
}

// State returns the JSON encoded state the actor's scripts have stored.
func (t *Table) State() string {
	defer t.lock.AcquireRead().Release()
	return t.state
}

// SetState replaces the state. Writes to a released table are dropped.
func (t *Table) SetState(state string) {
	defer t.lock.AcquireWrite().Release()
	if t.released {
		return
	}
	if state == "" {
		state = emptyState
	}
	t.state = state
}

// Released reports whether the table was deleted from its registry.
func (t *Table) Released() bool {
	defer t.lock.AcquireRead().Release()
	return t.released
}

func (t *Table) release() {
	defer t.lock.AcquireWrite().Release()
	t.released = true
	t.state = emptyState
}

type Registry struct {
	lock   scriptai.RWLock
	tables map[structs.ActorID]*Table
}

func New() *Registry {
	return &Registry{
		tables: map[structs.ActorID]*Table{},
	}
}

// Create allocates the table for id. A second Create for the same id without
// an intervening Delete is a lifecycle bug upstream and fails with
// ErrAlreadyExists, leaving the existing table in place.
func (r *Registry) Create(id structs.ActorID) (*Table, error) {
	defer r.lock.AcquireWrite().Release()
	if _, found := r.tables[id]; found {
		log.Printf("refusing to create a second script table for %q", id)
		return nil, errors.Wrapf(ErrAlreadyExists, "actor %q", id)
	}
	t := &Table{
		actor: id,
		state: emptyState,
	}
	r.tables[id] = t
	return t, nil
}

func (r *Registry) Lookup(id structs.ActorID) (*Table, bool) {
	defer r.lock.AcquireRead().Release()
	t, found := r.tables[id]
	return t, found
}

// Delete removes and releases the table for id. Deleting a missing id is a no-op.
func (r *Registry) Delete(id structs.ActorID) {
	t := func() *Table {
		defer r.lock.AcquireWrite().Release()
		t, found := r.tables[id]
		if !found {
			return nil
		}
		delete(r.tables, id)
		return t
	}()
	if t != nil {
		t.release()
	}
}

func (r *Registry) Len() int {
	defer r.lock.AcquireRead().Release()
	return len(r.tables)
}

// IDs returns the ids with live tables, sorted.
func (r *Registry) IDs() []structs.ActorID {
	defer r.lock.AcquireRead().Release()
	result := make([]structs.ActorID, 0, len(r.tables))
	for id := range r.tables {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i] < result[j]
	})
	return result
}
