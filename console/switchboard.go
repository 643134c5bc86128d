package console

import (
	"io"

	"github.com/zond/scriptai"
	"github.com/zond/scriptai/structs"
	"golang.org/x/term"
)

const (
	// backlogSize is the number of script log lines kept per actor, replayed to
	// a terminal when it starts debugging the actor.
	backlogSize = 64
)

// backlog is a ring of the most recent lines an actor's scripts logged.
type backlog struct {
	lines [][]byte
	start int
	count int
}

func (b *backlog) push(line []byte) {
	if b.lines == nil {
		b.lines = make([][]byte, backlogSize)
	}
	cpy := append([]byte(nil), line...)
	if b.count < backlogSize {
		b.lines[(b.start+b.count)%backlogSize] = cpy
		b.count++
		return
	}
	b.lines[b.start] = cpy
	b.start = (b.start + 1) % backlogSize
}

func (b *backlog) all() [][]byte {
	if b.count == 0 {
		return nil
	}
	result := make([][]byte, b.count)
	for i := range result {
		result[i] = b.lines[(b.start+i)%backlogSize]
	}
	return result
}

// Switchboard routes what scripts log to the terminals debugging their actors.
type Switchboard struct {
	lock      scriptai.RWLock
	terminals map[structs.ActorID]map[*term.Terminal]bool
	backlogs  map[structs.ActorID]*backlog
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{
		terminals: map[structs.ActorID]map[*term.Terminal]bool{},
		backlogs:  map[structs.ActorID]*backlog{},
	}
}

// Attach makes t receive everything the scripts of id log from now on.
func (s *Switchboard) Attach(id structs.ActorID, t *term.Terminal) {
	if t == nil {
		return
	}
	defer s.lock.AcquireWrite().Release()
	if s.terminals[id] == nil {
		s.terminals[id] = map[*term.Terminal]bool{}
	}
	s.terminals[id][t] = true
}

func (s *Switchboard) detachLocked(id structs.ActorID, t *term.Terminal) {
	if terms := s.terminals[id]; terms != nil {
		delete(terms, t)
		if len(terms) == 0 {
			delete(s.terminals, id)
		}
	}
}

func (s *Switchboard) Detach(id structs.ActorID, t *term.Terminal) {
	defer s.lock.AcquireWrite().Release()
	s.detachLocked(id, t)
}

// DetachAll detaches t from every actor, and returns the actors it was attached to.
func (s *Switchboard) DetachAll(t *term.Terminal) []structs.ActorID {
	defer s.lock.AcquireWrite().Release()
	result := []structs.ActorID{}
	for id, terms := range s.terminals {
		if terms[t] {
			result = append(result, id)
		}
	}
	for _, id := range result {
		s.detachLocked(id, t)
	}
	return result
}

func (s *Switchboard) IsAttached(id structs.ActorID, t *term.Terminal) bool {
	defer s.lock.AcquireRead().Release()
	return s.terminals[id][t]
}

// Backlog returns the recent lines logged by the scripts of id, oldest first.
func (s *Switchboard) Backlog(id structs.ActorID) [][]byte {
	defer s.lock.AcquireRead().Release()
	if b := s.backlogs[id]; b != nil {
		return b.all()
	}
	return nil
}

// Forget drops the backlog of a destroyed actor. Attached terminals stay
// attached, since an ActorID is never reused.
func (s *Switchboard) Forget(id structs.ActorID) {
	defer s.lock.AcquireWrite().Release()
	delete(s.backlogs, id)
}

// Writer returns the console of id. Writes to it never fail; terminals that
// fail to receive a write are detached.
func (s *Switchboard) Writer(id structs.ActorID) io.Writer {
	return &switchboardWriter{s: s, id: id}
}

type switchboardWriter struct {
	s  *Switchboard
	id structs.ActorID
}

func (w *switchboardWriter) receivers(b []byte) []*term.Terminal {
	defer w.s.lock.AcquireWrite().Release()
	bl := w.s.backlogs[w.id]
	if bl == nil {
		bl = &backlog{}
		w.s.backlogs[w.id] = bl
	}
	bl.push(b)
	result := make([]*term.Terminal, 0, len(w.s.terminals[w.id]))
	for t := range w.s.terminals[w.id] {
		result = append(result, t)
	}
	return result
}

func (w *switchboardWriter) Write(b []byte) (int, error) {
	if w.s == nil {
		return len(b), nil
	}
	// Terminals are written outside the lock, so a slow one doesn't stall
	// every script logging through the switchboard.
	failed := []*term.Terminal{}
	for _, t := range w.receivers(b) {
		if _, err := t.Write(b); err != nil {
			failed = append(failed, t)
		}
	}
	if len(failed) > 0 {
		defer w.s.lock.AcquireWrite().Release()
		for _, t := range failed {
			w.s.detachLocked(w.id, t)
		}
	}
	return len(b), nil
}
