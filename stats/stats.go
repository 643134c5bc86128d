// Package stats counts what scripts did with the hooks offered to them.
package stats

import (
	"sort"
	"time"

	"github.com/zond/scriptai"
	"github.com/zond/scriptai/structs"
)

const (
	// DefaultSlowThreshold defines executions considered "slow".
	DefaultSlowThreshold = 20 * time.Millisecond
	// recentBufferSize is the maximum number of recent notable executions (errors + slow) to keep.
	recentBufferSize = 1000
	// maxErrorMessageLength is the maximum length of error messages stored.
	maxErrorMessageLength = 128
)

// ErrorCategory classifies the source of an error.
type ErrorCategory string

const (
	CategoryScript  ErrorCategory = "script"
	CategoryTimeout ErrorCategory = "timeout"
	CategoryArgs    ErrorCategory = "args"
	CategoryPanic   ErrorCategory = "panic"
	CategoryOther   ErrorCategory = "other"
)

// ExecutionRecord captures a notable execution (error or slow) for debugging.
type ExecutionRecord struct {
	Timestamp  time.Time
	Actor      structs.ActorID
	SourcePath string
	Hook       structs.Category
	Duration   time.Duration
	Category   ErrorCategory // Empty for slow executions
	Message    string
}

// Counters are the totals for one hook or one script.
type Counters struct {
	Offered  uint64
	Handled  uint64
	Declined uint64
	Failed   uint64
	Slow     uint64
	Total    time.Duration
	Max      time.Duration
}

func (c *Counters) record(d time.Duration, slow bool) {
	c.Offered++
	c.Total += d
	if d > c.Max {
		c.Max = d
	}
	if slow {
		c.Slow++
	}
}

func (c Counters) Avg() time.Duration {
	if c.Offered == 0 {
		return 0
	}
	return c.Total / time.Duration(c.Offered)
}

func (c Counters) HandledPercent() float64 {
	if c.Offered == 0 {
		return 0
	}
	return 100 * float64(c.Handled) / float64(c.Offered)
}

type Stats struct {
	lock          scriptai.RWLock
	slowThreshold time.Duration
	byHook        map[structs.Category]*Counters
	bySource      map[string]*Counters
	byCategory    map[ErrorCategory]uint64
	recent        []ExecutionRecord
	recentStart   int
}

func New(slowThreshold time.Duration) *Stats {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowThreshold
	}
	s := &Stats{
		slowThreshold: slowThreshold,
	}
	s.reset()
	return s
}

func (s *Stats) reset() {
	s.byHook = map[structs.Category]*Counters{}
	s.bySource = map[string]*Counters{}
	s.byCategory = map[ErrorCategory]uint64{}
	s.recent = nil
	s.recentStart = 0
}

func (s *Stats) Reset() {
	defer s.lock.AcquireWrite().Release()
	s.reset()
}

func (s *Stats) countersLocked(hook structs.Category, sourcePath string) (*Counters, *Counters) {
	h, found := s.byHook[hook]
	if !found {
		h = &Counters{}
		s.byHook[hook] = h
	}
	src, found := s.bySource[sourcePath]
	if !found {
		src = &Counters{}
		s.bySource[sourcePath] = src
	}
	return h, src
}

func (s *Stats) pushRecentLocked(rec ExecutionRecord) {
	if len(s.recent) < recentBufferSize {
		s.recent = append(s.recent, rec)
		return
	}
	s.recent[s.recentStart] = rec
	s.recentStart = (s.recentStart + 1) % recentBufferSize
}

// RecordExecution records a script run that finished without error.
func (s *Stats) RecordExecution(actor structs.ActorID, sourcePath string, hook structs.Category, d time.Duration, verdict structs.Verdict) {
	defer s.lock.AcquireWrite().Release()
	slow := d >= s.slowThreshold
	h, src := s.countersLocked(hook, sourcePath)
	for _, c := range []*Counters{h, src} {
		c.record(d, slow)
		if verdict == structs.Handled {
			c.Handled++
		} else {
			c.Declined++
		}
	}
	if slow {
		s.pushRecentLocked(ExecutionRecord{
			Timestamp:  time.Now(),
			Actor:      actor,
			SourcePath: sourcePath,
			Hook:       hook,
			Duration:   d,
		})
	}
}

// RecordError records a script run that failed. Failures count as declined.
func (s *Stats) RecordError(actor structs.ActorID, sourcePath string, hook structs.Category, d time.Duration, category ErrorCategory, err error) {
	defer s.lock.AcquireWrite().Release()
	slow := d >= s.slowThreshold
	h, src := s.countersLocked(hook, sourcePath)
	for _, c := range []*Counters{h, src} {
		c.record(d, slow)
		c.Declined++
		c.Failed++
	}
	s.byCategory[category]++
	msg := err.Error()
	if len(msg) > maxErrorMessageLength {
		msg = msg[:maxErrorMessageLength]
	}
	s.pushRecentLocked(ExecutionRecord{
		Timestamp:  time.Now(),
		Actor:      actor,
		SourcePath: sourcePath,
		Hook:       hook,
		Duration:   d,
		Category:   category,
		Message:    msg,
	})
}

type HookSnapshot struct {
	Hook structs.Category
	Counters
}

// Hooks returns the counters of every hook offered so far, in category order.
func (s *Stats) Hooks() []HookSnapshot {
	defer s.lock.AcquireRead().Release()
	result := make([]HookSnapshot, 0, len(s.byHook))
	for hook, c := range s.byHook {
		result = append(result, HookSnapshot{Hook: hook, Counters: *c})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Hook < result[j].Hook
	})
	return result
}

type SourceSnapshot struct {
	SourcePath string
	Counters
}

// TopSources returns the n scripts with the most total execution time.
func (s *Stats) TopSources(n int) []SourceSnapshot {
	defer s.lock.AcquireRead().Release()
	result := make([]SourceSnapshot, 0, len(s.bySource))
	for path, c := range s.bySource {
		result = append(result, SourceSnapshot{SourcePath: path, Counters: *c})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Total == result[j].Total {
			return result[i].SourcePath < result[j].SourcePath
		}
		return result[i].Total > result[j].Total
	})
	if n > 0 && len(result) > n {
		result = result[:n]
	}
	return result
}

func (s *Stats) ErrorCategories() map[ErrorCategory]uint64 {
	defer s.lock.AcquireRead().Release()
	result := make(map[ErrorCategory]uint64, len(s.byCategory))
	for k, v := range s.byCategory {
		result[k] = v
	}
	return result
}

// RecentRecords returns up to n of the most recent notable executions
// matching filter, newest first.
func (s *Stats) RecentRecords(n int, filter func(*ExecutionRecord) bool) []ExecutionRecord {
	defer s.lock.AcquireRead().Release()
	result := []ExecutionRecord{}
	for i := len(s.recent) - 1; i >= 0 && len(result) < n; i-- {
		rec := s.recent[(s.recentStart+i)%len(s.recent)]
		if filter == nil || filter(&rec) {
			result = append(result, rec)
		}
	}
	return result
}

func (s *Stats) RecentErrors(n int) []ExecutionRecord {
	return s.RecentRecords(n, func(r *ExecutionRecord) bool {
		return r.Category != ""
	})
}

func (s *Stats) RecentSlowExecutions(n int) []ExecutionRecord {
	return s.RecentRecords(n, func(r *ExecutionRecord) bool {
		return r.Duration >= s.slowThreshold
	})
}
