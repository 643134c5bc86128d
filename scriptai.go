package scriptai

import (
	"bytes"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	goccy "github.com/goccy/go-json"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); !ok {
		return errors.WithStack(err)
	}
	return err
}

func StackTrace(err error) string {
	buf := &bytes.Buffer{}
	if err, ok := err.(stackTracer); ok {
		for _, f := range err.StackTrace() {
			fmt.Fprintf(buf, "%+v\n", f)
		}
	}
	return buf.String()
}

// SyncMap is a map guarded by an RWLock. Reads share the lock, writes own it.
type SyncMap[K comparable, V comparable] struct {
	m    map[K]V
	lock RWLock
}

func NewSyncMap[K comparable, V comparable]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		m: map[K]V{},
	}
}

func (s *SyncMap[K, V]) Clone() map[K]V {
	defer s.lock.AcquireRead().Release()
	result := make(map[K]V, len(s.m))
	for k, v := range s.m {
		result[k] = v
	}
	return result
}

func (s *SyncMap[K, V]) MarshalJSON() ([]byte, error) {
	defer s.lock.AcquireRead().Release()
	return goccy.Marshal(s.m)
}

func (s *SyncMap[K, V]) Len() int {
	defer s.lock.AcquireRead().Release()
	return len(s.m)
}

// Each yields a snapshot of the entries, so yield may call back into the map.
func (s *SyncMap[K, V]) Each() iter.Seq2[K, V] {
	return func(yield func(k K, v V) bool) {
		for k, v := range s.Clone() {
			if !yield(k, v) {
				return
			}
		}
	}
}

func (s *SyncMap[K, V]) GetHas(key K) (V, bool) {
	defer s.lock.AcquireRead().Release()
	v, found := s.m[key]
	return v, found
}

func (s *SyncMap[K, V]) Get(key K) V {
	defer s.lock.AcquireRead().Release()
	return s.m[key]
}

func (s *SyncMap[K, V]) Has(key K) bool {
	defer s.lock.AcquireRead().Release()
	_, found := s.m[key]
	return found
}

func (s *SyncMap[K, V]) Set(key K, value V) {
	defer s.lock.AcquireWrite().Release()
	s.m[key] = value
}

// SetIfMissing stores value unless key is present, and reports whether it stored.
func (s *SyncMap[K, V]) SetIfMissing(key K, value V) bool {
	defer s.lock.AcquireWrite().Release()
	if _, found := s.m[key]; found {
		return false
	}
	s.m[key] = value
	return true
}

func (s *SyncMap[K, V]) Del(key K) {
	defer s.lock.AcquireWrite().Release()
	delete(s.m, key)
}

func Increment(prevPointer *uint64) uint64 {
	next := uint64(0)
	for {
		next = uint64(time.Now().UnixNano())
		previous := atomic.LoadUint64(prevPointer)
		if next > previous && atomic.CompareAndSwapUint64(prevPointer, previous, next) {
			break
		}
	}
	return next
}
