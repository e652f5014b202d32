package txn

import (
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// inflight tracks transactions between preparation and their terminal
// status, keyed by handle ID and iterable in submission order.
type inflight struct {
	lk   sync.RWMutex
	recs *linkedhashmap.Map
}

func newInflight() *inflight {
	return &inflight{recs: linkedhashmap.New()}
}

func (f *inflight) put(id string, rec *Record) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.recs.Put(id, rec)
}

// get returns a copy so callers can never mutate the tracked record.
func (f *inflight) get(id string) (Record, bool) {
	f.lk.RLock()
	defer f.lk.RUnlock()
	v, ok := f.recs.Get(id)
	if !ok {
		return Record{}, false
	}
	return *v.(*Record).clone(), true
}

// update runs fn against the tracked record under the write lock and
// reports fn's result. A missing id reports false without running fn.
func (f *inflight) update(id string, fn func(*Record) bool) bool {
	f.lk.Lock()
	defer f.lk.Unlock()
	v, ok := f.recs.Get(id)
	if !ok {
		return false
	}
	return fn(v.(*Record))
}

func (f *inflight) remove(id string) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.recs.Remove(id)
}

func (f *inflight) size() int {
	f.lk.RLock()
	defer f.lk.RUnlock()
	return f.recs.Size()
}

// snapshot returns copies of every tracked record in submission order.
func (f *inflight) snapshot() []Record {
	f.lk.RLock()
	defer f.lk.RUnlock()
	out := make([]Record, 0, f.recs.Size())
	it := f.recs.Iterator()
	for it.Next() {
		out = append(out, *it.Value().(*Record).clone())
	}
	return out
}
