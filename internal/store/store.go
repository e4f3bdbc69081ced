package store

import (
	"sort"
	"sync"
	"time"

	"voxelfleet.ai/internal/geom"
)

// Categories are independent key-spaces; writers across agents converge
// because keys are derived from stable identifiers.
const (
	CategoryResources  = "resources"
	CategoryThreats    = "threats"
	CategoryContainers = "containers"
	CategoryTasks      = "tasks"
	CategoryPositions  = "positions"
)

// Categories lists every category in snapshot order.
var Categories = []string{
	CategoryResources,
	CategoryThreats,
	CategoryContainers,
	CategoryTasks,
	CategoryPositions,
}

// Entry is one shared fact: a keyed position plus free-form string fields.
type Entry struct {
	Key       string
	Pos       geom.Vec3
	Data      map[string]string
	UpdatedAt time.Time
}

// Change is delivered to subscribers of a category.
type Change struct {
	Category string
	Entry    Entry
	Deleted  bool
}

// Store is the only shared mutable state between agents. Last-writer-wins
// per key; readers and writers synchronize on one RWMutex.
type Store struct {
	mu   sync.RWMutex
	cats map[string]map[string]Entry

	subMu sync.Mutex
	subs  map[string][]chan Change

	threatWindow time.Duration
	now          func() time.Time

	taskIndex TaskIndex
}

type Option func(*Store)

// WithClock overrides the store clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithThreatWindow sets the sliding recency window applied to the threats
// category at read time.
func WithThreatWindow(d time.Duration) Option {
	return func(s *Store) { s.threatWindow = d }
}

func New(opts ...Option) *Store {
	s := &Store{
		cats:         map[string]map[string]Entry{},
		subs:         map[string][]chan Change{},
		threatWindow: 30 * time.Second,
		now:          time.Now,
	}
	for _, c := range Categories {
		s.cats[c] = map[string]Entry{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Put(category string, e Entry) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now()
	}
	s.mu.Lock()
	m, ok := s.cats[category]
	if !ok {
		m = map[string]Entry{}
		s.cats[category] = m
	}
	m[e.Key] = e
	s.mu.Unlock()

	s.notify(Change{Category: category, Entry: e})
}

func (s *Store) Get(category, key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cats[category][key]
	return e, ok
}

func (s *Store) Delete(category, key string) {
	s.mu.Lock()
	e, ok := s.cats[category][key]
	if ok {
		delete(s.cats[category], key)
	}
	s.mu.Unlock()
	if ok {
		s.notify(Change{Category: category, Entry: e, Deleted: true})
	}
}

func (s *Store) Keys(category string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cats[category]))
	for k := range s.cats[category] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// QueryInRadius returns entries within radius of center, sorted by ascending
// distance from center (key as tiebreak). For the threats category, entries
// older than the recency window are filtered out at read time; there is no
// active expiry loop.
func (s *Store) QueryInRadius(category string, center geom.Vec3, radius float64) []Entry {
	cutoff := time.Time{}
	if category == CategoryThreats && s.threatWindow > 0 {
		cutoff = s.now().Add(-s.threatWindow)
	}

	s.mu.RLock()
	out := make([]Entry, 0, 8)
	for _, e := range s.cats[category] {
		if !cutoff.IsZero() && e.UpdatedAt.Before(cutoff) {
			continue
		}
		if !geom.Within(center, e.Pos, radius) {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		di := geom.DistSq(center, out[i].Pos)
		dj := geom.DistSq(center, out[j].Pos)
		if di != dj {
			return di < dj
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Subscribe registers a change listener for one category. Delivery is
// best-effort: a subscriber that stops draining loses changes rather than
// blocking writers. The returned cancel closes the channel.
func (s *Store) Subscribe(category string, buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	s.subMu.Lock()
	s.subs[category] = append(s.subs[category], ch)
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		list := s.subs[category]
		for i, c := range list {
			if c == ch {
				s.subs[category] = append(list[:i], list[i+1:]...)
				close(ch)
				break
			}
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	for _, ch := range s.subs[c.Category] {
		select {
		case ch <- c:
		default:
		}
	}
	s.subMu.Unlock()
}

// export copies one category for snapshotting.
func (s *Store) export(category string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.cats[category]))
	for _, e := range s.cats[category] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// replace swaps one category wholesale (snapshot load).
func (s *Store) replace(category string, entries []Entry) {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Key] = e
	}
	s.mu.Lock()
	s.cats[category] = m
	s.mu.Unlock()
}
