package conversation

import (
	"sync"
	"time"
)

// DefaultWindow is the number of turns kept for serving.
const DefaultWindow = 100

// Snapshot is a consistent copy of the served log and the lifetime turn count.
type Snapshot struct {
	Log        []Turn `json:"log"`
	TotalCount int    `json:"totalCount"`
}

// Observer is notified after every append, while the store lock is still held,
// so observers see appends in the exact order they happened. Implementations
// must not call back into the store and must not block.
type Observer interface {
	OnAppend(turn Turn, snap Snapshot)
}

// RemoveObserver is implemented by observers that also want retractions.
// Same locking rules as Observer.
type RemoveObserver interface {
	OnRemove(turn Turn, snap Snapshot)
}

type ObserverFunc func(turn Turn, snap Snapshot)

func (f ObserverFunc) OnAppend(turn Turn, snap Snapshot) { f(turn, snap) }

// Store is the rolling, in-memory log of turns.
type Store struct {
	mu       sync.Mutex
	window   int
	log      []Turn
	total    int
	observer Observer
	now      func() time.Time
}

func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window: window,
		log:    make([]Turn, 0, window),
		now:    time.Now,
	}
}

// SetObserver installs the append observer. Passing nil removes it.
func (s *Store) SetObserver(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// Append creates a turn, adds it to the log, bumps the lifetime count and trims
// the log to the window, all in one critical section.
func (s *Store) Append(speaker Speaker, content string, kind Kind) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(speaker, content, kind)
}

// Replace drops the turn with the given id, if still present, and appends the
// new turn in the same critical section. Observers see a single append.
func (s *Store) Replace(id string, speaker Speaker, content string, kind Kind) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	return s.appendLocked(speaker, content, kind)
}

// Remove drops the turn with the given id and reports whether it was there.
// The lifetime count is untouched and unknown ids are ignored.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, ok := s.removeLocked(id)
	if ok {
		if ro, isRO := s.observer.(RemoveObserver); isRO {
			ro.OnRemove(removed, s.snapshotLocked())
		}
	}
	return ok
}

func (s *Store) appendLocked(speaker Speaker, content string, kind Kind) Turn {
	t := newTurn(speaker, content, kind, s.now())
	s.log = append(s.log, t)
	s.total++
	if over := len(s.log) - s.window; over > 0 {
		kept := make([]Turn, s.window)
		copy(kept, s.log[over:])
		s.log = kept
	}
	if s.observer != nil {
		s.observer.OnAppend(t, s.snapshotLocked())
	}
	return t
}

func (s *Store) removeLocked(id string) (Turn, bool) {
	for i := range s.log {
		if s.log[i].ID == id {
			t := s.log[i]
			s.log = append(s.log[:i], s.log[i+1:]...)
			return t, true
		}
	}
	return Turn{}, false
}

// Recent returns up to limit of the newest turns, oldest first. A non-positive
// limit returns the whole window.
func (s *Store) Recent(limit int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.log, limit)
}

// ContextFor returns up to limit of the newest turns not spoken by exclude, in
// chronological order. Every turn by exclude is filtered, not only the latest.
func (s *Store) ContextFor(exclude Speaker, limit int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := make([]Turn, 0, len(s.log))
	for _, t := range s.log {
		if t.Speaker == exclude {
			continue
		}
		filtered = append(filtered, t)
	}
	return tail(filtered, limit)
}

// Count returns the number of turns ever appended.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Len returns the number of turns currently in the window.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// View runs fn with a snapshot while holding the store lock, so no append can
// interleave with whatever fn registers.
func (s *Store) View(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.snapshotLocked())
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Log: tail(s.log, 0), TotalCount: s.total}
}

func tail(turns []Turn, limit int) []Turn {
	start := 0
	if limit > 0 && len(turns) > limit {
		start = len(turns) - limit
	}
	out := make([]Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}
