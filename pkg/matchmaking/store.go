package matchmaking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tinyland-inc/craig/pkg/logger"
)

// ErrSessionExists is returned by Create when a live session already uses the key.
var ErrSessionExists = errors.New("matchmaking session already exists")

// EvictReason says why the store dropped a session without completing it.
type EvictReason string

const (
	EvictExpired  EvictReason = "expired"
	EvictCapacity EvictReason = "capacity"
	EvictCleared  EvictReason = "cleared"
)

// StoreOptions bounds a Store. Zero values mean unbounded.
type StoreOptions struct {
	MaxSessions int
	TTL         time.Duration
	// SweepSchedule is the cron expression the janitor sweeps on.
	SweepSchedule string
	Now           func() time.Time
	// OnEvict is called outside any lock for every evicted session.
	OnEvict func(s Session, reason EvictReason)
}

// entry serializes all mutations of one session. removed is set under mu
// when the session leaves the map, so an Update that was waiting on mu sees
// the session as gone.
type entry struct {
	mu      sync.Mutex
	session *Session
	removed bool
	seq     uint64
}

// Store maps anchor message ids to live sessions. Operations on different
// keys never wait on each other beyond the short map lookup.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64
	opts    StoreOptions

	janitorMu sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewStore(opts StoreOptions) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		entries: make(map[string]*entry),
		opts:    opts,
	}
}

// Put stores s under key, silently replacing any live session.
func (st *Store) Put(key string, s *Session) {
	st.insert(key, s, true)
}

// Create stores s under key unless a live session already uses it.
func (st *Store) Create(key string, s *Session) error {
	if !st.insert(key, s, false) {
		return ErrSessionExists
	}
	return nil
}

func (st *Store) insert(key string, s *Session, overwrite bool) bool {
	stored := s.clone()
	stored.Key = key
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = st.opts.Now()
	}

	var evicted []*entry
	var reasons []EvictReason

	st.mu.Lock()
	if old, ok := st.entries[key]; ok {
		if !overwrite {
			st.mu.Unlock()
			return false
		}
		delete(st.entries, key)
		evicted = append(evicted, old)
		reasons = append(reasons, "")
	}
	if st.opts.MaxSessions > 0 {
		for len(st.entries) >= st.opts.MaxSessions {
			oldestKey, oldest := st.oldestLocked()
			delete(st.entries, oldestKey)
			evicted = append(evicted, oldest)
			reasons = append(reasons, EvictCapacity)
		}
	}
	st.nextSeq++
	st.entries[key] = &entry{session: &stored, seq: st.nextSeq}
	st.mu.Unlock()

	for i, e := range evicted {
		st.retire(e, reasons[i])
	}
	return true
}

func (st *Store) oldestLocked() (string, *entry) {
	var (
		oldestKey string
		oldest    *entry
	)
	for k, e := range st.entries {
		if oldest == nil || e.seq < oldest.seq {
			oldestKey, oldest = k, e
		}
	}
	return oldestKey, oldest
}

// retire marks an entry that already left the map as removed. A non-empty
// reason reports the session as evicted.
func (st *Store) retire(e *entry, reason EvictReason) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	e.removed = true
	snapshot := e.session.clone()
	e.mu.Unlock()

	if reason == "" {
		return
	}
	logger.InfoCF("matchmaking", "Session evicted", map[string]any{
		"anchor":       snapshot.Key,
		"channel":      snapshot.Channel,
		"reason":       string(reason),
		"participants": len(snapshot.Participants),
		"required":     snapshot.RequiredCount,
	})
	if st.opts.OnEvict != nil {
		st.opts.OnEvict(snapshot, reason)
	}
}

func (st *Store) lookup(key string) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.entries[key]
}

// Get returns a copy of the live session stored under key.
func (st *Store) Get(key string) (Session, bool) {
	e := st.lookup(key)
	if e == nil {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, false
	}
	return e.session.clone(), true
}

// Delete removes the session stored under key, if any.
func (st *Store) Delete(key string) {
	st.mu.Lock()
	e, ok := st.entries[key]
	if ok {
		delete(st.entries, key)
	}
	st.mu.Unlock()

	if ok {
		st.retire(e, "")
	}
}

// Update runs fn on the live session under key while holding that session's
// lock. If fn returns true the session is removed before the lock is
// released, so exactly one Update observes the removal. Update returns a
// copy of the session as fn left it, whether fn removed it, and whether a
// live session was found at all.
func (st *Store) Update(key string, fn func(s *Session) (remove bool)) (snapshot Session, removed bool, found bool) {
	e := st.lookup(key)
	if e == nil {
		return Session{}, false, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, false, false
	}

	remove := fn(e.session)
	if remove {
		e.removed = true
		st.mu.Lock()
		if st.entries[key] == e {
			delete(st.entries, key)
		}
		st.mu.Unlock()
	}
	return e.session.clone(), remove, true
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

// Snapshot returns copies of all live sessions, oldest first.
func (st *Store) Snapshot() []Session {
	st.mu.Lock()
	entries := make([]*entry, 0, len(st.entries))
	for _, e := range st.entries {
		entries = append(entries, e)
	}
	st.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	sessions := make([]Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			sessions = append(sessions, e.session.clone())
		}
		e.mu.Unlock()
	}
	return sessions
}

// Sweep evicts sessions older than the configured TTL and returns how many
// it removed.
func (st *Store) Sweep(now time.Time) int {
	if st.opts.TTL <= 0 {
		return 0
	}

	st.mu.Lock()
	var expired []*entry
	for k, e := range st.entries {
		// CreatedAt is immutable after insert, no entry lock needed.
		if now.Sub(e.session.CreatedAt) > st.opts.TTL {
			delete(st.entries, k)
			expired = append(expired, e)
		}
	}
	st.mu.Unlock()

	for _, e := range expired {
		st.retire(e, EvictExpired)
	}
	return len(expired)
}

// Clear evicts every live session.
func (st *Store) Clear() int {
	st.mu.Lock()
	all := make([]*entry, 0, len(st.entries))
	for _, e := range st.entries {
		all = append(all, e)
	}
	st.entries = make(map[string]*entry)
	st.mu.Unlock()

	for _, e := range all {
		st.retire(e, EvictCleared)
	}
	return len(all)
}
