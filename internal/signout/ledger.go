package signout

import (
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/elmctl/internal/element"
)

// Lock is a sign-out this process obtained from the remote.
type Lock struct {
	Path       element.Path
	CCID       string
	AcquiredAt time.Time
	Overridden bool
}

// Ledger records the locks this process holds so they can be reported and
// released. It is a local mirror only; the remote stays authoritative.
type Ledger struct {
	mu       sync.RWMutex
	locks    map[element.Path]Lock
	now      func() time.Time
	handlers []func(Lock, bool)
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the time source for AcquiredAt.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an empty Ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		locks: make(map[element.Path]Lock),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnChange registers a handler called after every record (held=true) and
// removal (held=false). Handlers run outside the ledger's lock.
func (l *Ledger) OnChange(handler func(lock Lock, held bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
}

// Record notes that path is now signed out to this process, replacing any
// earlier entry.
func (l *Ledger) Record(path element.Path, ccid string, overridden bool) Lock {
	l.mu.Lock()
	lock := Lock{Path: path, CCID: ccid, AcquiredAt: l.now(), Overridden: overridden}
	l.locks[path] = lock
	handlers := l.handlers
	l.mu.Unlock()

	for _, h := range handlers {
		h(lock, true)
	}
	return lock
}

// Remove forgets path. It reports whether an entry existed.
func (l *Ledger) Remove(path element.Path) bool {
	l.mu.Lock()
	lock, ok := l.locks[path]
	delete(l.locks, path)
	handlers := l.handlers
	l.mu.Unlock()

	if ok {
		for _, h := range handlers {
			h(lock, false)
		}
	}
	return ok
}

// Get returns the entry for path.
func (l *Ledger) Get(path element.Path) (Lock, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lock, ok := l.locks[path]
	return lock, ok
}

// Holds reports whether path is recorded as signed out to this process.
func (l *Ledger) Holds(path element.Path) bool {
	_, ok := l.Get(path)
	return ok
}

// Locks returns every entry sorted by path.
func (l *Ledger) Locks() []Lock {
	l.mu.RLock()
	locks := make([]Lock, 0, len(l.locks))
	for _, lock := range l.locks {
		locks = append(locks, lock)
	}
	l.mu.RUnlock()

	sort.Slice(locks, func(i, j int) bool {
		return locks[i].Path.String() < locks[j].Path.String()
	})
	return locks
}

// Len returns the number of recorded locks.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.locks)
}
