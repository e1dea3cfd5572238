package scheduler

import "sync"

// runLocks serializes execution per run ID. Two workers never execute the same
// run concurrently; distinct runs proceed in parallel.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[string]*runLock)}
}

// acquire blocks until the caller holds the lock for runID and returns the
// release function.
func (l *runLocks) acquire(runID string) func() {
	l.mu.Lock()

	lock, ok := l.locks[runID]
	if !ok {
		lock = &runLock{}
		l.locks[runID] = lock
	}

	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return l.release(runID, lock)
}

// tryAcquire takes the lock for runID only if nobody holds it. It returns the
// release function and true on success, or nil and false when the run is
// executing right now.
func (l *runLocks) tryAcquire(runID string) (func(), bool) {
	l.mu.Lock()

	lock, ok := l.locks[runID]
	if !ok {
		lock = &runLock{}
		l.locks[runID] = lock
	}

	lock.refs++
	l.mu.Unlock()

	if !lock.mu.TryLock() {
		l.mu.Lock()

		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, runID)
		}

		l.mu.Unlock()

		return nil, false
	}

	return l.release(runID, lock), true
}

func (l *runLocks) release(runID string, lock *runLock) func() {
	return func() {
		lock.mu.Unlock()

		l.mu.Lock()

		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, runID)
		}

		l.mu.Unlock()
	}
}
