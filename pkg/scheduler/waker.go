package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type wakeEntry struct {
	runID string
	at    time.Time
}

// wakeHeap is a min-heap ordered by wake time.
type wakeHeap []wakeEntry

func (h wakeHeap) Len() int           { return len(h) }
func (h wakeHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h wakeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *wakeHeap) Push(x any)        { *h = append(*h, x.(wakeEntry)) }

func (h *wakeHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]

	return entry
}

// Waker is the durable delay timer. It keeps waiting runs in a min-heap by
// wake time and fires the callback when one comes due. The heap is an
// in-memory index only; runs and their wake times live in storage, so a
// restart rebuilds the heap from the waiting runs.
type Waker struct {
	clock clockwork.Clock
	wake  func(runID string)

	mu      sync.Mutex
	entries wakeHeap

	reset chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
}

func NewWaker(clock clockwork.Clock, wake func(runID string)) *Waker {
	return &Waker{
		clock: clock,
		wake:  wake,
		reset: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// Schedule registers a wake-up for the run. Scheduling an earlier time than
// the current head re-arms the timer.
func (w *Waker) Schedule(runID string, at time.Time) {
	w.mu.Lock()
	heap.Push(&w.entries, wakeEntry{runID: runID, at: at})
	w.mu.Unlock()

	select {
	case w.reset <- struct{}{}:
	default:
	}
}

// Start runs the timer loop until Stop is called.
func (w *Waker) Start() {
	w.wg.Add(1)

	go w.loop()
}

// Stop terminates the timer loop and waits for it to exit.
func (w *Waker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Waker) loop() {
	defer w.wg.Done()

	for {
		due, next := w.collectDue()

		for _, runID := range due {
			w.wake(runID)
		}

		var timer <-chan time.Time
		if next != nil {
			timer = w.clock.After(next.Sub(w.clock.Now()))
		}

		select {
		case <-w.stop:
			return
		case <-w.reset:
		case <-timer:
		}
	}
}

// collectDue pops every entry at or before now and returns the next pending
// wake time, if any.
func (w *Waker) collectDue() ([]string, *time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()

	var due []string

	for len(w.entries) > 0 && !w.entries[0].at.After(now) {
		entry := heap.Pop(&w.entries).(wakeEntry)
		due = append(due, entry.runID)
	}

	if len(w.entries) == 0 {
		return due, nil
	}

	next := w.entries[0].at

	return due, &next
}
