package stages

import (
	"sync"
	"time"

	"github.com/programme-lv/probpipe/internal/jobstore"
)

// slots collects results computed out of order by index. Only the
// contiguous computed prefix is ever visible to readers, so partial results
// always read as the first n items of the final one.
type slots[T any] struct {
	mu     sync.Mutex
	items  []T
	filled []bool
	prefix int
}

func newSlots[T any](n int) *slots[T] {
	return &slots[T]{items: make([]T, n), filled: make([]bool, n)}
}

func (s *slots[T]) set(i int, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[i] = v
	s.filled[i] = true
	for s.prefix < len(s.items) && s.filled[s.prefix] {
		s.prefix++
	}
}

// computed returns a copy of the contiguous prefix.
func (s *slots[T]) computed() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, s.prefix)
	copy(out, s.items[:s.prefix])
	return out
}

func (s *slots[T]) len() int { return len(s.items) }

// flusher is the only writer of partial results for one job. It wakes up
// every interval and stores a fresh snapshot if anything changed since the
// last one.
type flusher struct {
	store    *jobstore.Store
	jobID    string
	interval time.Duration
	snapshot func() any

	mu    sync.Mutex
	dirty bool

	stop chan struct{}
	done chan struct{}
}

func startFlusher(store *jobstore.Store, jobID string, interval time.Duration, snapshot func() any) *flusher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	f := &flusher{
		store:    store,
		jobID:    jobID,
		interval: interval,
		snapshot: snapshot,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go f.loop()
	return f
}

func (f *flusher) touch() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

func (f *flusher) loop() {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.mu.Lock()
			dirty := f.dirty
			f.dirty = false
			f.mu.Unlock()
			if dirty {
				// retry on the next tick
				if err := f.store.Progress(f.jobID, f.snapshot()); err != nil {
					f.mu.Lock()
					f.dirty = true
					f.mu.Unlock()
				}
			}
		}
	}
}

// close stops the flusher and waits for an in-flight write. The caller
// writes the final result afterwards.
func (f *flusher) close() {
	close(f.stop)
	<-f.done
}
