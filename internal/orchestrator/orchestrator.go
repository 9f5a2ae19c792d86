// Package orchestrator chains stages into pipelines and runs them one
// pipeline at a time on a background worker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/programme-lv/probpipe/internal/jobstore"
)

const SkippedMessage = "skipped: earlier stage failed"

var (
	ErrQueueFull = errors.New("orchestration queue is full")
	ErrClosed    = errors.New("worker is closed")
)

// Task is one stage bound to its already created job.
type Task struct {
	JobID string
	Run   func(ctx context.Context) error
}

// RunSequential runs tasks in order. When one fails, the jobs of all later
// tasks are marked failed without running them. Errors are recorded on the
// jobs, so nothing is returned. A stage that returns an error or panics
// without finishing its own job gets it failed here.
func RunSequential(ctx context.Context, store *jobstore.Store, tasks []Task, log *slog.Logger) {
	for i, t := range tasks {
		err := runTask(ctx, t)
		if err == nil {
			continue
		}
		log.Warn("orchestration stopped", "job", t.JobID, "error", err)
		if job, rerr := store.Read(t.JobID); rerr != nil || !job.Status.Terminal() {
			if ferr := store.Fail(t.JobID, err.Error(), nil); ferr != nil {
				log.Error("failed to mark failed job", "job", t.JobID, "error", ferr)
			}
		}
		for _, rest := range tasks[i+1:] {
			if ferr := store.Fail(rest.JobID, SkippedMessage, nil); ferr != nil {
				log.Error("failed to mark skipped job", "job", rest.JobID, "error", ferr)
			}
		}
		return
	}
}

func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return t.Run(ctx)
}

// Worker is the single consumer of submitted orchestrations.
type Worker struct {
	store *jobstore.Store
	log   *slog.Logger
	queue chan []Task

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewWorker(store *jobstore.Store, size int, log *slog.Logger) *Worker {
	if size <= 0 {
		size = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		store: store,
		log:   log,
		queue: make(chan []Task, size),
		done:  make(chan struct{}),
	}
}

// Start consumes the queue until Close. ctx is handed to every stage.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for tasks := range w.queue {
			RunSequential(ctx, w.store, tasks, w.log)
		}
	}()
}

// Submit enqueues tasks without blocking. When the queue is full every job
// of the orchestration is marked failed and ErrQueueFull returned.
func (w *Worker) Submit(tasks []Task) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.queue <- tasks:
		return nil
	default:
		for _, t := range tasks {
			if err := w.store.Fail(t.JobID, ErrQueueFull.Error(), nil); err != nil {
				w.log.Error("failed to mark rejected job", "job", t.JobID, "error", err)
			}
		}
		return ErrQueueFull
	}
}

// Pending is the number of queued orchestrations not yet started.
func (w *Worker) Pending() int { return len(w.queue) }

// Close stops accepting work and waits for queued orchestrations to finish.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}
