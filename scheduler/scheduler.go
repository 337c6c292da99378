package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/refractionPOINT/syslog-generator/utils"
	"golang.org/x/sync/semaphore"
)

var (
	ErrTaskExists = errors.New("task already registered")
	ErrClosed     = errors.New("scheduler closed")
)

// Task is a unit of periodic work. Run is never invoked concurrently with
// itself and must return promptly once ctx is cancelled.
type Task interface {
	Run(ctx context.Context)
}

type TaskFunc func(ctx context.Context)

func (f TaskFunc) Run(ctx context.Context) { f(ctx) }

type TaskScheduler interface {
	AddTask(id string, task Task) error
	RemoveTask(id string) bool
}

type taskEntry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TickScheduler runs every registered task once per interval, each on its
// own goroutine. Ticks that fire while a task is still running are dropped.
type TickScheduler struct {
	interval time.Duration
	slots    *semaphore.Weighted
	opts     utils.LogOptions

	mu     sync.Mutex
	tasks  map[string]*taskEntry
	closed bool
}

// NewTickScheduler creates a scheduler ticking every interval. When
// maxConcurrent is above zero, at most that many task runs are in flight
// at any time across all tasks.
func NewTickScheduler(interval time.Duration, maxConcurrent int, opts utils.LogOptions) *TickScheduler {
	s := &TickScheduler{
		interval: interval,
		opts:     opts,
		tasks:    map[string]*taskEntry{},
	}
	if maxConcurrent > 0 {
		s.slots = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return s
}

func (s *TickScheduler) AddTask(id string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tasks[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrTaskExists)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &taskEntry{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.tasks[id] = e
	go s.loop(ctx, id, task, e.done)
	s.opts.Debug(fmt.Sprintf("task %s scheduled every %v", id, s.interval))
	return nil
}

// RemoveTask cancels the task and waits for an in-flight run to return.
// It must not be called from within the task's own Run.
func (s *TickScheduler) RemoveTask(id string) bool {
	s.mu.Lock()
	e, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	<-e.done
	s.opts.Debug(fmt.Sprintf("task %s removed", id))
	return true
}

// Tasks returns the ids of the registered tasks, sorted.
func (s *TickScheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close removes every task and refuses new ones.
func (s *TickScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.RemoveTask(id)
	}
}

func (s *TickScheduler) loop(ctx context.Context, id string, task Task, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.invoke(ctx, id, task)
		}
	}
}

func (s *TickScheduler) invoke(ctx context.Context, id string, task Task) {
	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.slots.Release(1)
	}
	defer func() {
		if r := recover(); r != nil {
			s.opts.Error(fmt.Errorf("task %s panicked: %v", id, r))
		}
	}()
	task.Run(ctx)
}
