package bus

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Task is one periodic job run by the Scheduler.
type Task struct {
	Name     string
	Interval time.Duration
	// RunImmediately fires the task once at startup before the first tick.
	RunImmediately bool
	Fn             func(ctx context.Context)
}

// Scheduler runs named periodic tasks, each on its own goroutine, with a
// small random start offset so tasks sharing an interval don't align.
type Scheduler struct {
	mu    sync.Mutex
	tasks []Task
	wg    sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add registers a task. Must be called before Run.
func (s *Scheduler) Add(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// Run starts all tasks and blocks until ctx is cancelled and every task
// returned. Individual task runs are protected against panics.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, task := range tasks {
		s.wg.Add(1)
		go s.runTask(ctx, task)
	}
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer s.wg.Done()

	// Jitter start so identical intervals don't tick in lockstep.
	jitter := time.Duration(rand.Int63n(int64(task.Interval)/10 + 1))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	if task.RunImmediately {
		s.safeRun(ctx, task)
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler task stopped", "task", task.Name)
			return
		case <-ticker.C:
			s.safeRun(ctx, task)
		}
	}
}

func (s *Scheduler) safeRun(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduler task panicked", "task", task.Name, "panic", r)
		}
	}()
	task.Fn(ctx)
}
