// Package scheduler runs queued tasks with bounded concurrency. A scheduler
// is one-shot: tasks are added, Run executes them, and the queue is complete
// afterwards. Results always come back in submission order regardless of
// completion order.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pkgfast/pkgfast/internal/metrics"
	"github.com/pkgfast/pkgfast/pkg/errors"
)

// Task is one schedulable unit of work.
type Task interface {
	Execute(ctx context.Context) (interface{}, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) (interface{}, error)

// Execute implements Task.
func (f TaskFunc) Execute(ctx context.Context) (interface{}, error) {
	return f(ctx)
}

// DefaultConcurrency caps the worker count at 16, or lower on small
// machines.
func DefaultConcurrency() int {
	n := runtime.NumCPU() + 2
	if n > 16 {
		n = 16
	}
	return n
}

// Scheduler executes queued tasks over a fixed set of workers.
type Scheduler struct {
	mu          sync.Mutex
	tasks       []Task
	concurrency int
	complete    bool

	logger  logrus.FieldLogger
	metrics *metrics.Collector
}

// New creates a scheduler. Non-positive concurrency selects the default.
func New(concurrency int, logger logrus.FieldLogger, collector *metrics.Collector) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}
	return &Scheduler{
		concurrency: concurrency,
		logger:      logger,
		metrics:     collector,
	}
}

// Concurrency returns the worker count this scheduler runs with.
func (s *Scheduler) Concurrency() int {
	return s.concurrency
}

// Add queues a task. Adding to a completed scheduler fails.
func (s *Scheduler) Add(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return errors.New(errors.ErrCodeQueueState, "scheduler already ran; create a new one").
			WithComponent("scheduler").WithOperation("add")
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Len returns the number of queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Run executes every queued task and returns their results in submission
// order. Individual failures do not stop the run: every task settles, and
// only then is an aggregate error (wrapping each failure) returned alongside
// the partial results. Failed slots hold nil.
func (s *Scheduler) Run(ctx context.Context) ([]interface{}, error) {
	s.mu.Lock()
	if s.complete {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrCodeQueueState, "scheduler already ran").
			WithComponent("scheduler").WithOperation("run")
	}
	s.complete = true
	tasks := s.tasks
	s.mu.Unlock()

	results := make([]interface{}, len(tasks))
	taskErrs := make([]error, len(tasks))

	indexes := make(chan int)
	var wg sync.WaitGroup

	workers := s.concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i], taskErrs[i] = s.runTask(ctx, tasks[i])
			}
		}()
	}

	for i := range tasks {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	for _, err := range taskErrs {
		if err != nil {
			s.metrics.RecordTask("failure")
		} else {
			s.metrics.RecordTask("success")
		}
	}

	if agg := errors.NewAggregate(taskErrs); agg != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"failed": agg.Count(),
				"total":  len(tasks),
			}).Warn("scheduler run finished with failures")
		}
		return results, errors.Wrap(errors.ErrCodeAggregateTask,
			fmt.Sprintf("%d of %d tasks failed", agg.Count(), len(tasks)), agg).
			WithComponent("scheduler").WithOperation("run")
	}
	return results, nil
}

// runTask executes one task, converting a cancelled context or a panic into
// a task failure so the run always settles every slot.
func (s *Scheduler) runTask(ctx context.Context, task Task) (result interface{}, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "task skipped", ctxErr).
			WithComponent("scheduler")
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Newf(errors.ErrCodeInternal, "task panicked: %v", r).
				WithComponent("scheduler")
		}
	}()

	return task.Execute(ctx)
}
