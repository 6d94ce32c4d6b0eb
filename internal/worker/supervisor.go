package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrSupervisorClosed is returned by Go once Shutdown has started
var ErrSupervisorClosed = errors.New("supervisor is shutting down")

const defaultErrorBuffer = 64

// Task is a unit of detached work. ctx is cancelled when a shutdown runs out of time.
type Task func(ctx context.Context) error

// TaskError is published on the error channel for every task that failed or panicked
type TaskError struct {
	Task  string
	Err   error
	Panic any
	Stack []byte
}

func (e *TaskError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", e.Task, e.Panic)
	}
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// SupervisorConfig holds supervisor configuration
type SupervisorConfig struct {
	Logger      *slog.Logger
	ErrorBuffer int
}

// Supervisor runs detached tasks, tracks them until they finish and drains them on shutdown
type Supervisor struct {
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	inFlight atomic.Int64
	errs     chan error
}

// NewSupervisor creates a new supervisor
func NewSupervisor(cfg *SupervisorConfig) *Supervisor {
	buffer := cfg.ErrorBuffer
	if buffer <= 0 {
		buffer = defaultErrorBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		errs:   make(chan error, buffer),
	}
}

// Go starts task in its own goroutine
func (s *Supervisor) Go(name string, task Task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSupervisorClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.inFlight.Add(1)
	go s.run(name, task)
	return nil
}

func (s *Supervisor) run(name string, task Task) {
	defer s.wg.Done()
	defer s.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked",
				slog.String("task", name),
				slog.Any("panic", r),
			)
			s.publish(&TaskError{Task: name, Panic: r, Stack: debug.Stack()})
		}
	}()

	if err := task(s.ctx); err != nil {
		s.logger.Warn("Task finished with error",
			slog.String("task", name),
			slog.Any("error", err),
		)
		s.publish(&TaskError{Task: name, Err: err})
	}
}

func (s *Supervisor) publish(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.Warn("Supervisor error channel full, dropping task error",
			slog.Any("error", err),
		)
	}
}

// Errors returns the channel task failures are published on.
// It is closed once Shutdown has drained every task.
func (s *Supervisor) Errors() <-chan error {
	return s.errs
}

// InFlight returns the number of tasks that have not finished yet
func (s *Supervisor) InFlight() int {
	return int(s.inFlight.Load())
}

// Shutdown stops accepting tasks and waits for running ones. If ctx expires first, the
// task context is cancelled so cooperative tasks can record their cancellation, and
// Shutdown waits for them again before returning ctx's error.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Info("Draining supervised tasks",
		slog.Int("in_flight", s.InFlight()),
	)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Drain deadline reached, cancelling running tasks",
			slog.Int("in_flight", s.InFlight()),
		)
		s.cancel()
		<-done
		err = ctx.Err()
	}

	s.cancel()
	close(s.errs)

	s.logger.Info("Supervisor stopped")
	return err
}
