// Package supervisor manages a pool of worker subprocesses. It owns its
// worker collection explicitly (no package-level registry), restarts
// workers that exit, and runs registered shutdown finalizers exactly once
// after the last worker has stopped.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ebogdum/lockfs/metrics"
)

// Finalizer is a no-argument shutdown hook. The supervisor invokes each
// registered finalizer exactly once during Stop, even when Stop is called
// more than once.
type Finalizer interface {
	Finalize() error
}

// WorkerSpec describes one supervised subprocess.
type WorkerSpec struct {
	Name    string
	Command string
	Args    []string
}

// Supervisor starts each configured worker and restarts it whenever it
// exits, throttled by a rate limiter so a crash-looping worker cannot spin.
type Supervisor struct {
	specs      []WorkerSpec
	limiter    *rate.Limiter
	logger     *zap.Logger
	finalizers []Finalizer

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	procs   map[string]*exec.Cmd

	wg           sync.WaitGroup
	finalizeOnce sync.Once
}

// New creates a supervisor for the given workers. restartsPerSecond and
// burst bound how quickly exited workers are restarted.
func New(specs []WorkerSpec, restartsPerSecond float64, burst int, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		specs:   specs,
		limiter: rate.NewLimiter(rate.Limit(restartsPerSecond), burst),
		logger:  logger,
		procs:   make(map[string]*exec.Cmd),
	}
}

// OnShutdown registers a finalizer to run after the workers have stopped.
// Must be called before Start.
func (s *Supervisor) OnShutdown(f Finalizer) {
	s.finalizers = append(s.finalizers, f)
}

// Start launches every worker. It returns an error if called twice.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	for _, spec := range s.specs {
		s.wg.Add(1)
		go s.run(ctx, spec)
	}

	s.logger.Info("Supervisor started", zap.Int("workers", len(s.specs)))
	return nil
}

// run keeps one worker alive until ctx is cancelled.
func (s *Supervisor) run(ctx context.Context, spec WorkerSpec) {
	defer s.wg.Done()

	for restarts := 0; ; restarts++ {
		if restarts > 0 {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			metrics.WorkerRestartsTotal.WithLabelValues(spec.Name).Inc()
		}
		if ctx.Err() != nil {
			return
		}

		cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
		cmd.WaitDelay = 5 * time.Second

		start := time.Now()
		if err := cmd.Start(); err != nil {
			s.logger.Error("Failed to start worker",
				zap.String("worker", spec.Name),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.procs[spec.Name] = cmd
		s.mu.Unlock()

		s.logger.Info("Worker started",
			zap.String("worker", spec.Name),
			zap.Int("pid", cmd.Process.Pid),
			zap.Int("restarts", restarts))

		err := cmd.Wait()

		s.mu.Lock()
		delete(s.procs, spec.Name)
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("Worker exited, restarting",
			zap.String("worker", spec.Name),
			zap.Duration("uptime", time.Since(start)),
			zap.Error(err))
	}
}

// Stop cancels all workers, waits for them to exit, and then runs the
// registered finalizers exactly once. Finalizer errors are collected, not
// short-circuited.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	var errs error
	s.finalizeOnce.Do(func() {
		for _, f := range s.finalizers {
			if err := f.Finalize(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		s.logger.Info("Supervisor stopped", zap.Int("finalizers", len(s.finalizers)))
	})
	return errs
}

// Status reports each worker's name and the PID of its current process, 0
// when the worker is between restarts.
func (s *Supervisor) Status() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]int, len(s.specs))
	for _, spec := range s.specs {
		status[spec.Name] = 0
		if cmd, ok := s.procs[spec.Name]; ok && cmd.Process != nil {
			status[spec.Name] = cmd.Process.Pid
		}
	}
	return status
}
