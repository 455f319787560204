// Package scheduler runs named background jobs on fixed intervals with
// at-most-one-active-instance semantics and misfire coalescing: when a slow
// run causes ticks to be skipped, the next firing is a single catch-up run,
// not a replay of every missed tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/onnwee/castpromo/telemetry"
)

// JobFunc is the work a scheduled job performs. The context is cancelled on
// scheduler shutdown.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	grace    time.Duration
	fn       JobFunc

	// mu guards against overlapping invocations; TryLock failing means a
	// previous run is still active and this tick is skipped.
	mu       sync.Mutex
	lastDone time.Time
}

// Scheduler owns a cron runner and the registered jobs.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
		log:    slog.Default(),
		jobs:   make(map[string]*job),
	}
}

// Every registers fn to run every interval. grace is the misfire tolerance
// used to detect and log coalesced ticks.
func (s *Scheduler) Every(name string, interval, grace time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, interval: interval, grace: grace, fn: fn}
	s.jobs[name] = j
	if _, err := s.cron.AddFunc("@every "+interval.String(), func() { s.run(j) }); err != nil {
		delete(s.jobs, name)
		return fmt.Errorf("register job %q: %w", name, err)
	}
	return nil
}

// run executes one tick of j, skipping if a previous invocation is still
// active.
func (s *Scheduler) run(j *job) {
	if !j.mu.TryLock() {
		telemetry.SchedulerTicks.WithLabelValues(j.name, "skipped").Inc()
		s.log.Warn("tick skipped: previous run still active", "job", j.name)
		return
	}
	defer j.mu.Unlock()

	if !j.lastDone.IsZero() {
		if gap := time.Since(j.lastDone); gap > j.interval+j.grace {
			// One or more ticks were missed; this run covers them all.
			telemetry.SchedulerTicks.WithLabelValues(j.name, "misfire").Inc()
			s.log.Warn("coalescing missed ticks into catch-up run",
				"job", j.name, "gap", gap, "interval", j.interval)
		}
	}

	defer func() {
		j.lastDone = time.Now()
		if rec := recover(); rec != nil {
			s.log.Error("job panicked", "job", j.name, "panic", rec)
		}
	}()

	telemetry.SchedulerTicks.WithLabelValues(j.name, "run").Inc()
	if err := j.fn(s.ctx); err != nil {
		s.log.Error("job failed", "job", j.name, "error", err)
	}
}

// RunNow triggers a job immediately, outside its schedule. It obeys the same
// single-instance rule: a still-running invocation makes this a no-op.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.run(j)
	return nil
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop lets in-flight runs finish before cancelling the job context: an
// in-flight post must complete rather than be aborted mid-flight, or a
// restart could post it twice.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	// Cron only tracks scheduled firings; a RunNow invocation may still be
	// active. Acquiring each job's run lock proves it has drained.
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()
	for _, j := range jobs {
		j.mu.Lock()
		j.mu.Unlock() //nolint:staticcheck // SA2001: lock acquisition is the wait
	}

	s.cancel()
	s.log.Info("scheduler stopped")
}
