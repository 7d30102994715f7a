package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	appLog "calreport/internal/log"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context)

// Scheduler runs a Job on a cron schedule. At most one execution is in
// flight at any time; ticks and manual triggers that arrive while a run is
// active are dropped.
type Scheduler struct {
	job Job

	running sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	spec    string
	baseCtx context.Context
}

// ValidateSpec checks a standard five-field cron expression (descriptors
// such as "@every 10m" are accepted too).
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// New creates a Scheduler for spec. It does not start it.
func New(spec string, job Job) (*Scheduler, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}
	return &Scheduler{
		job:  job,
		spec: spec,
		cron: cron.New(),
	}, nil
}

// Spec returns the active schedule.
func (s *Scheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Start registers the job and starts the cron loop. ctx is handed to every
// execution; cancel it and call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseCtx = ctx
	id, err := s.cron.AddFunc(s.spec, func() { s.Trigger(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: add job: %w", err)
	}
	s.entry = id
	s.cron.Start()
	appLog.Info("scheduler started", "schedule", s.spec)
	return nil
}

// Reschedule swaps the schedule of a started Scheduler. An unchanged spec is
// a no-op.
func (s *Scheduler) Reschedule(spec string) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.spec {
		return nil
	}
	if s.baseCtx == nil {
		s.spec = spec
		return nil
	}

	ctx := s.baseCtx
	id, err := s.cron.AddFunc(spec, func() { s.Trigger(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: add job: %w", err)
	}
	s.cron.Remove(s.entry)
	s.entry = id
	appLog.Info("scheduler rescheduled", "from", s.spec, "to", spec)
	s.spec = spec
	return nil
}

// Trigger runs the job now unless a run is already active. It blocks until
// the run finishes and reports whether it ran.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.TryLock() {
		appLog.Warn("scheduled run skipped: previous run still active")
		return false
	}
	defer s.running.Unlock()

	if ctx.Err() != nil {
		return false
	}
	s.job(ctx)
	return true
}

// Stop halts the cron loop and waits for an active run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
	appLog.Info("scheduler stopped")
}
