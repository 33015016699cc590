// Package scheduler runs a job once at start and then on a fixed interval,
// never two runs at a time.
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler owns the periodic loop. It is started explicitly by the host.
type Scheduler struct {
	name     string
	interval time.Duration
	job      Job

	running atomic.Bool
	started atomic.Bool
	wg      sync.WaitGroup

	skipped atomic.Int64
	runs    atomic.Int64
}

// New creates a scheduler for job.
func New(name string, interval time.Duration, job Job) *Scheduler {
	return &Scheduler{name: name, interval: interval, job: job}
}

// Start launches the loop and returns immediately. The first run begins at
// once; later runs fire every interval until ctx is cancelled. A second call
// does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	log.Printf("Scheduler %s started (every %s)", s.name, s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fire(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Printf("Scheduler %s stopped", s.name)
				return
			case <-ticker.C:
				s.fire(ctx)
			}
		}
	}()
}

// fire starts a run in the background unless one is in progress.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		log.Printf("Scheduler %s: previous run still in progress, skipping", s.name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.run(ctx)
	}()
}

// TryRun runs the job now and waits for it, unless a run is already in
// progress. It reports whether the job ran.
func (s *Scheduler) TryRun(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return false
	}
	defer s.running.Store(false)
	s.run(ctx)
	return true
}

func (s *Scheduler) run(ctx context.Context) {
	s.runs.Add(1)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Scheduler %s: run panicked: %v", s.name, r)
		}
	}()

	if err := s.job(ctx); err != nil {
		log.Printf("Scheduler %s: run failed after %s: %v", s.name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	log.Printf("Scheduler %s: run finished in %s", s.name, time.Since(start).Round(time.Millisecond))
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Runs returns how many runs have started.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Skipped returns how many firings were skipped because a run was in progress.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Wait blocks until the loop has exited and any run in progress has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }
