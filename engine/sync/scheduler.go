package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of one reconciliation run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusSkipped marks a run that refused to act because the catalog
	// enumeration came back empty.
	StatusSkipped Status = "skipped"
)

// Run is the observable record of one full-sync execution. Triggering stays
// fire-and-forget: callers get the id back immediately and can poll it.
type Run struct {
	ID       string    `json:"id"`
	Status   Status    `json:"status"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitzero"`
	Report   Report    `json:"report"`
	Error    string    `json:"error,omitempty"`
}

// FullSyncer runs one reconciliation pass.
type FullSyncer interface {
	FullSync(ctx context.Context) (Report, error)
}

// Scheduler runs full syncs on an interval and on demand. Runs are
// single-flight: a trigger while one is executing returns the in-flight
// run's id instead of starting a second diff over the same ids.
type Scheduler struct {
	svc      FullSyncer
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	runs     map[string]*Run
	inflight *Run
}

// NewScheduler creates a Scheduler. interval <= 0 disables the timer loop;
// manual triggers still work.
func NewScheduler(svc FullSyncer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		svc:      svc,
		interval: interval,
		logger:   logger,
		runs:     make(map[string]*Run),
	}
}

// Trigger starts a full sync in the background and returns immediately.
// started is false when an in-flight run absorbed the trigger.
func (s *Scheduler) Trigger() (runID string, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight != nil {
		return s.inflight.ID, false
	}

	run := &Run{
		ID:      uuid.NewString(),
		Status:  StatusRunning,
		Started: time.Now().UTC(),
	}
	s.runs[run.ID] = run
	s.inflight = run

	go s.execute(run)
	return run.ID, true
}

func (s *Scheduler) execute(run *Run) {
	// No internal timeout: a full sync runs to completion and fails
	// per-item inside the service.
	report, err := s.svc.FullSync(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	run.Finished = time.Now().UTC()
	run.Report = report
	switch {
	case err != nil:
		run.Status = StatusFailed
		run.Error = err.Error()
		s.logger.Error("sync: run failed", "run_id", run.ID, "err", err)
	case report.EmptySource:
		run.Status = StatusSkipped
		s.logger.Warn("sync: run skipped on empty catalog enumeration", "run_id", run.ID)
	default:
		run.Status = StatusSucceeded
		s.logger.Info("sync: run succeeded", "run_id", run.ID,
			"upserted", report.Upserted, "deleted", report.Deleted)
	}
	s.inflight = nil
}

// Run returns a snapshot of a run by id.
func (s *Scheduler) Run(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Start runs the interval loop until ctx is cancelled. Ticks that land while
// a run is still executing are absorbed by the single-flight gate.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if id, started := s.Trigger(); !started {
				s.logger.Info("sync: tick skipped, previous run still in flight", "run_id", id)
			}
		}
	}
}
