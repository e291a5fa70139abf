package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/tripsync/internal/common"
	"github.com/fleetops/tripsync/internal/model"
)

// Worker pool bounds. Pools stay bounded to avoid overwhelming the upstream
// APIs; sync work is I/O-bound so modest pools saturate throughput.
const (
	DefaultWorkers = 8
	MaxWorkers     = 32
)

// Tracker runs bulk sync jobs over a worker pool and exposes pollable
// progress records. The job registry is mutex-guarded; workers report
// completions through recordResult and callers read copies via Snapshot.
type Tracker struct {
	orch    *Orchestrator
	logger  *slog.Logger
	keys    *keyedLimiter
	mu      sync.Mutex
	jobs    map[string]*model.SyncJob
	workers int
}

// NewTracker creates a tracker with the given worker pool size, clamped to
// [1, MaxWorkers]. A non-positive size selects DefaultWorkers.
func NewTracker(orch *Orchestrator, workers int) *Tracker {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	return &Tracker{
		orch:    orch,
		workers: workers,
		jobs:    make(map[string]*model.SyncJob),
		keys:    newKeyedLimiter(),
		logger:  common.ComponentLogger("tracker"),
	}
}

// Start launches an asynchronous bulk sync over the given identifiers and
// returns the job ID for polling. There is no cancellation primitive beyond
// the supplied context: once started, a job runs to completion.
func (t *Tracker) Start(ctx context.Context, tripIDs []string, force bool) (string, error) {
	job, err := t.createJob(tripIDs)
	if err != nil {
		return "", err
	}

	go t.run(ctx, job.ID, tripIDs, force, nil)

	return job.ID, nil
}

// Run executes a bulk sync synchronously and returns the finished job.
// onDone, when non-nil, is invoked after each unit of work; the CLI uses it
// to advance its progress bar.
func (t *Tracker) Run(ctx context.Context, tripIDs []string, force bool, onDone func(tripID string, res SyncResult)) (*model.SyncJob, error) {
	job, err := t.createJob(tripIDs)
	if err != nil {
		return nil, err
	}

	t.run(ctx, job.ID, tripIDs, force, onDone)

	snapshot, _ := t.Snapshot(job.ID)
	return snapshot, nil
}

// Snapshot returns a read-only copy of a job's state.
func (t *Tracker) Snapshot(jobID string) (*model.SyncJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

func (t *Tracker) createJob(tripIDs []string) (*model.SyncJob, error) {
	if len(tripIDs) == 0 {
		return nil, fmt.Errorf("no trip identifiers supplied")
	}

	job := &model.SyncJob{
		ID:          uuid.NewString(),
		Status:      model.JobProcessing,
		Total:       len(tripIDs),
		StartedAt:   time.Now(),
		FieldTally:  make(map[string]int),
		ReasonTally: make(map[string]int),
	}

	t.mu.Lock()
	t.jobs[job.ID] = job
	t.mu.Unlock()

	return job, nil
}

func (t *Tracker) run(ctx context.Context, jobID string, tripIDs []string, force bool, onDone func(string, SyncResult)) {
	backlog := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tripID := range backlog {
				res := t.syncOne(ctx, tripID, force)
				t.recordResult(jobID, res)
				if onDone != nil {
					onDone(tripID, res)
				}
			}
		}()
	}

	for _, id := range tripIDs {
		backlog <- id
	}
	close(backlog)
	wg.Wait()

	t.finish(jobID)
}

// syncOne holds the per-identifier lock for the duration of the sync so at
// most one worker ever touches a given trip, even across overlapping jobs.
func (t *Tracker) syncOne(ctx context.Context, tripID string, force bool) SyncResult {
	t.keys.Lock(tripID)
	defer t.keys.Unlock(tripID)

	_, res := t.orch.Sync(ctx, tripID, force, nil, nil)
	return res
}

func (t *Tracker) recordResult(jobID string, res SyncResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return
	}

	job.Completed++
	switch res.Action {
	case ActionCreated:
		job.Created++
	case ActionUpdated:
		job.Updated++
	case ActionSkipped:
		job.Skipped++
	case ActionError:
		job.Errors++
		if res.Err != nil {
			t.logger.Warn("Trip sync failed", "error", res.Err)
		}
	}

	for _, field := range res.UpdatedFields {
		job.FieldTally[field]++
	}
	for _, reason := range res.Reasons {
		job.ReasonTally[reason]++
	}
}

func (t *Tracker) finish(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return
	}

	now := time.Now()
	job.FinishedAt = &now
	job.Status = model.JobCompleted
}

// keyedLimiter serializes work per key with refcounted single-slot channels.
type keyedLimiter struct {
	mu   sync.Mutex
	held map[string]*keyEntry
}

type keyEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedLimiter() *keyedLimiter {
	return &keyedLimiter{held: make(map[string]*keyEntry)}
}

func (k *keyedLimiter) Lock(key string) {
	k.mu.Lock()
	e, ok := k.held[key]
	if !ok {
		e = &keyEntry{ch: make(chan struct{}, 1)}
		k.held[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.ch <- struct{}{}
}

func (k *keyedLimiter) Unlock(key string) {
	k.mu.Lock()
	e := k.held[key]
	e.refs--
	if e.refs == 0 {
		delete(k.held, key)
	}
	k.mu.Unlock()

	<-e.ch
}
