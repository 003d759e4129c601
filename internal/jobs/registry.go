package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nmoretto/shipdeck/pkg/log"
)

// Registry owns every Record. All mutation goes through Update under a
// single mutex, so concurrent updates to the same job are serialized and a
// reader never observes a half-applied transition. Reads return clones.
type Registry struct {
	store          Store
	maxOutstanding int

	mu   sync.RWMutex
	jobs map[string]*Record
}

// NewRegistry builds a registry hydrated from the store. Rows found in
// processing state belong to a previous process and are failed immediately
// rather than left stuck; pending rows stay pending for resubmission.
// maxOutstanding <= 0 disables the capacity guard.
func NewRegistry(store Store, maxOutstanding int) (*Registry, error) {
	r := &Registry{
		store:          store,
		maxOutstanding: maxOutstanding,
		jobs:           make(map[string]*Record),
	}
	if err := r.hydrate(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) hydrate(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	loaded, err := r.store.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	now := time.Now().UTC()
	repaired := make([]*Record, 0)
	r.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		rec := cloneRecord(raw)
		if rec.Status == StatusProcessing {
			rec.Status = StatusFailed
			rec.Error = "interrupted by restart"
			completed := now
			rec.CompletedAt = &completed
			repaired = append(repaired, cloneRecord(rec))
		}
		r.jobs[rec.ID] = rec
	}
	r.mu.Unlock()

	for _, rec := range repaired {
		log.Warn("Job %s was processing at shutdown, marked failed", rec.ID)
		r.persist(rec)
	}
	return nil
}

// Create allocates a fresh id and stores a pending record. unitsTotal is
// fixed for the life of the job and must be at least 1.
func (r *Registry) Create(kind Kind, inputRef, inputName, options string, unitsTotal int) (*Record, error) {
	if unitsTotal < 1 {
		return nil, fmt.Errorf("units total must be at least 1, got %d", unitsTotal)
	}

	r.mu.Lock()
	if r.maxOutstanding > 0 && r.outstandingLocked() >= r.maxOutstanding {
		r.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	rec := &Record{
		ID:         uuid.NewString(),
		Kind:       kind,
		Status:     StatusPending,
		InputRef:   inputRef,
		InputName:  inputName,
		Options:    options,
		UnitsTotal: unitsTotal,
		Outcomes:   make([]UnitOutcome, 0, unitsTotal),
		CreatedAt:  time.Now().UTC(),
	}
	r.jobs[rec.ID] = rec
	snapshot := cloneRecord(rec)
	r.mu.Unlock()

	r.persist(snapshot)
	return snapshot, nil
}

func (r *Registry) outstandingLocked() int {
	n := 0
	for _, rec := range r.jobs {
		if rec.Status == StatusPending || rec.Status == StatusProcessing {
			n++
		}
	}
	return n
}

// Get returns a clone of the record or ErrNotFound.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	rec, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// List returns clones ordered most recent first. An empty kind matches all
// kinds; limit <= 0 means no limit.
func (r *Registry) List(kind Kind, limit int) []*Record {
	r.mu.RLock()
	ret := make([]*Record, 0, len(r.jobs))
	for _, rec := range r.jobs {
		if kind != "" && rec.Kind != kind {
			continue
		}
		ret = append(ret, cloneRecord(rec))
	}
	r.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID > ret[j].ID
		}
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	if limit > 0 && len(ret) > limit {
		ret = ret[:limit]
	}
	return ret
}

// PendingOldestFirst returns pending records in submission order, used to
// re-queue surviving work after a restart.
func (r *Registry) PendingOldestFirst() []*Record {
	r.mu.RLock()
	ret := make([]*Record, 0)
	for _, rec := range r.jobs {
		if rec.Status == StatusPending {
			ret = append(ret, cloneRecord(rec))
		}
	}
	r.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Update applies one atomic transition. The mutation runs against a working
// copy; on success the copy replaces the stored record and its snapshot is
// persisted, so a failed mutation leaves the record untouched.
func (r *Registry) Update(id string, mutate func(*Record) error) (*Record, error) {
	r.mu.Lock()
	rec, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	next := cloneRecord(rec)
	if err := mutate(next); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.jobs[id] = next
	snapshot := cloneRecord(next)
	r.mu.Unlock()

	r.persist(snapshot)
	return snapshot, nil
}

// Delete removes the record from the registry and the store. Used by the
// retention sweep and to back out failed submissions.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.jobs, id)
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	if err := r.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job %s from store: %w", id, err)
	}
	return nil
}

// MarkProcessing admits a pending job; any other state is rejected so a
// worker that pops a cancelled id simply skips it.
func (r *Registry) MarkProcessing(id string) (*Record, error) {
	return r.Update(id, func(rec *Record) error {
		if rec.Status != StatusPending {
			return fmt.Errorf("job %s is %s, not pending: %w", id, rec.Status, ErrConflict)
		}
		rec.Status = StatusProcessing
		return nil
	})
}

// ReportUnit records one more finished unit of work: unitsDone advances by
// one, the outcome is appended, and the usage delta accumulates.
func (r *Registry) ReportUnit(id string, outcome UnitOutcome, usage Usage) (*Record, error) {
	return r.Update(id, func(rec *Record) error {
		if rec.Status != StatusProcessing {
			return fmt.Errorf("job %s is %s, not processing: %w", id, rec.Status, ErrConflict)
		}
		if rec.UnitsDone >= rec.UnitsTotal {
			return fmt.Errorf("job %s already reported all %d units", id, rec.UnitsTotal)
		}
		rec.UnitsDone++
		if outcome.Unit == 0 {
			outcome.Unit = rec.UnitsDone
		}
		rec.Outcomes = append(rec.Outcomes, outcome)
		rec.Usage.Add(usage)
		return nil
	})
}

// Complete finishes a processing job with its output artifact reference.
func (r *Registry) Complete(id, outputRef string) (*Record, error) {
	return r.Update(id, func(rec *Record) error {
		if rec.Status != StatusProcessing {
			return fmt.Errorf("job %s is %s, not processing: %w", id, rec.Status, ErrConflict)
		}
		if outputRef == "" {
			return fmt.Errorf("job %s completed without an output artifact", id)
		}
		rec.Status = StatusCompleted
		rec.OutputRef = outputRef
		rec.Error = ""
		completed := time.Now().UTC()
		rec.CompletedAt = &completed
		return nil
	})
}

// Fail terminates a pending or processing job with the error recorded
// verbatim.
func (r *Registry) Fail(id string, cause error) (*Record, error) {
	return r.Update(id, func(rec *Record) error {
		if rec.Status.Terminal() {
			return fmt.Errorf("job %s is already %s: %w", id, rec.Status, ErrConflict)
		}
		rec.Status = StatusFailed
		if cause != nil {
			rec.Error = cause.Error()
		}
		completed := time.Now().UTC()
		rec.CompletedAt = &completed
		return nil
	})
}

// CancelPending cancels a job that never started; no unit of work ran.
func (r *Registry) CancelPending(id string) (*Record, error) {
	return r.Update(id, func(rec *Record) error {
		if rec.Status != StatusPending {
			return fmt.Errorf("job %s is %s, not pending: %w", id, rec.Status, ErrConflict)
		}
		rec.Status = StatusCancelled
		completed := time.Now().UTC()
		rec.CompletedAt = &completed
		return nil
	})
}

// CancelProcessing finalizes a cooperative cancellation once the work
// function has returned. Outcomes reported before the cancel remain.
func (r *Registry) CancelProcessing(id string) (*Record, error) {
	return r.Update(id, func(rec *Record) error {
		if rec.Status != StatusProcessing {
			return fmt.Errorf("job %s is %s, not processing: %w", id, rec.Status, ErrConflict)
		}
		rec.Status = StatusCancelled
		completed := time.Now().UTC()
		rec.CompletedAt = &completed
		return nil
	})
}

func (r *Registry) persist(rec *Record) {
	if r.store == nil || rec == nil {
		return
	}
	if err := r.store.UpsertJob(context.Background(), rec); err != nil {
		log.Error("Failed to persist job %s: %v", rec.ID, err)
	}
}
