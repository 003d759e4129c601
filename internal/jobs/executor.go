package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmoretto/shipdeck/pkg/log"
)

// ReportFunc records one finished unit of work. The executor forwards it to
// the registry; callers never talk to the registry directly.
type ReportFunc func(outcome UnitOutcome, usage Usage)

// WorkFunc performs the whole job. It must call report once per finished
// unit and check cancelled between units, returning promptly when it flips.
// On success it returns the output artifact reference.
type WorkFunc func(ctx context.Context, job *Record, report ReportFunc, cancelled func() bool) (string, error)

type task struct {
	fn        WorkFunc
	cancelled atomic.Bool
}

// Executor runs submitted jobs on a fixed pool of workers in submission
// order. Each running job gets a wall-clock ceiling; a job that outlives it
// is failed and its eventual result discarded.
type Executor struct {
	registry    *Registry
	workerCount int
	ceiling     time.Duration

	mu    sync.Mutex
	tasks map[string]*task

	pendingIDs chan string
	started    bool
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewExecutor builds an executor over the registry. workerCount <= 0 falls
// back to a single worker; ceiling <= 0 disables the wall-clock limit.
func NewExecutor(registry *Registry, workerCount int, ceiling time.Duration) *Executor {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Executor{
		registry:    registry,
		workerCount: workerCount,
		ceiling:     ceiling,
		tasks:       make(map[string]*task),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the worker pool. Safe to call once; later calls are no-ops.
func (e *Executor) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	for range e.workerCount {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop waits for in-flight jobs to finish. Queued jobs stay pending and are
// re-queued on the next boot.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
	})
}

// Submit queues an already-registered pending job for execution.
func (e *Executor) Submit(jobID string, fn WorkFunc) error {
	if fn == nil {
		return fmt.Errorf("job %s submitted without a work function", jobID)
	}
	e.mu.Lock()
	if _, ok := e.tasks[jobID]; ok {
		e.mu.Unlock()
		return fmt.Errorf("job %s is already queued", jobID)
	}
	e.tasks[jobID] = &task{fn: fn}
	e.mu.Unlock()

	e.enqueuePendingID(jobID)
	return nil
}

// Cancel requests cancellation. A pending job is finalized immediately and
// never runs; a processing job gets its flag flipped and finishes on its own
// schedule. Returns false when the job is unknown or already terminal.
func (e *Executor) Cancel(jobID string) bool {
	if _, err := e.registry.CancelPending(jobID); err == nil {
		e.removeTask(jobID)
		return true
	}

	rec, err := e.registry.Get(jobID)
	if err != nil || rec.Status != StatusProcessing {
		return false
	}
	e.mu.Lock()
	t, ok := e.tasks[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	t.cancelled.Store(true)
	return true
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case id := <-e.pendingIDs:
			e.runJob(id)
		}
	}
}

func (e *Executor) runJob(id string) {
	e.mu.Lock()
	t, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		// Cancelled while pending; nothing to run.
		return
	}

	job, err := e.registry.MarkProcessing(id)
	if err != nil {
		e.removeTask(id)
		return
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	var timedOut atomic.Bool
	var timer *time.Timer
	if e.ceiling > 0 {
		timer = time.AfterFunc(e.ceiling, func() {
			timedOut.Store(true)
			t.cancelled.Store(true)
			cancelCtx()
			if _, failErr := e.registry.Fail(id, fmt.Errorf("job timed out after %s", e.ceiling)); failErr != nil {
				log.Error("Failed to time out job %s: %v", id, failErr)
			}
		})
	}

	report := func(outcome UnitOutcome, usage Usage) {
		if _, repErr := e.registry.ReportUnit(id, outcome, usage); repErr != nil {
			log.Warn("Progress report for job %s dropped: %v", id, repErr)
		}
	}
	isCancelled := func() bool { return t.cancelled.Load() }

	outputRef, runErr := t.fn(ctx, job, report, isCancelled)

	if timer != nil {
		timer.Stop()
	}
	e.removeTask(id)

	switch {
	case timedOut.Load():
		// Already failed by the timer; the late result is discarded.
		log.Warn("Job %s returned after its deadline, result discarded", id)
	case t.cancelled.Load():
		if _, err := e.registry.CancelProcessing(id); err != nil {
			log.Warn("Failed to finalize cancel for job %s: %v", id, err)
		}
	case runErr != nil:
		if _, err := e.registry.Fail(id, runErr); err != nil {
			log.Error("Failed to mark job %s failed: %v", id, err)
		}
	default:
		if _, err := e.registry.Complete(id, outputRef); err != nil {
			log.Error("Failed to mark job %s completed: %v", id, err)
			if _, failErr := e.registry.Fail(id, err); failErr != nil {
				log.Error("Failed to mark job %s failed: %v", id, failErr)
			}
		}
	}
}

func (e *Executor) removeTask(id string) {
	e.mu.Lock()
	delete(e.tasks, id)
	e.mu.Unlock()
}

// enqueuePendingID never blocks the caller: when the buffer is full the
// handoff moves to a goroutine so Submit stays fast under burst load.
func (e *Executor) enqueuePendingID(id string) {
	select {
	case e.pendingIDs <- id:
	default:
		go func() { e.pendingIDs <- id }()
	}
}
