package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(nil, 0)
	require.NoError(t, err)
	return reg
}

func waitForStatus(t *testing.T, reg *Registry, id string, want Status) *Record {
	t.Helper()
	var got *Record
	require.Eventually(t, func() bool {
		rec, err := reg.Get(id)
		if err != nil {
			return false
		}
		got = rec
		return rec.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestExecutor_RunsJobToCompletion(t *testing.T) {
	reg := newTestRegistry(t)
	exec := NewExecutor(reg, 1, 0)
	exec.Start()
	defer exec.Stop()

	rec, err := reg.Create(KindTranslation, "in/deck.pptx", "deck.pptx", "", 2)
	require.NoError(t, err)

	err = exec.Submit(rec.ID, func(_ context.Context, job *Record, report ReportFunc, _ func() bool) (string, error) {
		report(UnitOutcome{Method: "llm", Detail: "slide 1"}, Usage{InputTokens: 10, OutputTokens: 5, CostUSD: 0.001})
		report(UnitOutcome{Method: "llm", Detail: "slide 2"}, Usage{InputTokens: 12, OutputTokens: 6, CostUSD: 0.001})
		return "out/deck_en.pptx", nil
	})
	require.NoError(t, err)

	got := waitForStatus(t, reg, rec.ID, StatusCompleted)
	assert.Equal(t, "out/deck_en.pptx", got.OutputRef)
	assert.Equal(t, 2, got.UnitsDone)
	assert.Equal(t, 100, got.Percent())
	assert.Equal(t, 22, got.Usage.InputTokens)
	require.NotNil(t, got.CompletedAt)
}

func TestExecutor_FailedJobRecordsError(t *testing.T) {
	reg := newTestRegistry(t)
	exec := NewExecutor(reg, 1, 0)
	exec.Start()
	defer exec.Stop()

	rec, err := reg.Create(KindShipment, "in/orders.xlsx", "orders.xlsx", "", 3)
	require.NoError(t, err)

	err = exec.Submit(rec.ID, func(_ context.Context, _ *Record, report ReportFunc, _ func() bool) (string, error) {
		report(UnitOutcome{Method: "generator", Detail: "IT"}, Usage{})
		return "", errors.New("workbook has no data rows")
	})
	require.NoError(t, err)

	got := waitForStatus(t, reg, rec.ID, StatusFailed)
	assert.Equal(t, "workbook has no data rows", got.Error)
	assert.Equal(t, 1, got.UnitsDone)
	assert.Empty(t, got.OutputRef)
}

func TestExecutor_SingleWorkerRunsInSubmissionOrder(t *testing.T) {
	reg := newTestRegistry(t)
	exec := NewExecutor(reg, 1, 0)

	var mu sync.Mutex
	order := make([]string, 0, 2)
	fn := func(_ context.Context, job *Record, _ ReportFunc, _ func() bool) (string, error) {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		return "out", nil
	}

	a, err := reg.Create(KindTranslation, "a", "a.pptx", "", 1)
	require.NoError(t, err)
	b, err := reg.Create(KindTranslation, "b", "b.pptx", "", 1)
	require.NoError(t, err)
	require.NoError(t, exec.Submit(a.ID, fn))
	require.NoError(t, exec.Submit(b.ID, fn))

	exec.Start()
	defer exec.Stop()

	waitForStatus(t, reg, a.ID, StatusCompleted)
	waitForStatus(t, reg, b.ID, StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{a.ID, b.ID}, order)
}

func TestExecutor_QueuesJobsBeyondWorkerCount(t *testing.T) {
	reg := newTestRegistry(t)
	exec := NewExecutor(reg, 2, 0)
	exec.Start()
	defer exec.Stop()

	release := make(chan struct{})
	blocking := func(_ context.Context, _ *Record, _ ReportFunc, _ func() bool) (string, error) {
		<-release
		return "out", nil
	}

	a, err := reg.Create(KindTranslation, "a", "a.pptx", "", 1)
	require.NoError(t, err)
	b, err := reg.Create(KindTranslation, "b", "b.pptx", "", 1)
	require.NoError(t, err)
	require.NoError(t, exec.Submit(a.ID, blocking))
	require.NoError(t, exec.Submit(b.ID, blocking))

	waitForStatus(t, reg, a.ID, StatusProcessing)
	waitForStatus(t, reg, b.ID, StatusProcessing)

	// Both workers are busy, so a third job must wait in line.
	c, err := reg.Create(KindTranslation, "c", "c.pptx", "", 1)
	require.NoError(t, err)
	require.NoError(t, exec.Submit(c.ID, blocking))

	time.Sleep(50 * time.Millisecond)
	got, err := reg.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	close(release)
	waitForStatus(t, reg, c.ID, StatusCompleted)
}

func TestExecutor_CancelPendingJobNeverRuns(t *testing.T) {
	reg := newTestRegistry(t)
	exec := NewExecutor(reg, 1, 0)
	exec.Start()
	defer exec.Stop()

	release := make(chan struct{})
	a, err := reg.Create(KindTranslation, "a", "a.pptx", "", 1)
	require.NoError(t, err)
	require.NoError(t, exec.Submit(a.ID, func(_ context.Context, _ *Record, _ ReportFunc, _ func() bool) (string, error) {
		<-release
		return "out", nil
	}))
	waitForStatus(t, reg, a.ID, StatusProcessing)

	var ran atomic.Bool
	b, err := reg.Create(KindTranslation, "b", "b.pptx", "", 5)
	require.NoError(t, err)
	require.NoError(t, exec.Submit(b.ID, func(_ context.Context, _ *Record, _ ReportFunc, _ func() bool) (string, error) {
		ran.Store(true)
		return "out", nil
	}))

	require.True(t, exec.Cancel(b.ID))

	got, err := reg.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 0, got.UnitsDone)
	require.NotNil(t, got.CompletedAt)

	close(release)
	waitForStatus(t, reg, a.ID, StatusCompleted)

	// The worker drains the cancelled id without running it.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
	final, err := reg.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
}

func TestExecutor_CancelProcessingKeepsReportedOutcomes(t *testing.T) {
	reg := newTestRegistry(t)
	exec := NewExecutor(reg, 1, 0)
	exec.Start()
	defer exec.Stop()

	reported := make(chan struct{})
	rec, err := reg.Create(KindTranslation, "a", "a.pptx", "", 5)
	require.NoError(t, err)
	require.NoError(t, exec.Submit(rec.ID, func(_ context.Context, _ *Record, report ReportFunc, cancelled func() bool) (string, error) {
		report(UnitOutcome{Method: "llm", Detail: "slide 1"}, Usage{InputTokens: 7, CostUSD: 0.002})
		close(reported)
		for !cancelled() {
			time.Sleep(5 * time.Millisecond)
		}
		return "", nil
	}))

	<-reported
	require.True(t, exec.Cancel(rec.ID))

	got := waitForStatus(t, reg, rec.ID, StatusCancelled)
	assert.Equal(t, 1, got.UnitsDone)
	require.Len(t, got.Outcomes, 1)
	assert.Equal(t, 7, got.Usage.InputTokens)
	require.NotNil(t, got.CompletedAt)
}

func TestExecutor_CeilingFailsOverrunningJob(t *testing.T) {
	reg := newTestRegistry(t)
	exec := NewExecutor(reg, 1, 40*time.Millisecond)
	exec.Start()
	defer exec.Stop()

	rec, err := reg.Create(KindTranslation, "a", "a.pptx", "", 1)
	require.NoError(t, err)
	require.NoError(t, exec.Submit(rec.ID, func(ctx context.Context, _ *Record, _ ReportFunc, _ func() bool) (string, error) {
		<-ctx.Done()
		return "out/late.pptx", nil
	}))

	got := waitForStatus(t, reg, rec.ID, StatusFailed)
	assert.Contains(t, got.Error, "timed out")

	// The late return must not resurrect the job.
	time.Sleep(60 * time.Millisecond)
	final, err := reg.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Empty(t, final.OutputRef)
}

func TestExecutor_UnitFailuresDoNotFailTheJob(t *testing.T) {
	reg := newTestRegistry(t)
	exec := NewExecutor(reg, 1, 0)
	exec.Start()
	defer exec.Stop()

	rec, err := reg.Create(KindTranslation, "a", "a.pptx", "", 4)
	require.NoError(t, err)
	require.NoError(t, exec.Submit(rec.ID, func(_ context.Context, _ *Record, report ReportFunc, _ func() bool) (string, error) {
		for i := 1; i <= 4; i++ {
			outcome := UnitOutcome{Method: "llm"}
			if i == 3 {
				outcome.Method = "skipped"
				outcome.Error = "request timed out"
			}
			report(outcome, Usage{})
		}
		return "out/a_en.pptx", nil
	}))

	got := waitForStatus(t, reg, rec.ID, StatusCompleted)
	assert.Equal(t, 4, got.UnitsDone)
	assert.Equal(t, 100, got.Percent())
	assert.Equal(t, 1, got.FailedUnits())
	require.Len(t, got.Outcomes, 4)
	assert.True(t, got.Outcomes[2].Failed())
	assert.Equal(t, 3, got.Outcomes[2].Unit)
}

func TestExecutor_CancelUnknownOrFinishedJob(t *testing.T) {
	reg := newTestRegistry(t)
	exec := NewExecutor(reg, 1, 0)
	exec.Start()
	defer exec.Stop()

	assert.False(t, exec.Cancel("missing"))

	rec, err := reg.Create(KindTranslation, "a", "a.pptx", "", 1)
	require.NoError(t, err)
	require.NoError(t, exec.Submit(rec.ID, func(_ context.Context, _ *Record, _ ReportFunc, _ func() bool) (string, error) {
		return "out", nil
	}))
	waitForStatus(t, reg, rec.ID, StatusCompleted)

	assert.False(t, exec.Cancel(rec.ID))
}
