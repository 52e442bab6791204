package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growhub/internal/gateway"
	"growhub/internal/models"
)

// memStore emulates the queue's claim protocol in memory: claiming flips
// PENDING due jobs to RUNNING under one lock, so two concurrent claims can
// never hand out the same job.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.ScheduledJob
	now  time.Time

	releaseCalls int
	claimCalls   int
	reported     map[string][]models.ActionResult
}

func newMemStore(now time.Time) *memStore {
	return &memStore{
		jobs:     map[string]*models.ScheduledJob{},
		now:      now,
		reported: map[string][]models.ActionResult{},
	}
}

func (s *memStore) add(job models.ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := job
	s.jobs[j.ID] = &j
}

func (s *memStore) get(id string) models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) ReleaseExpiredLeases(_ context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	var n int64
	for _, j := range s.jobs {
		if j.Status == models.JobRunning && j.LockedAt != nil && s.now.Sub(*j.LockedAt) > ttl {
			j.Status = models.JobPending
			j.LockedAt, j.LockedBy = nil, nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) ClaimBatch(_ context.Context, limit int, workerID string) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimCalls++
	var claimed []models.ScheduledJob
	for _, j := range s.jobs {
		if len(claimed) >= limit {
			break
		}
		if j.Status != models.JobPending || j.RunAt.After(s.now) {
			continue
		}
		now := s.now
		wid := workerID
		j.Status = models.JobRunning
		j.LockedAt, j.LockedBy = &now, &wid
		j.Attempts++
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (s *memStore) MarkCompleted(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != models.JobRunning {
		return ErrBadState
	}
	j.Status = models.JobCompleted
	j.LockedAt, j.LockedBy = nil, nil
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, jobID, errMsg string, retryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.LastError = &errMsg
	j.LockedAt, j.LockedBy = nil, nil
	if retryAt == nil {
		j.Status = models.JobDead
		return nil
	}
	j.Status = models.JobPending
	j.RunAt = *retryAt
	return nil
}

func (s *memStore) AppendExecutionResult(_ context.Context, executionID string, res models.ActionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reported[executionID] = append(s.reported[executionID], res)
	return nil
}

type stubGateway struct {
	mu       sync.Mutex
	fail     bool
	powerOps []string
	statuses map[string]gateway.DeviceStatus
}

func (g *stubGateway) GetStatus(_ context.Context, deviceID string) gateway.DeviceStatus {
	return g.statuses[deviceID]
}

func (g *stubGateway) SetPower(_ context.Context, deviceID string, on bool) error {
	if g.fail {
		return errors.New("device timeout")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.powerOps = append(g.powerOps, deviceID)
	return nil
}

func (g *stubGateway) CaptureSnapshot(_ context.Context, _ string) error { return nil }

func testWorker(store Store, gw gateway.Gateway, now time.Time) *Worker {
	w := NewWorker(store, gw, "")
	w.now = func() time.Time { return now }
	return w
}

func TestNewWorkerIdentity(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)

	w := NewWorker(store, &stubGateway{}, "facility-worker-2")
	assert.Equal(t, "facility-worker-2", w.ID())

	w = NewWorker(store, &stubGateway{}, "")
	assert.NotEmpty(t, w.ID(), "empty id falls back to a derived one")
}

func pendingJob(id string, jobType models.JobType, runAt time.Time) models.ScheduledJob {
	return models.ScheduledJob{
		ID: id, Type: jobType, DeviceID: "pump-1",
		RunAt: runAt, Status: models.JobPending,
		MaxAttempts: DefaultMaxAttempts, IdempotencyKey: id,
	}
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	want := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute}
	for i, d := range want {
		assert.Equal(t, d, Backoff(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Minute, Backoff(0), "underflow clamps to the first step")
	assert.Equal(t, Backoff(21), Backoff(30), "shift is capped")
}

func TestProcessDueJobsCompletesJob(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	store.add(pendingJob("job-1", models.JobDeviceOff, now.Add(-time.Minute)))
	gw := &stubGateway{}
	w := testWorker(store, gw, now)

	w.ProcessDueJobs(context.Background())

	assert.Equal(t, []string{"pump-1"}, gw.powerOps)
	assert.Equal(t, models.JobCompleted, store.get("job-1").Status)
	assert.Equal(t, 1, store.releaseCalls, "lease sweep runs before the claim")
}

func TestProcessDueJobsIgnoresFutureJobs(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	store.add(pendingJob("job-1", models.JobDeviceOff, now.Add(time.Hour)))
	gw := &stubGateway{}
	w := testWorker(store, gw, now)

	w.ProcessDueJobs(context.Background())

	assert.Empty(t, gw.powerOps)
	assert.Equal(t, models.JobPending, store.get("job-1").Status)
}

func TestFailedJobRetriesWithBackoff(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	store.add(pendingJob("job-1", models.JobDeviceOff, now.Add(-time.Minute)))
	gw := &stubGateway{fail: true}
	w := testWorker(store, gw, now)

	w.ProcessDueJobs(context.Background())

	j := store.get("job-1")
	assert.Equal(t, models.JobPending, j.Status)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.Equal(t, now.Add(time.Minute), j.RunAt, "first retry after one minute")
}

func TestJobDeadAfterMaxAttempts(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	store.add(pendingJob("job-1", models.JobDeviceOff, now.Add(-time.Minute)))
	gw := &stubGateway{fail: true}

	for i := 0; i < DefaultMaxAttempts; i++ {
		// Advance past whatever retry delay was set.
		store.now = store.now.Add(time.Hour)
		w := testWorker(store, gw, store.now)
		w.ProcessDueJobs(context.Background())
	}

	j := store.get("job-1")
	assert.Equal(t, models.JobDead, j.Status)
	assert.Equal(t, DefaultMaxAttempts, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.NotEmpty(t, *j.LastError)
}

func TestCompletedJobReportsToExecution(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	execID := "exec-1"
	job := pendingJob("job-1", models.JobDeviceOff, now.Add(-time.Minute))
	job.ExecutionID = &execID
	store.add(job)
	gw := &stubGateway{}
	w := testWorker(store, gw, now)

	w.ProcessDueJobs(context.Background())

	require.Len(t, store.reported[execID], 1)
	res := store.reported[execID][0]
	assert.True(t, res.Success)
	assert.Equal(t, "job-1", res.ActionID)
	assert.Equal(t, "pump-1", res.DeviceID)
	assert.Equal(t, models.ActionTurnOff, res.ActionType)
}

func TestDeadJobReportsFailureToExecution(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	execID := "exec-1"
	job := pendingJob("job-1", models.JobDeviceOff, now.Add(-time.Minute))
	job.ExecutionID = &execID
	store.add(job)
	gw := &stubGateway{fail: true}

	for i := 0; i < DefaultMaxAttempts; i++ {
		store.now = store.now.Add(time.Hour)
		w := testWorker(store, gw, store.now)
		w.ProcessDueJobs(context.Background())
	}

	require.Len(t, store.reported[execID], 1, "retries in flight stay silent, only the terminal outcome lands")
	res := store.reported[execID][0]
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestJobWithoutExecutionReportsNothing(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	store.add(pendingJob("job-1", models.JobDeviceOff, now.Add(-time.Minute)))
	gw := &stubGateway{}
	w := testWorker(store, gw, now)

	w.ProcessDueJobs(context.Background())

	assert.Empty(t, store.reported)
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	stale := now.Add(-5 * time.Minute)
	dead := "worker-dead"
	job := pendingJob("job-1", models.JobDeviceOff, now.Add(-10*time.Minute))
	job.Status = models.JobRunning
	job.LockedAt, job.LockedBy = &stale, &dead
	job.Attempts = 1
	store.add(job)
	gw := &stubGateway{}
	w := testWorker(store, gw, now)

	w.ProcessDueJobs(context.Background())

	j := store.get("job-1")
	assert.Equal(t, models.JobCompleted, j.Status, "released lease is claimable in the same pass")
	assert.Equal(t, 2, j.Attempts)
}

func TestConcurrentClaimsAreDisjoint(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(now)
	const total = 40
	for i := 0; i < total; i++ {
		store.add(pendingJob(fmt.Sprintf("job-%d", i), models.JobDeviceOff, now.Add(-time.Minute)))
	}
	gw := &stubGateway{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		w := testWorker(store, gw, now)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Drain in batches the way polling workers do.
			for j := 0; j < total/DefaultBatchSize; j++ {
				w.ProcessDueJobs(context.Background())
			}
		}()
	}
	wg.Wait()

	assert.Len(t, gw.powerOps, total, "every job runs exactly once")
	store.mu.Lock()
	defer store.mu.Unlock()
	for id, j := range store.jobs {
		assert.Equal(t, models.JobCompleted, j.Status, "job %s", id)
		assert.Equal(t, 1, j.Attempts, "job %s claimed once", id)
	}
}

func TestExecuteToggleRequiresState(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	on := true
	gw := &stubGateway{statuses: map[string]gateway.DeviceStatus{
		"lamp-1": {Online: true, State: &on},
		"cam-1":  {Online: true},
	}}
	w := testWorker(newMemStore(now), gw, now)

	err := w.execute(context.Background(), models.ScheduledJob{Type: models.JobDeviceToggle, DeviceID: "lamp-1"})
	assert.NoError(t, err)

	err = w.execute(context.Background(), models.ScheduledJob{Type: models.JobDeviceToggle, DeviceID: "cam-1"})
	assert.Error(t, err)

	err = w.execute(context.Background(), models.ScheduledJob{Type: models.JobDeviceToggle, DeviceID: "ghost"})
	assert.Error(t, err, "offline device refuses the toggle")

	err = w.execute(context.Background(), models.ScheduledJob{Type: "UNKNOWN", DeviceID: "lamp-1"})
	assert.Error(t, err)
}
