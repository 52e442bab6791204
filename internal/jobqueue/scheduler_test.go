package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growhub/internal/models"
)

// memEnqueuer keeps jobs by idempotency key, like the unique index does.
type memEnqueuer struct {
	byKey            map[string]*models.ScheduledJob
	cancelledDevices []string
}

func newMemEnqueuer() *memEnqueuer {
	return &memEnqueuer{byKey: map[string]*models.ScheduledJob{}}
}

func (m *memEnqueuer) Enqueue(_ context.Context, p EnqueueParams) (*models.ScheduledJob, error) {
	if existing, ok := m.byKey[p.IdempotencyKey]; ok {
		return existing, nil
	}
	job := &models.ScheduledJob{
		ID:             p.IdempotencyKey,
		Type:           p.Type,
		DeviceID:       p.DeviceID,
		RunAt:          p.RunAt,
		Status:         models.JobPending,
		MaxAttempts:    p.MaxAttempts,
		IdempotencyKey: p.IdempotencyKey,
		AutomationID:   p.AutomationID,
		ExecutionID:    p.ExecutionID,
	}
	m.byKey[p.IdempotencyKey] = job
	return job, nil
}

func (m *memEnqueuer) CancelPendingForDevice(_ context.Context, deviceID string) (int64, error) {
	m.cancelledDevices = append(m.cancelledDevices, deviceID)
	var n int64
	for _, j := range m.byKey {
		if j.DeviceID == deviceID && j.Status == models.JobPending {
			j.Status = models.JobCancelled
			n++
		}
	}
	return n, nil
}

func (m *memEnqueuer) CancelPendingForExecution(_ context.Context, executionID string) (int64, error) {
	var n int64
	for _, j := range m.byKey {
		if j.ExecutionID != nil && *j.ExecutionID == executionID && j.Status == models.JobPending {
			j.Status = models.JobCancelled
			n++
		}
	}
	return n, nil
}

func testScheduler(q Enqueuer, now time.Time) *Scheduler {
	s := NewScheduler(q)
	s.now = func() time.Time { return now }
	return s
}

func TestScheduleDeviceOff(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	q := newMemEnqueuer()
	s := testScheduler(q, now)

	require.NoError(t, s.ScheduleDeviceOff(context.Background(), "pump-1", 5*time.Minute, "auto-1", "exec-1"))
	require.Len(t, q.byKey, 1)
	for _, job := range q.byKey {
		assert.Equal(t, models.JobDeviceOff, job.Type)
		assert.Equal(t, now.Add(5*time.Minute), job.RunAt)
		assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
		require.NotNil(t, job.ExecutionID)
		assert.Equal(t, "exec-1", *job.ExecutionID)
	}
}

func TestScheduleIsIdempotentPerExecution(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	q := newMemEnqueuer()
	s := testScheduler(q, now)

	require.NoError(t, s.ScheduleDeviceOff(context.Background(), "pump-1", 5*time.Minute, "auto-1", "exec-1"))
	require.NoError(t, s.ScheduleDeviceOff(context.Background(), "pump-1", 5*time.Minute, "auto-1", "exec-1"))
	assert.Len(t, q.byKey, 1, "same execution enqueues once")

	require.NoError(t, s.ScheduleDeviceOff(context.Background(), "pump-1", 5*time.Minute, "auto-1", "exec-2"))
	assert.Len(t, q.byKey, 2, "a new execution is a new effect")
}

func TestCancelStaleForDevice(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	q := newMemEnqueuer()
	s := testScheduler(q, now)

	require.NoError(t, s.ScheduleDeviceOff(context.Background(), "pump-1", 5*time.Minute, "auto-1", "exec-1"))
	require.NoError(t, s.CancelStaleForDevice(context.Background(), "pump-1"))

	for _, j := range q.byKey {
		assert.Equal(t, models.JobCancelled, j.Status)
	}
}

func TestIdempotencyKeyShape(t *testing.T) {
	runAt := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	withExec := IdempotencyKey(models.JobDeviceOff, "pump-1", "exec-1", runAt)
	assert.Equal(t, "DEVICE_OFF:pump-1:exec-1", withExec)
	assert.Equal(t, withExec, IdempotencyKey(models.JobDeviceOff, "pump-1", "exec-1", runAt.Add(time.Hour)),
		"execution-bound keys ignore the scheduled minute")

	noExec := IdempotencyKey(models.JobDeviceOff, "pump-1", "", runAt)
	assert.Contains(t, noExec, "DEVICE_OFF:pump-1:")
	assert.NotEqual(t, noExec, IdempotencyKey(models.JobDeviceOff, "pump-1", "", runAt.Add(time.Minute)))
}
