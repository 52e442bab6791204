package jobqueue

import (
	"context"
	"fmt"
	"log"
	"time"

	"growhub/internal/models"
)

// Enqueuer is the queue surface the producer API needs. *Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, p EnqueueParams) (*models.ScheduledJob, error)
	CancelPendingForDevice(ctx context.Context, deviceID string) (int64, error)
	CancelPendingForExecution(ctx context.Context, executionID string) (int64, error)
}

// Scheduler is the producer-facing convenience layer over the queue:
// "turn this device off/on after N minutes", with deterministic idempotency
// keys so a re-trigger cannot double-schedule the same effect.
type Scheduler struct {
	queue Enqueuer
	now   func() time.Time
}

// NewScheduler creates a producer API over the queue.
func NewScheduler(queue Enqueuer) *Scheduler {
	return &Scheduler{queue: queue, now: time.Now}
}

// ScheduleDeviceOff enqueues a durable off-command to run after the delay.
func (s *Scheduler) ScheduleDeviceOff(ctx context.Context, deviceID string, after time.Duration, automationID, executionID string) error {
	return s.schedule(ctx, models.JobDeviceOff, deviceID, after, automationID, executionID)
}

// ScheduleDeviceOn enqueues a durable on-command to run after the delay.
func (s *Scheduler) ScheduleDeviceOn(ctx context.Context, deviceID string, after time.Duration, automationID, executionID string) error {
	return s.schedule(ctx, models.JobDeviceOn, deviceID, after, automationID, executionID)
}

func (s *Scheduler) schedule(ctx context.Context, jobType models.JobType, deviceID string, after time.Duration, automationID, executionID string) error {
	runAt := s.now().Add(after)
	params := EnqueueParams{
		Type:           jobType,
		DeviceID:       deviceID,
		RunAt:          runAt,
		IdempotencyKey: IdempotencyKey(jobType, deviceID, executionID, runAt),
		MaxAttempts:    DefaultMaxAttempts,
	}
	if automationID != "" {
		params.AutomationID = &automationID
	}
	if executionID != "" {
		params.ExecutionID = &executionID
	}

	job, err := s.queue.Enqueue(ctx, params)
	if err != nil {
		return err
	}
	log.Printf("JOBQUEUE: Scheduled %s for device %s at %s (job %s)",
		jobType, deviceID, runAt.Format(time.RFC3339), job.ID)
	return nil
}

// CancelStaleForDevice drops every pending deferred effect for a device.
// Called when an automation re-triggers and the old auto-off must not fire.
func (s *Scheduler) CancelStaleForDevice(ctx context.Context, deviceID string) error {
	n, err := s.queue.CancelPendingForDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("JOBQUEUE: Cancelled %d stale pending jobs for device %s", n, deviceID)
	}
	return nil
}

// CancelStaleForExecution drops every pending deferred effect of an execution.
func (s *Scheduler) CancelStaleForExecution(ctx context.Context, executionID string) error {
	n, err := s.queue.CancelPendingForExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("JOBQUEUE: Cancelled %d stale pending jobs for execution %s", n, executionID)
	}
	return nil
}

// IdempotencyKey builds the deterministic key identifying one logical effect.
// With an execution context the key binds to it; otherwise the scheduled
// minute disambiguates.
func IdempotencyKey(jobType models.JobType, deviceID, executionID string, runAt time.Time) string {
	if executionID != "" {
		return fmt.Sprintf("%s:%s:%s", jobType, deviceID, executionID)
	}
	return fmt.Sprintf("%s:%s:%d", jobType, deviceID, runAt.Unix())
}
