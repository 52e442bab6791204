package jobqueue

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"growhub/internal/gateway"
	"growhub/internal/models"
)

// DefaultMaxAttempts is applied when a producer does not specify a retry budget.
const DefaultMaxAttempts = 3

// DefaultLeaseTTL is how long a claim may go unrefreshed before the owning
// worker is presumed dead.
const DefaultLeaseTTL = 60 * time.Second

// DefaultBatchSize is how many jobs one claim call may take.
const DefaultBatchSize = 10

// Store is the queue surface the worker needs. *Queue implements it.
type Store interface {
	ReleaseExpiredLeases(ctx context.Context, ttl time.Duration) (int64, error)
	ClaimBatch(ctx context.Context, limit int, workerID string) ([]models.ScheduledJob, error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, errMsg string, retryAt *time.Time) error
	AppendExecutionResult(ctx context.Context, executionID string, res models.ActionResult) error
}

// Worker claims and executes due jobs. Several worker processes may poll the
// same queue; correctness rests entirely on the claim protocol.
type Worker struct {
	store     Store
	gateway   gateway.Gateway
	id        string
	leaseTTL  time.Duration
	batchSize int
	now       func() time.Time

	mu         sync.Mutex
	processing bool
}

// NewWorker creates a worker with the given lease identity. An empty id
// derives one from the hostname so every process stamps leases uniquely.
func NewWorker(store Store, gw gateway.Gateway, id string) *Worker {
	if id == "" {
		hostname, _ := os.Hostname()
		id = fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	}
	return &Worker{
		store:     store,
		gateway:   gw,
		id:        id,
		leaseTTL:  DefaultLeaseTTL,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// ID returns the worker's lease identity.
func (w *Worker) ID() string {
	return w.id
}

// ProcessDueJobs runs one claim/execute pass: release expired leases, claim a
// batch, execute each job, record the outcome. Guarded against reentry in
// this process; cross-process overlap is handled by the leases themselves.
func (w *Worker) ProcessDueJobs(ctx context.Context) {
	w.mu.Lock()
	if w.processing {
		w.mu.Unlock()
		log.Printf("JOBQUEUE: Worker %s still processing previous batch, skipping tick", w.id)
		return
	}
	w.processing = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.processing = false
		w.mu.Unlock()
	}()

	released, err := w.store.ReleaseExpiredLeases(ctx, w.leaseTTL)
	if err != nil {
		log.Printf("JOBQUEUE: Failed to release expired leases: %v", err)
	} else if released > 0 {
		log.Printf("JOBQUEUE: Released %d expired leases", released)
	}

	jobs, err := w.store.ClaimBatch(ctx, w.batchSize, w.id)
	if err != nil {
		log.Printf("JOBQUEUE: Claim failed: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	log.Printf("JOBQUEUE: Worker %s claimed %d jobs", w.id, len(jobs))

	for _, job := range jobs {
		w.runJob(ctx, job)
	}
}

// runJob executes one claimed job and drives the backoff/DEAD state machine.
func (w *Worker) runJob(ctx context.Context, job models.ScheduledJob) {
	err := w.execute(ctx, job)
	if err == nil {
		if err := w.store.MarkCompleted(ctx, job.ID); err != nil {
			log.Printf("JOBQUEUE: Failed to mark job %s completed: %v", job.ID, err)
		}
		w.reportToExecution(ctx, job, "")
		log.Printf("JOBQUEUE: Job %s (%s on %s) completed", job.ID, job.Type, job.DeviceID)
		return
	}

	// Attempts was already bumped by the claim.
	if job.Attempts >= job.MaxAttempts {
		log.Printf("JOBQUEUE: Job %s dead after %d attempts: %v", job.ID, job.Attempts, err)
		if markErr := w.store.MarkFailed(ctx, job.ID, err.Error(), nil); markErr != nil {
			log.Printf("JOBQUEUE: Failed to mark job %s dead: %v", job.ID, markErr)
		}
		w.reportToExecution(ctx, job, err.Error())
		return
	}

	retryAt := w.now().Add(Backoff(job.Attempts))
	log.Printf("JOBQUEUE: Job %s failed (attempt %d/%d), retrying at %s: %v",
		job.ID, job.Attempts, job.MaxAttempts, retryAt.Format(time.RFC3339), err)
	if markErr := w.store.MarkFailed(ctx, job.ID, err.Error(), &retryAt); markErr != nil {
		log.Printf("JOBQUEUE: Failed to mark job %s for retry: %v", job.ID, markErr)
	}
}

// reportToExecution appends the job's terminal outcome to the execution that
// scheduled it, so a deferred auto-off shows up on its execution record.
// Intermediate retries are not reported, only completion or death.
func (w *Worker) reportToExecution(ctx context.Context, job models.ScheduledJob, errMsg string) {
	if job.ExecutionID == nil {
		return
	}
	res := models.ActionResult{
		ActionID:   job.ID,
		DeviceID:   job.DeviceID,
		ActionType: actionTypeForJob(job.Type),
		Success:    errMsg == "",
		Error:      errMsg,
	}
	if err := w.store.AppendExecutionResult(ctx, *job.ExecutionID, res); err != nil {
		log.Printf("JOBQUEUE: Failed to record job %s outcome on execution %s: %v", job.ID, *job.ExecutionID, err)
	}
}

// actionTypeForJob maps a job type back onto the action vocabulary used in
// execution records.
func actionTypeForJob(t models.JobType) models.ActionType {
	switch t {
	case models.JobDeviceOn:
		return models.ActionTurnOn
	case models.JobDeviceOff:
		return models.ActionTurnOff
	case models.JobDeviceToggle:
		return models.ActionToggle
	case models.JobCapturePhoto:
		return models.ActionCapturePhoto
	}
	return models.ActionType(t)
}

// execute dispatches one job's device command through the gateway.
func (w *Worker) execute(ctx context.Context, job models.ScheduledJob) error {
	switch job.Type {
	case models.JobDeviceOn:
		return w.gateway.SetPower(ctx, job.DeviceID, true)
	case models.JobDeviceOff:
		return w.gateway.SetPower(ctx, job.DeviceID, false)
	case models.JobDeviceToggle:
		status := w.gateway.GetStatus(ctx, job.DeviceID)
		if !status.Online {
			return fmt.Errorf("device %s offline", job.DeviceID)
		}
		if status.State == nil {
			return fmt.Errorf("device %s does not report power state", job.DeviceID)
		}
		return w.gateway.SetPower(ctx, job.DeviceID, !*status.State)
	case models.JobCapturePhoto:
		return w.gateway.CaptureSnapshot(ctx, job.DeviceID)
	}
	return fmt.Errorf("unknown job type %s", job.Type)
}

// Backoff returns the retry delay after the given attempt: 2^(attempts-1)
// minutes, so attempts 1..5 wait 1, 2, 4, 8, 16 minutes.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 20 {
		shift = 20
	}
	return time.Duration(1<<shift) * time.Minute
}
