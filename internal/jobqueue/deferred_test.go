package jobqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growhub/internal/automation"
	"growhub/internal/gateway"
	"growhub/internal/models"
)

// memStore doubles as the producer side for round-trip tests.
func (s *memStore) Enqueue(_ context.Context, p EnqueueParams) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.IdempotencyKey == p.IdempotencyKey {
			existing := *j
			return &existing, nil
		}
	}
	j := &models.ScheduledJob{
		ID:             p.IdempotencyKey,
		Type:           p.Type,
		DeviceID:       p.DeviceID,
		AutomationID:   p.AutomationID,
		ExecutionID:    p.ExecutionID,
		RunAt:          p.RunAt,
		Status:         models.JobPending,
		MaxAttempts:    p.MaxAttempts,
		IdempotencyKey: p.IdempotencyKey,
	}
	s.jobs[j.ID] = j
	created := *j
	return &created, nil
}

func (s *memStore) CancelPendingForDevice(_ context.Context, deviceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.DeviceID == deviceID && j.Status == models.JobPending {
			j.Status = models.JobCancelled
			n++
		}
	}
	return n, nil
}

func (s *memStore) CancelPendingForExecution(_ context.Context, executionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.ExecutionID != nil && *j.ExecutionID == executionID && j.Status == models.JobPending {
			j.Status = models.JobCancelled
			n++
		}
	}
	return n, nil
}

type recordingGateway struct {
	ops []powerCommand
}

type powerCommand struct {
	deviceID string
	on       bool
}

func (g *recordingGateway) GetStatus(_ context.Context, _ string) gateway.DeviceStatus {
	return gateway.DeviceStatus{}
}

func (g *recordingGateway) SetPower(_ context.Context, deviceID string, on bool) error {
	g.ops = append(g.ops, powerCommand{deviceID: deviceID, on: on})
	return nil
}

func (g *recordingGateway) CaptureSnapshot(_ context.Context, _ string) error { return nil }

type recordingExecStore struct{}

func (recordingExecStore) CreateExecution(_ context.Context, _ string, _ json.RawMessage) (string, error) {
	return "exec-1", nil
}

func (recordingExecStore) FinalizeExecution(_ context.Context, _ string, _ models.ExecutionStatus, _, _ json.RawMessage) error {
	return nil
}

func (recordingExecStore) TouchAutomation(_ context.Context, _ string, _ time.Time) error {
	return nil
}

// Irrigation round trip: the executor turns the pump on and parks a durable
// off-command; five simulated minutes later the polling worker delivers it
// to the same device and stamps the outcome on the owning execution.
func TestIrrigationAutoOffRoundTrip(t *testing.T) {
	start := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newMemStore(start)
	gw := &recordingGateway{}

	scheduler := NewScheduler(store)
	scheduler.now = func() time.Time { return start }

	executor := automation.NewExecutor(gw, recordingExecStore{}, automation.NewEvaluator(gw), scheduler, nil)
	a := models.Automation{
		ID: "auto-1",
		Actions: []models.Action{
			{ID: "a1", DeviceID: "pump-1", ActionType: models.ActionTriggerIrrigation, Duration: 5},
		},
	}
	res, err := executor.Execute(context.Background(), a, nil, true, "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, []powerCommand{{deviceID: "pump-1", on: true}}, gw.ops, "pump turns on immediately")

	// Polling before the delay elapses must not fire the off-command.
	w := testWorker(store, gw, start)
	w.ProcessDueJobs(context.Background())
	assert.Len(t, gw.ops, 1)

	store.now = start.Add(5 * time.Minute)
	w = testWorker(store, gw, store.now)
	w.ProcessDueJobs(context.Background())

	require.Len(t, gw.ops, 2)
	assert.Equal(t, powerCommand{deviceID: "pump-1", on: false}, gw.ops[1], "off lands on the same device after five minutes")

	for _, j := range store.jobs {
		assert.Equal(t, models.JobCompleted, j.Status)
	}
	require.Len(t, store.reported["exec-1"], 1)
	assert.True(t, store.reported["exec-1"][0].Success)
	assert.Equal(t, models.ActionTurnOff, store.reported["exec-1"][0].ActionType)
}
