package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"growhub/internal/gateway"
	"growhub/internal/models"
)

// ExecutionStore persists execution records and the evaluation stamp.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, automationID string, conditionResults json.RawMessage) (string, error)
	FinalizeExecution(ctx context.Context, id string, status models.ExecutionStatus, conditionResults, actionResults json.RawMessage) error
	TouchAutomation(ctx context.Context, id string, at time.Time) error
}

// DeferredScheduler enqueues durable delayed device commands. Deferred
// auto-offs go through the job queue so they survive a process restart.
type DeferredScheduler interface {
	ScheduleDeviceOff(ctx context.Context, deviceID string, after time.Duration, automationID, executionID string) error
	CancelStaleForDevice(ctx context.Context, deviceID string) error
}

// Notifier is a fire-and-forget notification sink.
type Notifier interface {
	Create(ctx context.Context, notifType, priority, title, message string, metadata map[string]interface{})
}

// ExecResult is the outcome of one automation firing.
type ExecResult struct {
	ExecutionID string
	Success     bool
	Results     []models.ActionResult
}

// Executor runs an automation's actions in order and records the execution.
type Executor struct {
	gateway   gateway.Gateway
	store     ExecutionStore
	evaluator *Evaluator
	deferred  DeferredScheduler
	notifier  Notifier
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. deferred and notifier may be nil.
func NewExecutor(gw gateway.Gateway, store ExecutionStore, evaluator *Evaluator, deferred DeferredScheduler, notifier Notifier) *Executor {
	return &Executor{
		gateway:   gw,
		store:     store,
		evaluator: evaluator,
		deferred:  deferred,
		notifier:  notifier,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Execute fires an automation. A RUNNING execution record is created first;
// unless skipConditions is set, conditions are re-evaluated and a rejection
// finalizes the execution as CANCELLED with no actions run. A caller that
// already evaluated the conditions passes its results as snapshot so the
// execution record still carries them. forced, when non-empty, overrides
// every action's type (used by SCHEDULED triggers).
func (x *Executor) Execute(ctx context.Context, a models.Automation, snapshot []models.ConditionResult, skipConditions bool, forced models.ActionType) (ExecResult, error) {
	var condJSON json.RawMessage
	if len(snapshot) > 0 {
		condJSON, _ = json.Marshal(snapshot)
	}

	execID, err := x.store.CreateExecution(ctx, a.ID, condJSON)
	if err != nil {
		return ExecResult{}, fmt.Errorf("create execution: %w", err)
	}
	log.Printf("EXECUTOR: Execution %s started for automation %s (%s)", execID, a.ID, a.Name)

	if !skipConditions && len(a.Conditions) > 0 {
		eval := x.evaluator.Evaluate(ctx, a.Conditions)
		condJSON, _ = json.Marshal(eval.Results)
		if !eval.AllMet {
			log.Printf("EXECUTOR: Conditions not met for automation %s, cancelling execution %s", a.ID, execID)
			if err := x.store.FinalizeExecution(ctx, execID, models.ExecutionCancelled, condJSON, json.RawMessage("[]")); err != nil {
				log.Printf("EXECUTOR: Failed to finalize execution %s: %v", execID, err)
			}
			x.touch(ctx, a.ID)
			return ExecResult{ExecutionID: execID, Success: false}, nil
		}
	}

	actions := make([]models.Action, len(a.Actions))
	copy(actions, a.Actions)
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Order < actions[j].Order })

	success := true
	results := make([]models.ActionResult, 0, len(actions))
	for _, action := range actions {
		if action.DelayMinutes > 0 {
			// In-line delay serializes the remaining actions of this
			// execution on purpose; ordering beats promptness here.
			log.Printf("EXECUTOR: Delaying action %s by %d minutes", action.ID, action.DelayMinutes)
			if err := x.sleep(ctx, time.Duration(action.DelayMinutes)*time.Minute); err != nil {
				results = append(results, models.ActionResult{
					ActionID: action.ID, DeviceID: action.DeviceID,
					ActionType: action.ActionType, Error: err.Error(),
				})
				success = false
				continue
			}
		}

		actionType := action.ActionType
		if forced != "" {
			actionType = forced
		}

		res := x.dispatch(ctx, a, execID, action, actionType)
		if !res.Success {
			success = false
		}
		results = append(results, res)
	}

	actJSON, _ := json.Marshal(results)
	status := models.ExecutionCompleted
	if !success {
		status = models.ExecutionFailed
	}
	if err := x.store.FinalizeExecution(ctx, execID, status, condJSON, actJSON); err != nil {
		log.Printf("EXECUTOR: Failed to finalize execution %s: %v", execID, err)
	}
	x.touch(ctx, a.ID)

	if a.Notifications && x.notifier != nil {
		x.notifier.Create(ctx, "automation", "normal",
			fmt.Sprintf("Automation %s %s", a.Name, status),
			fmt.Sprintf("%d of %d actions succeeded", countSuccesses(results), len(results)),
			map[string]interface{}{"automation_id": a.ID, "execution_id": execID})
	}

	log.Printf("EXECUTOR: Execution %s finished with status %s", execID, status)
	return ExecResult{ExecutionID: execID, Success: success, Results: results}, nil
}

// dispatch issues one device command. Failures are captured on the result,
// never propagated; remaining actions still run.
func (x *Executor) dispatch(ctx context.Context, a models.Automation, execID string, action models.Action, actionType models.ActionType) models.ActionResult {
	res := models.ActionResult{ActionID: action.ID, DeviceID: action.DeviceID, ActionType: actionType}

	var err error
	switch actionType {
	case models.ActionTurnOn:
		err = x.gateway.SetPower(ctx, action.DeviceID, true)
		if err == nil && a.ActionDuration > 0 {
			x.scheduleOff(ctx, action.DeviceID, a.ActionDuration, a.ID, execID)
		}
	case models.ActionTurnOff:
		err = x.gateway.SetPower(ctx, action.DeviceID, false)
	case models.ActionToggle:
		status := x.gateway.GetStatus(ctx, action.DeviceID)
		switch {
		case !status.Online:
			err = fmt.Errorf("device %s offline", action.DeviceID)
		case status.State == nil:
			err = fmt.Errorf("device %s does not report power state", action.DeviceID)
		default:
			err = x.gateway.SetPower(ctx, action.DeviceID, !*status.State)
		}
	case models.ActionCapturePhoto:
		err = x.gateway.CaptureSnapshot(ctx, action.DeviceID)
	case models.ActionTriggerIrrigation:
		err = x.gateway.SetPower(ctx, action.DeviceID, true)
		if err == nil && action.Duration > 0 {
			x.scheduleOff(ctx, action.DeviceID, action.Duration, a.ID, execID)
		}
	default:
		err = fmt.Errorf("unknown action type %s", actionType)
	}

	if err != nil {
		log.Printf("EXECUTOR: Action %s (%s on %s) failed: %v", action.ID, actionType, action.DeviceID, err)
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

// scheduleOff enqueues a durable delayed off-command.
func (x *Executor) scheduleOff(ctx context.Context, deviceID string, minutes int, automationID, execID string) {
	if x.deferred == nil {
		log.Printf("EXECUTOR: No deferred scheduler configured, dropping auto-off for device %s", deviceID)
		return
	}
	// A re-trigger supersedes any deferred effect still pending for the device.
	if err := x.deferred.CancelStaleForDevice(ctx, deviceID); err != nil {
		log.Printf("EXECUTOR: Failed to cancel stale jobs for device %s: %v", deviceID, err)
	}
	after := time.Duration(minutes) * time.Minute
	if err := x.deferred.ScheduleDeviceOff(ctx, deviceID, after, automationID, execID); err != nil {
		log.Printf("EXECUTOR: Failed to schedule auto-off for device %s: %v", deviceID, err)
	}
}

func (x *Executor) touch(ctx context.Context, automationID string) {
	if err := x.store.TouchAutomation(ctx, automationID, x.now()); err != nil {
		log.Printf("EXECUTOR: Failed to stamp automation %s: %v", automationID, err)
	}
}

func countSuccesses(results []models.ActionResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
