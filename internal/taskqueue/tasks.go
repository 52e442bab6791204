package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// TypeEvaluateAutomation is the asynq task type for API-triggered evaluation.
const TypeEvaluateAutomation = "automation:evaluate"

// AutomationRunner is implemented by the engine.
type AutomationRunner interface {
	EvaluateAndRun(ctx context.Context, automationID string, force bool) error
}

// Global engine reference - initialized by the main application
var runner AutomationRunner

// SetRunner sets the engine the task handlers call into.
func SetRunner(r AutomationRunner) {
	runner = r
}

// EvaluationTaskPayload for tasks
type EvaluationTaskPayload struct {
	AutomationID string `json:"automation_id"`
	Force        bool   `json:"force"`
}

// EnqueueEvaluation enqueues an evaluation task so HTTP requests never block
// on device I/O.
func EnqueueEvaluation(automationID string, force bool) error {
	payload, _ := json.Marshal(EvaluationTaskPayload{AutomationID: automationID, Force: force})
	task := asynq.NewTask(TypeEvaluateAutomation, payload)
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(30*time.Second))
	if err != nil {
		log.Printf("TASKQUEUE: Failed to enqueue evaluation for automation %s: %v", automationID, err)
		return err
	}
	log.Printf("TASKQUEUE: Enqueued task %s for automation %s (force: %t)", info.ID, automationID, force)
	return nil
}

// evaluateAutomationTask handles the task
func evaluateAutomationTask(ctx context.Context, t *asynq.Task) error {
	var payload EvaluationTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if runner == nil {
		return fmt.Errorf("taskqueue runner not initialized")
	}
	log.Printf("TASKQUEUE: Evaluating automation %s (force: %t)", payload.AutomationID, payload.Force)
	return runner.EvaluateAndRun(ctx, payload.AutomationID, payload.Force)
}
