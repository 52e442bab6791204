package effectiveness

import (
	"context"
	"log"
	"sync"
	"time"

	"growhub/internal/automation"
	"growhub/internal/gateway"
	"growhub/internal/models"
)

// Store is the persistence surface the checker needs.
type Store interface {
	GetExecutionsNeedingCheck(ctx context.Context, window, cooldown time.Duration) ([]models.AutomationExecution, error)
	GetConditions(ctx context.Context, automationID string) ([]models.Condition, error)
	InsertEffectivenessCheck(ctx context.Context, chk models.EffectivenessCheck) error
}

// Checker periodically re-inspects completed executions to verify the
// triggering condition's goal was actually reached. Pure observability: it
// never feeds back into scheduling.
type Checker struct {
	store    Store
	gateway  gateway.Gateway
	window   time.Duration
	cooldown time.Duration

	mu      sync.Mutex
	running bool
}

// NewChecker creates a checker over executions started within window,
// skipping executions already checked inside cooldown.
func NewChecker(store Store, gw gateway.Gateway, window, cooldown time.Duration) *Checker {
	return &Checker{store: store, gateway: gw, window: window, cooldown: cooldown}
}

// Run performs one checking pass. Guarded against reentry in this process.
func (c *Checker) Run(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		log.Println("EFFECTIVENESS: Previous pass still running, skipping")
		return
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	executions, err := c.store.GetExecutionsNeedingCheck(ctx, c.window, c.cooldown)
	if err != nil {
		log.Printf("EFFECTIVENESS: Failed to select executions: %v", err)
		return
	}
	if len(executions) == 0 {
		return
	}
	log.Printf("EFFECTIVENESS: Checking %d executions", len(executions))

	for _, exec := range executions {
		if err := c.checkExecution(ctx, exec); err != nil {
			log.Printf("EFFECTIVENESS: Check failed for execution %s: %v", exec.ID, err)
		}
	}
}

// checkExecution evaluates, for each device condition of the originating
// automation, the inverse of the original trigger predicate: a GREATER_THAN
// trigger was effective if the value has come back down to the threshold.
func (c *Checker) checkExecution(ctx context.Context, exec models.AutomationExecution) error {
	conditions, err := c.store.GetConditions(ctx, exec.AutomationID)
	if err != nil {
		return err
	}

	for _, cond := range conditions {
		if cond.Property == "time" || cond.DeviceID == "" {
			continue
		}

		status := c.gateway.GetStatus(ctx, cond.DeviceID)
		if !status.Online {
			log.Printf("EFFECTIVENESS: Device %s offline, skipping condition %s", cond.DeviceID, cond.ID)
			continue
		}
		observed, err := automation.ExtractProperty(status, cond.Property)
		if err != nil {
			log.Printf("EFFECTIVENESS: Condition %s: %v", cond.ID, err)
			continue
		}

		effective, target := Inverse(cond, observed)
		chk := models.EffectivenessCheck{
			ExecutionID: exec.ID,
			ConditionID: cond.ID,
			Effective:   effective,
			Observed:    observed,
			Target:      target,
		}
		if err := c.store.InsertEffectivenessCheck(ctx, chk); err != nil {
			log.Printf("EFFECTIVENESS: Failed to record check for condition %s: %v", cond.ID, err)
		}
	}
	return nil
}

// Inverse evaluates the inverse of a condition's trigger predicate against a
// fresh reading and returns the target value to report. For OUTSIDE the goal
// is to be back inside the range, so the target is the range midpoint.
func Inverse(cond models.Condition, observed float64) (effective bool, target float64) {
	target = cond.Value
	switch cond.Operator {
	case models.OpGreaterThan:
		return observed <= cond.Value, target
	case models.OpLessThan:
		return observed >= cond.Value, target
	case models.OpEquals:
		return observed != cond.Value, target
	case models.OpNotEquals:
		return observed == cond.Value, target
	case models.OpBetween:
		if cond.ValueMax == nil {
			return false, target
		}
		inside := observed >= cond.Value && observed <= *cond.ValueMax
		return !inside, target
	case models.OpOutside:
		if cond.ValueMax == nil {
			return false, target
		}
		target = (cond.Value + *cond.ValueMax) / 2
		inside := observed >= cond.Value && observed <= *cond.ValueMax
		return inside, target
	}
	return false, target
}

