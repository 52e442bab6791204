package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"growhub/internal/automation"
	"growhub/internal/models"
)

// Store is the persistence surface the tick loop needs.
type Store interface {
	GetActiveAutomations(ctx context.Context) ([]models.Automation, error)
	GetAutomationByID(ctx context.Context, id string) (*models.Automation, error)
	TouchAutomation(ctx context.Context, id string, at time.Time) error
}

// Engine owns the periodic loops: the automation tick plus whatever other
// passes (job worker, effectiveness checker, retention) are registered on it.
// All loops share one cron instance; each carries its own in-process
// reentrancy guard. The guards are not cross-process locks.
type Engine struct {
	cron      *cron.Cron
	store     Store
	evaluator *automation.Evaluator
	executor  *automation.Executor
	now       func() time.Time

	mu      sync.Mutex
	ticking bool
}

// NewEngine creates the engine.
func NewEngine(store Store, evaluator *automation.Evaluator, executor *automation.Executor) *Engine {
	return &Engine{
		cron:      cron.New(),
		store:     store,
		evaluator: evaluator,
		executor:  executor,
		now:       time.Now,
	}
}

// Start registers the automation tick and starts the cron scheduler.
func (e *Engine) Start(tickEvery time.Duration) error {
	if _, err := e.cron.AddFunc(everySpec(tickEvery), func() {
		e.RunTick(context.Background())
	}); err != nil {
		return err
	}
	e.cron.Start()
	log.Printf("ENGINE: Started, automation tick every %s", tickEvery)
	return nil
}

// AddLoop registers an additional periodic pass on the shared cron instance.
func (e *Engine) AddLoop(name string, every time.Duration, fn func(context.Context)) error {
	_, err := e.cron.AddFunc(everySpec(every), func() {
		fn(context.Background())
	})
	if err != nil {
		return err
	}
	log.Printf("ENGINE: Registered %s loop every %s", name, every)
	return nil
}

// Stop stops the cron scheduler and waits for running entries.
func (e *Engine) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
	log.Println("ENGINE: Stopped")
}

// RunTick performs one scheduling pass over all ACTIVE automations. A second
// tick cannot start in this process while one is running.
func (e *Engine) RunTick(ctx context.Context) {
	e.mu.Lock()
	if e.ticking {
		e.mu.Unlock()
		log.Println("ENGINE: Previous tick still running, skipping")
		return
	}
	e.ticking = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.ticking = false
		e.mu.Unlock()
	}()

	automations, err := e.store.GetActiveAutomations(ctx)
	if err != nil {
		log.Printf("ENGINE: Failed to load automations: %v", err)
		return
	}

	now := e.now()
	for _, a := range automations {
		e.processAutomation(ctx, a, now)
	}
}

// processAutomation applies the schedule-window gate and the scheduling-mode
// decision to one automation, then evaluates/executes as appropriate. Errors
// stay inside this automation; the tick moves on.
func (e *Engine) processAutomation(ctx context.Context, a models.Automation, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ENGINE: Panic processing automation %s: %v", a.ID, r)
		}
	}()

	if !automation.WindowAllows(a, now) {
		return
	}

	decision := automation.Decide(a, now)
	if !decision.Due {
		return
	}

	if a.TriggerType == models.TriggerScheduled {
		// Schedule decisions are not further condition-gated.
		if _, err := e.executor.Execute(ctx, a, nil, true, decision.Forced); err != nil {
			log.Printf("ENGINE: Scheduled execution failed for automation %s: %v", a.ID, err)
		}
		return
	}

	eval := e.evaluator.Evaluate(ctx, a.Conditions)
	if eval.AllMet {
		if _, err := e.executor.Execute(ctx, a, eval.Results, true, ""); err != nil {
			log.Printf("ENGINE: Execution failed for automation %s: %v", a.ID, err)
		}
		return
	}

	// Not met: still stamp so the evaluation throttle advances.
	if err := e.store.TouchAutomation(ctx, a.ID, now); err != nil {
		log.Printf("ENGINE: Failed to stamp automation %s: %v", a.ID, err)
	}
}

// EvaluateAndRun handles a manual trigger for one automation. force skips
// condition evaluation entirely.
func (e *Engine) EvaluateAndRun(ctx context.Context, automationID string, force bool) error {
	a, err := e.store.GetAutomationByID(ctx, automationID)
	if err != nil {
		return fmt.Errorf("load automation %s: %w", automationID, err)
	}
	if a.Status != models.AutomationActive {
		log.Printf("ENGINE: Automation %s is %s, skipping manual trigger", a.ID, a.Status)
		return nil
	}

	if force {
		_, err = e.executor.Execute(ctx, *a, nil, true, "")
		return err
	}

	eval := e.evaluator.Evaluate(ctx, a.Conditions)
	if !eval.AllMet {
		log.Printf("ENGINE: Conditions not met for manually triggered automation %s", a.ID)
		return e.store.TouchAutomation(ctx, a.ID, e.now())
	}
	_, err = e.executor.Execute(ctx, *a, eval.Results, true, "")
	return err
}

func everySpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}
