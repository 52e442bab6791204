package db

import (
	"context"
	"encoding/json"
	"time"

	"growhub/internal/models"
)

// GetActiveAutomations fetches all ACTIVE automations with their conditions
// and actions loaded, ordered by priority descending.
func (d *DB) GetActiveAutomations(ctx context.Context) ([]models.Automation, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, status, trigger_type, COALESCE(schedule_type, ''),
		       interval_minutes, COALESCE(active_start_time, ''), COALESCE(active_end_time, ''),
		       specific_times, days_of_week, COALESCE(start_time, ''), COALESCE(end_time, ''),
		       action_duration, priority, allow_overlap, notifications, depends_on,
		       last_evaluated_at, created_at
		FROM automations
		WHERE status = 'ACTIVE'
		ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var automations []models.Automation
	for rows.Next() {
		var a models.Automation
		var days []int32
		if err := rows.Scan(&a.ID, &a.Name, &a.Status, &a.TriggerType, &a.ScheduleType,
			&a.IntervalMinutes, &a.ActiveStartTime, &a.ActiveEndTime,
			&a.SpecificTimes, &days, &a.StartTime, &a.EndTime,
			&a.ActionDuration, &a.Priority, &a.AllowOverlap, &a.Notifications, &a.DependsOn,
			&a.LastEvaluatedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		for _, dow := range days {
			a.DaysOfWeek = append(a.DaysOfWeek, time.Weekday(dow))
		}
		automations = append(automations, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	for i := range automations {
		conds, err := d.GetConditions(ctx, automations[i].ID)
		if err != nil {
			return nil, err
		}
		acts, err := d.GetActions(ctx, automations[i].ID)
		if err != nil {
			return nil, err
		}
		automations[i].Conditions = conds
		automations[i].Actions = acts
	}
	return automations, nil
}

// GetAutomationByID fetches one automation with conditions and actions loaded.
func (d *DB) GetAutomationByID(ctx context.Context, id string) (*models.Automation, error) {
	var a models.Automation
	var days []int32
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, status, trigger_type, COALESCE(schedule_type, ''),
		       interval_minutes, COALESCE(active_start_time, ''), COALESCE(active_end_time, ''),
		       specific_times, days_of_week, COALESCE(start_time, ''), COALESCE(end_time, ''),
		       action_duration, priority, allow_overlap, notifications, depends_on,
		       last_evaluated_at, created_at
		FROM automations WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Status, &a.TriggerType, &a.ScheduleType,
			&a.IntervalMinutes, &a.ActiveStartTime, &a.ActiveEndTime,
			&a.SpecificTimes, &days, &a.StartTime, &a.EndTime,
			&a.ActionDuration, &a.Priority, &a.AllowOverlap, &a.Notifications, &a.DependsOn,
			&a.LastEvaluatedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, dow := range days {
		a.DaysOfWeek = append(a.DaysOfWeek, time.Weekday(dow))
	}
	if a.Conditions, err = d.GetConditions(ctx, a.ID); err != nil {
		return nil, err
	}
	if a.Actions, err = d.GetActions(ctx, a.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetConditions fetches an automation's conditions in evaluation order.
func (d *DB) GetConditions(ctx context.Context, automationID string) ([]models.Condition, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, automation_id, COALESCE(device_id, ''), property, operator,
		       value, value_max, COALESCE(time_value, ''), COALESCE(time_value_max, ''),
		       logic_operator, ord
		FROM conditions WHERE automation_id = $1 ORDER BY ord ASC`, automationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conditions []models.Condition
	for rows.Next() {
		var c models.Condition
		if err := rows.Scan(&c.ID, &c.AutomationID, &c.DeviceID, &c.Property, &c.Operator,
			&c.Value, &c.ValueMax, &c.TimeValue, &c.TimeValueMax,
			&c.LogicOperator, &c.Order); err != nil {
			return nil, err
		}
		conditions = append(conditions, c)
	}
	return conditions, rows.Err()
}

// GetActions fetches an automation's actions in execution order.
func (d *DB) GetActions(ctx context.Context, automationID string) ([]models.Action, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, automation_id, device_id, action_type, duration, delay_minutes, ord
		FROM actions WHERE automation_id = $1 ORDER BY ord ASC`, automationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []models.Action
	for rows.Next() {
		var a models.Action
		if err := rows.Scan(&a.ID, &a.AutomationID, &a.DeviceID, &a.ActionType,
			&a.Duration, &a.DelayMinutes, &a.Order); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// TouchAutomation stamps last_evaluated_at. The stamp is idempotent so no
// locking is needed around it.
func (d *DB) TouchAutomation(ctx context.Context, id string, at time.Time) error {
	_, err := d.pool.Exec(ctx, "UPDATE automations SET last_evaluated_at = $1 WHERE id = $2", at, id)
	return err
}

// CreateExecution inserts a RUNNING execution record and returns its id.
func (d *DB) CreateExecution(ctx context.Context, automationID string, conditionResults json.RawMessage) (string, error) {
	var id string
	err := d.pool.QueryRow(ctx, `
		INSERT INTO automation_executions (automation_id, status, condition_results, started_at)
		VALUES ($1, 'RUNNING', $2, NOW())
		RETURNING id`, automationID, conditionResults).Scan(&id)
	return id, err
}

// FinalizeExecution records the terminal status and captured results of an execution.
func (d *DB) FinalizeExecution(ctx context.Context, id string, status models.ExecutionStatus, conditionResults, actionResults json.RawMessage) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE automation_executions
		SET status = $1, condition_results = COALESCE($2, condition_results),
		    action_results = $3, finished_at = NOW()
		WHERE id = $4`, status, conditionResults, actionResults, id)
	return err
}

// GetExecutionByID fetches one execution record.
func (d *DB) GetExecutionByID(ctx context.Context, id string) (*models.AutomationExecution, error) {
	var e models.AutomationExecution
	err := d.pool.QueryRow(ctx, `
		SELECT id, automation_id, status, condition_results, action_results, started_at, finished_at
		FROM automation_executions WHERE id = $1`, id).
		Scan(&e.ID, &e.AutomationID, &e.Status, &e.ConditionResults, &e.ActionResults, &e.StartedAt, &e.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetExecutionsByAutomation fetches recent executions for an automation, newest first.
func (d *DB) GetExecutionsByAutomation(ctx context.Context, automationID string, limit int) ([]models.AutomationExecution, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, automation_id, status, condition_results, action_results, started_at, finished_at
		FROM automation_executions WHERE automation_id = $1
		ORDER BY started_at DESC LIMIT $2`, automationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []models.AutomationExecution
	for rows.Next() {
		var e models.AutomationExecution
		if err := rows.Scan(&e.ID, &e.AutomationID, &e.Status, &e.ConditionResults,
			&e.ActionResults, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// GetExecutionsNeedingCheck selects COMPLETED executions started within the
// window that have no effectiveness check newer than the cooldown.
func (d *DB) GetExecutionsNeedingCheck(ctx context.Context, window, cooldown time.Duration) ([]models.AutomationExecution, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT e.id, e.automation_id, e.status, e.condition_results, e.action_results, e.started_at, e.finished_at
		FROM automation_executions e
		WHERE e.status = 'COMPLETED'
		  AND e.started_at > NOW() - ($1 * interval '1 second')
		  AND NOT EXISTS (
		      SELECT 1 FROM effectiveness_checks c
		      WHERE c.execution_id = e.id
		        AND c.checked_at > NOW() - ($2 * interval '1 second'))
		ORDER BY e.started_at ASC`,
		int64(window.Seconds()), int64(cooldown.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []models.AutomationExecution
	for rows.Next() {
		var e models.AutomationExecution
		if err := rows.Scan(&e.ID, &e.AutomationID, &e.Status, &e.ConditionResults,
			&e.ActionResults, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// InsertEffectivenessCheck appends one effectiveness check result.
func (d *DB) InsertEffectivenessCheck(ctx context.Context, chk models.EffectivenessCheck) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO effectiveness_checks (execution_id, condition_id, effective, observed, target, checked_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		chk.ExecutionID, chk.ConditionID, chk.Effective, chk.Observed, chk.Target)
	return err
}

// GetEffectivenessStats aggregates check outcomes per automation.
func (d *DB) GetEffectivenessStats(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT e.automation_id, c.effective, COUNT(*)
		FROM effectiveness_checks c
		JOIN automation_executions e ON e.id = c.execution_id
		GROUP BY e.automation_id, c.effective`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]map[string]int)
	for rows.Next() {
		var automationID string
		var effective bool
		var count int
		if err := rows.Scan(&automationID, &effective, &count); err != nil {
			return nil, err
		}
		if stats[automationID] == nil {
			stats[automationID] = map[string]int{}
		}
		if effective {
			stats[automationID]["effective"] = count
		} else {
			stats[automationID]["ineffective"] = count
		}
	}
	return stats, rows.Err()
}

// InsertNotification writes one notification row.
func (d *DB) InsertNotification(ctx context.Context, notifType, priority, title, message string, metadata json.RawMessage) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO notifications (type, priority, title, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		notifType, priority, title, message, metadata)
	return err
}
