package models

import (
	"encoding/json"
	"time"
)

// AutomationStatus is the lifecycle state of an automation.
type AutomationStatus string

const (
	AutomationActive   AutomationStatus = "ACTIVE"
	AutomationPaused   AutomationStatus = "PAUSED"
	AutomationDisabled AutomationStatus = "DISABLED"
)

// TriggerType selects how an automation decides it is due.
type TriggerType string

const (
	TriggerCondition TriggerType = "CONDITION"
	TriggerScheduled TriggerType = "SCHEDULED"
	TriggerHybrid    TriggerType = "HYBRID"
)

// ScheduleType selects the scheduling-mode state machine for SCHEDULED triggers.
type ScheduleType string

const (
	ScheduleTimeRange     ScheduleType = "TIME_RANGE"
	ScheduleInterval      ScheduleType = "INTERVAL"
	ScheduleSpecificTimes ScheduleType = "SPECIFIC_TIMES"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpBetween     Operator = "BETWEEN"
	OpOutside     Operator = "OUTSIDE"
)

// LogicOperator chains a condition with the one after it.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// ActionType is the kind of device command an action issues.
type ActionType string

const (
	ActionTurnOn            ActionType = "TURN_ON"
	ActionTurnOff           ActionType = "TURN_OFF"
	ActionToggle            ActionType = "TOGGLE"
	ActionCapturePhoto      ActionType = "CAPTURE_PHOTO"
	ActionTriggerIrrigation ActionType = "TRIGGER_IRRIGATION"
)

// ExecutionStatus is the state of one automation firing.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// JobType is the kind of deferred device command a scheduled job carries.
type JobType string

const (
	JobDeviceOn     JobType = "DEVICE_ON"
	JobDeviceOff    JobType = "DEVICE_OFF"
	JobDeviceToggle JobType = "DEVICE_TOGGLE"
	JobCapturePhoto JobType = "CAPTURE_PHOTO"
)

// JobStatus is the state of a scheduled job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobDead      JobStatus = "DEAD"
	JobCancelled JobStatus = "CANCELLED"
)

// Automation binds conditions and/or a schedule to device actions.
type Automation struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Status          AutomationStatus `json:"status"`
	TriggerType     TriggerType      `json:"trigger_type"`
	ScheduleType    ScheduleType     `json:"schedule_type,omitempty"`
	IntervalMinutes int              `json:"interval_minutes"` // evaluation throttle for CONDITION/HYBRID, fire interval for INTERVAL
	ActiveStartTime string           `json:"active_start_time,omitempty"` // "HH:MM", TIME_RANGE window open
	ActiveEndTime   string           `json:"active_end_time,omitempty"`   // "HH:MM", TIME_RANGE window close
	SpecificTimes   []string         `json:"specific_times,omitempty"`    // "HH:MM" entries for SPECIFIC_TIMES
	DaysOfWeek      []time.Weekday   `json:"days_of_week,omitempty"`      // empty = every day
	StartTime       string           `json:"start_time,omitempty"`        // "HH:MM", eligibility window
	EndTime         string           `json:"end_time,omitempty"`
	ActionDuration  int              `json:"action_duration"` // minutes until deferred auto-off for TURN_ON
	Priority        int              `json:"priority"`
	AllowOverlap    bool             `json:"allow_overlap"`
	Notifications   bool             `json:"notifications"`
	DependsOn       *string          `json:"depends_on,omitempty"` // advisory link, never traversed
	LastEvaluatedAt *time.Time       `json:"last_evaluated_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`

	Conditions []Condition `json:"conditions,omitempty"`
	Actions    []Action    `json:"actions,omitempty"`
}

// Condition is one predicate over a sensor reading or the time of day.
// Conditions are immutable and replaced wholesale on automation update.
type Condition struct {
	ID            string        `json:"id"`
	AutomationID  string        `json:"automation_id"`
	DeviceID      string        `json:"device_id,omitempty"` // empty for pure time conditions
	Property      string        `json:"property"`            // "temperature", "humidity", "state", "time"
	Operator      Operator      `json:"operator"`
	Value         float64       `json:"value"`
	ValueMax      *float64      `json:"value_max,omitempty"`
	TimeValue     string        `json:"time_value,omitempty"` // "HH:MM"
	TimeValueMax  string        `json:"time_value_max,omitempty"`
	LogicOperator LogicOperator `json:"logic_operator"`
	Order         int           `json:"order"`
}

// Action is one device command issued when an automation fires.
type Action struct {
	ID           string     `json:"id"`
	AutomationID string     `json:"automation_id"`
	DeviceID     string     `json:"device_id"`
	ActionType   ActionType `json:"action_type"`
	Duration     int        `json:"duration"`      // minutes until deferred auto-off, 0 = none
	DelayMinutes int        `json:"delay_minutes"` // in-line delay before dispatch
	Order        int        `json:"order"`
}

// ConditionResult is the recorded outcome of evaluating one condition.
type ConditionResult struct {
	ConditionID string   `json:"condition_id"`
	Property    string   `json:"property"`
	Operator    Operator `json:"operator"`
	Met         bool     `json:"met"`
	Observed    float64  `json:"observed"`
	Target      float64  `json:"target"`
	Error       string   `json:"error,omitempty"`
}

// ActionResult is the recorded outcome of dispatching one action.
type ActionResult struct {
	ActionID   string     `json:"action_id"`
	DeviceID   string     `json:"device_id"`
	ActionType ActionType `json:"action_type"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

// AutomationExecution is one trigger-to-completion record of an automation firing.
type AutomationExecution struct {
	ID               string          `json:"id"`
	AutomationID     string          `json:"automation_id"`
	Status           ExecutionStatus `json:"status"`
	ConditionResults json.RawMessage `json:"condition_results,omitempty"`
	ActionResults    json.RawMessage `json:"action_results,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// EffectivenessCheck records whether an execution's goal was reached on re-inspection.
type EffectivenessCheck struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	ConditionID string    `json:"condition_id"`
	Effective   bool      `json:"effective"`
	Observed    float64   `json:"observed"`
	Target      float64   `json:"target"`
	CheckedAt   time.Time `json:"checked_at"`
}

// ScheduledJob is a durable, leasable unit of deferred or retryable device work.
type ScheduledJob struct {
	ID             string     `json:"id"`
	Type           JobType    `json:"type"`
	DeviceID       string     `json:"device_id"`
	AutomationID   *string    `json:"automation_id,omitempty"`
	ExecutionID    *string    `json:"execution_id,omitempty"`
	RunAt          time.Time  `json:"run_at"`
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	LockedBy       *string    `json:"locked_by,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
