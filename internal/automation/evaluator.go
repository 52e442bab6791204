package automation

import (
	"context"
	"fmt"
	"log"
	"time"

	"growhub/internal/gateway"
	"growhub/internal/models"
)

// EvalResult is the outcome of evaluating an automation's condition chain.
type EvalResult struct {
	AllMet  bool
	Results []models.ConditionResult
}

// Evaluator decides whether an automation's trigger criteria are satisfied.
type Evaluator struct {
	gateway gateway.Gateway
	now     func() time.Time
}

// NewEvaluator creates an evaluator reading device state through gw.
func NewEvaluator(gw gateway.Gateway) *Evaluator {
	return &Evaluator{gateway: gw, now: time.Now}
}

// Evaluate reduces the condition chain left to right. The accumulator starts
// true and condition i is folded in under the logic operator of condition
// i-1; the first combination is always AND. An empty chain passes.
//
// TODO: product has not confirmed whether the operator belonging to the
// previous condition is intentional left-fold semantics; behavior is kept
// as observed in production.
func (e *Evaluator) Evaluate(ctx context.Context, conditions []models.Condition) EvalResult {
	if len(conditions) == 0 {
		return EvalResult{AllMet: true}
	}

	allMet := true
	results := make([]models.ConditionResult, 0, len(conditions))
	for i, cond := range conditions {
		res := e.evaluateCondition(ctx, cond)
		results = append(results, res)

		op := models.LogicAnd
		if i > 0 {
			op = conditions[i-1].LogicOperator
		}
		if op == models.LogicOr {
			allMet = allMet || res.Met
		} else {
			allMet = allMet && res.Met
		}
	}
	log.Printf("EVALUATOR: Evaluated %d conditions, all met: %t", len(results), allMet)
	return EvalResult{AllMet: allMet, Results: results}
}

// evaluateCondition evaluates one condition. Any gateway or parsing error is
// recorded on the result and the condition reads as not met; siblings keep
// evaluating.
func (e *Evaluator) evaluateCondition(ctx context.Context, cond models.Condition) models.ConditionResult {
	res := models.ConditionResult{
		ConditionID: cond.ID,
		Property:    cond.Property,
		Operator:    cond.Operator,
		Target:      cond.Value,
	}

	if cond.Property == "time" {
		met, observed, target, err := e.evaluateTimeCondition(cond)
		res.Observed, res.Target = observed, target
		if err != nil {
			log.Printf("EVALUATOR: Time condition %s failed: %v", cond.ID, err)
			res.Error = err.Error()
			return res
		}
		res.Met = met
		return res
	}

	status := e.gateway.GetStatus(ctx, cond.DeviceID)
	if !status.Online {
		log.Printf("EVALUATOR: Device %s offline for condition %s", cond.DeviceID, cond.ID)
		res.Error = "device offline"
		return res
	}

	observed, err := ExtractProperty(status, cond.Property)
	if err != nil {
		log.Printf("EVALUATOR: Condition %s: %v", cond.ID, err)
		res.Error = err.Error()
		return res
	}
	res.Observed = observed

	met, err := Compare(cond.Operator, observed, cond.Value, cond.ValueMax)
	if err != nil {
		log.Printf("EVALUATOR: Condition %s: %v", cond.ID, err)
		res.Error = err.Error()
		return res
	}
	res.Met = met
	return res
}

// evaluateTimeCondition compares the current minute of day to the condition's
// time values. EQUALS tolerates a one-minute margin; BETWEEN is inclusive on
// both ends.
func (e *Evaluator) evaluateTimeCondition(cond models.Condition) (met bool, observed, target float64, err error) {
	nowMin := minuteOfDay(e.now())
	observed = float64(nowMin)

	targetMin, err := parseClock(cond.TimeValue)
	if err != nil {
		return false, observed, 0, err
	}
	target = float64(targetMin)

	switch cond.Operator {
	case models.OpGreaterThan:
		return nowMin > targetMin, observed, target, nil
	case models.OpLessThan:
		return nowMin < targetMin, observed, target, nil
	case models.OpEquals:
		return absInt(nowMin-targetMin) <= 1, observed, target, nil
	case models.OpNotEquals:
		return absInt(nowMin-targetMin) > 1, observed, target, nil
	case models.OpBetween, models.OpOutside:
		maxMin, err := parseClock(cond.TimeValueMax)
		if err != nil {
			return false, observed, target, err
		}
		inside := nowMin >= targetMin && nowMin <= maxMin
		if cond.Operator == models.OpBetween {
			return inside, observed, target, nil
		}
		return !inside, observed, target, nil
	}
	return false, observed, target, fmt.Errorf("unsupported time operator %s", cond.Operator)
}

// ExtractProperty pulls the named numeric property out of a device status.
// The power state maps to 1/0.
func ExtractProperty(status gateway.DeviceStatus, property string) (float64, error) {
	if property == "state" {
		if status.State == nil {
			return 0, fmt.Errorf("device does not report power state")
		}
		if *status.State {
			return 1, nil
		}
		return 0, nil
	}
	v, ok := status.Readings[property]
	if !ok {
		return 0, fmt.Errorf("device does not report property %q", property)
	}
	return v, nil
}

// Compare applies a comparison operator to an observed value. BETWEEN is
// inclusive range membership, OUTSIDE is its complement.
func Compare(op models.Operator, observed, value float64, valueMax *float64) (bool, error) {
	switch op {
	case models.OpGreaterThan:
		return observed > value, nil
	case models.OpLessThan:
		return observed < value, nil
	case models.OpEquals:
		return observed == value, nil
	case models.OpNotEquals:
		return observed != value, nil
	case models.OpBetween, models.OpOutside:
		if valueMax == nil {
			return false, fmt.Errorf("operator %s requires value_max", op)
		}
		inside := observed >= value && observed <= *valueMax
		if op == models.OpBetween {
			return inside, nil
		}
		return !inside, nil
	}
	return false, fmt.Errorf("unsupported operator %s", op)
}
