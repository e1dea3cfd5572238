package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dealdrip/dealdrip/pkg/models"
)

// ContextReader resolves the current value of a recipient attribute at
// condition evaluation time, so a field that changed since trigger time (say
// emailVerified) is judged live rather than from the stale snapshot.
// Implementations query the host platform; a nil reader falls back to the
// run's context snapshot.
type ContextReader interface {
	Read(ctx context.Context, recipientID, field string) (any, bool)
}

// evaluateCondition compares the field value against the condition operand.
func evaluateCondition(cond *models.ConditionStep, value any) (bool, error) {
	switch cond.Operator {
	case models.OperatorEquals:
		return equals(value, cond.Value), nil
	case models.OperatorContains:
		return strings.Contains(asString(value), asString(cond.Value)), nil
	case models.OperatorGreaterThan:
		left, right, err := asNumbers(value, cond.Value)
		if err != nil {
			return false, err
		}

		return left > right, nil
	case models.OperatorLessThan:
		left, right, err := asNumbers(value, cond.Value)
		if err != nil {
			return false, err
		}

		return left < right, nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", cond.Operator)
	}
}

// equals compares numerically when both sides are numbers, so 3 and 3.0 stay
// equal across JSON round-trips, and falls back to string comparison.
func equals(left, right any) bool {
	leftNum, leftOK := toFloat(left)
	rightNum, rightOK := toFloat(right)

	if leftOK && rightOK {
		return leftNum == rightNum
	}

	return asString(left) == asString(right)
}

func asNumbers(left, right any) (float64, float64, error) {
	leftNum, ok := toFloat(left)
	if !ok {
		return 0, 0, fmt.Errorf("value %v is not numeric", left)
	}

	rightNum, ok := toFloat(right)
	if !ok {
		return 0, 0, fmt.Errorf("operand %v is not numeric", right)
	}

	return leftNum, rightNum, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)

		return parsed, err == nil
	default:
		return 0, false
	}
}

func asString(value any) string {
	if value == nil {
		return ""
	}

	if s, ok := value.(string); ok {
		return s
	}

	return fmt.Sprint(value)
}
