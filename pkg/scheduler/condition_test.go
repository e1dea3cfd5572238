package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdrip/dealdrip/pkg/models"
)

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name     string
		operator models.ConditionOperator
		operand  any
		value    any
		want     bool
	}{
		{"equals strings", models.OperatorEquals, "UK", "UK", true},
		{"equals mismatch", models.OperatorEquals, "UK", "DE", false},
		{"equals bools", models.OperatorEquals, true, true, true},
		{"equals int vs json float", models.OperatorEquals, 3, float64(3), true},
		{"contains", models.OperatorContains, "electronics", "deals: electronics, travel", true},
		{"contains miss", models.OperatorContains, "fashion", "deals: electronics", false},
		{"greater than", models.OperatorGreaterThan, 5, float64(7), true},
		{"greater than equal is false", models.OperatorGreaterThan, 5, float64(5), false},
		{"less than", models.OperatorLessThan, 10, float64(3), true},
		{"numeric strings compare", models.OperatorGreaterThan, "5", "7", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := &models.ConditionStep{
				Field:    "field",
				Operator: tt.operator,
				Value:    tt.operand,
			}

			got, err := evaluateCondition(cond, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateConditionNonNumericComparison(t *testing.T) {
	cond := &models.ConditionStep{
		Field:    "country",
		Operator: models.OperatorGreaterThan,
		Value:    5,
	}

	_, err := evaluateCondition(cond, "UK")
	require.Error(t, err)
}

func TestEvaluateConditionUnknownOperator(t *testing.T) {
	cond := &models.ConditionStep{
		Field:    "country",
		Operator: models.ConditionOperator("matches"),
	}

	_, err := evaluateCondition(cond, "UK")
	require.Error(t, err)
}
