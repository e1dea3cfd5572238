package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunWithoutContextGetsEmptySnapshot(t *testing.T) {
	flow := &FlowDefinition{
		ID:      "flow-1",
		Version: 3,
		Steps: []Step{
			MessageStepOf("welcome", ChannelEmail, "tpl-1", "deals@dealdrip.example"),
		},
	}

	run := NewRun("run-1", flow, "user-1", nil)
	require.NotNil(t, run.Context)
	assert.Equal(t, 3, run.FlowVersion)
	assert.Equal(t, RunStatusPending, run.Status)
}

func TestRunCountsExecutedSteps(t *testing.T) {
	flow := &FlowDefinition{
		ID:      "flow-1",
		Version: 1,
		Steps: []Step{
			MessageStepOf("welcome", ChannelEmail, "tpl-1", "deals@dealdrip.example"),
			ConditionStepOf("verified?", "emailVerified", OperatorEquals, true,
				[]string{"digest"}, nil),
			MessageStepOf("digest", ChannelEmail, "tpl-2", "deals@dealdrip.example"),
		},
	}

	run := NewRun("run-1", flow, "user-1", nil)
	require.Equal(t, []string{"welcome", "verified?"}, run.Queue)

	run.Advance()
	run.Branch([]string{"digest"})
	run.Advance()

	assert.Empty(t, run.Queue)
	assert.Equal(t, 3, run.StepsRun)

	// Advancing an empty queue counts nothing.
	run.Advance()
	assert.Equal(t, 3, run.StepsRun)
}
