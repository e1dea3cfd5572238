package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func welcomeFlow() *FlowDefinition {
	return &FlowDefinition{
		ID:      "flow-welcome",
		Name:    "Welcome sequence",
		Trigger: TriggerSpec{Type: TriggerUserSignup},
		Steps: []Step{
			MessageStepOf("s1", ChannelSMS, "tpl-welcome", "deals@acme.io", "first_name"),
			DelayStepOf("s2", 1, DelayUnitDays),
			MessageStepOf("s3", ChannelWhatsApp, "tpl-checkin", "deals@acme.io"),
		},
		IsActive: true,
		Version:  1,
	}
}

func TestFlowDefinition_Validate(t *testing.T) {
	require.NoError(t, welcomeFlow().Validate())
}

func TestFlowDefinition_Validate_ActiveWithoutSteps(t *testing.T) {
	flow := welcomeFlow()
	flow.Steps = nil

	err := flow.Validate()
	require.ErrorIs(t, err, ErrFlowNoSteps)
}

func TestFlowDefinition_Validate_DuplicateStepID(t *testing.T) {
	flow := welcomeFlow()
	flow.Steps = append(flow.Steps, DelayStepOf("s1", 2, DelayUnitHours))

	err := flow.Validate()
	require.ErrorIs(t, err, ErrDuplicateStepID)
}

func TestFlowDefinition_Validate_DanglingPathReference(t *testing.T) {
	flow := welcomeFlow()
	flow.Steps = append(flow.Steps,
		ConditionStepOf("s4", "email_verified", OperatorEquals, true, []string{"missing"}, nil),
	)

	err := flow.Validate()
	require.ErrorIs(t, err, ErrDanglingStepRef)
}

func TestFlowDefinition_Validate_CyclicPath(t *testing.T) {
	flow := &FlowDefinition{
		ID:      "flow-cycle",
		Name:    "Cyclic flow",
		Trigger: TriggerSpec{Type: TriggerUserSignup},
		Steps: []Step{
			ConditionStepOf("c1", "country", OperatorEquals, "BR", []string{"c2"}, nil),
			ConditionStepOf("c2", "country", OperatorEquals, "PT", []string{"c1"}, nil),
		},
		IsActive: true,
	}

	err := flow.Validate()
	require.ErrorIs(t, err, ErrStepCycle)
}

func TestFlowDefinition_Validate_UnknownTrigger(t *testing.T) {
	flow := welcomeFlow()
	flow.Trigger.Type = "deal_sighted"

	err := flow.Validate()
	require.ErrorIs(t, err, ErrUnknownTrigger)
}

func TestFlowDefinition_Validate_ZeroDelay(t *testing.T) {
	flow := welcomeFlow()
	flow.Steps[1] = DelayStepOf("s2", 0, DelayUnitDays)

	err := flow.Validate()
	require.Error(t, err)
}

func TestFlowDefinition_EntrySequence_ExcludesBranchTargets(t *testing.T) {
	flow := &FlowDefinition{
		ID:      "flow-branch",
		Name:    "Branching flow",
		Trigger: TriggerSpec{Type: TriggerDealSaved},
		Steps: []Step{
			MessageStepOf("hello", ChannelEmail, "tpl-hello", "deals@acme.io"),
			ConditionStepOf("verified", "email_verified", OperatorEquals, true,
				[]string{"nudge-email"}, []string{"nudge-sms"}),
			MessageStepOf("nudge-email", ChannelEmail, "tpl-nudge", "deals@acme.io"),
			MessageStepOf("nudge-sms", ChannelSMS, "tpl-nudge-short", "ACME"),
		},
		IsActive: true,
	}

	require.NoError(t, flow.Validate())
	assert.Equal(t, []string{"hello", "verified"}, flow.EntrySequence())
}

func TestFlowDefinition_StepByID(t *testing.T) {
	flow := welcomeFlow()

	step, ok := flow.StepByID("s2")
	require.True(t, ok)
	assert.Equal(t, StepTypeDelay, step.Type)

	_, ok = flow.StepByID("nope")
	assert.False(t, ok)
}
