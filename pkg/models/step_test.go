package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep_JSONRoundTrip(t *testing.T) {
	steps := []Step{
		MessageStepOf("m1", ChannelSMS, "tpl-1", "ACME", "first_name", "deal_title"),
		DelayStepOf("d1", 36, DelayUnitHours),
		ConditionStepOf("c1", "country", OperatorEquals, "BR", []string{"m1"}, nil),
	}

	data, err := json.Marshal(steps)
	require.NoError(t, err)

	var decoded []Step

	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)

	assert.Equal(t, StepTypeMessage, decoded[0].Type)
	require.NotNil(t, decoded[0].Message)
	assert.Equal(t, ChannelSMS, decoded[0].Message.Channel)
	assert.Equal(t, []string{"first_name", "deal_title"}, decoded[0].Message.Tokens)

	require.NotNil(t, decoded[1].Delay)
	assert.Equal(t, 36*time.Hour, decoded[1].Delay.Wait())

	require.NotNil(t, decoded[2].Condition)
	assert.Equal(t, OperatorEquals, decoded[2].Condition.Operator)
	assert.Equal(t, []string{"m1"}, decoded[2].Condition.TruePath)
}

func TestStep_UnmarshalUnknownType(t *testing.T) {
	var step Step

	err := json.Unmarshal([]byte(`{"id":"x","type":"webhook","config":{}}`), &step)
	require.Error(t, err)
}

func TestStep_UnmarshalMissingConfig(t *testing.T) {
	var step Step

	err := json.Unmarshal([]byte(`{"id":"x","type":"delay"}`), &step)
	require.Error(t, err)
}

func TestDelayStep_Wait(t *testing.T) {
	tests := []struct {
		name     string
		step     DelayStep
		expected time.Duration
	}{
		{"minutes", DelayStep{Duration: 30, Unit: DelayUnitMinutes}, 30 * time.Minute},
		{"hours", DelayStep{Duration: 2, Unit: DelayUnitHours}, 2 * time.Hour},
		{"days", DelayStep{Duration: 1, Unit: DelayUnitDays}, 24 * time.Hour},
		{"unknown unit", DelayStep{Duration: 5, Unit: "weeks"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.step.Wait())
		})
	}
}

func TestChannel_MaxMessageLength(t *testing.T) {
	assert.Equal(t, 160, ChannelSMS.MaxMessageLength())
	assert.Equal(t, 300, ChannelWhatsApp.MaxMessageLength())
	assert.Equal(t, 0, ChannelEmail.MaxMessageLength())
}

func TestRun_QueueSemantics(t *testing.T) {
	flow := welcomeFlow()
	run := NewRun("run-1", flow, "user-1", map[string]any{"country": "BR"})

	assert.Equal(t, RunStatusPending, run.Status)
	assert.Equal(t, "s1", run.CurrentStepID())
	assert.Equal(t, 1, run.FlowVersion)

	run.Advance()
	assert.Equal(t, "s2", run.CurrentStepID())

	run.Branch([]string{"s3"})
	assert.Equal(t, "s3", run.CurrentStepID())

	run.Advance()
	assert.Equal(t, "", run.CurrentStepID())

	run.Transition(RunStatusCompleted)
	assert.True(t, run.Status.Terminal())
}

func TestRun_SleepSetsWakeAt(t *testing.T) {
	run := NewRun("run-2", welcomeFlow(), "user-2", nil)
	wake := time.Now().UTC().Add(24 * time.Hour)

	run.Sleep(wake)
	require.NotNil(t, run.WakeAt)
	assert.Equal(t, RunStatusWaiting, run.Status)
	assert.Equal(t, wake, *run.WakeAt)

	run.Transition(RunStatusRunning)
	assert.Nil(t, run.WakeAt)
}

func TestDeliveryAttempt_IdempotencyKey(t *testing.T) {
	attempt := &DeliveryAttempt{RunID: "r1", StepID: "s1", AttemptNumber: 2}
	assert.Equal(t, "r1:s1:2", attempt.IdempotencyKey())
}
