package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepType discriminates the closed set of step variants.
type StepType string

const (
	StepTypeMessage   StepType = "message"
	StepTypeDelay     StepType = "delay"
	StepTypeCondition StepType = "condition"
)

// DelayUnit is the unit a DelayStep duration is expressed in.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// ConditionOperator is the comparison applied by a ConditionStep.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
)

// MessageStep sends one message through a channel adapter.
type MessageStep struct {
	Channel      Channel  `json:"channel"       validate:"required"`
	TemplateID   string   `json:"template_id"   validate:"required"`
	FromIdentity string   `json:"from_identity" validate:"required"`
	Tokens       []string `json:"tokens,omitempty"`
}

// DelayStep suspends a run for a fixed duration.
type DelayStep struct {
	Duration int64     `json:"duration" validate:"required,gt=0"`
	Unit     DelayUnit `json:"unit"     validate:"required,oneof=minutes hours days"`
}

// Wait returns the delay as a time.Duration.
func (d DelayStep) Wait() time.Duration {
	switch d.Unit {
	case DelayUnitMinutes:
		return time.Duration(d.Duration) * time.Minute
	case DelayUnitHours:
		return time.Duration(d.Duration) * time.Hour
	case DelayUnitDays:
		return time.Duration(d.Duration) * 24 * time.Hour
	default:
		return 0
	}
}

// ConditionStep branches a run into one of two step-ID paths based on a
// recipient context field. Empty paths terminate the run.
type ConditionStep struct {
	Field     string            `json:"field"    validate:"required"`
	Operator  ConditionOperator `json:"operator" validate:"required,oneof=equals contains greater_than less_than"`
	Value     any               `json:"value"`
	TruePath  []string          `json:"true_path"`
	FalsePath []string          `json:"false_path"`
}

// Step is the tagged union of the three step variants. Exactly one of the
// variant pointers matching Type is set.
type Step struct {
	ID   string   `json:"id"   validate:"required"`
	Type StepType `json:"type" validate:"required,oneof=message delay condition"`

	Message   *MessageStep   `json:"-"`
	Delay     *DelayStep     `json:"-"`
	Condition *ConditionStep `json:"-"`
}

type stepEnvelope struct {
	ID     string          `json:"id"`
	Type   StepType        `json:"type"`
	Config json.RawMessage `json:"config"`
}

// UnmarshalJSON decodes the step envelope and its type-specific config.
func (s *Step) UnmarshalJSON(data []byte) error {
	var env stepEnvelope

	err := json.Unmarshal(data, &env)
	if err != nil {
		return err
	}

	s.ID = env.ID
	s.Type = env.Type
	s.Message = nil
	s.Delay = nil
	s.Condition = nil

	if len(env.Config) == 0 {
		return fmt.Errorf("step %q: missing config", env.ID)
	}

	switch env.Type {
	case StepTypeMessage:
		s.Message = &MessageStep{}

		return json.Unmarshal(env.Config, s.Message)
	case StepTypeDelay:
		s.Delay = &DelayStep{}

		return json.Unmarshal(env.Config, s.Delay)
	case StepTypeCondition:
		s.Condition = &ConditionStep{}

		return json.Unmarshal(env.Config, s.Condition)
	default:
		return fmt.Errorf("step %q: unknown step type %q", env.ID, env.Type)
	}
}

// MarshalJSON encodes the step as an envelope with a type-specific config.
func (s Step) MarshalJSON() ([]byte, error) {
	var config any

	switch s.Type {
	case StepTypeMessage:
		config = s.Message
	case StepTypeDelay:
		config = s.Delay
	case StepTypeCondition:
		config = s.Condition
	default:
		return nil, fmt.Errorf("step %q: unknown step type %q", s.ID, s.Type)
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}

	return json.Marshal(stepEnvelope{ID: s.ID, Type: s.Type, Config: raw})
}

// MessageStepOf builds a message step.
func MessageStepOf(id string, channel Channel, templateID, from string, tokens ...string) Step {
	return Step{
		ID:   id,
		Type: StepTypeMessage,
		Message: &MessageStep{
			Channel:      channel,
			TemplateID:   templateID,
			FromIdentity: from,
			Tokens:       tokens,
		},
	}
}

// DelayStepOf builds a delay step.
func DelayStepOf(id string, duration int64, unit DelayUnit) Step {
	return Step{
		ID:    id,
		Type:  StepTypeDelay,
		Delay: &DelayStep{Duration: duration, Unit: unit},
	}
}

// ConditionStepOf builds a condition step.
func ConditionStepOf(id, field string, operator ConditionOperator, value any, truePath, falsePath []string) Step {
	return Step{
		ID:   id,
		Type: StepTypeCondition,
		Condition: &ConditionStep{
			Field:     field,
			Operator:  operator,
			Value:     value,
			TruePath:  truePath,
			FalsePath: falsePath,
		},
	}
}
