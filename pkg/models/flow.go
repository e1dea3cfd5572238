// Package models defines the core domain models for the messaging workflow engine.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// TriggerType names a domain event that can create runs.
type TriggerType string

const (
	TriggerUserSignup      TriggerType = "user_signup"
	TriggerDealSaved       TriggerType = "deal_saved"
	TriggerDealExpiring    TriggerType = "deal_expiring"
	TriggerInactiveUser    TriggerType = "inactive_user"
	TriggerCustomBroadcast TriggerType = "custom_broadcast"
)

// KnownTriggerType reports whether t is one of the supported trigger types.
func KnownTriggerType(t TriggerType) bool {
	switch t {
	case TriggerUserSignup, TriggerDealSaved, TriggerDealExpiring, TriggerInactiveUser, TriggerCustomBroadcast:
		return true
	default:
		return false
	}
}

// AudienceFilter selects the recipient set of a custom broadcast.
type AudienceFilter string

const (
	AudienceAll                AudienceFilter = "all"
	AudienceByCountry          AudienceFilter = "by_country"
	AudienceSavedDealFollowers AudienceFilter = "saved_deal_followers"
)

// TriggerSpec binds a flow to a trigger type plus type-specific conditions.
type TriggerSpec struct {
	Type             TriggerType    `json:"type"                         validate:"required"`
	DaysBeforeExpiry int            `json:"days_before_expiry,omitempty" validate:"gte=0"`
	IdleDays         int            `json:"idle_days,omitempty"          validate:"gte=0"`
	Audience         AudienceFilter `json:"audience,omitempty"`
	Country          string         `json:"country,omitempty"`
	DealID           string         `json:"deal_id,omitempty"`
}

// FlowDefinition is a versioned, trigger-bound graph of steps. A saved
// revision is immutable; edits produce a new version so in-flight runs keep
// executing the version they pinned at creation.
type FlowDefinition struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"    validate:"required,min=3"`
	Trigger   TriggerSpec `json:"trigger" validate:"required"`
	Steps     []Step      `json:"steps"`
	IsActive  bool        `json:"is_active"`
	Version   int         `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

var (
	ErrFlowNoSteps         = errors.New("flow must have at least one step before activation")
	ErrDuplicateStepID     = errors.New("step IDs must be unique within a flow")
	ErrDanglingStepRef     = errors.New("condition path references unknown step")
	ErrStepCycle           = errors.New("condition paths must not revisit a step")
	ErrUnknownTrigger      = errors.New("unknown trigger type")
	ErrConditionOnBranches = errors.New("condition step cannot appear inside its own path")
)

var validate = validator.New()

// Validate enforces the definition-time invariants: non-empty step list before
// activation, unique step IDs, resolvable condition paths, acyclic branch
// expansion and positive delay durations.
func (f *FlowDefinition) Validate() error {
	err := validate.Struct(f)
	if err != nil {
		return fmt.Errorf("flow %s: %w", f.ID, err)
	}

	if !KnownTriggerType(f.Trigger.Type) {
		return fmt.Errorf("flow %s: %w: %s", f.ID, ErrUnknownTrigger, f.Trigger.Type)
	}

	if f.IsActive && len(f.Steps) == 0 {
		return fmt.Errorf("flow %s: %w", f.ID, ErrFlowNoSteps)
	}

	byID := make(map[string]*Step, len(f.Steps))

	for i := range f.Steps {
		step := &f.Steps[i]
		if _, dup := byID[step.ID]; dup {
			return fmt.Errorf("flow %s: %w: %s", f.ID, ErrDuplicateStepID, step.ID)
		}

		byID[step.ID] = step

		err := f.validateStep(step)
		if err != nil {
			return fmt.Errorf("flow %s: %w", f.ID, err)
		}
	}

	for i := range f.Steps {
		step := &f.Steps[i]
		if step.Type != StepTypeCondition {
			continue
		}

		for _, path := range [][]string{step.Condition.TruePath, step.Condition.FalsePath} {
			err := f.walkPath(byID, path, map[string]bool{step.ID: true})
			if err != nil {
				return fmt.Errorf("flow %s: step %s: %w", f.ID, step.ID, err)
			}
		}
	}

	return nil
}

func (f *FlowDefinition) validateStep(step *Step) error {
	switch step.Type {
	case StepTypeMessage:
		if step.Message == nil {
			return fmt.Errorf("step %s: missing message config", step.ID)
		}

		if !step.Message.Channel.Valid() {
			return fmt.Errorf("step %s: invalid channel %q", step.ID, step.Message.Channel)
		}

		return validate.Struct(step.Message)
	case StepTypeDelay:
		if step.Delay == nil {
			return fmt.Errorf("step %s: missing delay config", step.ID)
		}

		return validate.Struct(step.Delay)
	case StepTypeCondition:
		if step.Condition == nil {
			return fmt.Errorf("step %s: missing condition config", step.ID)
		}

		return validate.Struct(step.Condition)
	default:
		return fmt.Errorf("step %s: unknown type %q", step.ID, step.Type)
	}
}

// walkPath checks that every step a path can reach exists and that no step is
// revisited along any branch expansion, which keeps the graph acyclic.
func (f *FlowDefinition) walkPath(byID map[string]*Step, path []string, seen map[string]bool) error {
	for _, id := range path {
		step, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDanglingStepRef, id)
		}

		if seen[id] {
			return fmt.Errorf("%w: %s", ErrStepCycle, id)
		}

		seen[id] = true

		if step.Type == StepTypeCondition {
			for _, branch := range [][]string{step.Condition.TruePath, step.Condition.FalsePath} {
				branchSeen := make(map[string]bool, len(seen))
				for k, v := range seen {
					branchSeen[k] = v
				}

				err := f.walkPath(byID, branch, branchSeen)
				if err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// StepByID returns the step with the given ID, if present.
func (f *FlowDefinition) StepByID(id string) (*Step, bool) {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i], true
		}
	}

	return nil, false
}

// StepIDs returns the IDs of the top-level step list, in execution order.
func (f *FlowDefinition) StepIDs() []string {
	ids := make([]string, 0, len(f.Steps))
	for i := range f.Steps {
		ids = append(ids, f.Steps[i].ID)
	}

	return ids
}

// EntrySequence returns the IDs of the steps that run in list order from the
// flow entry. Steps referenced by a condition path are excluded; they only
// execute when their branch is taken.
func (f *FlowDefinition) EntrySequence() []string {
	branchTargets := make(map[string]bool)

	for i := range f.Steps {
		step := &f.Steps[i]
		if step.Type != StepTypeCondition {
			continue
		}

		for _, path := range [][]string{step.Condition.TruePath, step.Condition.FalsePath} {
			for _, id := range path {
				branchTargets[id] = true
			}
		}
	}

	ids := make([]string, 0, len(f.Steps))

	for i := range f.Steps {
		if !branchTargets[f.Steps[i].ID] {
			ids = append(ids, f.Steps[i].ID)
		}
	}

	return ids
}
