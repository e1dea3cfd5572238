package models

import (
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusWaiting   RunStatus = "waiting"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Run is one execution instance of a flow for one recipient. The flow version
// is pinned at creation so later flow edits never touch an in-flight run. The
// scheduler owns the run exclusively once it is created; no other component
// mutates its queue or status.
type Run struct {
	ID          string    `json:"id"`
	FlowID      string    `json:"flow_id"`
	FlowVersion int       `json:"flow_version"`
	RecipientID string    `json:"recipient_id"`

	// Context is the recipient attribute snapshot read at trigger time
	// (country, saved deal, email address per channel, ...).
	Context map[string]any `json:"context,omitempty"`

	// Queue holds the IDs of the steps still to execute, head first. A
	// condition step replaces the remaining queue with its chosen path. An
	// empty queue means the run reached the end of the graph.
	Queue []string `json:"queue"`

	Status    RunStatus  `json:"status"`
	WakeAt    *time.Time `json:"wake_at,omitempty"`
	Attempts  int        `json:"attempts"`
	StepsRun  int        `json:"steps_run"`
	LastError string     `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewRun creates a pending run for the given flow revision and recipient.
func NewRun(id string, flow *FlowDefinition, recipientID string, context map[string]any) *Run {
	now := time.Now().UTC()

	if context == nil {
		context = make(map[string]any)
	}

	return &Run{
		ID:          id,
		FlowID:      flow.ID,
		FlowVersion: flow.Version,
		RecipientID: recipientID,
		Context:     context,
		Queue:       flow.EntrySequence(),
		Status:      RunStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CurrentStepID returns the step at the head of the queue, or "" when the run
// has no steps left.
func (r *Run) CurrentStepID() string {
	if len(r.Queue) == 0 {
		return ""
	}

	return r.Queue[0]
}

// Advance pops the current step off the queue and resets the per-step attempt
// counter.
func (r *Run) Advance() {
	if len(r.Queue) > 0 {
		r.Queue = r.Queue[1:]
		r.StepsRun++
	}

	r.Attempts = 0
	r.UpdatedAt = time.Now().UTC()
}

// Branch replaces the remaining queue with the chosen condition path. The
// condition step itself counts as executed.
func (r *Run) Branch(path []string) {
	r.Queue = append([]string(nil), path...)
	r.Attempts = 0
	r.StepsRun++
	r.UpdatedAt = time.Now().UTC()
}

// Transition moves the run to the given status, clearing the wake time unless
// the run is waiting.
func (r *Run) Transition(status RunStatus) {
	r.Status = status
	if status != RunStatusWaiting {
		r.WakeAt = nil
	}

	r.UpdatedAt = time.Now().UTC()
}

// Sleep puts the run into waiting until wakeAt.
func (r *Run) Sleep(wakeAt time.Time) {
	r.Status = RunStatusWaiting
	r.WakeAt = &wakeAt
	r.UpdatedAt = time.Now().UTC()
}

// Fail marks the run failed with its last error reason.
func (r *Run) Fail(reason string) {
	r.LastError = reason
	r.Transition(RunStatusFailed)
}
