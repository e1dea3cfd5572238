// Package web provides the HTTP handlers for the messaging engine admin API.
package web

import "github.com/dealdrip/dealdrip/pkg/models"

// CreateFlowRequest is the request body for creating a flow.
type CreateFlowRequest struct {
	Name    string             `json:"name"    validate:"required,min=3"`
	Trigger models.TriggerSpec `json:"trigger" validate:"required"`
	Steps   []models.Step      `json:"steps"   validate:"required,min=1"`
}

// UpdateFlowRequest is the request body for saving a new flow revision.
// Version carries the revision the editor was looking at; a mismatch with the
// stored flow rejects the edit.
type UpdateFlowRequest struct {
	Name    string             `json:"name"    validate:"required,min=3"`
	Trigger models.TriggerSpec `json:"trigger" validate:"required"`
	Steps   []models.Step      `json:"steps"   validate:"required,min=1"`
	Version int                `json:"version"`
}

// ToggleFlowRequest is the request body for activating or deactivating a flow.
type ToggleFlowRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SaveTemplateRequest is the request body for creating or updating a template.
type SaveTemplateRequest struct {
	ID      string         `json:"id,omitempty"`
	Name    string         `json:"name"    validate:"required,min=1"`
	Channel models.Channel `json:"channel" validate:"required"`
	Subject string         `json:"subject,omitempty"`
	Body    string         `json:"body"    validate:"required"`
}

// CancelRunRequest is the request body for cancelling a run.
type CancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SetChannelRequest is the request body for flipping a channel kill switch.
type SetChannelRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// RunResponse is a run with its delivery attempts.
type RunResponse struct {
	Run      *models.Run               `json:"run"`
	Attempts []*models.DeliveryAttempt `json:"attempts"`
}
