package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/dealdrip/dealdrip/pkg/audit"
	"github.com/dealdrip/dealdrip/pkg/channels"
	"github.com/dealdrip/dealdrip/pkg/eventbus"
	"github.com/dealdrip/dealdrip/pkg/events"
	"github.com/dealdrip/dealdrip/pkg/metrics"
	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/services"
)

// RunCanceller terminates a single run. The scheduler satisfies it.
type RunCanceller interface {
	Cancel(ctx context.Context, runID, reason string) error
}

type APIHandlers struct {
	flowService     *services.Flow
	templateService *services.Template
	runService      *services.Run
	validator       *validator.Validate
	publisher       eventbus.EventPublisher
	aggregator      *metrics.Aggregator
	auditSink       *audit.Sink
	switchboard     *channels.Switchboard
	canceller       RunCanceller
}

func NewAPIHandlers(
	flowService *services.Flow,
	templateService *services.Template,
	runService *services.Run,
	validator *validator.Validate,
	publisher eventbus.EventPublisher,
	aggregator *metrics.Aggregator,
	auditSink *audit.Sink,
	switchboard *channels.Switchboard,
	canceller RunCanceller,
) *APIHandlers {
	return &APIHandlers{
		flowService:     flowService,
		templateService: templateService,
		runService:      runService,
		validator:       validator,
		publisher:       publisher,
		aggregator:      aggregator,
		auditSink:       auditSink,
		switchboard:     switchboard,
		canceller:       canceller,
	}
}

// Register mounts every route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	f := app.Group("/flows")
	f.Get("/", h.GetFlows)
	f.Post("/", h.CreateFlow)
	f.Get("/:id", h.GetFlow)
	f.Put("/:id", h.UpdateFlow)
	f.Patch("/:id/toggle", h.ToggleFlow)
	f.Delete("/:id", h.DeleteFlow)

	t := app.Group("/templates")
	t.Get("/", h.GetTemplates)
	t.Post("/", h.SaveTemplate)
	t.Get("/:id", h.GetTemplate)
	t.Get("/:id/tokens", h.GetTemplateTokens)

	app.Post("/events", h.EmitEvent)

	r := app.Group("/runs")
	r.Get("/", h.GetRuns)
	r.Get("/:id", h.GetRun)
	r.Post("/:id/cancel", h.CancelRun)

	m := app.Group("/stats")
	m.Get("/global", h.GetGlobalStats)
	m.Get("/flows/:id", h.GetFlowStats)
	m.Get("/flows/:id/steps/:stepId", h.GetStepStats)
	m.Get("/channels/:channel", h.GetChannelStats)

	app.Get("/audit/export", h.ExportAudit)

	c := app.Group("/channels")
	c.Get("/", h.GetChannels)
	c.Put("/:channel", h.SetChannel)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.flowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.flowService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows})
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow := &models.FlowDefinition{
		Name:    req.Name,
		Trigger: req.Trigger,
		Steps:   req.Steps,
	}

	created, err := h.flowService.Create(c.Context(), flow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow := &models.FlowDefinition{
		Name:    req.Name,
		Trigger: req.Trigger,
		Steps:   req.Steps,
		Version: req.Version,
	}

	updated, err := h.flowService.Update(c.Context(), id, flow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ToggleFlow(c fiber.Ctx) error {
	var req ToggleFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flowService.Toggle(c.Context(), c.Params("id"), *req.Active)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	err := h.flowService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates, err := h.templateService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"templates": templates})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	tmpl, err := h.templateService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tmpl)
}

func (h *APIHandlers) GetTemplateTokens(c fiber.Ctx) error {
	tokens, err := h.templateService.Tokens(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"tokens": tokens})
}

func (h *APIHandlers) SaveTemplate(c fiber.Ctx) error {
	var req SaveTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	saved, err := h.templateService.Save(c.Context(), &models.MessageTemplate{
		ID:      req.ID,
		Name:    req.Name,
		Channel: req.Channel,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(saved)
}

// EmitEvent accepts a trigger event from the platform, validates it and hands
// it to the engine through the event bus. Run creation is asynchronous.
func (h *APIHandlers) EmitEvent(c fiber.Ctx) error {
	var event events.TriggerEvent
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := event.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.publisher.Publish(c.Context(), event.ID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event_id": event.ID})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	runs, err := h.runService.List(c.Context(), c.Query("flow_id"), c.Query("status"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, attempts, err := h.runService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(RunResponse{Run: run, Attempts: attempts})
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	var req CancelRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	reason := req.Reason
	if reason == "" {
		reason = "cancelled via API"
	}

	if err := h.canceller.Cancel(c.Context(), c.Params("id"), reason); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetGlobalStats(c fiber.Ctx) error {
	return c.JSON(h.aggregator.GlobalSnapshot())
}

func (h *APIHandlers) GetFlowStats(c fiber.Ctx) error {
	return c.JSON(h.aggregator.FlowSnapshot(c.Params("id")))
}

func (h *APIHandlers) GetStepStats(c fiber.Ctx) error {
	return c.JSON(h.aggregator.StepSnapshot(c.Params("id"), c.Params("stepId")))
}

func (h *APIHandlers) GetChannelStats(c fiber.Ctx) error {
	channel := models.Channel(c.Params("channel"))
	if !channel.Valid() {
		return badRequest(c, "Unknown channel")
	}

	return c.JSON(h.aggregator.ChannelSnapshot(channel))
}

func (h *APIHandlers) ExportAudit(c fiber.Ctx) error {
	records, err := h.auditSink.Export(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"records": records})
}

func (h *APIHandlers) GetChannels(c fiber.Ctx) error {
	state := make(map[string]bool, len(models.AllChannels()))
	for _, channel := range models.AllChannels() {
		state[string(channel)] = h.switchboard.Enabled(channel)
	}

	return c.JSON(fiber.Map{"channels": state})
}

func (h *APIHandlers) SetChannel(c fiber.Ctx) error {
	channel := models.Channel(c.Params("channel"))
	if !channel.Valid() {
		return badRequest(c, "Unknown channel")
	}

	var req SetChannelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	h.switchboard.SetEnabled(channel, *req.Enabled)

	// Workers hold their own switchboards, so the toggle travels the bus too.
	toggled := events.ChannelToggled{
		BaseEvent: events.NewBaseEvent(events.ChannelToggledEvent, ""),
		Channel:   channel,
		Enabled:   *req.Enabled,
	}
	if err := h.publisher.Publish(c.Context(), string(channel), toggled); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"channel": channel, "enabled": *req.Enabled})
}
