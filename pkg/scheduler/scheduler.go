// Package scheduler executes runs: it walks the step queue, delivers messages
// with retry and backoff, parks runs on delay steps and branches on
// conditions. A run is owned exclusively by the scheduler once created.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dealdrip/dealdrip/pkg/audit"
	"github.com/dealdrip/dealdrip/pkg/channels"
	"github.com/dealdrip/dealdrip/pkg/eventbus"
	"github.com/dealdrip/dealdrip/pkg/events"
	"github.com/dealdrip/dealdrip/pkg/metrics"
	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/otelhelper"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// Config tunes the scheduler. Zero values take the defaults.
type Config struct {
	WorkerID    string
	Workers     int           // concurrent run executors, default 10
	QueueSize   int           // execution queue buffer, default 256
	MaxAttempts int           // per message step, default 3
	RetryBase   time.Duration // first backoff interval, default 30s
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = "scheduler-" + uuid.New().String()[:8]
	}

	if c.Workers <= 0 {
		c.Workers = 10
	}

	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}

	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}

	return c
}

type Scheduler struct {
	cfg           Config
	persistence   persistence.Persistence
	registry      *channels.Registry
	aggregator    *metrics.Aggregator
	audit         *audit.Sink
	publisher     eventbus.EventPublisher
	contextReader ContextReader
	clock         clockwork.Clock
	tracer        trace.Tracer
	logger        *slog.Logger

	queue chan string
	waker *Waker
	locks *runLocks

	// cancelRequests holds cancellations deposited while the run was mid-step.
	// The executor consumes them at step boundaries.
	cancelMu       sync.Mutex
	cancelRequests map[string]string

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewScheduler(cfg Config, p persistence.Persistence, registry *channels.Registry, aggregator *metrics.Aggregator, sink *audit.Sink, publisher eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	cfg = cfg.withDefaults()

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Scheduler{
		cfg:            cfg,
		persistence:    p,
		registry:       registry,
		aggregator:     aggregator,
		audit:          sink,
		publisher:      publisher,
		clock:          clock,
		tracer:         otel.Tracer("dealdrip.scheduler"),
		logger:         logger.With("module", "scheduler", "worker_id", cfg.WorkerID),
		queue:          make(chan string, cfg.QueueSize),
		locks:          newRunLocks(),
		cancelRequests: make(map[string]string),
		stop:           make(chan struct{}),
	}

	s.waker = NewWaker(clock, s.Enqueue)

	return s
}

// SetContextReader installs the live attribute lookup used by condition steps.
func (s *Scheduler) SetContextReader(reader ContextReader) {
	s.contextReader = reader
}

// Start launches the workers and the wake timer, then recovers persisted work:
// pending and running runs are re-enqueued, waiting runs re-armed on the
// timer. Overdue wake times fire immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.waker.Start()

	for range s.cfg.Workers {
		s.wg.Add(1)

		go s.worker(ctx)
	}

	err := s.recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover persisted runs: %w", err)
	}

	s.logger.InfoContext(ctx, "Scheduler started", "workers", s.cfg.Workers)

	return nil
}

// Stop drains the workers and halts the wake timer.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	s.waker.Stop()
	s.wg.Wait()

	s.logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}

// Enqueue hands a run to the execution queue. Safe from any goroutine.
func (s *Scheduler) Enqueue(runID string) {
	select {
	case s.queue <- runID:
	case <-s.stop:
	}
}

func (s *Scheduler) recover(ctx context.Context) error {
	for _, status := range []models.RunStatus{models.RunStatusPending, models.RunStatusRunning} {
		runs, err := s.persistence.Runs().ListByStatus(ctx, status)
		if err != nil {
			return err
		}

		for _, run := range runs {
			s.logger.InfoContext(ctx, "Recovered interrupted run", "run_id", run.ID, "status", status)
			s.Enqueue(run.ID)
		}
	}

	// Overdue runs go straight onto the queue; the rest re-arm the timer.
	due, err := s.persistence.Runs().ListDue(ctx, s.clock.Now().UTC())
	if err != nil {
		return err
	}

	overdue := make(map[string]bool, len(due))

	for _, run := range due {
		overdue[run.ID] = true

		s.logger.InfoContext(ctx, "Recovered overdue run", "run_id", run.ID, "wake_at", run.WakeAt)
		s.Enqueue(run.ID)
	}

	waiting, err := s.persistence.Runs().ListByStatus(ctx, models.RunStatusWaiting)
	if err != nil {
		return err
	}

	for _, run := range waiting {
		if overdue[run.ID] {
			continue
		}

		if run.WakeAt == nil {
			s.Enqueue(run.ID)

			continue
		}

		s.waker.Schedule(run.ID, *run.WakeAt)
	}

	return nil
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case runID := <-s.queue:
			s.executeRun(ctx, runID)
		}
	}
}

// executeRun drives one run forward until it completes, fails, parks on a
// delay or the context is cancelled. Interrupted runs stay in running state
// and are re-enqueued on the next start.
func (s *Scheduler) executeRun(ctx context.Context, runID string) {
	unlock := s.locks.acquire(runID)
	defer unlock()

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.execute_run",
		attribute.String(otelhelper.RunIDKey, runID))
	defer span.End()

	run, err := s.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load run", "run_id", runID, "error", err)

		return
	}

	if run.Status.Terminal() {
		s.takeCancelRequest(runID)

		return
	}

	if reason, pending := s.takeCancelRequest(runID); pending {
		s.cancelRun(ctx, run, reason)

		return
	}

	if run.Status == models.RunStatusWaiting {
		if run.WakeAt != nil && run.WakeAt.After(s.clock.Now()) {
			s.waker.Schedule(run.ID, *run.WakeAt)

			return
		}
	}

	flow, err := s.persistence.Flows().GetVersion(ctx, run.FlowID, run.FlowVersion)
	if err != nil {
		s.failRun(ctx, run, "", fmt.Sprintf("flow revision %s v%d unavailable: %v", run.FlowID, run.FlowVersion, err))

		return
	}

	run.Transition(models.RunStatusRunning)

	if err := s.persistence.Runs().Save(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist run transition", "run_id", run.ID, "error", err)

		return
	}

	logger := s.logger.With("run_id", run.ID, "flow_id", flow.ID, "flow_version", flow.Version)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		if reason, pending := s.takeCancelRequest(run.ID); pending {
			s.cancelRun(ctx, run, reason)

			return
		}

		stepID := run.CurrentStepID()
		if stepID == "" {
			s.completeRun(ctx, run, logger)

			return
		}

		step, ok := flow.StepByID(stepID)
		if !ok {
			s.failRun(ctx, run, stepID, fmt.Sprintf("step %q not found in flow revision", stepID))

			return
		}

		switch step.Type {
		case models.StepTypeMessage:
			err := s.executeMessageStep(ctx, run, flow, step, logger)
			if err != nil {
				s.failRun(ctx, run, step.ID, err.Error())

				return
			}

			run.Advance()

		case models.StepTypeDelay:
			run.Advance()

			wakeAt := s.clock.Now().UTC().Add(step.Delay.Wait())
			run.Sleep(wakeAt)

			if err := s.persistence.Runs().Save(ctx, run); err != nil {
				logger.ErrorContext(ctx, "Failed to park run", "error", err)

				return
			}

			s.waker.Schedule(run.ID, wakeAt)
			logger.InfoContext(ctx, "Run parked on delay", "step_id", step.ID, "wake_at", wakeAt)

			return

		case models.StepTypeCondition:
			s.executeConditionStep(ctx, run, step, logger)
		}

		if err := s.persistence.Runs().Save(ctx, run); err != nil {
			logger.ErrorContext(ctx, "Failed to persist run progress", "error", err)

			return
		}
	}
}

func (s *Scheduler) completeRun(ctx context.Context, run *models.Run, logger *slog.Logger) {
	run.Transition(models.RunStatusCompleted)

	if err := s.persistence.Runs().Save(ctx, run); err != nil {
		logger.ErrorContext(ctx, "Failed to persist completed run", "error", err)

		return
	}

	logger.InfoContext(ctx, "Run completed")

	s.publish(ctx, run.FlowID, events.RunCompleted{
		BaseEvent: s.baseEvent(events.RunCompletedEvent, run.FlowID),
		RunID:     run.ID,
		Duration:  s.clock.Now().UTC().Sub(run.CreatedAt),
		StepsRun:  run.StepsRun,
	})
}

func (s *Scheduler) failRun(ctx context.Context, run *models.Run, stepID, reason string) {
	run.Fail(reason)

	if err := s.persistence.Runs().Save(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist failed run", "run_id", run.ID, "error", err)
	}

	s.logger.WarnContext(ctx, "Run failed", "run_id", run.ID, "step_id", stepID, "reason", reason)

	otelhelper.SetError(trace.SpanFromContext(ctx), errors.New(reason),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.StepIDKey, stepID))

	s.publish(ctx, run.FlowID, events.RunFailed{
		BaseEvent: s.baseEvent(events.RunFailedEvent, run.FlowID),
		RunID:     run.ID,
		StepID:    stepID,
		Error:     reason,
	})
}

// executeMessageStep renders and delivers one message with retry. Render and
// address failures are fatal before any send happens, so no delivery attempt
// is logged for them. Send failures log a zero-cost attempt each; retryable
// ones back off and try again within the attempt budget.
func (s *Scheduler) executeMessageStep(ctx context.Context, run *models.Run, flow *models.FlowDefinition, step *models.Step, logger *slog.Logger) error {
	msg := step.Message

	tmpl, err := s.persistence.Templates().GetByID(ctx, msg.TemplateID)
	if err != nil {
		return fmt.Errorf("template %s unavailable: %w", msg.TemplateID, err)
	}

	adapter, err := s.registry.For(msg.Channel)
	if err != nil {
		return err
	}

	// A step that declares its tokens exposes only those to the template;
	// anything else in the snapshot renders as a placeholder.
	renderContext := run.Context
	if len(msg.Tokens) > 0 {
		renderContext = make(map[string]any, len(msg.Tokens))

		for _, token := range msg.Tokens {
			if value, found := run.Context[token]; found {
				renderContext[token] = value
			}
		}
	}

	rendered, err := adapter.Render(tmpl, renderContext)
	if err != nil {
		return err
	}

	for _, warning := range rendered.Warnings {
		logger.WarnContext(ctx, "Template rendered with placeholder", "step_id", step.ID, "warning", warning)
	}

	to, err := adapter.Address(run.Context)
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryBase
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	policy.Reset()

	for {
		run.Attempts++
		attemptNumber := run.Attempts

		receipt, sendErr := adapter.Send(ctx, rendered.Output, msg.FromIdentity, to)
		if sendErr == nil {
			s.recordAttempt(ctx, &models.DeliveryAttempt{
				ID:            uuid.New().String(),
				RunID:         run.ID,
				FlowID:        flow.ID,
				StepID:        step.ID,
				Channel:       msg.Channel,
				Recipient:     run.RecipientID,
				AttemptNumber: attemptNumber,
				Outcome:       models.OutcomeSent,
				Cost:          receipt.Cost,
				Timestamp:     receipt.SentAt,
			})

			s.publish(ctx, flow.ID, events.MessageSent{
				BaseEvent:     s.baseEvent(events.MessageSentEvent, flow.ID),
				RunID:         run.ID,
				StepID:        step.ID,
				Channel:       msg.Channel,
				AttemptNumber: attemptNumber,
				Cost:          receipt.Cost,
			})

			return nil
		}

		retryable := channels.Retryable(sendErr)

		s.recordAttempt(ctx, &models.DeliveryAttempt{
			ID:            uuid.New().String(),
			RunID:         run.ID,
			FlowID:        flow.ID,
			StepID:        step.ID,
			Channel:       msg.Channel,
			Recipient:     run.RecipientID,
			AttemptNumber: attemptNumber,
			Outcome:       models.OutcomeFailed,
			Error:         sendErr.Error(),
			Timestamp:     s.clock.Now().UTC(),
		})

		s.publish(ctx, flow.ID, events.MessageFailed{
			BaseEvent:     s.baseEvent(events.MessageFailedEvent, flow.ID),
			RunID:         run.ID,
			StepID:        step.ID,
			Channel:       msg.Channel,
			AttemptNumber: attemptNumber,
			Error:         sendErr.Error(),
			Retryable:     retryable,
		})

		if !retryable {
			return sendErr
		}

		if attemptNumber >= s.cfg.MaxAttempts {
			return fmt.Errorf("retry budget exhausted after %d attempts: %w", attemptNumber, sendErr)
		}

		// Persist the attempt counter so a crash mid-backoff resumes at the
		// right attempt number.
		if err := s.persistence.Runs().Save(ctx, run); err != nil {
			logger.ErrorContext(ctx, "Failed to persist attempt counter", "error", err)
		}

		wait := policy.NextBackOff()

		logger.InfoContext(ctx, "Retrying message step",
			"step_id", step.ID, "attempt", attemptNumber, "backoff", wait, "error", sendErr)

		select {
		case <-s.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return errors.New("scheduler stopping")
		}
	}
}

// executeConditionStep branches the run. Evaluation errors take the false
// path rather than failing the run.
func (s *Scheduler) executeConditionStep(ctx context.Context, run *models.Run, step *models.Step, logger *slog.Logger) {
	cond := step.Condition

	value, ok := run.Context[cond.Field]

	if s.contextReader != nil {
		if live, found := s.contextReader.Read(ctx, run.RecipientID, cond.Field); found {
			value = live
			ok = true

			// Runs restored from storage may carry no context snapshot.
			if run.Context == nil {
				run.Context = make(map[string]any)
			}

			run.Context[cond.Field] = live
		}
	}

	if !ok {
		logger.WarnContext(ctx, "Condition field absent, taking false path",
			"step_id", step.ID, "field", cond.Field)
	}

	matched, err := evaluateCondition(cond, value)
	if err != nil {
		logger.WarnContext(ctx, "Condition evaluation failed, taking false path",
			"step_id", step.ID, "field", cond.Field, "error", err)

		matched = false
	}

	path := cond.FalsePath
	if matched {
		path = cond.TruePath
	}

	logger.InfoContext(ctx, "Condition evaluated",
		"step_id", step.ID, "field", cond.Field, "matched", matched, "path_len", len(path))

	run.Branch(path)
}

// Cancel terminates one run cooperatively without waiting for an in-flight
// step. An idle run is cancelled immediately; a run mid-execution gets the
// request deposited and the executor honours it at the next step boundary.
// Terminal runs are left untouched.
func (s *Scheduler) Cancel(ctx context.Context, runID, reason string) error {
	unlock, held := s.locks.tryAcquire(runID)
	if !held {
		s.requestCancel(runID, reason)
		s.logger.InfoContext(ctx, "Run cancellation deferred to step boundary",
			"run_id", runID, "reason", reason)

		return nil
	}

	defer unlock()

	run, err := s.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.Terminal() {
		return nil
	}

	s.cancelRun(ctx, run, reason)

	return nil
}

func (s *Scheduler) cancelRun(ctx context.Context, run *models.Run, reason string) {
	run.Transition(models.RunStatusCancelled)

	if err := s.persistence.Runs().Save(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist cancelled run", "run_id", run.ID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Run cancelled", "run_id", run.ID, "reason", reason)

	s.publish(ctx, run.FlowID, events.RunCancelled{
		BaseEvent: s.baseEvent(events.RunCancelledEvent, run.FlowID),
		RunID:     run.ID,
		Reason:    reason,
	})
}

func (s *Scheduler) requestCancel(runID, reason string) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	s.cancelRequests[runID] = reason
}

func (s *Scheduler) takeCancelRequest(runID string) (string, bool) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	reason, ok := s.cancelRequests[runID]
	if ok {
		delete(s.cancelRequests, runID)
	}

	return reason, ok
}

// CancelFlow cancels every non-terminal run of a flow.
func (s *Scheduler) CancelFlow(ctx context.Context, flowID, reason string) (int, error) {
	runs, err := s.persistence.Runs().ListByFlow(ctx, flowID, "")
	if err != nil {
		return 0, err
	}

	cancelled := 0

	for _, run := range runs {
		if run.Status.Terminal() {
			continue
		}

		if err := s.Cancel(ctx, run.ID, reason); err != nil {
			return cancelled, err
		}

		cancelled++
	}

	return cancelled, nil
}

// recordAttempt appends the attempt to the audit log and folds it into the
// metrics counters.
func (s *Scheduler) recordAttempt(ctx context.Context, attempt *models.DeliveryAttempt) {
	if err := s.audit.Record(ctx, attempt); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record delivery attempt",
			"run_id", attempt.RunID, "error", err)
	}

	s.aggregator.RecordAttempt(attempt)
}

func (s *Scheduler) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (s *Scheduler) baseEvent(eventType events.EventType, flowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, flowID)
	base.WorkerID = s.cfg.WorkerID

	return base
}
