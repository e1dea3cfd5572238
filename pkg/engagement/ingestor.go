// Package engagement consumes provider callbacks (delivery receipts, opens,
// clicks) from a Redis queue and folds them into the engagement log and the
// metrics counters.
package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/dealdrip/dealdrip/pkg/eventbus"
	"github.com/dealdrip/dealdrip/pkg/events"
	"github.com/dealdrip/dealdrip/pkg/metrics"
	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

const DefaultQueue = "dealdrip:engagement"

// payload is the JSON document providers push onto the queue.
type payload struct {
	RunID     string         `json:"run_id"`
	FlowID    string         `json:"flow_id,omitempty"`
	Channel   models.Channel `json:"channel,omitempty"`
	Kind      string         `json:"kind"` // delivered, bounced, opened, clicked
	Timestamp time.Time      `json:"timestamp"`
}

// Ingestor pops engagement callbacks off a Redis list. Payloads that omit the
// flow or channel are resolved through the run's delivery attempts.
type Ingestor struct {
	Queue      string
	Connection map[string]string

	client      redis.UniversalClient
	persistence persistence.Persistence
	aggregator  *metrics.Aggregator
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewIngestor(queue string, connection map[string]string, p persistence.Persistence, aggregator *metrics.Aggregator, publisher eventbus.EventPublisher, logger *slog.Logger) *Ingestor {
	if queue == "" {
		queue = DefaultQueue
	}

	return &Ingestor{
		Queue:       queue,
		Connection:  connection,
		persistence: p,
		aggregator:  aggregator,
		publisher:   publisher,
		stopCh:      make(chan struct{}),
		logger:      logger.With("module", "engagement", "queue", queue),
	}
}

func (i *Ingestor) Start(ctx context.Context) error {
	err := i.initializeClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize engagement client: %w", err)
	}

	i.wg.Add(1)

	go i.consume(ctx)

	return nil
}

func (i *Ingestor) initializeClient(ctx context.Context) error {
	addr := i.Connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	i.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: i.Connection["password"],
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := i.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	i.logger.InfoContext(ctx, "Connected to Redis", "addr", addr)

	return nil
}

func (i *Ingestor) consume(ctx context.Context) {
	defer i.wg.Done()

	i.logger.InfoContext(ctx, "Starting engagement consumer")

	for {
		select {
		case <-i.stopCh:
			i.logger.InfoContext(ctx, "Engagement consumer stopped")

			return
		case <-ctx.Done():
			return
		default:
			err := i.processMessage(ctx)
			if err != nil {
				i.logger.ErrorContext(ctx, "Error processing engagement callback", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (i *Ingestor) processMessage(ctx context.Context) error {
	result, err := i.client.BLPop(ctx, 1*time.Second, i.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop engagement callback: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var p payload
	if err := json.Unmarshal([]byte(result[1]), &p); err != nil {
		i.logger.WarnContext(ctx, "Dropping malformed engagement payload", "payload", result[1])

		return nil
	}

	return i.Ingest(ctx, p.RunID, p.FlowID, p.Channel, p.Kind, p.Timestamp)
}

// Ingest applies one callback. Delivery receipts append to the attempt log;
// opens and clicks append to the engagement log. Unknown kinds are dropped.
func (i *Ingestor) Ingest(ctx context.Context, runID, flowID string, channel models.Channel, kind string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if flowID == "" || channel == "" {
		resolvedFlow, resolvedChannel, err := i.resolve(ctx, runID)
		if err != nil {
			return err
		}

		if flowID == "" {
			flowID = resolvedFlow
		}

		if channel == "" {
			channel = resolvedChannel
		}
	}

	switch kind {
	case string(models.OutcomeDelivered), string(models.OutcomeBounced):
		attempt := &models.DeliveryAttempt{
			ID:        uuid.New().String(),
			RunID:     runID,
			FlowID:    flowID,
			Channel:   channel,
			Outcome:   models.AttemptOutcome(kind),
			Timestamp: at,
		}

		err := i.persistence.Attempts().Append(ctx, attempt)
		if err != nil {
			return fmt.Errorf("failed to append delivery receipt: %w", err)
		}

		i.aggregator.RecordAttempt(attempt)

	case string(models.EngagementOpened), string(models.EngagementClicked):
		event := &models.EngagementEvent{
			ID:        uuid.New().String(),
			RunID:     runID,
			FlowID:    flowID,
			Channel:   channel,
			Type:      models.EngagementType(kind),
			Timestamp: at,
		}

		err := i.persistence.Engagements().Append(ctx, event)
		if err != nil {
			return fmt.Errorf("failed to append engagement event: %w", err)
		}

		i.aggregator.RecordEngagement(event)
		i.publish(ctx, event)

	default:
		i.logger.WarnContext(ctx, "Dropping engagement callback of unknown kind",
			"run_id", runID, "kind", kind)
	}

	return nil
}

// resolve looks up the flow and channel of the run's last sent attempt.
func (i *Ingestor) resolve(ctx context.Context, runID string) (string, models.Channel, error) {
	attempts, err := i.persistence.Attempts().ListByRun(ctx, runID)
	if err != nil {
		return "", "", err
	}

	for idx := len(attempts) - 1; idx >= 0; idx-- {
		if attempts[idx].Outcome == models.OutcomeSent {
			return attempts[idx].FlowID, attempts[idx].Channel, nil
		}
	}

	return "", "", fmt.Errorf("no sent attempt found for run %s", runID)
}

func (i *Ingestor) publish(ctx context.Context, event *models.EngagementEvent) {
	if i.publisher == nil {
		return
	}

	recorded := events.EngagementRecorded{
		BaseEvent: events.NewBaseEvent(events.EngagementRecordedEvent, event.FlowID),
		RunID:     event.RunID,
		Channel:   event.Channel,
		Kind:      event.Type,
	}

	err := i.publisher.Publish(ctx, event.FlowID, recorded)
	if err != nil {
		i.logger.ErrorContext(ctx, "Failed to publish engagement event", "error", err)
	}
}

func (i *Ingestor) Stop(ctx context.Context) error {
	close(i.stopCh)
	i.wg.Wait()

	if i.client != nil {
		err := i.client.Close()
		if err != nil {
			i.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
