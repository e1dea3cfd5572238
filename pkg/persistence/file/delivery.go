package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// AttemptRepository is the append-only delivery attempt log under attempts/.
type AttemptRepository struct {
	root string
	mu   sync.RWMutex
}

func NewAttemptRepository(root string) *AttemptRepository {
	return &AttemptRepository{root: root}
}

func (r *AttemptRepository) dir() string {
	return filepath.Join(r.root, "attempts")
}

// Append stores the attempt keyed by its idempotency key, so a replayed
// step after a crash never doubles an attempt row.
func (r *AttemptRepository) Append(_ context.Context, attempt *models.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := attempt.IdempotencyKey()

	if _, err := os.Stat(filepath.Join(r.dir(), key+".json")); err == nil {
		return nil
	}

	err := writeJSON(r.dir(), key, attempt)
	if err != nil {
		return persistence.NewStoreError("Append", "attempt", attempt.ID, err)
	}

	return nil
}

func (r *AttemptRepository) List(_ context.Context) ([]*models.DeliveryAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, err := listJSON(r.dir())
	if err != nil {
		return nil, err
	}

	attempts := make([]*models.DeliveryAttempt, 0, len(names))

	for _, name := range names {
		attempt := &models.DeliveryAttempt{}

		err := readJSON(r.dir(), name, attempt)
		if err != nil {
			return nil, fmt.Errorf("failed to load attempt %s: %w", name, err)
		}

		attempts = append(attempts, attempt)
	}

	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].Timestamp.Before(attempts[j].Timestamp)
	})

	return attempts, nil
}

func (r *AttemptRepository) ListByRun(ctx context.Context, runID string) ([]*models.DeliveryAttempt, error) {
	attempts, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.DeliveryAttempt, 0)

	for _, attempt := range attempts {
		if attempt.RunID == runID {
			matched = append(matched, attempt)
		}
	}

	return matched, nil
}

// EngagementRepository is the append-only open/click log under engagements/.
type EngagementRepository struct {
	root string
	mu   sync.RWMutex
}

func NewEngagementRepository(root string) *EngagementRepository {
	return &EngagementRepository{root: root}
}

func (r *EngagementRepository) dir() string {
	return filepath.Join(r.root, "engagements")
}

func (r *EngagementRepository) Append(_ context.Context, event *models.EngagementEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := writeJSON(r.dir(), event.ID, event)
	if err != nil {
		return persistence.NewStoreError("Append", "engagement", event.ID, err)
	}

	return nil
}

func (r *EngagementRepository) List(_ context.Context) ([]*models.EngagementEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, err := listJSON(r.dir())
	if err != nil {
		return nil, err
	}

	events := make([]*models.EngagementEvent, 0, len(names))

	for _, name := range names {
		event := &models.EngagementEvent{}

		err := readJSON(r.dir(), name, event)
		if err != nil {
			return nil, fmt.Errorf("failed to load engagement %s: %w", name, err)
		}

		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events, nil
}
