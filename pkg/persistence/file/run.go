package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// RunRepository stores runs under runs/. Index scans load all documents; good
// enough for development volumes.
type RunRepository struct {
	root string
	mu   sync.RWMutex
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (r *RunRepository) dir() string {
	return filepath.Join(r.root, "runs")
}

func (r *RunRepository) Save(_ context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := writeJSON(r.dir(), run.ID, run)
	if err != nil {
		return persistence.NewStoreError("Save", "run", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run := &models.Run{}

	err := readJSON(r.dir(), id, run)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetByID", "run", id, persistence.ErrRunNotFound)
		}

		return nil, err
	}

	return run, nil
}

func (r *RunRepository) all() ([]*models.Run, error) {
	names, err := listJSON(r.dir())
	if err != nil {
		return nil, err
	}

	runs := make([]*models.Run, 0, len(names))

	for _, name := range names {
		run := &models.Run{}

		err := readJSON(r.dir(), name, run)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", name, err)
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	return runs, nil
}

func (r *RunRepository) ListByFlow(_ context.Context, flowID string, status models.RunStatus) ([]*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs, err := r.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Run, 0)

	for _, run := range runs {
		if run.FlowID != flowID {
			continue
		}

		if status != "" && run.Status != status {
			continue
		}

		matched = append(matched, run)
	}

	return matched, nil
}

func (r *RunRepository) ListByStatus(_ context.Context, status models.RunStatus) ([]*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs, err := r.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Run, 0)

	for _, run := range runs {
		if run.Status == status {
			matched = append(matched, run)
		}
	}

	return matched, nil
}

// FindActive returns the non-terminal run for a (flow, recipient) pair, or nil
// when none exists. Backs the idempotent trigger handling.
func (r *RunRepository) FindActive(_ context.Context, flowID, recipientID string) (*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs, err := r.all()
	if err != nil {
		return nil, err
	}

	for _, run := range runs {
		if run.FlowID == flowID && run.RecipientID == recipientID && !run.Status.Terminal() {
			return run, nil
		}
	}

	return nil, nil
}

// ListDue returns waiting runs whose wake time has passed.
func (r *RunRepository) ListDue(_ context.Context, now time.Time) ([]*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs, err := r.all()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Run, 0)

	for _, run := range runs {
		if run.Status == models.RunStatusWaiting && run.WakeAt != nil && !run.WakeAt.After(now) {
			due = append(due, run)
		}
	}

	return due, nil
}
