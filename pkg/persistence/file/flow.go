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

// FlowRepository stores flow definitions under flows/ with immutable version
// snapshots under flow_versions/.
type FlowRepository struct {
	root string
	mu   sync.RWMutex
}

func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

func (r *FlowRepository) flowsDir() string {
	return filepath.Join(r.root, "flows")
}

func (r *FlowRepository) versionsDir() string {
	return filepath.Join(r.root, "flow_versions")
}

func (r *FlowRepository) List(ctx context.Context) ([]*models.FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.listLocked(ctx)
}

func (r *FlowRepository) listLocked(_ context.Context) ([]*models.FlowDefinition, error) {
	names, err := listJSON(r.flowsDir())
	if err != nil {
		return nil, err
	}

	flows := make([]*models.FlowDefinition, 0, len(names))

	for _, name := range names {
		flow := &models.FlowDefinition{}

		err := readJSON(r.flowsDir(), name, flow)
		if err != nil {
			return nil, fmt.Errorf("failed to load flow %s: %w", name, err)
		}

		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.Before(flows[j].CreatedAt)
	})

	return flows, nil
}

func (r *FlowRepository) ListActiveByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.FlowDefinition, error) {
	flows, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.FlowDefinition, 0)

	for _, flow := range flows {
		if flow.IsActive && flow.Trigger.Type == trigger {
			matched = append(matched, flow)
		}
	}

	return matched, nil
}

func (r *FlowRepository) GetByID(_ context.Context, id string) (*models.FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flow := &models.FlowDefinition{}

	err := readJSON(r.flowsDir(), id, flow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetByID", "flow", id, persistence.ErrFlowNotFound)
		}

		return nil, err
	}

	return flow, nil
}

func (r *FlowRepository) GetVersion(_ context.Context, id string, version int) (*models.FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := fmt.Sprintf("%s-v%d", id, version)
	flow := &models.FlowDefinition{}

	err := readJSON(r.versionsDir(), name, flow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetVersion", "flow", name, persistence.ErrFlowVersionGone)
		}

		return nil, err
	}

	return flow, nil
}

// Save writes the current definition and an immutable snapshot of its version.
func (r *FlowRepository) Save(_ context.Context, flow *models.FlowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := writeJSON(r.flowsDir(), flow.ID, flow)
	if err != nil {
		return persistence.NewStoreError("Save", "flow", flow.ID, err)
	}

	snapshot := fmt.Sprintf("%s-v%d", flow.ID, flow.Version)

	err = writeJSON(r.versionsDir(), snapshot, flow)
	if err != nil {
		return persistence.NewStoreError("Save", "flow", snapshot, err)
	}

	return nil
}

// Delete removes the current definition. Version snapshots stay so pinned
// in-flight runs keep resolving their revision.
func (r *FlowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(filepath.Join(r.flowsDir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewStoreError("Delete", "flow", id, persistence.ErrFlowNotFound)
		}

		return err
	}

	return nil
}
