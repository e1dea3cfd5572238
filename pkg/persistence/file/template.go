package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// TemplateRepository stores message templates under templates/.
type TemplateRepository struct {
	root string
	mu   sync.RWMutex
}

func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{root: root}
}

func (r *TemplateRepository) dir() string {
	return filepath.Join(r.root, "templates")
}

func (r *TemplateRepository) GetByID(_ context.Context, id string) (*models.MessageTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl := &models.MessageTemplate{}

	err := readJSON(r.dir(), id, tmpl)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetByID", "template", id, persistence.ErrTemplateNotFound)
		}

		return nil, err
	}

	return tmpl, nil
}

func (r *TemplateRepository) List(_ context.Context) ([]*models.MessageTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, err := listJSON(r.dir())
	if err != nil {
		return nil, err
	}

	templates := make([]*models.MessageTemplate, 0, len(names))

	for _, name := range names {
		tmpl := &models.MessageTemplate{}

		err := readJSON(r.dir(), name, tmpl)
		if err != nil {
			return nil, fmt.Errorf("failed to load template %s: %w", name, err)
		}

		templates = append(templates, tmpl)
	}

	return templates, nil
}

func (r *TemplateRepository) Save(_ context.Context, tmpl *models.MessageTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := writeJSON(r.dir(), tmpl.ID, tmpl)
	if err != nil {
		return persistence.NewStoreError("Save", "template", tmpl.ID, err)
	}

	return nil
}
