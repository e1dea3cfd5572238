// Package file provides file-based persistence for local development and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system. Each
// entity is one JSON document under a per-kind directory.
type Persistence struct {
	root            string
	flowRepo        *FlowRepository
	runRepo         *RunRepository
	attemptRepo     *AttemptRepository
	engagementRepo  *EngagementRepository
	templateRepo    *TemplateRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		flowRepo:       NewFlowRepository(cleanRoot),
		runRepo:        NewRunRepository(cleanRoot),
		attemptRepo:    NewAttemptRepository(cleanRoot),
		engagementRepo: NewEngagementRepository(cleanRoot),
		templateRepo:   NewTemplateRepository(cleanRoot),
	}
}

func (fp *Persistence) Flows() persistence.FlowRepository {
	return fp.flowRepo
}

func (fp *Persistence) Runs() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) Attempts() persistence.AttemptRepository {
	return fp.attemptRepo
}

func (fp *Persistence) Engagements() persistence.EngagementRepository {
	return fp.engagementRepo
}

func (fp *Persistence) Templates() persistence.TemplateRepository {
	return fp.templateRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to do for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// writeJSON marshals v into dir/name.json, creating the directory as needed.
func writeJSON(dir, name string, v any) error {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	path := filepath.Join(dir, name+".json")

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// readJSON unmarshals dir/name.json into v. Returns os.ErrNotExist when the
// document is missing.
func readJSON(dir, name string, v any) error {
	path := filepath.Join(dir, name+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}

// listJSON returns the document names (without extension) found in dir.
func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}

	return names, nil
}
