// Package file provides file-based persistence for pending executions. One
// JSON file per document, suitable for single-host deployments and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/notekit/kernelq/pkg/persistence"
)

type Repository struct {
	root string
	mu   sync.Mutex
}

// NewRepository creates a repository rooted at the given directory. A
// "file://" prefix is stripped so URLs from configuration work unchanged.
func NewRepository(root string) *Repository {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Repository{root: cleanRoot}
}

func (r *Repository) Close(_ context.Context) error {
	return nil
}

func (r *Repository) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(r.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (r *Repository) Save(_ context.Context, pending *persistence.PendingExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(pending.DocumentID)
	if err != nil {
		return err
	}

	entries[pending.RequestID] = pending

	return r.store(pending.DocumentID, entries)
}

func (r *Repository) FindByDocument(_ context.Context, documentID string) ([]*persistence.PendingExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(documentID)
	if err != nil {
		return nil, err
	}

	out := make([]*persistence.PendingExecution, 0, len(entries))
	for _, pending := range entries {
		out = append(out, pending)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})

	return out, nil
}

func (r *Repository) Delete(_ context.Context, documentID, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(documentID)
	if err != nil {
		return err
	}

	if _, ok := entries[requestID]; !ok {
		return fmt.Errorf("%w: %s/%s", persistence.ErrNotFound, documentID, requestID)
	}

	delete(entries, requestID)

	if len(entries) == 0 {
		if err := os.Remove(r.path(documentID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove pending file: %w", err)
		}

		return nil
	}

	return r.store(documentID, entries)
}

func (r *Repository) path(documentID string) string {
	return filepath.Join(r.root, "pending", documentID+".json")
}

func (r *Repository) load(documentID string) (map[string]*persistence.PendingExecution, error) {
	raw, err := os.ReadFile(r.path(documentID))
	if os.IsNotExist(err) {
		return make(map[string]*persistence.PendingExecution), nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read pending file: %w", err)
	}

	entries := make(map[string]*persistence.PendingExecution)
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse pending file: %w", err)
	}

	return entries, nil
}

func (r *Repository) store(documentID string, entries map[string]*persistence.PendingExecution) error {
	dir := filepath.Dir(r.path(documentID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create pending directory: %w", err)
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(r.path(documentID), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write pending file: %w", err)
	}

	return nil
}
