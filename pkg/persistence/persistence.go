// Package persistence stores the small amount of state that survives a
// process restart: which executions were in flight per document, so a new
// process can re-attach to them.
package persistence

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("pending execution not found")

// PendingExecution records one transmitted-but-not-completed execution.
type PendingExecution struct {
	DocumentID string    `json:"document_id"`
	CellID     string    `json:"cell_id,omitempty"`
	RequestID  string    `json:"request_id"`
	Code       string    `json:"code"`
	OriginID   string    `json:"origin_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// ResumeRepository persists pending executions keyed by document and
// request id.
type ResumeRepository interface {
	Save(ctx context.Context, pending *PendingExecution) error
	FindByDocument(ctx context.Context, documentID string) ([]*PendingExecution, error)
	Delete(ctx context.Context, documentID, requestID string) error
	Close(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}
