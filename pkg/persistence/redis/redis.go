// Package redis provides redis-backed persistence for pending executions,
// for deployments where documents can be re-opened on another host.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	redis "github.com/redis/go-redis/v9"

	"github.com/notekit/kernelq/pkg/persistence"
)

const keyPrefix = "kernelq:pending:"

type Repository struct {
	client redis.UniversalClient
}

// NewRepository connects using a redis URL ("redis://host:port/db").
func NewRepository(url string) (*Repository, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Repository{client: redis.NewClient(opts)}, nil
}

// NewRepositoryWithClient wraps an existing client, used in tests.
func NewRepositoryWithClient(client redis.UniversalClient) *Repository {
	return &Repository{client: client}
}

func (r *Repository) Close(_ context.Context) error {
	return r.client.Close()
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Repository) Save(ctx context.Context, pending *persistence.PendingExecution) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return err
	}

	if err := r.client.HSet(ctx, keyPrefix+pending.DocumentID, pending.RequestID, payload).Err(); err != nil {
		return fmt.Errorf("failed to save pending execution: %w", err)
	}

	return nil
}

func (r *Repository) FindByDocument(ctx context.Context, documentID string) ([]*persistence.PendingExecution, error) {
	raw, err := r.client.HGetAll(ctx, keyPrefix+documentID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending executions: %w", err)
	}

	out := make([]*persistence.PendingExecution, 0, len(raw))

	for _, payload := range raw {
		var pending persistence.PendingExecution
		if err := json.Unmarshal([]byte(payload), &pending); err != nil {
			return nil, fmt.Errorf("failed to parse pending execution: %w", err)
		}

		out = append(out, &pending)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})

	return out, nil
}

func (r *Repository) Delete(ctx context.Context, documentID, requestID string) error {
	removed, err := r.client.HDel(ctx, keyPrefix+documentID, requestID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete pending execution: %w", err)
	}

	if removed == 0 {
		return fmt.Errorf("%w: %s/%s", persistence.ErrNotFound, documentID, requestID)
	}

	return nil
}
