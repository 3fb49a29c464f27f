package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/notekit/kernelq/pkg/persistence"
	"github.com/notekit/kernelq/pkg/persistence/file"
	"github.com/notekit/kernelq/pkg/persistence/redis"
)

// NewResumeStore creates a pending-execution store from a URL. An empty URL
// disables the resume path.
func NewResumeStore(url string, logger *slog.Logger) (persistence.ResumeRepository, error) {
	switch {
	case url == "":
		return nil, nil
	case strings.HasPrefix(url, "file://"):
		logger.Debug("Using file resume store", "url", url)

		return file.NewRepository(url), nil
	case strings.HasPrefix(url, "redis://"):
		logger.Debug("Using redis resume store", "url", url)

		return redis.NewRepository(url)
	default:
		return nil, fmt.Errorf("unsupported persistence url: %s", url)
	}
}
