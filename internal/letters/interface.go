package letters

import (
	"context"

	"lettertool/internal/models"
)

// ServiceInterface defines the interface for letter service operations
type ServiceInterface interface {
	// Submit validates and queues a letter for the given country site
	Submit(ctx context.Context, country string, req *models.SubmitLetterRequest) (*models.SubmitLetterResponse, error)

	// Get returns a stored letter by ID
	Get(ctx context.Context, id string) (*models.Letter, error)

	// Stats returns letter counts per country site
	Stats(ctx context.Context) (*models.StatsResponse, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
