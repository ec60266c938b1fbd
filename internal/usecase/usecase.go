package usecase

import (
	"context"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
)

type JobQueueUC interface {
	AddJob(ctx context.Context, merchant string, jobType domain.JobType, priority int, params domain.JobParams) (string, error)
	GetJobStatus(ctx context.Context, id string) (*domain.ScrapingJob, error)
	TriggerSync(ctx context.Context, merchant, category string) (string, error)
	GetStats(ctx context.Context) (*QueueStats, error)
	MerchantsHealth(ctx context.Context) map[string]bool
}

type ReconcileUC interface {
	Reconcile(ctx context.Context, merchant string, records []domain.ExtractedListing) (*domain.ReconcileReport, error)
	SweepStale(ctx context.Context, merchant string, syncedBefore time.Time) (int, error)
}
