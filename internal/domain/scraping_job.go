package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	FullSync     JobType = "full_sync"
	CategorySync JobType = "category_sync"
	ProductSync  JobType = "product_sync"
	StockCheck   JobType = "stock_check"
)

func (t JobType) Valid() bool {
	switch t {
	case FullSync, CategorySync, ProductSync, StockCheck:
		return true
	}
	return false
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal сообщает, что задача больше не изменится.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobParams — необязательные параметры задачи.
type JobParams struct {
	Category   string
	ProductURL string
}

// ScrapingJob — задача очереди синхронизации.
type ScrapingJob struct {
	ID          string
	Merchant    string
	Type        JobType
	Priority    int
	Category    string
	ProductURL  string
	Status      JobStatus
	Result      *ScrapingResult
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func NewScrapingJob(merchant string, jobType JobType, priority int, params JobParams, now time.Time) *ScrapingJob {
	return &ScrapingJob{
		ID:         uuid.NewString(),
		Merchant:   merchant,
		Type:       jobType,
		Priority:   priority,
		Category:   params.Category,
		ProductURL: params.ProductURL,
		Status:     JobPending,
		CreatedAt:  now,
	}
}
