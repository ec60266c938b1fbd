package usecase

import (
	"context"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
)

type MerchantRepository interface {
	// Upsert создаёт продавца по имени или возвращает существующего.
	Upsert(ctx context.Context, merchant *domain.Merchant) (*domain.Merchant, error)
}

type ProductRepository interface {
	// UpsertBySKU находит или создаёт товар по сквозному идентификатору.
	UpsertBySKU(ctx context.Context, product *domain.Product) (*domain.Product, error)
	// UpsertByFingerprint находит или создаёт товар без SKU по нормализованному имени.
	UpsertByFingerprint(ctx context.Context, product *domain.Product) (*domain.Product, error)
	// RefreshAggregates пересчитывает агрегаты товаров по активным предложениям.
	RefreshAggregates(ctx context.Context, productIDs []int64) error
}

type ListingRepository interface {
	// Upsert обновляет предложение по (product, merchant, merchant_sku) и возвращает прежние значения.
	Upsert(ctx context.Context, listing *domain.ProductListing) (*domain.ListingChange, error)
	// DeactivateStale помечает неактивными предложения продавца, не обновлявшиеся с syncedBefore.
	DeactivateStale(ctx context.Context, merchantID int64, syncedBefore time.Time) (*DeactivateStaleRes, error)
}

type JobRepository interface {
	Create(ctx context.Context, job *domain.ScrapingJob) error
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	// Finish сохраняет итоговый статус, сводку и текст ошибки.
	Finish(ctx context.Context, job *domain.ScrapingJob) error
	Get(ctx context.Context, id string) (*domain.ScrapingJob, error)
	CountByStatusSince(ctx context.Context, since time.Time) (map[domain.JobStatus]int, error)
	// FailInterrupted переводит в failed задачи, оставшиеся pending/running после остановки процесса.
	FailInterrupted(ctx context.Context, reason string, at time.Time) (int, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, event *OutboxEvent) (*OutboxEvent, error)
	GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkAsProcessed(ctx context.Context, id int64) error
	// ReturnToPending возвращает событие в очередь после неудачной отправки.
	ReturnToPending(ctx context.Context, id int64) error
	// ReclaimStuck возвращает в очередь события, захваченные раньше startedBefore.
	ReclaimStuck(ctx context.Context, startedBefore time.Time) (int, error)
}

// TxManager выполняет функцию в транзакции, доступной репозиториям через контекст.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
