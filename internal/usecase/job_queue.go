package usecase

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
)

const (
	DefaultConcurrency = 3
	// TriggerPriority — приоритет задач, поставленных через TriggerSync.
	TriggerPriority = 5
	statsWindow     = 24 * time.Hour
)

type queuedJob struct {
	job *domain.ScrapingJob
	seq uint64
}

// jobHeap упорядочен по убыванию приоритета, внутри приоритета — по порядку постановки.
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*queuedJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// JobQueue — очередь задач синхронизации с приоритетами и ограничением параллельности.
// Задача сохраняется в таблицу до постановки в очередь; после запуска она живёт только в таблице.
type JobQueue struct {
	jobRepo     JobRepository
	registry    *ScraperRegistry
	reconciler  ReconcileUC
	logger      logger.Logger
	concurrency int
	now         func() time.Time
	baseCtx     context.Context

	mu      sync.Mutex
	pending jobHeap
	seq     uint64
	running int
	closed  bool
	wg      sync.WaitGroup
}

func NewJobQueue(
	jobRepo JobRepository,
	registry *ScraperRegistry,
	reconciler ReconcileUC,
	logger logger.Logger,
	concurrency int,
) *JobQueue {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &JobQueue{
		jobRepo:     jobRepo,
		registry:    registry,
		reconciler:  reconciler,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		baseCtx:     context.Background(),
	}
}

// WithClock подменяет источник времени для отметок задач.
func (q *JobQueue) WithClock(now func() time.Time) *JobQueue {
	q.now = now
	return q
}

// Recover помечает задачи, прерванные предыдущей остановкой процесса.
func (q *JobQueue) Recover(ctx context.Context) error {
	const op = "JobQueue.Recover"

	n, err := q.jobRepo.FailInterrupted(ctx, "interrupted by process restart", q.now())
	if err != nil {
		return e.Wrap(op, err)
	}
	if n > 0 {
		q.logger.Warnf("Marked %d interrupted jobs as failed", n)
	}
	return nil
}

// AddJob сохраняет задачу в статусе pending и ставит её в очередь.
func (q *JobQueue) AddJob(ctx context.Context, merchant string, jobType domain.JobType, priority int, params domain.JobParams) (string, error) {
	const op = "JobQueue.AddJob"

	if err := validateJob(merchant, jobType, params); err != nil {
		return "", e.Wrap(op, err)
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return "", e.Wrap(op, e.ErrQueueClosed)
	}

	job := domain.NewScrapingJob(merchant, jobType, priority, params, q.now())
	if err := q.jobRepo.Create(ctx, job); err != nil {
		return "", e.Wrap(op, err)
	}

	q.mu.Lock()
	q.seq++
	heap.Push(&q.pending, &queuedJob{job: job, seq: q.seq})
	q.mu.Unlock()

	q.logger.Debugf("Job %s queued: merchant: %s, type: %s, priority: %d", job.ID, merchant, jobType, priority)
	q.dispatch()

	return job.ID, nil
}

func validateJob(merchant string, jobType domain.JobType, params domain.JobParams) error {
	if strings.TrimSpace(merchant) == "" {
		return fmt.Errorf("%w: merchant is required", e.ErrInvalidJob)
	}
	if !jobType.Valid() {
		return fmt.Errorf("%w: unknown job type %q", e.ErrInvalidJob, jobType)
	}
	if jobType == domain.CategorySync && strings.TrimSpace(params.Category) == "" {
		return fmt.Errorf("%w: category_sync requires a category", e.ErrInvalidJob)
	}
	if jobType == domain.ProductSync && strings.TrimSpace(params.ProductURL) == "" {
		return fmt.Errorf("%w: product_sync requires a product url", e.ErrInvalidJob)
	}
	return nil
}

// dispatch запускает задачи, пока есть свободные слоты. Вызывается при постановке
// и при завершении каждой задачи; мьютекс исключает двойной запуск одной задачи.
func (q *JobQueue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.pending.Len() > 0 && q.running < q.concurrency {
		item := heap.Pop(&q.pending).(*queuedJob)
		q.running++
		q.wg.Add(1)
		go q.execute(item.job)
	}
}

// execute выполняет задачу. Слот освобождается в defer даже при панике.
func (q *JobQueue) execute(job *domain.ScrapingJob) {
	ctx := q.baseCtx

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("job panicked: %v", p)
			q.logger.Errorf(err, "Job %s crashed", job.ID)
			q.finish(ctx, job, nil, err)
		}

		q.mu.Lock()
		q.running--
		q.mu.Unlock()
		q.wg.Done()

		q.dispatch()
	}()

	scraper, ok := q.registry.Get(job.Merchant)
	if !ok {
		q.finish(ctx, job, nil, e.UnknownMerchant(job.Merchant))
		return
	}

	startedAt := q.now()
	job.Status = domain.JobRunning
	job.StartedAt = &startedAt
	if err := q.jobRepo.MarkRunning(ctx, job.ID, startedAt); err != nil {
		q.logger.Warnf("Failed to mark job %s running: %v", job.ID, err)
	}

	result, err := q.run(ctx, scraper, job)
	if err == nil && result != nil {
		q.reconcile(ctx, job, result)
	}

	q.finish(ctx, job, result, err)
}

// run выполняет операцию, соответствующую типу задачи.
func (q *JobQueue) run(ctx context.Context, scraper Scraper, job *domain.ScrapingJob) (*domain.ScrapingResult, error) {
	switch job.Type {
	case domain.CategorySync:
		return scraper.ScrapeCategory(ctx, job.Category)
	case domain.ProductSync:
		return q.runProduct(ctx, scraper, job.ProductURL)
	case domain.FullSync, domain.StockCheck:
		return q.runCategories(ctx, scraper)
	}
	return nil, fmt.Errorf("%w: unknown job type %q", e.ErrInvalidJob, job.Type)
}

func (q *JobQueue) runProduct(ctx context.Context, scraper Scraper, url string) (*domain.ScrapingResult, error) {
	result := domain.NewScrapingResult(q.now())

	listing, err := scraper.ScrapeProductPage(ctx, url)
	if err != nil {
		return nil, err
	}
	result.PagesFetched = 1
	if listing != nil {
		result.ProductsScraped = 1
		result.Listings = append(result.Listings, *listing)
	}

	result.Finish(q.now())
	return result, nil
}

// runCategories обходит все категории продавца по очереди. Ошибка корня одной категории
// попадает в errors; задача падает, только если не удалось ни одной.
func (q *JobQueue) runCategories(ctx context.Context, scraper Scraper) (*domain.ScrapingResult, error) {
	categories := scraper.Categories()
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: no categories configured for %s", e.ErrUnknownCategory, scraper.Name())
	}

	result := domain.NewScrapingResult(q.now())
	var failures []error
	for _, category := range categories {
		res, err := scraper.ScrapeCategory(ctx, category)
		if err != nil {
			failures = append(failures, fmt.Errorf("category %s: %w", category, err))
			result.AddError(fmt.Sprintf("category %s: %v", category, err))
			continue
		}
		result.Merge(res)
	}
	result.Finish(q.now())

	if len(failures) == len(categories) {
		return result, errors.Join(failures...)
	}
	return result, nil
}

// reconcile передаёт записи в сверку и дополняет сводку задачи её итогами.
func (q *JobQueue) reconcile(ctx context.Context, job *domain.ScrapingJob, result *domain.ScrapingResult) {
	if q.reconciler == nil {
		return
	}

	if len(result.Listings) > 0 {
		report, err := q.reconciler.Reconcile(ctx, job.Merchant, result.Listings)
		if err != nil {
			result.AddError(fmt.Sprintf("reconcile: %v", err))
		} else {
			result.Reconciled = report.Upserted
			result.ReconcileFailed = report.Failed
			for _, msg := range report.Errors {
				result.AddError(msg)
			}
		}
	}

	// Устаревшие предложения снимаются только после полного обхода без ошибок и обрезки
	if job.Type == domain.FullSync && result.Truncated {
		q.logger.Warnf("Job %s hit a crawl limit, skipping stale listing sweep for %s", job.ID, job.Merchant)
	}
	if job.Type == domain.FullSync && len(result.Errors) == 0 && !result.Truncated && job.StartedAt != nil {
		n, err := q.reconciler.SweepStale(ctx, job.Merchant, *job.StartedAt)
		if err != nil {
			result.AddError(fmt.Sprintf("sweep stale listings: %v", err))
		}
		result.Deactivated = n
	}

	result.Success = len(result.Errors) == 0
}

// finish сохраняет итог задачи: completed, если не было фатальной ошибки.
func (q *JobQueue) finish(ctx context.Context, job *domain.ScrapingJob, result *domain.ScrapingResult, err error) {
	completedAt := q.now()
	job.CompletedAt = &completedAt
	job.Result = result

	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
		q.logger.Errorf(err, "Job %s failed: merchant: %s, type: %s", job.ID, job.Merchant, job.Type)
	} else {
		job.Status = domain.JobCompleted
		if result != nil && len(result.Errors) > 0 {
			job.Error = e.Join(result.Errors)
		}
		q.logger.Infof("Job %s completed: merchant: %s, type: %s", job.ID, job.Merchant, job.Type)
	}

	if err := q.jobRepo.Finish(ctx, job); err != nil {
		q.logger.Errorf(err, "Failed to persist result of job %s", job.ID)
	}
}

// GetJobStatus ищет задачу сначала среди ожидающих в памяти, затем в таблице.
func (q *JobQueue) GetJobStatus(ctx context.Context, id string) (*domain.ScrapingJob, error) {
	const op = "JobQueue.GetJobStatus"

	q.mu.Lock()
	for _, item := range q.pending {
		if item.job.ID == id {
			job := *item.job
			q.mu.Unlock()
			return &job, nil
		}
	}
	q.mu.Unlock()

	job, err := q.jobRepo.Get(ctx, id)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	return job, nil
}

// TriggerSync ставит по задаче на каждого продавца (или на всех зарегистрированных)
// и возвращает ID первой.
func (q *JobQueue) TriggerSync(ctx context.Context, merchant, category string) (string, error) {
	const op = "JobQueue.TriggerSync"

	targets := []string{merchant}
	if strings.TrimSpace(merchant) == "" {
		targets = q.registry.Names()
	}
	if len(targets) == 0 {
		return "", e.Wrap(op, fmt.Errorf("%w: no merchants registered", e.ErrUnknownMerchant))
	}

	jobType := domain.FullSync
	if category != "" {
		jobType = domain.CategorySync
	}

	var firstID string
	for _, name := range targets {
		id, err := q.AddJob(ctx, name, jobType, TriggerPriority, domain.JobParams{Category: category})
		if err != nil {
			return firstID, e.Wrap(op, err)
		}
		if firstID == "" {
			firstID = id
		}
	}

	return firstID, nil
}

// GetStats — счётчики очереди: ожидающие и запущенные из памяти, итоги за сутки из таблицы.
func (q *JobQueue) GetStats(ctx context.Context) (*QueueStats, error) {
	const op = "JobQueue.GetStats"

	q.mu.Lock()
	stats := &QueueStats{Queued: q.pending.Len(), Running: q.running}
	q.mu.Unlock()

	counts, err := q.jobRepo.CountByStatusSince(ctx, q.now().Add(-statsWindow))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	stats.Completed = counts[domain.JobCompleted]
	stats.Failed = counts[domain.JobFailed]
	stats.Merchants = q.registry.Names()

	return stats, nil
}

func (q *JobQueue) MerchantsHealth(ctx context.Context) map[string]bool {
	return q.registry.HealthCheck(ctx)
}

// Close перестаёт принимать и запускать задачи и ждёт завершения запущенных.
func (q *JobQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return e.Wrap("JobQueue.Close", ctx.Err())
	}
}
