package pgdb

import (
	"context"
	"errors"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// JobRepo хранит задачи очереди синхронизации. Работает вне транзакций сверки.
type JobRepo struct {
	pool *pgxpool.Pool
	conv converter.JobConverter
}

func NewJobRepo(pool *pgxpool.Pool, conv converter.JobConverter) *JobRepo {
	return &JobRepo{pool: pool, conv: conv}
}

func (j *JobRepo) Create(ctx context.Context, job *domain.ScrapingJob) error {
	model, err := j.conv.ToModel(job)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		INSERT INTO scraping_jobs (id, merchant, job_type, priority, category, product_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`

	if _, err := j.pool.Exec(ctx, query,
		model.ID, model.Merchant, model.JobType, model.Priority,
		model.Category, model.ProductURL, model.Status, model.CreatedAt,
	); err != nil {
		if postgresDuplicate(err) {
			return e.Wrap(whereami.WhereAmI(), errors.Join(e.ErrInvalidJob, err))
		}
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

func (j *JobRepo) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE scraping_jobs
		SET status = $2, started_at = $3
		WHERE id = $1;
	`

	tag, err := j.pool.Exec(ctx, query, id, domain.JobRunning, startedAt)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if tag.RowsAffected() == 0 {
		return e.Wrap(whereami.WhereAmI(), e.ErrJobNotFound)
	}

	return nil
}

// Finish сохраняет итоговый статус, сводку в JSONB и текст ошибки.
func (j *JobRepo) Finish(ctx context.Context, job *domain.ScrapingJob) error {
	model, err := j.conv.ToModel(job)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		UPDATE scraping_jobs
		SET status = $2, result = $3, error = $4, started_at = COALESCE(started_at, $5), completed_at = $6
		WHERE id = $1;
	`

	tag, err := j.pool.Exec(ctx, query,
		model.ID, model.Status, model.Result, model.Error, model.StartedAt, model.CompletedAt,
	)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if tag.RowsAffected() == 0 {
		return e.Wrap(whereami.WhereAmI(), e.ErrJobNotFound)
	}

	return nil
}

func (j *JobRepo) Get(ctx context.Context, id string) (*domain.ScrapingJob, error) {
	query := `
		SELECT id, merchant, job_type, priority, category, product_url, status, result, error,
			created_at, started_at, completed_at
		FROM scraping_jobs
		WHERE id = $1;
	`

	var model converter.JobModel
	err := j.pool.QueryRow(ctx, query, id).Scan(
		&model.ID, &model.Merchant, &model.JobType, &model.Priority, &model.Category, &model.ProductURL,
		&model.Status, &model.Result, &model.Error, &model.CreatedAt, &model.StartedAt, &model.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, e.ErrJobNotFound
		}
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	job, err := j.conv.ToEntity(&model)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return job, nil
}

// CountByStatusSince считает задачи по статусам, созданные начиная с since.
func (j *JobRepo) CountByStatusSince(ctx context.Context, since time.Time) (map[domain.JobStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM scraping_jobs
		WHERE created_at >= $1
		GROUP BY status;
	`

	rows, err := j.pool.Query(ctx, query, since)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		counts[domain.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return counts, nil
}

// FailInterrupted завершает задачи, оставшиеся в pending или running после остановки процесса.
func (j *JobRepo) FailInterrupted(ctx context.Context, reason string, at time.Time) (int, error) {
	query := `
		UPDATE scraping_jobs
		SET status = $1, error = $2, completed_at = $3
		WHERE status IN ($4, $5);
	`

	tag, err := j.pool.Exec(ctx, query, domain.JobFailed, reason, at, domain.JobPending, domain.JobRunning)
	if err != nil {
		return 0, e.Wrap(whereami.WhereAmI(), err)
	}

	return int(tag.RowsAffected()), nil
}
