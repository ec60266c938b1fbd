package pgdb

import (
	"context"
	"fmt"
	"time"

	"github.com/DRSN-tech/price-sync/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/tr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

const outboxColumns = `id, event_id, event_type, product_id, payload, status, created_at, processed_at`

// OutboxEventRepo хранит события об изменениях предложений до отправки в Kafka.
type OutboxEventRepo struct {
	pool *pgxpool.Pool
	conv converter.OutboxEventConverter
}

func NewOutboxEventRepo(pool *pgxpool.Pool, conv converter.OutboxEventConverter) *OutboxEventRepo {
	return &OutboxEventRepo{pool: pool, conv: conv}
}

// Create пишет событие в транзакции сверки. NOTIFY доставляется слушателю только после коммита.
func (o *OutboxEventRepo) Create(ctx context.Context, event *usecase.OutboxEvent) (*usecase.OutboxEvent, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	m := o.conv.ToModel(event)
	query := `
		INSERT INTO outbox_events (event_id, event_type, product_id, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + outboxColumns

	rows, err := tx.Query(ctx, query, m.EventID, m.EventType, m.ProductID, m.Payload, m.Status, m.CreatedAt)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	saved, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[converter.OutboxEventModel])
	if err != nil {
		if postgresDuplicate(err) {
			return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("outbox event %s already exists: %w", event.EventID, err))
		}
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", outboxChannel, saved.EventID); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return o.conv.ToEntity(saved), nil
}

// GetAndMarkAsProcessing одним запросом захватывает пачку ожидающих событий в порядке создания.
// Строки, заблокированные другим воркером, пропускаются.
func (o *OutboxEventRepo) GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*usecase.OutboxEvent, error) {
	query := `
		WITH claimed AS (
			SELECT id FROM outbox_events
			WHERE status = $2
			ORDER BY created_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_events o
		SET status = $1, processing_started_at = NOW()
		FROM claimed
		WHERE o.id = claimed.id
		RETURNING o.id, o.event_id, o.event_type, o.product_id, o.payload, o.status, o.created_at, o.processed_at`

	rows, err := o.pool.Query(ctx, query, usecase.Processing, usecase.Pending, limit)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	models, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[converter.OutboxEventModel])
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	// RETURNING не сохраняет порядок подзапроса.
	sortOutbox(models)
	return o.conv.ToArrEntity(models), nil
}

// MarkAsProcessed завершает событие. Уже обработанное событие не считается ошибкой.
func (o *OutboxEventRepo) MarkAsProcessed(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_events
		SET status = $1, processed_at = NOW()
		WHERE id = $2 AND status = $3`

	if _, err := o.pool.Exec(ctx, query, usecase.Processed, id, usecase.Processing); err != nil {
		return e.Wrap(whereami.WhereAmI(), fmt.Errorf("mark event %d processed: %w", id, err))
	}
	return nil
}

// ReturnToPending возвращает событие в очередь после неудачной отправки.
func (o *OutboxEventRepo) ReturnToPending(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_events
		SET status = $1, processing_started_at = NULL
		WHERE id = $2 AND status = $3`

	if _, err := o.pool.Exec(ctx, query, usecase.Pending, id, usecase.Processing); err != nil {
		return e.Wrap(whereami.WhereAmI(), fmt.Errorf("return event %d to pending: %w", id, err))
	}
	return nil
}

// ReclaimStuck возвращает в очередь события, захваченные раньше startedBefore и так и не отправленные
// (воркер упал между захватом и отправкой).
func (o *OutboxEventRepo) ReclaimStuck(ctx context.Context, startedBefore time.Time) (int, error) {
	query := `
		UPDATE outbox_events
		SET status = $1, processing_started_at = NULL
		WHERE status = $2 AND processing_started_at < $3`

	tag, err := o.pool.Exec(ctx, query, usecase.Pending, usecase.Processing, startedBefore)
	if err != nil {
		return 0, e.Wrap(whereami.WhereAmI(), err)
	}
	return int(tag.RowsAffected()), nil
}
