package pgdb

import (
	"cmp"
	"errors"
	"slices"

	"github.com/DRSN-tech/price-sync/internal/repository/pgdb/converter"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// postgresDuplicate сообщает о нарушении уникального ограничения.
func postgresDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// outboxChannel — канал NOTIFY, который слушает воркер outbox.
const outboxChannel = "outbox_pending"

func sortOutbox(models []*converter.OutboxEventModel) {
	slices.SortFunc(models, func(a, b *converter.OutboxEventModel) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
