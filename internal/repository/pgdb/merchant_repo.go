package pgdb

import (
	"context"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// MerchantRepo реализует репозиторий продавцов поверх PostgreSQL.
type MerchantRepo struct {
	pool *pgxpool.Pool
	conv converter.MerchantConverter
}

func NewMerchantRepo(pool *pgxpool.Pool, conv converter.MerchantConverter) *MerchantRepo {
	return &MerchantRepo{pool: pool, conv: conv}
}

// Upsert идемпотентно регистрирует продавца по имени.
// Пустой base_url не затирает сохранённый.
func (m *MerchantRepo) Upsert(ctx context.Context, merchant *domain.Merchant) (*domain.Merchant, error) {
	query := `
		INSERT INTO merchants (name, base_url)
		VALUES ($1, $2)
		ON CONFLICT (name)
		DO UPDATE SET
			base_url = COALESCE(NULLIF(EXCLUDED.base_url, ''), merchants.base_url),
			updated_at = NOW(),
			is_active = TRUE
		RETURNING id, name, base_url, created_at, updated_at, is_active;
	`

	var model converter.MerchantModel
	if err := m.pool.QueryRow(ctx, query, merchant.Name, merchant.BaseURL).
		Scan(
			&model.ID, &model.Name, &model.BaseURL, &model.CreatedAt, &model.UpdatedAt, &model.IsActive,
		); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return m.conv.ToEntity(&model), nil
}
