package pgdb

import (
	"context"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/tr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// ListingRepo реализует репозиторий предложений продавцов поверх PostgreSQL.
type ListingRepo struct {
	pool *pgxpool.Pool
	conv converter.ListingConverter
}

func NewListingRepo(pool *pgxpool.Pool, conv converter.ListingConverter) *ListingRepo {
	return &ListingRepo{pool: pool, conv: conv}
}

// Upsert обновляет предложение по (product_id, merchant_id, merchant_sku)
// и возвращает цену и статус наличия, которые были до обновления.
func (l *ListingRepo) Upsert(ctx context.Context, listing *domain.ProductListing) (*domain.ListingChange, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	in := l.conv.ToModel(listing)

	// VALUES ($1..$10) product_id, merchant_id, merchant_sku, price, currency,
	// stock_level, stock_status, is_available, url, last_synced_at
	query := `
		WITH prev AS (
			SELECT price, stock_status
			FROM product_listings
			WHERE product_id = $1 AND merchant_id = $2 AND merchant_sku = $3
			FOR UPDATE
		), upsert AS (
			INSERT INTO product_listings (
				product_id, merchant_id, merchant_sku, price, currency,
				stock_level, stock_status, is_available, url, last_synced_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (product_id, merchant_id, merchant_sku)
			DO UPDATE SET
				price = EXCLUDED.price,
				currency = EXCLUDED.currency,
				stock_level = EXCLUDED.stock_level,
				stock_status = EXCLUDED.stock_status,
				is_available = EXCLUDED.is_available,
				url = EXCLUDED.url,
				last_synced_at = EXCLUDED.last_synced_at,
				is_active = TRUE,
				updated_at = NOW()
			RETURNING
				id, product_id, merchant_id, merchant_sku, price, currency, stock_level, stock_status,
				is_available, url, last_synced_at, is_active, created_at, updated_at
		)
		SELECT
			u.id, u.product_id, u.merchant_id, u.merchant_sku, u.price, u.currency, u.stock_level, u.stock_status,
			u.is_available, u.url, u.last_synced_at, u.is_active, u.created_at, u.updated_at,
			prev.price AS prev_price, prev.stock_status AS prev_stock_status
		FROM upsert u
		LEFT JOIN prev ON TRUE;
	`

	var (
		model converter.ListingModel
		prev  converter.PreviousListingModel
	)
	err = tx.QueryRow(ctx, query,
		in.ProductID, in.MerchantID, in.MerchantSKU, in.Price, in.Currency,
		in.StockLevel, in.StockStatus, in.IsAvailable, in.URL, in.LastSyncedAt,
	).Scan(
		&model.ID, &model.ProductID, &model.MerchantID, &model.MerchantSKU, &model.Price, &model.Currency,
		&model.StockLevel, &model.StockStatus, &model.IsAvailable, &model.URL, &model.LastSyncedAt,
		&model.IsActive, &model.CreatedAt, &model.UpdatedAt,
		&prev.Price, &prev.StockStatus,
	)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return l.conv.ToChange(&model, &prev), nil
}

// DeactivateStale помечает неактивными предложения продавца, не синхронизированные с syncedBefore.
// Записи не удаляются.
func (l *ListingRepo) DeactivateStale(ctx context.Context, merchantID int64, syncedBefore time.Time) (*usecase.DeactivateStaleRes, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		UPDATE product_listings
		SET is_active = FALSE, updated_at = NOW()
		WHERE merchant_id = $1 AND is_active AND last_synced_at < $2
		RETURNING product_id;
	`

	rows, err := tx.Query(ctx, query, merchantID, syncedBefore)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	res := &usecase.DeactivateStaleRes{}
	seen := make(map[int64]struct{})
	for rows.Next() {
		var productID int64
		if err := rows.Scan(&productID); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		res.Deactivated++
		if _, ok := seen[productID]; !ok {
			seen[productID] = struct{}{}
			res.ProductIDs = append(res.ProductIDs, productID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return res, nil
}
