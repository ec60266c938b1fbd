package pgdb

import (
	"context"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/tr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

const productColumns = `id, sku, fingerprint, name, category, brand, image_url,
	listing_count, min_price, max_price, avg_price, in_stock_count, created_at, updated_at`

// ProductRepo реализует репозиторий канонических товаров поверх PostgreSQL.
type ProductRepo struct {
	pool *pgxpool.Pool
	conv converter.ProductConverter
}

func NewProductRepo(pool *pgxpool.Pool, conv converter.ProductConverter) *ProductRepo {
	return &ProductRepo{
		pool: pool,
		conv: conv,
	}
}

// UpsertBySKU идемпотентно создаёт товар по сквозному SKU.
// Имя и категория остаются от первой записи, пустые бренд и картинка дополняются.
func (p *ProductRepo) UpsertBySKU(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	// VALUES ($1..$6) sku, fingerprint, name, category, brand, image_url
	query := `
		INSERT INTO products (sku, fingerprint, name, category, brand, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sku) WHERE sku IS NOT NULL
		DO UPDATE SET
			brand = COALESCE(products.brand, EXCLUDED.brand),
			image_url = COALESCE(products.image_url, EXCLUDED.image_url),
			updated_at = NOW()
		RETURNING ` + productColumns

	return p.upsert(ctx, tx, query, product)
}

// UpsertByFingerprint идемпотентно создаёт товар без SKU по отпечатку имени и категории.
func (p *ProductRepo) UpsertByFingerprint(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		INSERT INTO products (sku, fingerprint, name, category, brand, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) WHERE sku IS NULL
		DO UPDATE SET
			brand = COALESCE(products.brand, EXCLUDED.brand),
			image_url = COALESCE(products.image_url, EXCLUDED.image_url),
			updated_at = NOW()
		RETURNING ` + productColumns

	return p.upsert(ctx, tx, query, product)
}

func (p *ProductRepo) upsert(ctx context.Context, tx pgx.Tx, query string, product *domain.Product) (*domain.Product, error) {
	in := p.conv.ToModel(product)

	var model converter.ProductModel
	err := tx.QueryRow(ctx, query, in.SKU, in.Fingerprint, in.Name, in.Category, in.Brand, in.ImageURL).
		Scan(
			&model.ID, &model.SKU, &model.Fingerprint, &model.Name, &model.Category, &model.Brand, &model.ImageURL,
			&model.ListingCount, &model.MinPrice, &model.MaxPrice, &model.AvgPrice, &model.InStockCount,
			&model.CreatedAt, &model.UpdatedAt,
		)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return p.conv.ToEntity(&model), nil
}

// RefreshAggregates пересчитывает число предложений, цены и наличие по активным предложениям.
// Товар без активных предложений получает нулевые счётчики и пустые цены.
func (p *ProductRepo) RefreshAggregates(ctx context.Context, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}

	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		UPDATE products p
		SET
			listing_count = agg.listing_count,
			min_price = agg.min_price,
			max_price = agg.max_price,
			avg_price = agg.avg_price,
			in_stock_count = agg.in_stock_count,
			updated_at = NOW()
		FROM (
			SELECT
				ids.id AS product_id,
				COUNT(l.id) AS listing_count,
				MIN(l.price) AS min_price,
				MAX(l.price) AS max_price,
				ROUND(AVG(l.price), 2) AS avg_price,
				COUNT(l.id) FILTER (WHERE l.stock_status IN ('in_stock', 'low_stock')) AS in_stock_count
			FROM unnest($1::bigint[]) AS ids(id)
			LEFT JOIN product_listings l ON l.product_id = ids.id AND l.is_active
			GROUP BY ids.id
		) agg
		WHERE p.id = agg.product_id;
	`

	if _, err := tx.Exec(ctx, query, productIDs); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
