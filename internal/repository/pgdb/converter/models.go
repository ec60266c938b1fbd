package converter

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// MerchantModel представляет запись таблицы merchants в PostgreSQL.
type MerchantModel struct {
	ID        int64      `db:"id"`
	Name      string     `db:"name"`
	BaseURL   string     `db:"base_url"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
	IsActive  bool       `db:"is_active"`
}

// ProductModel представляет запись таблицы products в PostgreSQL.
type ProductModel struct {
	ID           int64               `db:"id"`
	SKU          sql.NullString      `db:"sku"`
	Fingerprint  string              `db:"fingerprint"`
	Name         string              `db:"name"`
	Category     string              `db:"category"`
	Brand        sql.NullString      `db:"brand"`
	ImageURL     sql.NullString      `db:"image_url"`
	ListingCount int                 `db:"listing_count"`
	MinPrice     decimal.NullDecimal `db:"min_price"`
	MaxPrice     decimal.NullDecimal `db:"max_price"`
	AvgPrice     decimal.NullDecimal `db:"avg_price"`
	InStockCount int                 `db:"in_stock_count"`
	CreatedAt    time.Time           `db:"created_at"`
	UpdatedAt    *time.Time          `db:"updated_at"`
}

// ListingModel представляет запись таблицы product_listings в PostgreSQL.
type ListingModel struct {
	ID           int64           `db:"id"`
	ProductID    int64           `db:"product_id"`
	MerchantID   int64           `db:"merchant_id"`
	MerchantSKU  string          `db:"merchant_sku"`
	Price        decimal.Decimal `db:"price"`
	Currency     string          `db:"currency"`
	StockLevel   int             `db:"stock_level"`
	StockStatus  string          `db:"stock_status"`
	IsAvailable  bool            `db:"is_available"`
	URL          string          `db:"url"`
	LastSyncedAt time.Time       `db:"last_synced_at"`
	IsActive     bool            `db:"is_active"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    *time.Time      `db:"updated_at"`
}

// PreviousListingModel — значения предложения до upsert'а. Пустые для новой записи.
type PreviousListingModel struct {
	Price       decimal.NullDecimal `db:"prev_price"`
	StockStatus sql.NullString      `db:"prev_stock_status"`
}

// JobModel представляет запись таблицы scraping_jobs в PostgreSQL.
type JobModel struct {
	ID          string         `db:"id"`
	Merchant    string         `db:"merchant"`
	JobType     string         `db:"job_type"`
	Priority    int            `db:"priority"`
	Category    sql.NullString `db:"category"`
	ProductURL  sql.NullString `db:"product_url"`
	Status      string         `db:"status"`
	Result      []byte         `db:"result"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	StartedAt   *time.Time     `db:"started_at"`
	CompletedAt *time.Time     `db:"completed_at"`
}

// OutboxEventModel представляет запись таблицы outbox_events в PostgreSQL.
type OutboxEventModel struct {
	ID          int64      `db:"id"`
	EventID     string     `db:"event_id"`
	EventType   string     `db:"event_type"`
	ProductID   int64      `db:"product_id"`
	Payload     []byte     `db:"payload"`
	Status      string     `db:"status"`
	CreatedAt   time.Time  `db:"created_at"`
	ProcessedAt *time.Time `db:"processed_at"`
}
