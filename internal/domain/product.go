package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product описывает канонический товар, общий для всех продавцов.
// Агрегаты денормализованы и пересчитываются при каждой сверке.
type Product struct {
	ID           int64
	SKU          *string
	Fingerprint  string
	Name         string
	Category     string
	Brand        *string
	ImageURL     *string
	ListingCount int
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	AvgPrice     *decimal.Decimal
	InStockCount int
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// NewProductFromListing готовит товар к upsert по данным первой увиденной записи.
func NewProductFromListing(l *ExtractedListing) *Product {
	p := &Product{
		Fingerprint: Fingerprint(l.Name, l.Category),
		Name:        l.Name,
		Category:    l.Category,
	}
	if l.SKU != "" {
		sku := l.SKU
		p.SKU = &sku
	}
	if l.Brand != "" {
		brand := l.Brand
		p.Brand = &brand
	}
	if l.ImageURL != "" {
		img := l.ImageURL
		p.ImageURL = &img
	}
	return p
}

// ProductAggregates — агрегаты по активным предложениям товара.
type ProductAggregates struct {
	ListingCount int
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	AvgPrice     *decimal.Decimal
	InStockCount int
}
