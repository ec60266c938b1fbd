package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductListing — предложение одного продавца по товару.
// Уникально по (ProductID, MerchantID, MerchantSKU); изменяется только сверкой.
type ProductListing struct {
	ID           int64
	ProductID    int64
	MerchantID   int64
	MerchantSKU  string
	Price        decimal.Decimal
	Currency     string
	StockLevel   int
	StockStatus  StockStatus
	IsAvailable  bool
	URL          string
	LastSyncedAt time.Time
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

func NewProductListing(productID, merchantID int64, l *ExtractedListing, syncedAt time.Time) *ProductListing {
	return &ProductListing{
		ProductID:    productID,
		MerchantID:   merchantID,
		MerchantSKU:  l.MerchantSKU,
		Price:        l.Price,
		Currency:     l.Currency,
		StockLevel:   l.StockLevel,
		StockStatus:  l.StockStatus,
		IsAvailable:  l.StockStatus.Available(),
		URL:          l.URL,
		LastSyncedAt: syncedAt,
		IsActive:     true,
	}
}

// ListingChange — предыдущие значения предложения, возвращаемые upsert'ом.
// Previous == nil означает, что предложение создано впервые.
type ListingChange struct {
	Listing       *ProductListing
	PreviousPrice *decimal.Decimal
	PreviousStock *StockStatus
}

// Changed сообщает, изменилась ли цена или статус наличия.
func (c *ListingChange) Changed() bool {
	if c.PreviousPrice == nil || c.PreviousStock == nil {
		return true
	}
	return !c.PreviousPrice.Equal(c.Listing.Price) || *c.PreviousStock != c.Listing.StockStatus
}
