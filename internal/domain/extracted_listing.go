package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/shopspring/decimal"
)

// ExtractedListing — нормализованная запись, полученная экстрактором со страницы продавца.
// Живёт только между экстрактором и сверкой.
type ExtractedListing struct {
	MerchantSKU string // SKU продавца или сгенерированный хэш name+URL
	SKU         string // Сквозной идентификатор (GTIN/EAN/MPN), если сайт его публикует
	Name        string
	Category    string
	Brand       string
	Price       decimal.Decimal
	Currency    string
	StockLevel  int
	StockStatus StockStatus
	URL         string
	ImageURL    string
	Specs       map[string]string
}

// NewExtractedListing нормализует поля и вычисляет производные значения.
func NewExtractedListing(merchantSKU, name, category, url string, price decimal.Decimal, stockLevel int) *ExtractedListing {
	l := &ExtractedListing{
		MerchantSKU: strings.TrimSpace(merchantSKU),
		Name:        strings.Join(strings.Fields(name), " "),
		Category:    strings.TrimSpace(category),
		Price:       price,
		StockLevel:  stockLevel,
		URL:         strings.TrimSpace(url),
	}
	l.Normalize()
	return l
}

// PriceScale — число знаков после запятой в колонке цены.
const PriceScale = 2

// Normalize доводит запись до инвариантов: цена в масштабе колонки, неотрицательный остаток,
// статус, стабильный ID.
func (l *ExtractedListing) Normalize() {
	l.Price = l.Price.Round(PriceScale)
	l.Name = strings.Join(strings.Fields(l.Name), " ")
	if l.StockLevel < 0 {
		l.StockLevel = 0
	}
	l.StockStatus = GetStockStatus(l.StockLevel)
	if l.MerchantSKU == "" {
		l.MerchantSKU = StableID(l.Name, l.URL)
	}
	if l.Specs == nil {
		l.Specs = map[string]string{}
	}
}

// Validate отклоняет записи без имени или с ценой, неположительной после округления до копеек.
func (l *ExtractedListing) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return e.ErrProductNameRequired
	}
	if !l.Price.Round(PriceScale).IsPositive() {
		return e.ErrPriceMustBePositive
	}
	if l.StockLevel < 0 {
		return e.ErrNegativeStock
	}
	return nil
}

// StableID генерирует идентификатор для продавцов, не публикующих SKU.
func StableID(name, url string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(name)) + "|" + strings.TrimSpace(url)))
	return "gen-" + hex.EncodeToString(sum[:8])
}
