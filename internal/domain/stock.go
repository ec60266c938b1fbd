package domain

// StockStatus — производный статус наличия товара.
type StockStatus string

const (
	InStock    StockStatus = "in_stock"
	LowStock   StockStatus = "low_stock"
	OutOfStock StockStatus = "out_of_stock"
)

const (
	// LowStockThreshold — максимальный остаток, при котором товар считается заканчивающимся.
	LowStockThreshold = 10
	// InStockPlaceholder подставляется, когда сайт пишет "в наличии" без количества.
	InStockPlaceholder = 100
	// LowStockPlaceholder подставляется для "осталось мало" без количества.
	LowStockPlaceholder = 5
)

// GetStockStatus классифицирует остаток по порогу LowStockThreshold.
func GetStockStatus(level int) StockStatus {
	switch {
	case level <= 0:
		return OutOfStock
	case level <= LowStockThreshold:
		return LowStock
	default:
		return InStock
	}
}

// Available сообщает, можно ли купить товар с таким статусом.
func (s StockStatus) Available() bool {
	return s == InStock || s == LowStock
}
