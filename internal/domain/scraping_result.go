package domain

import "time"

// ScrapingResult — сводка одного прохода скрейпера. Listings в сводку задачи не сохраняются.
type ScrapingResult struct {
	Success         bool          `json:"success"`
	ProductsScraped int           `json:"productsScraped"`
	Errors          []string      `json:"errors"`
	Duration        time.Duration `json:"duration"`
	Timestamp       time.Time     `json:"timestamp"`
	PagesFetched    int           `json:"pagesFetched"`
	Reconciled      int           `json:"reconciled"`
	ReconcileFailed int           `json:"reconcileFailed"`
	Deactivated     int           `json:"deactivated"`
	// Truncated — обход остановлен лимитом страниц или записей, каталог виден не целиком.
	Truncated bool `json:"truncated"`

	Listings []ExtractedListing `json:"-"`
}

func NewScrapingResult(now time.Time) *ScrapingResult {
	return &ScrapingResult{
		Errors:    []string{},
		Timestamp: now,
	}
}

// AddError добавляет ошибку и снимает признак успеха.
func (r *ScrapingResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Success = false
}

// Merge накапливает результаты нескольких категорий в одной задаче.
// Длительность и признак успеха фиксирует последующий Finish.
func (r *ScrapingResult) Merge(other *ScrapingResult) {
	if other == nil {
		return
	}
	r.ProductsScraped += other.ProductsScraped
	r.PagesFetched += other.PagesFetched
	r.Truncated = r.Truncated || other.Truncated
	r.Errors = append(r.Errors, other.Errors...)
	r.Listings = append(r.Listings, other.Listings...)
}

// Finish фиксирует длительность и признак успеха.
func (r *ScrapingResult) Finish(end time.Time) {
	r.Duration = end.Sub(r.Timestamp)
	r.Success = len(r.Errors) == 0
}

// ReconcileReport — итог сверки пачки записей.
type ReconcileReport struct {
	Upserted int
	Failed   int
	Events   int
	Errors   []string
}
