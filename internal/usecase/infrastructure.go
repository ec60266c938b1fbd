package usecase

import (
	"context"

	"github.com/DRSN-tech/price-sync/internal/domain"
)

// Scraper — обход сайта одного продавца.
type Scraper interface {
	Name() string
	Categories() []string
	Initialize(ctx context.Context) error
	ScrapeCategory(ctx context.Context, category string) (*domain.ScrapingResult, error)
	// ScrapeProductPage возвращает nil без ошибки, если страница не дала пригодной записи.
	ScrapeProductPage(ctx context.Context, url string) (*domain.ExtractedListing, error)
	HealthCheck(ctx context.Context) bool
}

// RobotsCache хранит тела robots.txt между перезапусками.
type RobotsCache interface {
	GetRobots(ctx context.Context, host string) (string, bool, error)
	SaveRobots(ctx context.Context, host, body string) error
}

// PageArchive сохраняет сырые страницы для разбора дрейфа вёрстки.
type PageArchive interface {
	SavePage(ctx context.Context, req *SavePageReq) (string, error)
}

type MessageProducer interface {
	WriteRawMessage(ctx context.Context, req *WriteRawMessageReq) error
}
