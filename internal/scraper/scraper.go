// Package scraper — обход сайта одного продавца: загрузка страниц через слой вежливости,
// извлечение записей и переход по пагинации.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/internal/extractor"
	"github.com/DRSN-tech/price-sync/internal/infrastructure/politeness"
	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
)

const DefaultMaxPages = 50

// PageFetcher — вежливая загрузка страниц одного сайта.
type PageFetcher interface {
	Initialize(ctx context.Context) error
	Fetch(ctx context.Context, rawURL string, opts politeness.Options) (*politeness.Response, error)
	Head(ctx context.Context, rawURL string) (int, error)
}

// Category — именованный раздел каталога продавца.
type Category struct {
	Name string
	Path string
}

type Config struct {
	Merchant   string
	Categories []Category
	// MaxPages ограничивает глубину пагинации одной категории.
	MaxPages int
	// MaxRecords ограничивает число записей одной категории (0 — без ограничения).
	MaxRecords int
	HealthPath string
}

type Option func(*Scraper)

// WithArchive включает сохранение страниц, не давших ни одной записи.
func WithArchive(archive usecase.PageArchive) Option {
	return func(s *Scraper) { s.archive = archive }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scraper) { s.now = now }
}

// Scraper реализует usecase.Scraper для одного продавца.
type Scraper struct {
	cfg         Config
	fetcher     PageFetcher
	extractor   extractor.Extractor
	archive     usecase.PageArchive
	logger      logger.Logger
	now         func() time.Time
	initialized atomic.Bool
}

func New(cfg Config, fetcher PageFetcher, x extractor.Extractor, log logger.Logger, opts ...Option) *Scraper {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/"
	}

	s := &Scraper{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: x,
		logger:    log.With("merchant", cfg.Merchant),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scraper) Name() string {
	return s.cfg.Merchant
}

// Categories возвращает имена категорий в порядке каталога.
func (s *Scraper) Categories() []string {
	names := make([]string, 0, len(s.cfg.Categories))
	for _, c := range s.cfg.Categories {
		names = append(names, c.Name)
	}
	return names
}

// Initialize загружает robots.txt. Повторный вызов перечитывает правила.
func (s *Scraper) Initialize(ctx context.Context) error {
	const op = "Scraper.Initialize"

	if err := s.fetcher.Initialize(ctx); err != nil {
		return e.Wrap(op, err)
	}
	s.initialized.Store(true)
	return nil
}

// ScrapeCategory обходит категорию со всеми страницами пагинации.
// Ошибка на первой странице возвращается; ошибки последующих попадают в Errors.
func (s *Scraper) ScrapeCategory(ctx context.Context, category string) (*domain.ScrapingResult, error) {
	const op = "Scraper.ScrapeCategory"

	if !s.initialized.Load() {
		return nil, e.Wrap(op, e.ErrScraperNotInitialized)
	}

	name, root, err := s.resolveCategory(category)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	result := domain.NewScrapingResult(s.now())
	visited := make(map[string]struct{})
	pageURL := root

	for page := 0; pageURL != ""; page++ {
		if page >= s.cfg.MaxPages {
			s.logger.Infof("Page limit %d reached for category %s", s.cfg.MaxPages, name)
			result.Truncated = true
			break
		}
		if _, seen := visited[pageURL]; seen {
			s.logger.Warnf("Pagination cycle detected at %s", pageURL)
			break
		}
		visited[pageURL] = struct{}{}

		records, finalURL, next, err := s.scrapePage(ctx, pageURL)
		if err != nil {
			if page == 0 {
				return nil, e.Wrap(op, err)
			}
			result.AddError(fmt.Sprintf("page %s: %v", pageURL, err))
			break
		}
		result.PagesFetched++
		visited[finalURL] = struct{}{}

		for i := range records {
			if records[i].Category == "" {
				records[i].Category = name
			}
		}
		result.Listings = append(result.Listings, records...)

		if s.cfg.MaxRecords > 0 && len(result.Listings) >= s.cfg.MaxRecords {
			result.Truncated = len(result.Listings) > s.cfg.MaxRecords || next != ""
			result.Listings = result.Listings[:s.cfg.MaxRecords]
			s.logger.Infof("Record limit %d reached for category %s", s.cfg.MaxRecords, name)
			break
		}

		pageURL = next
	}

	result.ProductsScraped = len(result.Listings)
	result.Finish(s.now())

	s.logger.Infof("Category %s scraped: %d records, %d pages, %d errors",
		name, result.ProductsScraped, result.PagesFetched, len(result.Errors))

	return result, nil
}

// scrapePage — одна итерация: загрузка, разбор, извлечение.
// Возвращает записи, итоговый адрес страницы после редиректов и ссылку на следующую.
func (s *Scraper) scrapePage(ctx context.Context, pageURL string) ([]domain.ExtractedListing, string, string, error) {
	resp, err := s.fetcher.Fetch(ctx, pageURL, politeness.Options{})
	if err != nil {
		return nil, "", "", err
	}

	doc, err := extractor.ParseDocument(resp.Body, resp.ContentType)
	if err != nil {
		return nil, "", "", err
	}

	parsed, err := url.Parse(resp.URL)
	if err != nil {
		return nil, "", "", err
	}

	records, next := s.extractor.ExtractCategoryPage(doc, parsed)
	if len(records) == 0 {
		s.archivePage(ctx, resp)
	}

	return records, resp.URL, next, nil
}

// ScrapeProductPage извлекает одну карточку товара. nil без ошибки означает,
// что страница загрузилась, но пригодной записи на ней нет.
func (s *Scraper) ScrapeProductPage(ctx context.Context, productURL string) (*domain.ExtractedListing, error) {
	const op = "Scraper.ScrapeProductPage"

	if !s.initialized.Load() {
		return nil, e.Wrap(op, e.ErrScraperNotInitialized)
	}

	resp, err := s.fetcher.Fetch(ctx, productURL, politeness.Options{})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	doc, err := extractor.ParseDocument(resp.Body, resp.ContentType)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	parsed, err := url.Parse(resp.URL)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	listing := s.extractor.ExtractProductPage(doc, parsed)
	if listing == nil {
		s.archivePage(ctx, resp)
		return nil, nil
	}

	return listing, nil
}

// HealthCheck сообщает, отвечает ли сайт. Ответ с кодом ниже 500 считается доступностью.
func (s *Scraper) HealthCheck(ctx context.Context) bool {
	status, err := s.fetcher.Head(ctx, s.cfg.HealthPath)
	if err == nil {
		return status < http.StatusInternalServerError
	}

	var statusErr *e.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode < http.StatusInternalServerError
	}

	s.logger.Debugf("Health check failed: %v", err)
	return false
}

// resolveCategory сопоставляет имя категории с путём из каталога.
// Принимаются также относительные пути и абсолютные URL.
func (s *Scraper) resolveCategory(category string) (string, string, error) {
	category = strings.TrimSpace(category)
	for _, c := range s.cfg.Categories {
		if strings.EqualFold(c.Name, category) {
			return c.Name, c.Path, nil
		}
	}

	if strings.HasPrefix(category, "/") || strings.HasPrefix(category, "http://") || strings.HasPrefix(category, "https://") {
		return category, category, nil
	}

	return "", "", fmt.Errorf("%w: %q for %s", e.ErrUnknownCategory, category, s.cfg.Merchant)
}

func (s *Scraper) archivePage(ctx context.Context, resp *politeness.Response) {
	if s.archive == nil {
		return
	}

	key, err := s.archive.SavePage(ctx, usecase.NewSavePageReq(s.cfg.Merchant, resp.URL, resp.ContentType, resp.Body, s.now()))
	if err != nil {
		s.logger.Warnf("Failed to archive page %s: %v", resp.URL, err)
		return
	}
	s.logger.Infof("Page %s yielded no records, archived as %s", resp.URL, key)
}
