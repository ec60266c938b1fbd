package app

import (
	"fmt"

	"github.com/DRSN-tech/price-sync/internal/cfg"
	"github.com/DRSN-tech/price-sync/internal/extractor"
	"github.com/DRSN-tech/price-sync/internal/extractor/acme"
	"github.com/DRSN-tech/price-sync/internal/infrastructure/politeness"
	"github.com/DRSN-tech/price-sync/internal/scraper"
	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
)

// fetcherConfig накладывает настройки продавца поверх общих параметров скрейпинга.
func fetcherConfig(global *cfg.ScraperCfg, m cfg.MerchantCfg) politeness.Config {
	c := politeness.Config{
		BaseURL:            m.BaseURL,
		UserAgent:          global.UserAgent,
		ProxyURL:           global.ProxyURL,
		MinInterval:        global.MinInterval,
		RequestsPerMinute:  m.RequestsPerMinute,
		MaxRetries:         global.MaxRetries,
		BackoffBase:        global.BackoffBase,
		BackoffMax:         global.BackoffMax,
		Jitter:             global.Jitter,
		RequestTimeout:     global.RequestTimeout,
		RetryAfterFallback: global.RetryAfterFallback,
	}
	if m.MinInterval > 0 {
		c.MinInterval = m.MinInterval
	}
	return c
}

func scraperConfig(global *cfg.ScraperCfg, m cfg.MerchantCfg) scraper.Config {
	c := scraper.Config{
		Merchant:   m.Name,
		MaxPages:   global.MaxPages,
		MaxRecords: global.MaxRecords,
		HealthPath: m.HealthPath,
	}
	if m.MaxPages > 0 {
		c.MaxPages = m.MaxPages
	}
	for _, cat := range m.Categories {
		c.Categories = append(c.Categories, scraper.Category{Name: cat.Name, Path: cat.Path})
	}
	return c
}

// newExtractor выбирает экстрактор по виду из каталога продавцов.
func newExtractor(m cfg.MerchantCfg) (extractor.Extractor, error) {
	switch m.Extractor {
	case cfg.ExtractorAcme:
		return acme.New(), nil
	case cfg.ExtractorSelectors:
		selectors := extractor.DefaultSelectors()
		if m.Selectors != nil {
			selectors = m.Selectors.Merge(selectors)
		}
		return extractor.NewSelectorExtractor(selectors, m.Currency), nil
	default:
		return nil, fmt.Errorf("%w: unknown extractor %q for %s", e.ErrInvalidMerchantsFile, m.Extractor, m.Name)
	}
}

// buildScrapers собирает по скрейперу на продавца. archive и robots могут быть nil.
func buildScrapers(
	global *cfg.ScraperCfg,
	merchants []cfg.MerchantCfg,
	robotsCache usecase.RobotsCache,
	archive usecase.PageArchive,
	log logger.Logger,
) ([]*scraper.Scraper, error) {
	const op = "app.buildScrapers"

	scrapers := make([]*scraper.Scraper, 0, len(merchants))
	for _, m := range merchants {
		var fetcherOpts []politeness.Option
		if robotsCache != nil {
			fetcherOpts = append(fetcherOpts, politeness.WithRobotsCache(robotsCache))
		}

		fetcher, err := politeness.NewFetcher(fetcherConfig(global, m), log.With("merchant", m.Name), fetcherOpts...)
		if err != nil {
			return nil, e.Wrap(op, err)
		}

		x, err := newExtractor(m)
		if err != nil {
			return nil, e.Wrap(op, err)
		}

		var scraperOpts []scraper.Option
		if archive != nil {
			scraperOpts = append(scraperOpts, scraper.WithArchive(archive))
		}

		scrapers = append(scrapers, scraper.New(scraperConfig(global, m), fetcher, x, log, scraperOpts...))
	}

	return scrapers, nil
}
