package usecase

import (
	"context"
	"sort"
	"sync"

	"github.com/DRSN-tech/price-sync/pkg/logger"
)

// ScraperRegistry — реестр скрейперов по имени продавца.
type ScraperRegistry struct {
	mu       sync.RWMutex
	scrapers map[string]Scraper
}

func NewScraperRegistry(scrapers ...Scraper) *ScraperRegistry {
	r := &ScraperRegistry{scrapers: make(map[string]Scraper, len(scrapers))}
	for _, s := range scrapers {
		r.Register(s)
	}
	return r
}

func (r *ScraperRegistry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers[s.Name()] = s
}

func (r *ScraperRegistry) Get(name string) (Scraper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[name]
	return s, ok
}

// Names возвращает имена продавцов в алфавитном порядке.
func (r *ScraperRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitializeAll загружает robots.txt для всех продавцов. Ошибка одного не мешает остальным.
func (r *ScraperRegistry) InitializeAll(ctx context.Context, log logger.Logger) {
	for _, name := range r.Names() {
		s, _ := r.Get(name)
		if err := s.Initialize(ctx); err != nil {
			log.Warnf("scraper %s initialization failed: %v", name, err)
		}
	}
}

// HealthCheck опрашивает доступность сайтов всех продавцов.
func (r *ScraperRegistry) HealthCheck(ctx context.Context) map[string]bool {
	result := make(map[string]bool)
	for _, name := range r.Names() {
		s, _ := r.Get(name)
		result[name] = s.HealthCheck(ctx)
	}
	return result
}
