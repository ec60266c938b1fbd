package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/shopspring/decimal"
)

// --- jobs ---

type fakeJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]domain.ScrapingJob
	history map[string][]domain.JobStatus
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]domain.ScrapingJob{}, history: map[string][]domain.JobStatus{}}
}

func (r *fakeJobRepo) Create(_ context.Context, job *domain.ScrapingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	r.history[job.ID] = append(r.history[job.ID], job.Status)
	return nil
}

func (r *fakeJobRepo) MarkRunning(_ context.Context, id string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Status = domain.JobRunning
	job.StartedAt = &startedAt
	r.jobs[id] = job
	r.history[id] = append(r.history[id], domain.JobRunning)
	return nil
}

func (r *fakeJobRepo) Finish(_ context.Context, job *domain.ScrapingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	r.history[job.ID] = append(r.history[job.ID], job.Status)
	return nil
}

func (r *fakeJobRepo) Get(_ context.Context, id string) (*domain.ScrapingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, e.ErrJobNotFound
	}
	return &job, nil
}

func (r *fakeJobRepo) CountByStatusSince(_ context.Context, since time.Time) (map[domain.JobStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[domain.JobStatus]int{}
	for _, job := range r.jobs {
		if job.CompletedAt != nil && !job.CompletedAt.Before(since) {
			counts[job.Status]++
		}
	}
	return counts, nil
}

func (r *fakeJobRepo) FailInterrupted(_ context.Context, reason string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, job := range r.jobs {
		if !job.Status.Terminal() {
			job.Status = domain.JobFailed
			job.Error = reason
			job.CompletedAt = &at
			r.jobs[id] = job
			n++
		}
	}
	return n, nil
}

func (r *fakeJobRepo) statusHistory(id string) []domain.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.JobStatus(nil), r.history[id]...)
}

func (r *fakeJobRepo) status(id string) domain.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].Status
}

func (r *fakeJobRepo) allTerminal(ids ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if !r.jobs[id].Status.Terminal() {
			return false
		}
	}
	return true
}

// --- scrapers ---

type fakeScraper struct {
	name       string
	categories []string

	mu            sync.Mutex
	categoryCalls map[string]int
	productCalls  int
	onCategory    func(category string) (*domain.ScrapingResult, error)
	onProduct     func(url string) (*domain.ExtractedListing, error)
	healthy       bool
}

func newFakeScraper(name string, categories ...string) *fakeScraper {
	return &fakeScraper{name: name, categories: categories, categoryCalls: map[string]int{}, healthy: true}
}

func (s *fakeScraper) Name() string                     { return s.name }
func (s *fakeScraper) Categories() []string             { return s.categories }
func (s *fakeScraper) Initialize(context.Context) error { return nil }
func (s *fakeScraper) HealthCheck(context.Context) bool { return s.healthy }

func (s *fakeScraper) ScrapeCategory(_ context.Context, category string) (*domain.ScrapingResult, error) {
	s.mu.Lock()
	s.categoryCalls[category]++
	fn := s.onCategory
	s.mu.Unlock()

	if fn != nil {
		return fn(category)
	}
	return okResult(category, 1), nil
}

func (s *fakeScraper) ScrapeProductPage(_ context.Context, url string) (*domain.ExtractedListing, error) {
	s.mu.Lock()
	s.productCalls++
	fn := s.onProduct
	s.mu.Unlock()

	if fn != nil {
		return fn(url)
	}
	return nil, nil
}

func (s *fakeScraper) calls(category string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categoryCalls[category]
}

func (s *fakeScraper) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.productCalls
	for _, c := range s.categoryCalls {
		n += c
	}
	return n
}

func okResult(category string, n int) *domain.ScrapingResult {
	res := domain.NewScrapingResult(time.Now())
	for i := 0; i < n; i++ {
		res.Listings = append(res.Listings, *domain.NewExtractedListing(
			fmt.Sprintf("%s-%d", category, i), fmt.Sprintf("%s item %d", category, i), category,
			fmt.Sprintf("https://acme.test/p/%s-%d", category, i), decimal.NewFromInt(int64(10+i)), 20,
		))
	}
	res.ProductsScraped = n
	res.PagesFetched = 1
	res.Finish(res.Timestamp.Add(time.Millisecond))
	return res
}

// --- reconciler used by queue tests ---

type fakeReconciler struct {
	mu         sync.Mutex
	reconciled map[string]int
	sweeps     []string
	report     *domain.ReconcileReport
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{reconciled: map[string]int{}}
}

func (r *fakeReconciler) Reconcile(_ context.Context, merchant string, records []domain.ExtractedListing) (*domain.ReconcileReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconciled[merchant] += len(records)
	if r.report != nil {
		return r.report, nil
	}
	return &domain.ReconcileReport{Upserted: len(records), Errors: []string{}}, nil
}

func (r *fakeReconciler) SweepStale(_ context.Context, merchant string, _ time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, merchant)
	return 0, nil
}

func (r *fakeReconciler) sweepCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sweeps)
}

// --- in-memory catalogue for reconciliation tests ---

type listingKey struct {
	productID   int64
	merchantID  int64
	merchantSKU string
}

type memStore struct {
	mu        sync.Mutex
	nextID    int64
	merchants map[string]*domain.Merchant
	products  map[int64]*domain.Product
	bySKU     map[string]int64
	byFP      map[string]int64
	listings  map[listingKey]*domain.ProductListing
	events    []*OutboxEvent
	failSKU   string
}

func newMemStore() *memStore {
	return &memStore{
		merchants: map[string]*domain.Merchant{},
		products:  map[int64]*domain.Product{},
		bySKU:     map[string]int64{},
		byFP:      map[string]int64{},
		listings:  map[listingKey]*domain.ProductListing{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *memStore) Upsert(_ context.Context, merchant *domain.Merchant) (*domain.Merchant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.merchants[merchant.Name]; ok {
		return existing, nil
	}
	merchant.ID = m.id()
	merchant.IsActive = true
	m.merchants[merchant.Name] = merchant
	return merchant, nil
}

func (m *memStore) UpsertBySKU(_ context.Context, p *domain.Product) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.bySKU[*p.SKU]; ok {
		return m.products[id], nil
	}
	p.ID = m.id()
	m.products[p.ID] = p
	m.bySKU[*p.SKU] = p.ID
	return p, nil
}

func (m *memStore) UpsertByFingerprint(_ context.Context, p *domain.Product) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byFP[p.Fingerprint]; ok {
		return m.products[id], nil
	}
	p.ID = m.id()
	m.products[p.ID] = p
	m.byFP[p.Fingerprint] = p.ID
	return p, nil
}

func (m *memStore) RefreshAggregates(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		p := m.products[id]
		p.ListingCount, p.InStockCount = 0, 0
		p.MinPrice, p.MaxPrice, p.AvgPrice = nil, nil, nil
		sum := decimal.Zero
		for _, l := range m.listings {
			if l.ProductID != id || !l.IsActive {
				continue
			}
			price := l.Price
			p.ListingCount++
			sum = sum.Add(price)
			if p.MinPrice == nil || price.LessThan(*p.MinPrice) {
				p.MinPrice = &price
			}
			if p.MaxPrice == nil || price.GreaterThan(*p.MaxPrice) {
				p.MaxPrice = &price
			}
			if l.StockStatus.Available() {
				p.InStockCount++
			}
		}
		if p.ListingCount > 0 {
			avg := sum.Div(decimal.NewFromInt(int64(p.ListingCount))).Round(2)
			p.AvgPrice = &avg
		}
	}
	return nil
}

func (m *memStore) listingRepo() *memListings { return &memListings{m} }
func (m *memStore) outboxRepo() *memOutbox    { return &memOutbox{m} }

type memListings struct{ m *memStore }

func (r *memListings) Upsert(_ context.Context, l *domain.ProductListing) (*domain.ListingChange, error) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSKU != "" && l.MerchantSKU == m.failSKU {
		return nil, errors.New("constraint violation")
	}

	key := listingKey{l.ProductID, l.MerchantID, l.MerchantSKU}
	change := &domain.ListingChange{}
	if prev, ok := m.listings[key]; ok {
		price, stock := prev.Price, prev.StockStatus
		change.PreviousPrice, change.PreviousStock = &price, &stock
		l.ID = prev.ID
		l.CreatedAt = prev.CreatedAt
	} else {
		l.ID = m.id()
		l.CreatedAt = l.LastSyncedAt
	}
	stored := *l
	m.listings[key] = &stored
	change.Listing = l
	return change, nil
}

func (r *memListings) DeactivateStale(_ context.Context, merchantID int64, before time.Time) (*DeactivateStaleRes, error) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	res := &DeactivateStaleRes{}
	seen := map[int64]bool{}
	for _, l := range m.listings {
		if l.MerchantID == merchantID && l.IsActive && l.LastSyncedAt.Before(before) {
			l.IsActive = false
			res.Deactivated++
			if !seen[l.ProductID] {
				seen[l.ProductID] = true
				res.ProductIDs = append(res.ProductIDs, l.ProductID)
			}
		}
	}
	return res, nil
}

type memOutbox struct{ m *memStore }

func (r *memOutbox) Create(_ context.Context, event *OutboxEvent) (*OutboxEvent, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	event.ID = int64(len(r.m.events) + 1)
	r.m.events = append(r.m.events, event)
	return event, nil
}

func (r *memOutbox) GetAndMarkAsProcessing(context.Context, int) ([]*OutboxEvent, error) {
	return nil, nil
}
func (r *memOutbox) MarkAsProcessed(context.Context, int64) error { return nil }
func (r *memOutbox) ReturnToPending(context.Context, int64) error { return nil }
func (r *memOutbox) ReclaimStuck(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (m *memStore) snapshot() []domain.ProductListing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ProductListing, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// --- helpers ---

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
