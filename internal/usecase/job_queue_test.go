package usecase

import (
	"container/heap"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
)

func newTestQueue(concurrency int, scrapers ...Scraper) (*JobQueue, *fakeJobRepo, *fakeReconciler) {
	repo := newFakeJobRepo()
	rec := newFakeReconciler()
	q := NewJobQueue(repo, NewScraperRegistry(scrapers...), rec, logger.NewNopLogger(), concurrency)
	return q, repo, rec
}

func TestJobHeapOrdersByPriorityThenInsertion(t *testing.T) {
	h := &jobHeap{}
	add := func(id string, priority int, seq uint64) {
		heap.Push(h, &queuedJob{job: &domain.ScrapingJob{ID: id, Priority: priority}, seq: seq})
	}
	add("low-1", 1, 1)
	add("high-1", 9, 2)
	add("low-2", 1, 3)
	add("high-2", 9, 4)
	add("mid", 5, 5)

	var got []string
	for h.Len() > 0 {
		got = append(got, heap.Pop(h).(*queuedJob).job.ID)
	}
	want := []string{"high-1", "high-2", "mid", "low-1", "low-2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestCategorySyncEndToEnd(t *testing.T) {
	acme := newFakeScraper("acme", "tools")
	returned := okResult("tools", 3)
	acme.onCategory = func(string) (*domain.ScrapingResult, error) { return returned, nil }

	q, repo, rec := newTestQueue(3, acme)
	id, err := q.AddJob(context.Background(), "acme", domain.CategorySync, 1, domain.JobParams{Category: "tools"})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	waitFor(t, "job completion", func() bool { return repo.allTerminal(id) })

	if acme.calls("tools") != 1 {
		t.Fatalf("ScrapeCategory(tools) called %d times", acme.calls("tools"))
	}
	history := repo.statusHistory(id)
	want := []domain.JobStatus{domain.JobPending, domain.JobRunning, domain.JobCompleted}
	if len(history) != len(want) {
		t.Fatalf("history = %v", history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("history = %v, want %v", history, want)
		}
	}

	job, err := q.GetJobStatus(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatal("timestamps not recorded")
	}
	res := job.Result
	if res == nil || !res.Success || res.ProductsScraped != 3 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Duration != returned.Duration || !res.Timestamp.Equal(returned.Timestamp) {
		t.Fatalf("persisted result differs from scraper result")
	}
	if res.Reconciled != 3 || rec.reconciled["acme"] != 3 {
		t.Fatalf("records not reconciled: %d / %d", res.Reconciled, rec.reconciled["acme"])
	}
	if rec.sweepCount() != 0 {
		t.Fatal("category sync must not sweep stale listings")
	}
}

func TestUnknownMerchantFailsWithoutScraping(t *testing.T) {
	acme := newFakeScraper("acme", "tools")
	q, repo, _ := newTestQueue(3, acme)

	id, err := q.AddJob(context.Background(), "unknown-merchant", domain.CategorySync, 1, domain.JobParams{Category: "tools"})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	waitFor(t, "job failure", func() bool { return repo.allTerminal(id) })

	job, _ := repo.Get(context.Background(), id)
	if job.Status != domain.JobFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if !strings.Contains(job.Error, "unknown-merchant") {
		t.Fatalf("error must name the merchant: %q", job.Error)
	}
	if acme.totalCalls() != 0 {
		t.Fatal("no scraper may be called")
	}
	for _, s := range repo.statusHistory(id) {
		if s == domain.JobRunning {
			t.Fatal("unknown merchant job must not enter running")
		}
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	var current, peak atomic.Int32
	acme := newFakeScraper("acme", "tools")
	acme.onCategory = func(c string) (*domain.ScrapingResult, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return okResult(c, 1), nil
	}

	q, repo, _ := newTestQueue(3, acme)
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := q.AddJob(context.Background(), "acme", domain.CategorySync, i%3, domain.JobParams{Category: "tools"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	waitFor(t, "all jobs", func() bool { return repo.allTerminal(ids...) })

	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds ceiling", peak.Load())
	}
	if acme.calls("tools") != 10 {
		t.Fatalf("expected 10 scrapes, got %d", acme.calls("tools"))
	}
	for _, id := range ids {
		if repo.status(id) != domain.JobCompleted {
			t.Fatalf("job %s status %s", id, repo.status(id))
		}
	}
}

func TestGetJobStatusTwoTierLookup(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	acme := newFakeScraper("acme", "tools")
	acme.onCategory = func(c string) (*domain.ScrapingResult, error) {
		started <- struct{}{}
		<-release
		return okResult(c, 1), nil
	}

	q, repo, _ := newTestQueue(1, acme)
	ctx := context.Background()

	first, _ := q.AddJob(ctx, "acme", domain.CategorySync, 1, domain.JobParams{Category: "tools"})
	<-started
	second, _ := q.AddJob(ctx, "acme", domain.CategorySync, 1, domain.JobParams{Category: "tools"})

	queued, err := q.GetJobStatus(ctx, second)
	if err != nil || queued.Status != domain.JobPending {
		t.Fatalf("queued job: %+v, %v", queued, err)
	}
	running, err := q.GetJobStatus(ctx, first)
	if err != nil || running.Status != domain.JobRunning {
		t.Fatalf("running job: %+v, %v", running, err)
	}

	if _, err := q.GetJobStatus(ctx, "missing"); !errors.Is(err, e.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	close(release)
	waitFor(t, "both jobs", func() bool { return repo.allTerminal(first, second) })
}

func TestPanickingJobReleasesSlot(t *testing.T) {
	acme := newFakeScraper("acme", "boom", "tools")
	acme.onCategory = func(c string) (*domain.ScrapingResult, error) {
		if c == "boom" {
			panic("selector exploded")
		}
		return okResult(c, 1), nil
	}

	q, repo, _ := newTestQueue(1, acme)
	ctx := context.Background()
	bad, _ := q.AddJob(ctx, "acme", domain.CategorySync, 1, domain.JobParams{Category: "boom"})
	good, _ := q.AddJob(ctx, "acme", domain.CategorySync, 1, domain.JobParams{Category: "tools"})

	waitFor(t, "both jobs", func() bool { return repo.allTerminal(bad, good) })

	badJob, _ := repo.Get(ctx, bad)
	if badJob.Status != domain.JobFailed || !strings.Contains(badJob.Error, "selector exploded") {
		t.Fatalf("panicking job = %s %q", badJob.Status, badJob.Error)
	}
	if repo.status(good) != domain.JobCompleted {
		t.Fatalf("next job status = %s", repo.status(good))
	}

	waitFor(t, "released slots", func() bool {
		stats, err := q.GetStats(ctx)
		return err == nil && stats.Running == 0 && stats.Queued == 0
	})
}

func TestFullSyncAccumulatesCategories(t *testing.T) {
	acme := newFakeScraper("acme", "tools", "garden", "kitchen")
	acme.onCategory = func(c string) (*domain.ScrapingResult, error) {
		if c == "garden" {
			return nil, errors.New("root page unreachable")
		}
		return okResult(c, 2), nil
	}

	q, repo, rec := newTestQueue(3, acme)
	id, _ := q.AddJob(context.Background(), "acme", domain.FullSync, 1, domain.JobParams{})
	waitFor(t, "full sync", func() bool { return repo.allTerminal(id) })

	job, _ := repo.Get(context.Background(), id)
	if job.Status != domain.JobCompleted {
		t.Fatalf("partial failure must not fail the job: %s %q", job.Status, job.Error)
	}
	if job.Result.ProductsScraped != 4 || len(job.Result.Errors) != 1 || job.Result.Success {
		t.Fatalf("unexpected result %+v", job.Result)
	}
	if !strings.Contains(job.Result.Errors[0], "garden") {
		t.Fatalf("error must name the category: %v", job.Result.Errors)
	}
	if rec.sweepCount() != 0 {
		t.Fatal("sweep must be skipped after a partial full sync")
	}
}

func TestFullSyncSweepsAfterCleanRun(t *testing.T) {
	acme := newFakeScraper("acme", "tools", "garden")
	q, repo, rec := newTestQueue(3, acme)

	id, _ := q.AddJob(context.Background(), "acme", domain.FullSync, 1, domain.JobParams{})
	waitFor(t, "full sync", func() bool { return repo.allTerminal(id) })

	if acme.calls("tools") != 1 || acme.calls("garden") != 1 {
		t.Fatal("each category must be scraped once")
	}
	if rec.sweepCount() != 1 {
		t.Fatalf("expected one sweep, got %d", rec.sweepCount())
	}
}

func TestFullSyncSkipsSweepWhenCrawlTruncated(t *testing.T) {
	acme := newFakeScraper("acme", "tools", "garden")
	acme.onCategory = func(c string) (*domain.ScrapingResult, error) {
		res := okResult(c, 2)
		res.Truncated = c == "garden"
		return res, nil
	}
	q, repo, rec := newTestQueue(3, acme)

	id, _ := q.AddJob(context.Background(), "acme", domain.FullSync, 1, domain.JobParams{})
	waitFor(t, "full sync", func() bool { return repo.allTerminal(id) })

	job, _ := repo.Get(context.Background(), id)
	if job.Status != domain.JobCompleted || !job.Result.Truncated {
		t.Fatalf("unexpected job %s %+v", job.Status, job.Result)
	}
	if rec.sweepCount() != 0 {
		t.Fatal("listings beyond a crawl limit must not be deactivated")
	}
	if job.Result.Deactivated != 0 {
		t.Fatalf("deactivated = %d", job.Result.Deactivated)
	}
}

func TestFullSyncFailsWhenEveryCategoryFails(t *testing.T) {
	acme := newFakeScraper("acme", "tools", "garden")
	acme.onCategory = func(string) (*domain.ScrapingResult, error) {
		return nil, e.ErrNetwork
	}
	q, repo, _ := newTestQueue(3, acme)

	id, _ := q.AddJob(context.Background(), "acme", domain.StockCheck, 1, domain.JobParams{})
	waitFor(t, "stock check", func() bool { return repo.allTerminal(id) })

	if repo.status(id) != domain.JobFailed {
		t.Fatalf("status = %s", repo.status(id))
	}
}

func TestProductSyncWithoutUsableRecord(t *testing.T) {
	acme := newFakeScraper("acme")
	q, repo, rec := newTestQueue(3, acme)

	id, err := q.AddJob(context.Background(), "acme", domain.ProductSync, 1, domain.JobParams{ProductURL: "https://acme.test/p/x"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "product sync", func() bool { return repo.allTerminal(id) })

	job, _ := repo.Get(context.Background(), id)
	if job.Status != domain.JobCompleted || job.Result.ProductsScraped != 0 {
		t.Fatalf("unexpected job %+v", job)
	}
	if rec.reconciled["acme"] != 0 {
		t.Fatal("nothing should be reconciled")
	}
}

func TestAddJobValidation(t *testing.T) {
	q, _, _ := newTestQueue(3, newFakeScraper("acme"))
	ctx := context.Background()

	cases := []struct {
		merchant string
		jobType  domain.JobType
		params   domain.JobParams
	}{
		{"", domain.FullSync, domain.JobParams{}},
		{"acme", domain.JobType("weekly"), domain.JobParams{}},
		{"acme", domain.CategorySync, domain.JobParams{}},
		{"acme", domain.ProductSync, domain.JobParams{}},
	}
	for _, c := range cases {
		if _, err := q.AddJob(ctx, c.merchant, c.jobType, 1, c.params); !errors.Is(err, e.ErrInvalidJob) {
			t.Errorf("AddJob(%q, %q) = %v, want ErrInvalidJob", c.merchant, c.jobType, err)
		}
	}
}

func TestTriggerSync(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}
	record := func(name string) func(string) (*domain.ScrapingResult, error) {
		return func(c string) (*domain.ScrapingResult, error) {
			mu.Lock()
			seen[name] = append(seen[name], c)
			mu.Unlock()
			return okResult(c, 1), nil
		}
	}
	acme := newFakeScraper("acme", "tools")
	acme.onCategory = record("acme")
	bolt := newFakeScraper("bolt", "garden")
	bolt.onCategory = record("bolt")

	q, repo, _ := newTestQueue(3, bolt, acme)
	ctx := context.Background()

	id, err := q.TriggerSync(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	job, _ := q.GetJobStatus(ctx, id)
	if job.Merchant != "acme" || job.Type != domain.FullSync || job.Priority != TriggerPriority {
		t.Fatalf("representative job = %+v", job)
	}

	catID, err := q.TriggerSync(ctx, "bolt", "garden")
	if err != nil {
		t.Fatal(err)
	}
	catJob, _ := q.GetJobStatus(ctx, catID)
	if catJob.Type != domain.CategorySync || catJob.Category != "garden" {
		t.Fatalf("category trigger = %+v", catJob)
	}

	waitFor(t, "triggered jobs", func() bool {
		stats, _ := q.GetStats(ctx)
		return stats.Queued == 0 && stats.Running == 0 && repo.allTerminal(id, catID)
	})

	stats, _ := q.GetStats(ctx)
	if stats.Completed != 3 {
		t.Fatalf("completed = %d, want 3", stats.Completed)
	}
	if strings.Join(stats.Merchants, ",") != "acme,bolt" {
		t.Fatalf("merchants = %v", stats.Merchants)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen["acme"]) != 1 || len(seen["bolt"]) != 2 {
		t.Fatalf("scrapes = %v", seen)
	}
}

func TestCloseRejectsNewJobs(t *testing.T) {
	q, _, _ := newTestQueue(3, newFakeScraper("acme", "tools"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := q.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := q.AddJob(context.Background(), "acme", domain.FullSync, 1, domain.JobParams{}); !errors.Is(err, e.ErrQueueClosed) {
		t.Fatalf("expected closed queue error, got %v", err)
	}
}

func TestRecoverFailsInterruptedJobs(t *testing.T) {
	q, repo, _ := newTestQueue(3)
	stale := domain.NewScrapingJob("acme", domain.FullSync, 1, domain.JobParams{}, time.Now())
	_ = repo.Create(context.Background(), stale)

	if err := q.Recover(context.Background()); err != nil {
		t.Fatal(err)
	}
	if repo.status(stale.ID) != domain.JobFailed {
		t.Fatalf("status = %s", repo.status(stale.ID))
	}
}
