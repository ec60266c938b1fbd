package politeness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fakeRobotsCache struct {
	mu    sync.Mutex
	items map[string]string
	saved int
}

func (c *fakeRobotsCache) GetRobots(_ context.Context, host string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.items[host]
	return body, ok, nil
}

func (c *fakeRobotsCache) SaveRobots(_ context.Context, host, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = map[string]string{}
	}
	c.items[host] = body
	c.saved++
	return nil
}

func newTestFetcher(t *testing.T, srv *httptest.Server, clock *fakeClock, cfg Config, opts ...Option) *Fetcher {
	t.Helper()
	cfg.BaseURL = srv.URL
	opts = append([]Option{WithSleep(clock.Sleep), WithClock(clock.Now)}, opts...)
	f, err := NewFetcher(cfg, logger.NewNopLogger(), opts...)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	return f
}

func TestPolicyViolationNeverHitsTheWire(t *testing.T) {
	var privateHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		case "/private/page":
			privateHits.Add(1)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, newFakeClock(), Config{})
	if err := f.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err := f.Fetch(context.Background(), "/private/page", Options{})
	var pv *e.PolicyViolationError
	if !errors.As(err, &pv) || !errors.Is(err, e.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if privateHits.Load() != 0 {
		t.Fatal("disallowed url was requested")
	}
	if got := f.Stats().Requests; got != 1 {
		t.Fatalf("expected only the robots.txt request, got %d", got)
	}

	resp, err := f.Fetch(context.Background(), "/public", Options{})
	if err != nil || string(resp.Body) != "ok" {
		t.Fatalf("public fetch: %v", err)
	}
}

func TestMinimumIntervalBetweenRequestStarts(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var starts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		starts = append(starts, clock.Now())
		mu.Unlock()
	}))
	defer srv.Close()

	const interval = 2 * time.Second
	f := newTestFetcher(t, srv, clock, Config{MinInterval: interval})

	for _, path := range []string{"/a", "/b", "/c", "/a?page=2", "/d"} {
		if _, err := f.Fetch(context.Background(), path, Options{}); err != nil {
			t.Fatalf("fetch %s: %v", path, err)
		}
	}

	if len(starts) != 5 {
		t.Fatalf("expected 5 requests, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < interval {
			t.Fatalf("gap %d = %s, want >= %s", i, gap, interval)
		}
	}
}

func TestConcurrentFetchesAreSerialized(t *testing.T) {
	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	var starts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	const interval = 30 * time.Millisecond
	f, err := NewFetcher(Config{BaseURL: srv.URL, MinInterval: interval}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	const workers = 6
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.Fetch(context.Background(), fmt.Sprintf("/p/%d", i), Options{}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("fetch: %v", err)
	}

	if got := peak.Load(); got != 1 {
		t.Fatalf("peak in-flight requests = %d, want 1", got)
	}
	if len(starts) != workers {
		t.Fatalf("expected %d requests, got %d", workers, len(starts))
	}
	// Допуск на разброс задержки loopback между клиентом и обработчиком
	const slack = 5 * time.Millisecond
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < interval-slack {
			t.Fatalf("gap %d = %s, want >= %s", i, gap, interval)
		}
	}
}

func TestRetryAfterIsHonouredAndNotCountedAsRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	clock := newFakeClock()
	f := newTestFetcher(t, srv, clock, Config{MaxRetries: 0})

	resp, err := f.Fetch(context.Background(), "/tools", Options{})
	if err != nil {
		t.Fatalf("expected transparent retry, got %v", err)
	}
	if resp.Attempts != 1 {
		t.Fatalf("429 re-issue must not count as an attempt, got %d", resp.Attempts)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", hits.Load())
	}

	var waited time.Duration
	for _, d := range clock.Sleeps() {
		waited += d
	}
	if waited < 5*time.Second {
		t.Fatalf("waited %s, want >= 5s", waited)
	}
}

func TestRepeated429ConsumesRetryBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, newFakeClock(), Config{MaxRetries: 1, BackoffBase: 100 * time.Millisecond})

	_, err := f.Fetch(context.Background(), "/tools", Options{})
	if !errors.Is(err, e.ErrRateLimited) || !errors.Is(err, e.ErrNetwork) {
		t.Fatalf("expected rate limited network error, got %v", err)
	}
	var netErr *e.NetworkError
	if !errors.As(err, &netErr) || netErr.Attempts != 2 {
		t.Fatalf("unexpected error %#v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
}

func TestExponentialBackoffUntilRetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clock := newFakeClock()
	f := newTestFetcher(t, srv, clock, Config{MaxRetries: 3, BackoffBase: 100 * time.Millisecond, BackoffMax: time.Minute})

	_, err := f.Fetch(context.Background(), "/tools", Options{})
	var netErr *e.NetworkError
	if !errors.As(err, &netErr) || netErr.Attempts != 4 {
		t.Fatalf("expected network error after 4 attempts, got %v", err)
	}
	var statusErr *e.HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
	if hits.Load() != 4 {
		t.Fatalf("expected 4 requests, got %d", hits.Load())
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	got := clock.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sleep %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRecoversAfterTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, newFakeClock(), Config{MaxRetries: 3})
	resp, err := f.Fetch(context.Background(), "/tools", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", resp.Attempts)
	}
}

func TestTimeoutCountsAsFailedAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, newFakeClock(), Config{MaxRetries: 1, RequestTimeout: 30 * time.Millisecond})

	_, err := f.Fetch(context.Background(), "/slow", Options{})
	var netErr *e.NetworkError
	if !errors.As(err, &netErr) || netErr.Attempts != 2 {
		t.Fatalf("expected network error after 2 attempts, got %v", err)
	}
}

func TestRobotsUnavailableAllowsEverything(t *testing.T) {
	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, newFakeClock(), Config{MaxRetries: 3})
	if err := f.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize must not fail: %v", err)
	}
	if !f.Initialized() {
		t.Fatal("fetcher must be initialized")
	}
	if robotsHits.Load() != 1 {
		t.Fatalf("robots.txt must be requested once, got %d", robotsHits.Load())
	}
	if _, err := f.Fetch(context.Background(), "/anything", Options{}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
}

func TestRobotsServedFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /checkout\n"))
	}))
	defer srv.Close()

	cache := &fakeRobotsCache{}
	first := newTestFetcher(t, srv, newFakeClock(), Config{}, WithRobotsCache(cache))
	if err := first.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cache.saved != 1 {
		t.Fatalf("robots body not cached, saved=%d", cache.saved)
	}

	second := newTestFetcher(t, srv, newFakeClock(), Config{}, WithRobotsCache(cache))
	if err := second.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("cached robots.txt was fetched again, hits=%d", hits.Load())
	}
	if _, err := second.Fetch(context.Background(), "/checkout/cart", Options{}); !errors.Is(err, e.ErrPolicyViolation) {
		t.Fatalf("cached rules not applied: %v", err)
	}
}

func TestFetchSendsUserAgentAndRejectsForeignHosts(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, newFakeClock(), Config{UserAgent: "TestBot/2.0"})
	if _, err := f.Fetch(context.Background(), "/", Options{}); err != nil {
		t.Fatal(err)
	}
	if gotUA != "TestBot/2.0" {
		t.Fatalf("user agent = %q", gotUA)
	}

	if _, err := f.Fetch(context.Background(), "https://elsewhere.test/x", Options{}); !errors.Is(err, e.ErrInvalidURL) {
		t.Fatalf("expected invalid url, got %v", err)
	}
	if f.Stats().Requests != 1 {
		t.Fatalf("foreign host must not be requested")
	}
}

func TestRetryAfterParsing(t *testing.T) {
	clock := newFakeClock()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	f := newTestFetcher(t, srv, clock, Config{RetryAfterFallback: 42 * time.Second})

	if got := f.retryAfter("7"); got != 7*time.Second {
		t.Fatalf("seconds: %s", got)
	}
	if got := f.retryAfter(""); got != 42*time.Second {
		t.Fatalf("fallback: %s", got)
	}
	date := clock.Now().Add(30 * time.Second).Format(http.TimeFormat)
	if got := f.retryAfter(date); got != 30*time.Second {
		t.Fatalf("http date: %s", got)
	}
	if got := f.retryAfter("soon"); got != 42*time.Second {
		t.Fatalf("garbage: %s", got)
	}
}
