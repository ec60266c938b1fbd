// Package politeness — слой вежливых HTTP-запросов к сайту одного продавца:
// robots.txt, минимальный интервал, обработка 429, повторы с экспоненциальной паузой и таймаут.
package politeness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/jitter"
	"github.com/DRSN-tech/price-sync/pkg/logger"
	"github.com/DRSN-tech/price-sync/pkg/robots"
	"github.com/jimlawless/whereami"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent          = "PriceSyncBot/1.0 (+https://github.com/DRSN-tech/price-sync)"
	DefaultMinInterval        = time.Second
	DefaultMaxRetries         = 3
	DefaultBackoffBase        = time.Second
	DefaultBackoffMax         = 30 * time.Second
	DefaultRequestTimeout     = 15 * time.Second
	DefaultRetryAfterFallback = 60 * time.Second
	DefaultMaxBodyBytes       = 10 << 20
)

// Config — параметры вежливости для одного продавца.
type Config struct {
	BaseURL            string
	UserAgent          string
	ProxyURL           string
	MinInterval        time.Duration
	RequestsPerMinute  int
	MaxRetries         int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	Jitter             float64
	RequestTimeout     time.Duration
	RetryAfterFallback time.Duration
	MaxBodyBytes       int64
}

func (c *Config) withDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RetryAfterFallback <= 0 {
		c.RetryAfterFallback = DefaultRetryAfterFallback
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Options — параметры одного запроса.
type Options struct {
	Method  string
	Headers map[string]string
	// NoRetry отключает повторы (проверки доступности, robots.txt).
	NoRetry bool
}

// Response — прочитанный ответ сервера.
type Response struct {
	URL         string
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string
	Attempts    int
}

// Stats — счётчики запросов экземпляра.
type Stats struct {
	Requests    int64
	LastRequest time.Time
}

// SleepFunc приостанавливает выполнение с учётом отмены контекста.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Fetcher)

// WithSleep подменяет функцию ожидания (в тестах паузы записываются, а не выжидаются).
func WithSleep(sleep SleepFunc) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

func WithRobotsCache(cache usecase.RobotsCache) Option {
	return func(f *Fetcher) { f.robotsCache = cache }
}

// Fetcher выполняет запросы строго по одному: мьютекс удерживается на всё время запроса,
// включая паузы, поэтому два запроса к одному продавцу никогда не идут параллельно.
type Fetcher struct {
	cfg         Config
	base        *url.URL
	client      *http.Client
	limiter     *rate.Limiter
	robotsCache usecase.RobotsCache
	logger      logger.Logger
	sleep       SleepFunc
	now         func() time.Time

	mu          sync.Mutex
	lastRequest time.Time
	requests    int64

	robotsMu    sync.RWMutex
	rules       *robots.Ruleset
	initialized bool
}

func NewFetcher(cfg Config, logger logger.Logger, opts ...Option) (*Fetcher, error) {
	cfg.withDefaults()

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: base url %q", e.ErrInvalidURL, cfg.BaseURL))
	}

	f := &Fetcher{
		cfg:    cfg,
		base:   base,
		logger: logger,
		sleep:  sleepCtx,
		now:    time.Now,
		rules:  robots.Empty(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.ProxyURL != "" {
			proxy, err := url.Parse(cfg.ProxyURL)
			if err != nil {
				return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: proxy url %q", e.ErrInvalidURL, cfg.ProxyURL))
			}
			transport.Proxy = http.ProxyURL(proxy)
		}
		f.client = &http.Client{Transport: transport}
	}

	if cfg.RequestsPerMinute > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return f, nil
}

// BaseURL возвращает корневой адрес продавца.
func (f *Fetcher) BaseURL() *url.URL {
	u := *f.base
	return &u
}

// Initialize загружает robots.txt: сначала из кэша, затем с сайта.
// Недоступный или битый robots.txt не является ошибкой: используется пустой набор правил.
func (f *Fetcher) Initialize(ctx context.Context) error {
	host := f.base.Host

	if f.robotsCache != nil {
		body, ok, err := f.robotsCache.GetRobots(ctx, host)
		if err != nil {
			f.logger.Warnf("robots cache read failed for %s: %v", host, err)
		}
		if ok {
			f.setRules(robots.Parse(body, f.cfg.UserAgent))
			f.logger.Debugf("robots.txt for %s loaded from cache", host)
			return nil
		}
	}

	robotsURL := f.base.ResolveReference(&url.URL{Path: "/robots.txt"}).String()
	resp, err := f.do(ctx, robotsURL, Options{NoRetry: true})
	if err != nil {
		var statusErr *e.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			f.logger.Infof("no robots.txt for %s, allowing all", host)
		} else {
			f.logger.Warnf("robots.txt unavailable for %s, allowing all: %v", host, err)
		}
		f.setRules(robots.Empty())
		return nil
	}

	body := string(resp.Body)
	f.setRules(robots.Parse(body, f.cfg.UserAgent))
	if f.robotsCache != nil {
		if err := f.robotsCache.SaveRobots(ctx, host, body); err != nil {
			f.logger.Warnf("robots cache write failed for %s: %v", host, err)
		}
	}

	return nil
}

func (f *Fetcher) setRules(r *robots.Ruleset) {
	f.robotsMu.Lock()
	f.rules = r
	f.initialized = true
	f.robotsMu.Unlock()
}

// Initialized сообщает, загружены ли правила robots.txt.
func (f *Fetcher) Initialized() bool {
	f.robotsMu.RLock()
	defer f.robotsMu.RUnlock()
	return f.initialized
}

// Allowed проверяет URL по правилам robots.txt, не обращаясь к сети.
func (f *Fetcher) Allowed(target *url.URL) bool {
	f.robotsMu.RLock()
	rules := f.rules
	f.robotsMu.RUnlock()
	return rules.IsAllowed(target.RequestURI())
}

// Fetch выполняет GET (или метод из opts) с соблюдением всех правил вежливости.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	const op = "Fetcher.Fetch"

	target, err := f.resolve(rawURL)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if !f.Allowed(target) {
		return nil, &e.PolicyViolationError{URL: target.String()}
	}

	resp, err := f.do(ctx, target.String(), opts)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Head — облегчённый запрос для проверки доступности сайта.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (int, error) {
	resp, err := f.Fetch(ctx, rawURL, Options{Method: http.MethodHead, NoRetry: true})
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

func (f *Fetcher) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{Requests: f.requests, LastRequest: f.lastRequest}
}

func (f *Fetcher) resolve(rawURL string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", e.ErrInvalidURL, rawURL)
	}
	target := f.base.ResolveReference(ref)
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", e.ErrInvalidURL, target.Scheme)
	}
	if !strings.EqualFold(target.Host, f.base.Host) {
		return nil, fmt.Errorf("%w: %s is outside %s", e.ErrInvalidURL, target.Host, f.base.Host)
	}
	return target, nil
}

// do — цикл попыток. Первый 429 поглощается: пауза по Retry-After и повтор, который
// не расходует бюджет повторов. Последующие 429 считаются неудачными попытками.
func (f *Fetcher) do(ctx context.Context, target string, opts Options) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	maxAttempts := f.cfg.MaxRetries + 1
	if opts.NoRetry {
		maxAttempts = 1
	}

	absorbed429 := false
	var lastErr error
	var retryAfter time.Duration

	attempts := 0
	for attempts < maxAttempts {
		if attempts > 0 {
			delay := jitter.ExponentialBackoff(f.cfg.BackoffBase, f.cfg.BackoffMax, attempts-1, f.cfg.Jitter)
			if retryAfter > delay {
				delay = retryAfter
			}
			f.logger.Warnf("retrying %s in %s (attempt %d/%d): %v", target, delay, attempts+1, maxAttempts, lastErr)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, e.Wrap(whereami.WhereAmI(), err)
			}
		}

		resp, err := f.attempt(ctx, target, opts)
		retryAfter = 0
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := f.retryAfter(resp.Header.Get("Retry-After"))
			if !absorbed429 {
				absorbed429 = true
				f.logger.Warnf("429 from %s, waiting %s before re-issuing", target, wait)
				if err := f.sleep(ctx, wait); err != nil {
					return nil, e.Wrap(whereami.WhereAmI(), err)
				}
				continue
			}
			lastErr = fmt.Errorf("%w: %s", e.ErrRateLimited, target)
			retryAfter = wait
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			resp.Attempts = attempts + 1
			return resp, nil
		default:
			lastErr = &e.HTTPStatusError{StatusCode: resp.StatusCode, URL: target}
		}

		attempts++
		if ctx.Err() != nil {
			break
		}
	}

	return nil, &e.NetworkError{URL: target, Attempts: attempts, Err: lastErr}
}

// attempt выполняет ровно один запрос с учётом интервала и таймаута.
func (f *Fetcher) attempt(ctx context.Context, target string, opts Options) (*Response, error) {
	if err := f.waitTurn(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, nil)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	f.lastRequest = f.now()
	f.requests++

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, err
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		URL:         finalURL,
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// waitTurn выдерживает минимальный интервал с момента предыдущего запроса и бюджет RPM.
func (f *Fetcher) waitTurn(ctx context.Context) error {
	if !f.lastRequest.IsZero() && f.cfg.MinInterval > 0 {
		if elapsed := f.now().Sub(f.lastRequest); elapsed < f.cfg.MinInterval {
			if err := f.sleep(ctx, f.cfg.MinInterval-elapsed); err != nil {
				return err
			}
		}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// retryAfter разбирает Retry-After в секундах или HTTP-дате.
func (f *Fetcher) retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return f.cfg.RetryAfterFallback
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(f.now()); d > 0 {
			return d
		}
		return 0
	}
	return f.cfg.RetryAfterFallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsPolicyViolation — удобная проверка для вызывающего кода.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, e.ErrPolicyViolation)
}
