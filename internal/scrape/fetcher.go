package scrape

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/models"
)

// Cache keys for the current UA/proxy choice.
const (
	choiceKeyUA    = "ua"
	choiceKeyProxy = "proxy"
)

// FetchResult is the outcome of one successful page retrieval.
type FetchResult struct {
	Status    int
	Body      string
	Headers   http.Header
	Cookies   []*http.Cookie
	ElapsedMS int64
	Source    models.Source
}

// FetcherConfig bounds the fetcher's retry and timing behavior.
type FetcherConfig struct {
	RequestTimeout time.Duration // per-request, default 15s
	TotalTimeout   time.Duration // including retries, default 45s
	MaxRetries     int           // default 2
	BackoffBase    time.Duration // default 1s, doubled per attempt
	ChoiceTTL      time.Duration // UA/proxy cache, default 10m
}

func (c *FetcherConfig) defaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 45 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.ChoiceTTL <= 0 {
		c.ChoiceTTL = 10 * time.Minute
	}
}

// Fetcher performs one HTTP retrieval with retry/backoff, picking its user
// agent and proxy from the performance store. Session state is per-request;
// nothing is shared across jobs except the store itself.
type Fetcher struct {
	store   learn.Store
	cfg     FetcherConfig
	log     zerolog.Logger
	choices *cache.Cache

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker

	// Overridable in tests.
	sleep      func(context.Context, time.Duration) error
	initDelay  func() time.Duration
	newClient  func(proxy string, timeout time.Duration) *http.Client
}

func NewFetcher(store learn.Store, cfg FetcherConfig, log zerolog.Logger) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		store:    store,
		cfg:      cfg,
		log:      log,
		choices:  cache.New(cfg.ChoiceTTL, cfg.ChoiceTTL),
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		sleep:    sleepCtx,
		initDelay: func() time.Duration {
			return time.Duration(500+rand.Intn(1000)) * time.Millisecond
		},
		newClient: newProxyClient,
	}
}

// retryableStatus marks HTTP statuses worth another attempt with a fresh
// UA/proxy choice. 404 and malformed bodies are permanent.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusForbidden, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// Fetch retrieves a URL, learning from every attempt.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.TotalTimeout)
	defer cancel()

	// Politeness: random delay before the first request.
	if err := f.sleep(ctx, f.initDelay()); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	host := urlHost(rawURL)
	if err := f.limiter(host).Wait(ctx); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	attempt := 0
	var result *FetchResult

	backoff := retry.WithMaxRetries(uint64(f.cfg.MaxRetries), retry.NewExponential(f.cfg.BackoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ua, proxy := f.choose(ctx)
		start := time.Now()

		res, ferr := f.attempt(ctx, rawURL, host, ua, proxy)
		elapsed := time.Since(start).Milliseconds()

		out := models.FetchOutcome{
			URL:       rawURL,
			Success:   ferr == nil,
			RTMillis:  elapsed,
			UserAgent: ua,
			Proxy:     proxy,
			Retries:   attempt,
		}
		if res != nil {
			out.Status = res.Status
		}
		if rerr := f.store.RecordFetch(ctx, out); rerr != nil {
			// Stats are best-effort.
			f.log.Warn().Err(rerr).Msg("record fetch outcome")
		}
		attempt++

		if ferr != nil {
			// A failed choice is evicted so the next attempt asks the store
			// for a fresh one.
			f.choices.Delete(choiceKeyUA)
			f.choices.Delete(choiceKeyProxy)
			if fe, ok := ferr.(*FetchError); ok && fe.Status > 0 && !retryableStatus(fe.Status) {
				return ferr // permanent
			}
			return retry.RetryableError(ferr)
		}

		res.ElapsedMS = elapsed
		result = res
		return nil
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	return result, nil
}

// attempt performs a single HTTP GET through the per-host circuit breaker.
func (f *Fetcher) attempt(ctx context.Context, rawURL, host, ua, proxy string) (*FetchResult, error) {
	res, err := f.breaker(host).Execute(func() (interface{}, error) {
		client := f.newClient(proxy, f.cfg.RequestTimeout)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		req.Header.Set("User-Agent", ua)
		req.Header.Set("Accept-Language", "ja,ko;q=0.8,en;q=0.5")

		resp, err := client.Do(req)
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			io.Copy(io.Discard, resp.Body)
			return nil, &FetchError{URL: rawURL, Status: resp.StatusCode}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		return &FetchResult{
			Status:  resp.StatusCode,
			Body:    string(body),
			Headers: resp.Header,
			Cookies: resp.Cookies(),
			Source:  models.SourceHTMLFetch,
		}, nil
	})
	if err != nil {
		if fe, ok := err.(*FetchError); ok {
			return fetchResultOf(res), fe
		}
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	return res.(*FetchResult), nil
}

func fetchResultOf(v interface{}) *FetchResult {
	if r, ok := v.(*FetchResult); ok {
		return r
	}
	return nil
}

// choose returns the cached UA/proxy pair, consulting the store when the
// cache entry expired or was invalidated after a failure.
func (f *Fetcher) choose(ctx context.Context) (ua, proxy string) {
	if v, ok := f.choices.Get(choiceKeyUA); ok {
		ua = v.(string)
	} else {
		best, err := f.store.BestUserAgent(ctx)
		if err != nil || best == "" {
			best = fallbackUserAgent
		}
		ua = best
		f.choices.Set(choiceKeyUA, ua, cache.DefaultExpiration)
	}
	if v, ok := f.choices.Get(choiceKeyProxy); ok {
		proxy = v.(string)
	} else {
		proxy, _ = f.store.BestProxy(ctx)
		f.choices.Set(choiceKeyProxy, proxy, cache.DefaultExpiration)
	}
	return ua, proxy
}

const fallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 2)
		f.limiters[host] = l
	}
	return l
}

func (f *Fetcher) breaker(host string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[host]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        host,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		})
		f.breakers[host] = b
	}
	return b
}

func newProxyClient(proxy string, timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxy != "" {
		if pu, err := url.Parse(proxy); err == nil {
			transport.Proxy = http.ProxyURL(pu)
		}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func urlHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}
