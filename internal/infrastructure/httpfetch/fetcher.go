package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/metrics"
	"NewsHarvester/internal/ports"
)

// Options tunes the fetcher. Zero values fall back to defaults.
type Options struct {
	UserAgent       string
	MaxBodyBytes    int64
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

const (
	defaultUserAgent       = "NewsHarvester/1.0"
	defaultMaxBodyBytes    = 10 << 20
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 5 * time.Minute
)

// Fetcher retrieves feed documents over HTTP with one circuit breaker per host.
type Fetcher struct {
	client *http.Client
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

var _ ports.FeedFetcher = (*Fetcher)(nil)

// New wires an HTTP client; per-request timeouts come from Fetch.
func New(client *http.Client, opts Options, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = defaultBreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaultBreakerCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   client,
		opts:     opts,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

// Fetch downloads rawURL within timeout. Failures are returned as *domain.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchNetwork, Err: fmt.Errorf("invalid url")}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := f.breaker(parsed.Host).Execute(func() ([]byte, error) {
		return f.get(ctx, rawURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &domain.FetchError{URL: rawURL, Kind: domain.FetchCircuit, Err: err}
	}
	if err != nil {
		var fe *domain.FetchError
		if errors.As(err, &fe) {
			metrics.FeedFetchFailures.WithLabelValues(string(fe.Kind)).Inc()
		}
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchNetwork, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, application/json;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Kind: transportKind(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Kind: transportKind(ctx, err), Err: err}
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchBody, Err: fmt.Errorf("body exceeds %d bytes", f.opts.MaxBodyBytes)}
	}
	if len(body) == 0 {
		return nil, &domain.FetchError{URL: rawURL, Kind: domain.FetchBody, Err: fmt.Errorf("empty body")}
	}
	return body, nil
}

func transportKind(ctx context.Context, err error) domain.FetchErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FetchTimeout
	}
	return domain.FetchNetwork
}

func (f *Fetcher) breaker(host string) *gobreaker.CircuitBreaker[[]byte] {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[host]; ok {
		return cb
	}

	failures := f.opts.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     f.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A 4xx is the feed's problem, not the host's.
		IsSuccessful: func(err error) bool {
			var fe *domain.FetchError
			if errors.As(err, &fe) && fe.Kind == domain.FetchStatus {
				return fe.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("circuit breaker state change", "host", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	f.breakers[host] = cb
	return cb
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
