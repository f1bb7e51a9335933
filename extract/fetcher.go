package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

var (
	titleFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssbot_title_fetches_total",
		Help: "Page title fetches by result",
	}, []string{"result"})

	titleFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rssbot_title_fetch_duration_seconds",
		Help:    "Duration of page title fetches",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms up to ~20s
	})
)

const (
	DefaultFetchTimeout  = 10 * time.Second
	DefaultFetchMaxBytes = 1 << 20 // 1MB
	DefaultUserAgent     = "rssbot/1.0 (Matrix RSS bridge)"
)

// DefaultAllowedPorts are the ports links may use when private addresses are
// blocked. Links on any other port are stored without a title.
var DefaultAllowedPorts = []int{80, 443}

var (
	ErrNoTitle          = errors.New("no title found")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// FetcherConfig controls how page titles are fetched
type FetcherConfig struct {
	// Timeout bounds the whole request including reading the body
	Timeout time.Duration

	// MaxBytes is how much of the body is searched for a title
	MaxBytes int64

	// Rate limits fetches per second across all rooms, 0 disables the limit
	Rate float64

	// AllowPrivateAddresses disables the guard against loopback, private and
	// link-local targets
	AllowPrivateAddresses bool

	// AllowedPorts limits the ports links may use unless private addresses
	// are allowed, DefaultAllowedPorts when empty
	AllowedPorts []int

	UserAgent string
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultFetchTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultFetchMaxBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if len(c.AllowedPorts) == 0 {
		c.AllowedPorts = DefaultAllowedPorts
	}
	return c
}

// TitleFetcher downloads pages and extracts their title
type TitleFetcher struct {
	client  *http.Client
	config  FetcherConfig
	limiter *rate.Limiter
}

// NewTitleFetcher builds a fetcher with its own HTTP client. Unless private
// addresses are allowed, the client refuses to connect to internal targets.
func NewTitleFetcher(config FetcherConfig) *TitleFetcher {
	config = config.withDefaults()

	var client *http.Client
	if config.AllowPrivateAddresses {
		client = &http.Client{Timeout: config.Timeout}
	} else {
		safeConfig := safeurl.GetConfigBuilder().
			SetTimeout(config.Timeout).
			SetAllowedSchemes("http", "https").
			SetAllowedPorts(config.AllowedPorts...).
			Build()
		client = safeurl.Client(safeConfig).Client
	}

	return NewTitleFetcherWithClient(client, config)
}

// NewTitleFetcherWithClient builds a fetcher around an existing client
func NewTitleFetcherWithClient(client *http.Client, config FetcherConfig) *TitleFetcher {
	config = config.withDefaults()

	f := &TitleFetcher{
		client: client,
		config: config,
	}
	if config.Rate > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(config.Rate), 1)
	}
	return f
}

// Title fetches link and returns its page title
func (f *TitleFetcher) Title(ctx context.Context, link string) (string, error) {
	start := time.Now()

	title, err := f.fetch(ctx, link)

	titleFetchDuration.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		titleFetches.WithLabelValues("success").Inc()
	case errors.Is(err, ErrNoTitle):
		titleFetches.WithLabelValues("no_title").Inc()
	default:
		titleFetches.WithLabelValues("error").Inc()
	}

	log.WithFields(log.Fields{
		"link":     link,
		"duration": time.Since(start),
		"error":    err,
	}).Debug("Fetched page title")

	return title, err
}

func (f *TitleFetcher) fetch(ctx context.Context, link string) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.config.MaxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("failed to detect charset: %w", err)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	title, ok := ExtractTitle(string(data))
	if !ok {
		return "", ErrNoTitle
	}
	return title, nil
}
