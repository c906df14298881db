package eurostat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tradebalance/internal/providers"
	"tradebalance/internal/table"
)

const (
	defaultBaseURL         = "https://ec.europa.eu/eurostat/api/"
	defaultFormat          = "csvdata"
	defaultFormatVersion   = "1.0"
	defaultLanguage        = "en"
	defaultTimeoutSeconds  = 300
	defaultIntervalMillis  = 1000
	defaultUserAgent       = "TradeBalance/0.1"
	defaultMaxRetries      = 3
	defaultMaxPayloadBytes = 512 << 20
)

var (
	ErrTransient        = errors.New("eurostat: transient failure")
	ErrMalformedPayload = errors.New("eurostat: malformed payload")
	ErrNoRecords        = errors.New("eurostat: no records found")
	ErrUnknownDataset   = errors.New("eurostat: unknown dataset")
)

type Config struct {
	BaseURL       string
	Format        string
	FormatVersion string
	Language      string
	Timeout       time.Duration
	// Interval is the minimum delay between two requests.
	Interval        time.Duration
	UserAgent       string
	MaxRetries      int
	MaxPayloadBytes int64
}

type Provider struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

func New() (*Provider, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("eurostat: invalid base url: %w", err)
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = defaultFormat
	}
	if strings.TrimSpace(cfg.FormatVersion) == "" {
		cfg.FormatVersion = defaultFormatVersion
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeoutSeconds * time.Second
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = defaultMaxPayloadBytes
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	return &Provider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:       getenv("EUROSTAT_BASE_URL", defaultBaseURL),
		Format:        getenv("EUROSTAT_FORMAT", defaultFormat),
		FormatVersion: getenv("EUROSTAT_FORMAT_VERSION", defaultFormatVersion),
		Language:      getenv("EUROSTAT_LANGUAGE", defaultLanguage),
		UserAgent:     getenv("EUROSTAT_USER_AGENT", defaultUserAgent),
	}
	cfg.Timeout = time.Duration(getenvInt("EUROSTAT_TIMEOUT_SECONDS", defaultTimeoutSeconds)) * time.Second
	cfg.Interval = time.Duration(getenvInt("EUROSTAT_INTERVAL_MS", defaultIntervalMillis)) * time.Millisecond
	cfg.MaxRetries = getenvInt("EUROSTAT_MAX_RETRIES", defaultMaxRetries)
	return cfg, nil
}

func (p *Provider) Name() string {
	return "eurostat"
}

// SetInterval changes the minimum delay between requests.
func (p *Provider) SetInterval(interval time.Duration) {
	if interval <= 0 {
		p.limiter.SetLimit(rate.Inf)
		return
	}
	p.limiter.SetLimit(rate.Every(interval))
}

// Fetch downloads the CSV payload selected by q and validates its shape.
func (p *Provider) Fetch(ctx context.Context, q providers.Query) ([]byte, error) {
	ds, ok := Lookup(q.Dataset)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, q.Dataset)
	}
	endpoint := p.config.BaseURL + ds.Path
	query := p.buildQuery(ds, q)

	if q.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.Timeout)
		defer cancel()
	}

	body, err := p.doRequest(ctx, endpoint, query)
	if err != nil {
		return nil, err
	}
	if err := table.Validate(body); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, ds.ID, err)
	}
	return body, nil
}

// URL returns the request URL for q without sending it.
func (p *Provider) URL(q providers.Query) (string, error) {
	ds, ok := Lookup(q.Dataset)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDataset, q.Dataset)
	}
	return p.config.BaseURL + ds.Path + "?" + p.buildQuery(ds, q), nil
}

func (p *Provider) buildQuery(ds Dataset, q providers.Query) string {
	params := map[string]string{}
	filter := func(dim string, values []string) {
		if dim == "" || len(values) == 0 {
			return
		}
		params["c["+dim+"]"] = strings.Join(values, ",")
	}

	freq := string(q.Frequency)
	if freq == "" {
		freq = string(ds.Frequency)
	}
	params["c[freq]"] = freq
	filter(ds.ReporterDim, ds.aliases(q.Reporters))
	filter(ds.PartnerDim, ds.aliases(q.Partners))
	filter(ds.ProductDim, q.Products)
	filter(ds.FlowDim, ds.flowCodes(q.Flows))
	for dim, value := range ds.Fixed {
		params["c["+dim+"]"] = value
	}
	for dim, value := range q.Extra {
		params["c["+dim+"]"] = value
	}
	switch {
	case q.Start != "" && q.End != "":
		params["c[TIME_PERIOD]"] = "ge:" + q.Start + "+le:" + q.End
	case q.Start != "":
		params["c[TIME_PERIOD]"] = "ge:" + q.Start
	case q.End != "":
		params["c[TIME_PERIOD]"] = "le:" + q.End
	}

	labels := q.Labels
	if labels == "" {
		labels = "id"
	}
	params["compress"] = "false"
	params["format"] = p.config.Format
	params["formatVersion"] = p.config.FormatVersion
	params["lang"] = p.config.Language
	params["labels"] = labels
	params["returnData"] = "ALL"

	return encodeQuery(params)
}

// encodeQuery escapes values but keeps the SDMX filter syntax (":", ",",
// "+" and brackets) literal, which the upstream requires.
func encodeQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keep := strings.NewReplacer("%3A", ":", "%2C", ",", "%2B", "+", "%5B", "[", "%5D", "]")
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, keep.Replace(url.QueryEscape(k))+"="+keep.Replace(url.QueryEscape(params[k])))
	}
	return strings.Join(parts, "&")
}

func (p *Provider) doRequest(ctx context.Context, endpoint, rawQuery string) ([]byte, error) {
	attempts := p.config.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		body, status, retryAfter, err := p.doRequestOnce(ctx, endpoint, rawQuery)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
			if attempt < attempts-1 {
				if retryAfter <= 0 {
					retryAfter = time.Duration(attempt+1) * time.Second
				}
				if err := sleepWithContext(ctx, retryAfter); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrTransient, err)
				}
				continue
			}
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: request failed", ErrTransient)
}

func (p *Provider) doRequestOnce(ctx context.Context, endpoint, rawQuery string) ([]byte, int, time.Duration, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+rawQuery, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("eurostat: build request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain, */*")
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxPayloadBytes))
	if err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, 0, fmt.Errorf("%w: %s", ErrNoRecords, snippet(body))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, resp.StatusCode, parseRetryAfter(resp), fmt.Errorf("%w: request failed (%s): %s", ErrTransient, resp.Status, snippet(body))
	}
	return body, resp.StatusCode, 0, nil
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func parseRetryAfter(resp *http.Response) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := time.Parse(http.TimeFormat, value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

var _ providers.Fetcher = (*Provider)(nil)

// IsTransient reports whether err is worth retrying at the batch level.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
