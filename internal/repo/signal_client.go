package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/miradorstack/mirador-sentry/internal/cache"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// SignalClientConfig configures access to a remote signal API.
type SignalClientConfig struct {
	BaseURL     string
	SeriesPath  string
	WindowPath  string
	LogsPath    string
	CatalogPath string
	Timeout     time.Duration
	MaxRetries  int
	CatalogTTL  time.Duration
}

// SignalClient reads metrics and logs from a remote signal API. It satisfies the
// metric store and log store contracts so detection can run against a shared backend.
type SignalClient struct {
	cfg        SignalClientConfig
	baseURL    string
	httpClient *http.Client
	cache      cache.Provider
	logger     *slog.Logger
}

// NewSignalClient constructs a client targeting the configured signal API.
func NewSignalClient(cfg SignalClientConfig, cacheProvider cache.Provider, logger *slog.Logger) *SignalClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &SignalClient{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cacheProvider,
		logger:     logger,
	}
}

type wirePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// SeriesFor fetches the newest limit points of a series.
func (c *SignalClient) SeriesFor(ctx context.Context, service, metric string, limit int) ([]models.MetricPoint, error) {
	payload := map[string]any{
		"service": service,
		"metric":  metric,
		"limit":   limit,
	}
	var response struct {
		Points []wirePoint `json:"points"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.cfg.SeriesPath), payload, &response); err != nil {
		return nil, fmt.Errorf("signal series request failed: %w", err)
	}
	return toPoints(service, metric, response.Points), nil
}

// MetricWindow fetches points inside the padded window.
func (c *SignalClient) MetricWindow(ctx context.Context, service, metric string, start, end time.Time, padding time.Duration, limit int) ([]models.MetricPoint, error) {
	from, to := utils.PaddedWindow(start, end, padding)
	payload := map[string]any{
		"service": service,
		"metric":  metric,
		"start":   from.Format(time.RFC3339Nano),
		"end":     to.Format(time.RFC3339Nano),
		"limit":   limit,
	}
	var response struct {
		Points []wirePoint `json:"points"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.cfg.WindowPath), payload, &response); err != nil {
		return nil, fmt.Errorf("signal window request failed: %w", err)
	}
	return toPoints(service, metric, response.Points), nil
}

// LogWindow fetches log entries inside the padded window.
func (c *SignalClient) LogWindow(ctx context.Context, service string, start, end time.Time, padding time.Duration, limit int) ([]models.LogEntry, error) {
	from, to := utils.PaddedWindow(start, end, padding)
	payload := map[string]any{
		"service": service,
		"start":   from.Format(time.RFC3339Nano),
		"end":     to.Format(time.RFC3339Nano),
		"limit":   limit,
	}
	var response struct {
		Entries []models.LogEntry `json:"entries"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.cfg.LogsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("signal logs request failed: %w", err)
	}
	entries := response.Entries
	for i := range entries {
		if entries[i].Service == "" {
			entries[i].Service = service
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return entries, nil
}

// DistinctServices lists services in the remote catalog.
func (c *SignalClient) DistinctServices(ctx context.Context) ([]string, error) {
	catalog, err := c.catalog(ctx)
	if err != nil {
		return nil, err
	}
	services := make([]string, 0, len(catalog))
	for svc := range catalog {
		services = append(services, svc)
	}
	sort.Strings(services)
	return services, nil
}

// DistinctMetrics lists metrics the remote catalog knows for service.
func (c *SignalClient) DistinctMetrics(ctx context.Context, service string) ([]string, error) {
	catalog, err := c.catalog(ctx)
	if err != nil {
		return nil, err
	}
	metrics := append([]string(nil), catalog[service]...)
	sort.Strings(metrics)
	return metrics, nil
}

func (c *SignalClient) catalog(ctx context.Context) (map[string][]string, error) {
	cacheKey := "sentry:catalog:" + c.baseURL
	var cached map[string][]string
	if cache.GetJSON(ctx, c.cache, cacheKey, &cached) {
		return cached, nil
	}

	var response struct {
		Services map[string][]string `json:"services"`
	}
	if err := c.getJSON(ctx, c.resolvePath(c.cfg.CatalogPath), &response); err != nil {
		return nil, fmt.Errorf("signal catalog request failed: %w", err)
	}
	if response.Services == nil {
		response.Services = map[string][]string{}
	}
	if err := cache.SetJSON(ctx, c.cache, cacheKey, response.Services, c.cfg.CatalogTTL); err != nil {
		c.logger.Debug("catalog cache write failed", slog.Any("error", err))
	}
	return response.Services, nil
}

func toPoints(service, metric string, wire []wirePoint) []models.MetricPoint {
	points := make([]models.MetricPoint, 0, len(wire))
	for _, p := range wire {
		points = append(points, models.MetricPoint{Service: service, Metric: metric, Timestamp: p.Timestamp.UTC(), Value: p.Value})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points
}

func (c *SignalClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *SignalClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, body, out)
}

func (c *SignalClient) getJSON(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

// do retries transport errors and 5xx responses with exponential backoff.
func (c *SignalClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	if c == nil {
		return fmt.Errorf("signal client not initialised")
	}
	if endpoint == "" {
		return fmt.Errorf("signal API base URL not configured")
	}

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("signal API returned %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("signal API returned %s", resp.Status))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = c.cfg.Timeout
	var b backoff.BackOff = backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries))
	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
