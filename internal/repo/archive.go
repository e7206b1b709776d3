package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// ArchiveRepo forwards composed postmortems to an object store over HTTP.
// With no endpoint configured every call is a no-op.
type ArchiveRepo struct {
	endpoint   string
	apiKey     string
	maxRetries int
	httpClient *http.Client
}

// NewArchiveRepo constructs an archive client.
func NewArchiveRepo(endpoint, apiKey string, timeout time.Duration, maxRetries int) *ArchiveRepo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ArchiveRepo{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an archive endpoint is configured.
func (r *ArchiveRepo) Enabled() bool {
	return r != nil && r.endpoint != ""
}

// StorePostmortem persists a postmortem record along with its artifact references.
func (r *ArchiveRepo) StorePostmortem(ctx context.Context, pm models.Postmortem, artifacts models.Artifacts) error {
	if r == nil {
		return fmt.Errorf("archive repo not initialised")
	}
	if r.endpoint == "" {
		return nil
	}

	payload := map[string]any{
		"class":      "Postmortem",
		"properties": buildPostmortemProperties(pm, artifacts),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal postmortem: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/objects", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(resp.Body)
			err := fmt.Errorf("archive postmortem failed: %s", strings.TrimSpace(string(data)))
			if resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxRetries)), ctx))
}

func buildPostmortemProperties(pm models.Postmortem, artifacts models.Artifacts) map[string]any {
	generated := pm.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}

	hypotheses := make([]map[string]any, 0, len(pm.Analysis.Hypotheses))
	for _, h := range pm.Analysis.Hypotheses {
		hypotheses = append(hypotheses, map[string]any{
			"title":      h.Title,
			"confidence": h.Confidence,
		})
	}

	files := make([]map[string]any, 0, len(artifacts.Files))
	for _, f := range artifacts.Files {
		files = append(files, map[string]any{
			"format":   f.Format,
			"download": f.Download,
		})
	}

	return map[string]any{
		"incidentId":  pm.Incident.ID,
		"incidentKey": pm.Incident.Key,
		"service":     pm.Incident.Service,
		"metric":      pm.Incident.Metric,
		"severity":    pm.Incident.Severity,
		"summary":     pm.Summary,
		"hypotheses":  hypotheses,
		"actionItems": pm.ActionItems,
		"artifacts":   files,
		"baseName":    artifacts.BaseName,
		"generatedAt": generated.UTC().Format(time.RFC3339),
	}
}
