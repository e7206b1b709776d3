package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

func TestStorePostmortemNoEndpoint(t *testing.T) {
	r := NewArchiveRepo("", "", time.Second, 0)
	if r.Enabled() {
		t.Fatalf("expected archive to be disabled")
	}
	if err := r.StorePostmortem(context.Background(), models.Postmortem{}, models.Artifacts{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestStorePostmortemPostsObject(t *testing.T) {
	var hits int
	r := NewArchiveRepo("https://archive.test/", "secret", time.Second, 1)
	r.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/v1/objects" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var payload struct {
			Class      string         `json:"class"`
			Properties map[string]any `json:"properties"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.Class != "Postmortem" || payload.Properties["service"] != "checkout" {
			t.Fatalf("unexpected payload %+v", payload)
		}
		if hits == 1 {
			return jsonResponse(http.StatusBadGateway, `upstream`), nil
		}
		return jsonResponse(http.StatusOK, `{}`), nil
	})

	pm := models.Postmortem{
		Summary:     "Likely DB saturation impacting latency",
		Incident:    models.Incident{ID: 7, Service: "checkout", Metric: models.MetricLatencyP95},
		GeneratedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	artifacts := models.Artifacts{IncidentID: 7, BaseName: "incident_7_20240501100000"}
	if err := r.StorePostmortem(context.Background(), pm, artifacts); err != nil {
		t.Fatalf("store: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected retry after 502, got %d calls", hits)
	}
}

func TestStorePostmortemRejected(t *testing.T) {
	r := NewArchiveRepo("https://archive.test", "", time.Second, 3)
	var hits int
	r.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		hits++
		return jsonResponse(http.StatusUnprocessableEntity, `bad object`), nil
	})
	if err := r.StorePostmortem(context.Background(), models.Postmortem{}, models.Artifacts{}); err == nil {
		t.Fatalf("expected error")
	}
	if hits != 1 {
		t.Fatalf("expected no retry for 4xx, got %d calls", hits)
	}
}
