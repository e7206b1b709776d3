package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// MemoryBackend keeps incidents in process memory.
type MemoryBackend struct {
	mu        sync.RWMutex
	nextID    int64
	incidents map[int64]models.Incident
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{incidents: make(map[int64]models.Incident)}
}

// FindOpen returns the open incident for key, if any.
func (m *MemoryBackend) FindOpen(_ context.Context, key string) (models.Incident, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inc := range m.incidents {
		if inc.Key == key && inc.Status == models.StatusOpen {
			return inc, true, nil
		}
	}
	return models.Incident{}, false, nil
}

// Insert assigns the next id and stores the incident.
func (m *MemoryBackend) Insert(_ context.Context, inc models.Incident) (models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	inc.ID = m.nextID
	m.incidents[inc.ID] = inc
	return inc, nil
}

// Update replaces the stored record in one write.
func (m *MemoryBackend) Update(_ context.Context, inc models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[inc.ID] = inc
	return nil
}

// Get looks up an incident by id.
func (m *MemoryBackend) Get(_ context.Context, id int64) (models.Incident, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[id]
	return inc, ok, nil
}

// ListOpen returns open incidents by severity desc, detected_at desc.
func (m *MemoryBackend) ListOpen(_ context.Context, limit int) ([]models.Incident, error) {
	m.mu.RLock()
	out := make([]models.Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		if inc.Status == models.StatusOpen {
			out = append(out, inc)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, limit), nil
}

// ListRecent returns all incidents by detected_at desc.
func (m *MemoryBackend) ListRecent(_ context.Context, limit int) ([]models.Incident, error) {
	m.mu.RLock()
	out := make([]models.Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, inc)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, limit), nil
}

// TrackedPairs returns every distinct pair with at least one incident.
func (m *MemoryBackend) TrackedPairs(_ context.Context) ([]models.ServicePair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[models.ServicePair]struct{})
	out := make([]models.ServicePair, 0)
	for _, inc := range m.incidents {
		pair := inc.Pair()
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		out = append(out, pair)
	}
	return out, nil
}

func truncate(incidents []models.Incident, limit int) []models.Incident {
	if limit > 0 && len(incidents) > limit {
		return incidents[:limit]
	}
	return incidents
}
