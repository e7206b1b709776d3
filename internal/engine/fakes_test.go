package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	series    map[string][]models.MetricPoint
	logs      map[string][]models.LogEntry
	seriesErr map[string]error
	logErr    error
	windows   []time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		series:    make(map[string][]models.MetricPoint),
		logs:      make(map[string][]models.LogEntry),
		seriesErr: make(map[string]error),
	}
}

func (f *fakeStore) add(service, metric string, start time.Time, step time.Duration, values ...float64) {
	key := service + ":" + metric
	for i, v := range values {
		f.series[key] = append(f.series[key], models.MetricPoint{
			Service:   service,
			Metric:    metric,
			Timestamp: start.Add(time.Duration(i) * step),
			Value:     v,
		})
	}
}

func (f *fakeStore) SeriesFor(ctx context.Context, service, metric string, limit int) ([]models.MetricPoint, error) {
	key := service + ":" + metric
	if err := f.seriesErr[key]; err != nil {
		return nil, err
	}
	series := f.series[key]
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return series, nil
}

func (f *fakeStore) DistinctServices(ctx context.Context) ([]string, error) {
	set := map[string]struct{}{}
	for _, points := range f.series {
		for _, p := range points {
			set[p.Service] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) DistinctMetrics(ctx context.Context, service string) ([]string, error) {
	out := make([]string, 0)
	for _, points := range f.series {
		if len(points) > 0 && points[0].Service == service {
			out = append(out, points[0].Metric)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) MetricWindow(ctx context.Context, service, metric string, start, end time.Time, padding time.Duration, limit int) ([]models.MetricPoint, error) {
	f.mu.Lock()
	f.windows = append(f.windows, padding)
	f.mu.Unlock()
	key := service + ":" + metric
	if err := f.seriesErr[key]; err != nil {
		return nil, err
	}
	from, to := start.Add(-padding), end.Add(padding)
	out := make([]models.MetricPoint, 0)
	for _, p := range f.series[key] {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		out = append(out, p)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) LogWindow(ctx context.Context, service string, start, end time.Time, padding time.Duration, limit int) ([]models.LogEntry, error) {
	if f.logErr != nil {
		return nil, f.logErr
	}
	from, to := start.Add(-padding), end.Add(padding)
	out := make([]models.LogEntry, 0)
	for _, e := range f.logs[service] {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingPublisher) Publish(event models.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return 1
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func repeatValue(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
