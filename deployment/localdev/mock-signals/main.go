package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"
)

type seriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type logEntry struct {
	Service   string    `json:"service"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

type seriesRequest struct {
	Service string    `json:"service"`
	Metric  string    `json:"metric"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Limit   int       `json:"limit"`
}

// catalog mirrors what a signal backend would report for two services.
var catalog = map[string][]string{
	"checkout": {"cpu_pct", "error_rate", "latency_p95_ms", "memory_rss_mb"},
	"payments": {"error_rate", "latency_p95_ms"},
}

var baselines = map[string]float64{
	"cpu_pct":        35,
	"error_rate":     0.01,
	"latency_p95_ms": 180,
	"memory_rss_mb":  512,
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("component", "signals-mock"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v1/signals/catalog", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"services": catalog})
	})
	mux.HandleFunc("POST /api/v1/signals/series", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		now := time.Now().UTC().Truncate(time.Minute)
		writeJSON(w, map[string]any{"points": synthesize(req.Service, req.Metric, now.Add(-time.Duration(req.Limit-1)*time.Minute), now, req.Limit)})
	})
	mux.HandleFunc("POST /api/v1/signals/window", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		writeJSON(w, map[string]any{"points": synthesize(req.Service, req.Metric, req.Start, req.End, req.Limit)})
	})
	mux.HandleFunc("POST /api/v1/signals/logs", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		end := req.End
		if end.IsZero() {
			end = time.Now().UTC()
		}
		writeJSON(w, map[string]any{"entries": []logEntry{
			{Service: req.Service, Level: "ERROR", Timestamp: end.Add(-3 * time.Minute), Message: "db timeout acquiring connection", RequestID: "req-1"},
			{Service: req.Service, Level: "WARN", Timestamp: end.Add(-2 * time.Minute), Message: "upstream 503 from payments"},
		}})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

// synthesize returns minute-spaced points with a spike in the final five minutes.
func synthesize(service, metric string, start, end time.Time, limit int) []seriesPoint {
	base, ok := baselines[metric]
	if !ok || !hasMetric(service, metric) || end.Before(start) {
		return []seriesPoint{}
	}
	start = start.Truncate(time.Minute)
	var points []seriesPoint
	for ts := start; !ts.After(end) && len(points) < limit; ts = ts.Add(time.Minute) {
		v := base * (1 + 0.03*math.Sin(float64(ts.Unix()/60)))
		if end.Sub(ts) < 5*time.Minute {
			v = base * 3
		}
		points = append(points, seriesPoint{Timestamp: ts, Value: v})
	}
	return points
}

func hasMetric(service, metric string) bool {
	for _, m := range catalog[service] {
		if m == metric {
			return true
		}
	}
	return false
}

func decode(w http.ResponseWriter, r *http.Request) (seriesRequest, bool) {
	var req seriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.Limit <= 0 {
		req.Limit = 240
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("duration", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
