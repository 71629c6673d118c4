package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type job struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Cluster   string   `json:"cluster"`
	Namespace string   `json:"namespace"`
	Pods      []string `json:"pods"`
	LogLevels []string `json:"log_levels"`
	Interval  int      `json:"interval"`
	CreatedAt string   `json:"created_at"`
	LastRun   *string  `json:"last_run"`
}

type incident struct {
	ID                  string   `json:"id"`
	Timestamp           string   `json:"timestamp"`
	LogLine             string   `json:"log_line"`
	RootCause           any      `json:"root_cause,omitempty"`
	Severity            string   `json:"severity"`
	Status              string   `json:"status"`
	Category            string   `json:"category"`
	Service             string   `json:"service"`
	ResolutionTimeHours *float64 `json:"resolution_time_hours,omitempty"`
}

var topology = map[string]map[string][]string{
	"prod-eu": {
		"payments": {"payments-api-7f9c", "payments-worker-2b1d"},
		"checkout": {"checkout-web-5d2a"},
	},
	"staging": {
		"payments": {"payments-api-0a11"},
	},
}

type store struct {
	mu   sync.Mutex
	jobs []job
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	s := &store{}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"summary": "3 error bursts in payments-api", "anomalies": 3})
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"root_cause": "database connection pool exhausted", "confidence": 0.82})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"results": []map[string]any{
			{"title": "Tuning pool sizes", "score": 0.91},
			{"title": "Postgres max_connections runbook", "score": 0.77},
		}})
	})
	mux.HandleFunc("/recommend", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"actions": []string{"raise pool size to 50", "add connection timeout alerts"}})
	})

	mux.HandleFunc("/api/log-scan-jobs", s.handleJobs)
	mux.HandleFunc("/api/log-scan-jobs/", s.handleJob)
	mux.HandleFunc("/api/incidents/recent", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"incidents": incidents()})
	})

	mux.HandleFunc("/k8s-clusters", func(w http.ResponseWriter, _ *http.Request) {
		clusters := []map[string]string{{"name": "*"}}
		for name := range topology {
			clusters = append(clusters, map[string]string{"name": name, "context": name + "-ctx"})
		}
		writeJSON(w, map[string]any{"clusters": clusters})
	})
	mux.HandleFunc("/k8s-namespaces", func(w http.ResponseWriter, r *http.Request) {
		namespaces := []string{}
		for ns := range topology[r.URL.Query().Get("cluster")] {
			namespaces = append(namespaces, ns)
		}
		writeJSON(w, map[string]any{"namespaces": namespaces})
	})
	mux.HandleFunc("/k8s-pods", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		writeJSON(w, map[string]any{"pods": topology[q.Get("cluster")][q.Get("namespace")]})
	})
	mux.HandleFunc("/scan-k8s-logs", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"pods_scanned": 2,
			"results": []map[string]any{
				{"log": "ERROR pool exhausted after 30s", "root_cause": map[string]any{"root_cause": "connection pool exhausted"}},
				{"log": "WARN retrying payment 8812", "analysis": map[string]any{"summary": "transient retry"}},
			},
			"errors": []string{"payments-worker-2b1d: container not ready"},
		})
	})

	mux.HandleFunc("/incidents/stream", streamEvents(func() any { return incidents() }))
	mux.HandleFunc("/metrics/stream", streamEvents(func() any {
		return map[string]any{"error_rate": 0.04, "p95_latency_ms": 830, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	}))
	mux.HandleFunc("/metrics/current", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"error_rate": 0.04, "p95_latency_ms": 830})
	})

	mux.HandleFunc("/incidents/report", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	logger := log.New(log.Writer(), "collaborators-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func (s *store) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		list := append([]job{}, s.jobs...)
		s.mu.Unlock()
		writeJSON(w, list)
	case http.MethodPost:
		var j job
		if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
			http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
			return
		}
		j.ID = uuid.NewString()
		j.CreatedAt = time.Now().UTC().Format(time.RFC3339)
		s.mu.Lock()
		s.jobs = append(s.jobs, j)
		s.mu.Unlock()
		writeJSON(w, j)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *store) handleJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/log-scan-jobs/")
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			idx = i
		}
	}
	if idx < 0 {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var j job
		if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
			http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
			return
		}
		j.ID, j.CreatedAt, j.LastRun = id, s.jobs[idx].CreatedAt, s.jobs[idx].LastRun
		s.jobs[idx] = j
		writeJSON(w, j)
	case http.MethodDelete:
		s.jobs = append(s.jobs[:idx], s.jobs[idx+1:]...)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func incidents() []incident {
	now := time.Now().UTC()
	hours := 2.5
	return []incident{
		{ID: "inc-1", Timestamp: now.Add(-26 * time.Hour).Format(time.RFC3339), LogLine: "ERROR pool exhausted", RootCause: "connection pool exhausted", Severity: "high", Status: "resolved", Category: "database", Service: "payments", ResolutionTimeHours: &hours},
		{ID: "inc-2", Timestamp: now.Add(-3 * time.Hour).Format(time.RFC3339), LogLine: "CRITICAL disk full on /var", Severity: "critical", Status: "open", Category: "storage", Service: "checkout"},
		{ID: "inc-3", Timestamp: now.Add(-40 * time.Minute).Format(time.RFC3339), LogLine: "WARN slow query 4.2s", Severity: "medium", Status: "open", Category: "database", Service: "payments"},
	}
}

// streamEvents pushes one server-sent event every five seconds.
func streamEvents(payload func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			data, err := json.Marshal(payload())
			if err != nil {
				log.Printf("encode error: %v", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
