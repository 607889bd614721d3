package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbmesh/proxy/internal/config"
	"github.com/dbmesh/proxy/internal/health"
	"github.com/dbmesh/proxy/internal/metrics"
	"github.com/dbmesh/proxy/internal/pool"
)

// Server is the read-only introspection REST API and Prometheus
// endpoint. Generalized from the teacher's tenant-CRUD admin API
// (internal/api/server.go) to a read-only segment view: the cluster
// topology is config-file + hot-reload driven (spec.md §6, §2.3), not
// a runtime-mutable registry, so there is no add/update/delete/pause
// operation to expose here — only what the topology, pool manager, and
// health checker already know.
type Server struct {
	topology    *config.TopologyHolder
	poolMgr     *pool.Manager
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
	appCfg      config.AppConfig
}

// NewServer creates a new API server.
func NewServer(t *config.TopologyHolder, pm *pool.Manager, hc *health.Checker, m *metrics.Collector, appCfg config.AppConfig) *Server {
	return &Server{
		topology:    t,
		poolMgr:     pm,
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
		appCfg:      appCfg,
	}
}

// Start starts the HTTP API server.
func (s *Server) Start() error {
	r := mux.NewRouter()

	r.HandleFunc("/segments", s.listSegments).Methods("GET")
	r.HandleFunc("/segments/{name}", s.getSegment).Methods("GET")
	r.HandleFunc("/segments/{name}/stats", s.segmentStats).Methods("GET")

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/config", s.configHandler).Methods("GET")

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	addr := s.appCfg.AdminAddr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.authMiddleware(maxBodyMiddleware(r)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] introspection API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Segment handlers ---

type segmentView struct {
	Host   string                `json:"host"`
	Port   int                   `json:"port"`
	DBName string                `json:"dbname"`
	Meta   bool                  `json:"meta"`
	Stats  *pool.Stats           `json:"stats,omitempty"`
	Health *health.SegmentHealth `json:"health,omitempty"`
}

func (s *Server) buildSegmentView(name string, seg config.Segment) segmentView {
	v := segmentView{Host: seg.Host, Port: seg.Port, DBName: seg.DBName, Meta: seg.Meta}
	if stats, ok := s.poolMgr.SegmentStats(name); ok {
		v.Stats = &stats
	}
	h := s.healthCheck.GetStatus(name)
	v.Health = &h
	return v
}

func (s *Server) listSegments(w http.ResponseWriter, r *http.Request) {
	segments := s.topology.Current().Segments

	result := make(map[string]segmentView, len(segments))
	for name, seg := range segments {
		result[name] = s.buildSegmentView(name, seg)
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getSegment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	seg, ok := s.topology.Segment(name)
	if !ok {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}

	writeJSON(w, http.StatusOK, s.buildSegmentView(name, seg))
}

func (s *Server) segmentStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	stats, ok := s.poolMgr.SegmentStats(name)
	if !ok {
		if _, exists := s.topology.Segment(name); !exists {
			writeError(w, http.StatusNotFound, "segment not found")
			return
		}
		stats = pool.Stats{Segment: name}
	}

	writeJSON(w, http.StatusOK, stats)
}

// --- Health handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   boolToStatus(allHealthy),
		"segments": statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	segments := s.topology.Current().Segments
	if len(segments) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	for name := range segments {
		if s.healthCheck.IsHealthy(name) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}

	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

// --- Status & config handlers ---

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()
	segments := s.topology.Current().Segments

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_segments":   len(segments),
		"mysql_port":     s.appCfg.App.Port,
		"admin_port":     s.appCfg.Control.AdminPort,
	})
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	cluster := s.topology.Current()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mysql_port":        s.appCfg.App.Port,
		"admin_port":        s.appCfg.Control.AdminPort,
		"segment_count":     len(cluster.Segments),
		"dis_rule_count":    len(cluster.DisRules),
		"replicated_tables": cluster.ReplicatedTables,
	})
}

// maxRequestBody caps request bodies accepted by the introspection API;
// it has no create/update routes that need a real payload, so anything
// large is almost certainly abuse.
const maxRequestBody = 1 << 20 // 1MiB

func maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

// exemptFromAuth lists paths a load balancer or orchestrator health
// probe hits without credentials.
var exemptFromAuth = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// authMiddleware guards the introspection API with a static bearer
// token when Control.APIKey is configured. With no key set, the API is
// open — the teacher's listen config carries the same api_key knob
// (internal/config/config.go) but never wired it into the handler
// chain; this closes that gap now that the API exposes live segment
// connectivity, not just tenant metadata.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.appCfg.Control.APIKey
		if key == "" || exemptFromAuth[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, "Bearer ")), []byte(key)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
