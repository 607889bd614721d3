package api

import "net/http"

// dashboardHandler serves the embedded read-only status dashboard.
// Unlike the teacher's tenant-CRUD admin SPA, segments come from the
// YAML topology file and its hot-reload watcher, not from API calls —
// there's no add/edit/delete/pause operation to expose, so this page
// only renders what /segments, /health, and /status already report.
func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}
