// Package monitor serves a small web UI over the run database: a run list,
// per-run convergence and temperature charts, and the tailsql debug browser.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/heatgrid/internal/db"
)

const defaultListLimit = 50

// WebServer is the HTTP front end for a run database.
type WebServer struct {
	address string
	db      *db.DB
	runs    *db.RunStore
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	DB      *db.DB
}

// NewWebServer creates a web server. Admin routes are attached when the
// database supports them; a failure there is logged and the rest still
// serves.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		db:      config.DB,
		runs:    db.NewRunStore(config.DB.DB),
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.Handler(),
	}
	return ws
}

// Handler returns the route table.
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", ws.handleHealth)
	mux.HandleFunc("GET /{$}", ws.handleIndex)
	mux.HandleFunc("GET /api/runs", ws.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", ws.handleRun)
	mux.HandleFunc("DELETE /api/runs/{id}", ws.handleDeleteRun)
	mux.HandleFunc("GET /api/runs/{id}/history", ws.handleHistory)
	mux.HandleFunc("GET /charts/runs", ws.handleRunsChart)
	mux.HandleFunc("GET /charts/runs/{id}/convergence", ws.handleConvergenceChart)
	mux.HandleFunc("GET /charts/runs/{id}/temperature", ws.handleTemperatureChart)
	if err := ws.db.AttachAdminRoutes(mux); err != nil {
		log.Printf("[monitor] admin routes unavailable: %v", err)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[monitor] listening on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("[monitor] shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[monitor] shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("[monitor] force close error: %v", err)
		}
	}
	return nil
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[monitor] encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeStoreError maps store errors to HTTP status codes.
func (ws *WebServer) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrRunNotFound) {
		ws.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]string{"status": "ok"})
}

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	return limit
}

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := ws.runs.List(listLimit(r))
	if err != nil {
		ws.writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	ws.writeJSON(w, runs)
}

func (ws *WebServer) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := ws.runs.Get(r.PathValue("id"))
	if err != nil {
		ws.writeStoreError(w, err)
		return
	}
	ws.writeJSON(w, run)
}

func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := ws.runs.Get(id); err != nil {
		ws.writeStoreError(w, err)
		return
	}
	points, err := ws.runs.History(id)
	if err != nil {
		ws.writeStoreError(w, err)
		return
	}
	if points == nil {
		points = []db.HistoryPoint{}
	}
	ws.writeJSON(w, points)
}

func (ws *WebServer) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ws.runs.Delete(id); err != nil {
		ws.writeStoreError(w, err)
		return
	}
	log.Printf("[monitor] deleted run %s", id)
	w.WriteHeader(http.StatusNoContent)
}
