// Package health serves Drizzle's liveness and readiness endpoints.
//
//   - /healthz — liveness; a process that answers HTTP is alive.
//   - /readyz  — readiness; 200 only while every registered [Checker]
//     passes. Drizzle registers probes for the asset cache directory, the
//     ambience bed file and the Discord gateway.
//
// Bodies are JSON: {"status":"ok"|"fail","checks":{name:verdict}}.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// checkTimeout caps a single readiness probe.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil while the
// dependency can serve playback and an error describing why it cannot.
type Checker struct {
	// Name keys the probe's verdict in the /readyz body ("cache",
	// "ambience", "discord").
	Name string

	// Check probes the dependency. It must respect ctx cancellation.
	Check func(ctx context.Context) error
}

// DirWritable probes that dir accepts writes by creating and removing a
// marker file. Drizzle uses it for the asset cache directory: a read-only
// cache means no song can be fetched.
func DirWritable(name, dir string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		marker := filepath.Join(dir, ".probe")
		if err := os.WriteFile(marker, nil, 0o644); err != nil {
			return fmt.Errorf("directory not writable: %w", err)
		}
		return os.Remove(marker)
	}}
}

// OptionalFile probes that path is readable, passing when path is empty.
// Drizzle uses it for the rain bed: an unset bed disables mixing rather
// than readiness.
func OptionalFile(name, path string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if path == "" {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("file not readable: %w", err)
		}
		return f.Close()
	}}
}

// report is the response body for both endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. Safe for concurrent use; the probe
// list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] running the given probes, in order, per /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe and answers 200 when all pass, 503 otherwise.
// Each probe gets a [checkTimeout] deadline derived from the request.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	verdicts, ok := h.run(r.Context())

	res := report{Status: "ok", Checks: verdicts}
	status := http.StatusOK
	if !ok {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// run evaluates all probes and reports their verdicts plus overall health.
func (h *Handler) run(ctx context.Context) (map[string]string, bool) {
	verdicts := make(map[string]string, len(h.checkers))
	ok := true
	for _, c := range h.checkers {
		probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(probeCtx)
		cancel()
		if err != nil {
			verdicts[c.Name] = "fail: " + err.Error()
			ok = false
			continue
		}
		verdicts[c.Name] = "ok"
	}
	return verdicts, ok
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
