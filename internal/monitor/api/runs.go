// Package api provides HTTP API handlers for the monitor server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/lidarcast/internal/store"
)

// RunHandler handles HTTP requests for run history resources.
type RunHandler struct {
	store *store.Store
}

// NewRunHandler creates a new RunHandler with the given store.
func NewRunHandler(s *store.Store) *RunHandler {
	return &RunHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to
// the appropriate methods.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/runs, /api/runs/{id} or /api/runs/{id}/stats
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		// Collection endpoint: /api/runs
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	// Sampled stats subresource: /api/runs/{id}/stats
	if id, ok := strings.CutSuffix(path, "/stats"); ok {
		switch r.Method {
		case http.MethodGet:
			h.stats(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	// Item endpoint: /api/runs/{id}
	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Response types

type runResponse struct {
	ID          string  `json:"id"`
	Source      string  `json:"source"`
	Variant     string  `json:"variant"`
	Destination string  `json:"destination"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  string  `json:"finished_at,omitempty"`
	FramesSent  int64   `json:"frames_sent"`
	AvgFPS      float64 `json:"avg_fps"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type frameStatResponse struct {
	FrameID    int64   `json:"frame_id"`
	RecordedAt string  `json:"recorded_at"`
	FPS        float64 `json:"fps"`
	NumHands   int     `json:"num_hands"`
	NumJoints  int     `json:"num_joints"`
}

type listStatsResponse struct {
	RunID string              `json:"run_id"`
	Stats []frameStatResponse `json:"stats"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

// toResponse converts a store.Run to a runResponse.
func toResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:          run.ID,
		Source:      run.Source,
		Variant:     run.Variant,
		Destination: run.Destination,
		StartedAt:   run.StartedAt.Format(timeFormat),
		FramesSent:  run.FramesSent,
		AvgFPS:      run.AvgFPS,
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(timeFormat)
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/runs and returns all recorded runs.
func (h *RunHandler) list(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.Runs().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{Runs: make([]runResponse, 0, len(runs))}
	for _, run := range runs {
		response.Runs = append(response.Runs, toResponse(run))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/runs/{id}.
func (h *RunHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(run))
}

// delete handles DELETE /api/runs/{id}.
func (h *RunHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Runs().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// stats handles GET /api/runs/{id}/stats.
func (h *RunHandler) stats(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Runs().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	stats, err := h.store.FrameStats().ListByRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list frame stats")
		return
	}

	response := listStatsResponse{RunID: id, Stats: make([]frameStatResponse, 0, len(stats))}
	for _, stat := range stats {
		response.Stats = append(response.Stats, frameStatResponse{
			FrameID:    stat.FrameID,
			RecordedAt: stat.RecordedAt.Format(timeFormat),
			FPS:        stat.FPS,
			NumHands:   stat.NumHands,
			NumJoints:  stat.NumJoints,
		})
	}
	writeJSON(w, http.StatusOK, response)
}
