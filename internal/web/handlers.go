package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/SunGo/internal/logic/geometry"
	"github.com/cjeanneret/SunGo/internal/logic/tracking"
	"github.com/cjeanneret/SunGo/internal/telemetry"
)

// StatusProvider supplies the latest tracker status.
type StatusProvider interface {
	Status() tracking.Status
}

// UploadStats supplies telemetry counters.
type UploadStats interface {
	Stats() telemetry.Stats
}

// TrackerConfig is the static configuration shown by GET /config.
type TrackerConfig struct {
	Limits        geometry.Limits      `json:"limits"`
	StartHour     int                  `json:"start_hour"`
	EndHour       int                  `json:"end_hour"`
	Timezone      string               `json:"timezone"`
	Park          geometry.Orientation `json:"park"`
	Safe          geometry.Orientation `json:"safe"`
	CycleInterval string               `json:"cycle_interval"`
	Model         string               `json:"model"`
	Simulation    bool                 `json:"simulation"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	tracking.Status
	Uploads *telemetry.Stats `json:"uploads,omitempty"`
}

// ExperienceEntry is one record of GET /experience.
type ExperienceEntry struct {
	Kind   tracking.Kind   `json:"kind"`
	Time   time.Time       `json:"time"`
	Record tracking.Record `json:"record"`
}

// ExperienceResponse is the body of GET /experience.
type ExperienceResponse struct {
	Counts      tracking.Counts   `json:"counts"`
	Coefficient float64           `json:"correction_coefficient"`
	Records     []ExperienceEntry `json:"records"`
}

const (
	defaultExperienceLimit = 20
	maxExperienceLimit     = 500
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Status      StatusProvider
	Knowledge   *tracking.Knowledge
	Uploads     UploadStats // may be nil
	Config      TrackerConfig
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, status StatusProvider, knowledge *tracking.Knowledge, cfg TrackerConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Status:      status,
		Knowledge:   knowledge,
		Config:      cfg,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the tracker configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Config)
}

// HandleStatus returns the status of the last cycle.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Status: h.Status.Status()}
	if h.Uploads != nil {
		st := h.Uploads.Stats()
		resp.Uploads = &st
	}
	writeJSON(w, resp)
}

// HandleExperience returns the experience counts and the most recent records.
// ?limit=N selects how many (default 20, max 500).
func (h *Handlers) HandleExperience(w http.ResponseWriter, r *http.Request) {
	limit := defaultExperienceLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxExperienceLimit)
	}

	resp := ExperienceResponse{
		Counts:      h.Knowledge.Log.Counts(),
		Coefficient: h.Knowledge.Corrections.Coefficient(),
		Records:     []ExperienceEntry{},
	}
	for _, rec := range h.Knowledge.Log.Recent(limit) {
		resp.Records = append(resp.Records, ExperienceEntry{Kind: rec.Kind(), Time: rec.At(), Record: rec})
	}
	writeJSON(w, resp)
}

// ServeIndex serves the dashboard (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
