// Package api exposes the HTTP surface: ad-hoc chart rendering, snapshot
// management and service settings.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/yourusername/chartsnap/pkg/cron"
	"github.com/yourusername/chartsnap/pkg/export"
	"github.com/yourusername/chartsnap/pkg/mail"
	"github.com/yourusername/chartsnap/pkg/model"
	"github.com/yourusername/chartsnap/pkg/render"
	"github.com/yourusername/chartsnap/pkg/store"
)

// Handler handles HTTP API requests
type Handler struct {
	store     *store.Store
	scheduler *cron.Scheduler
	mux       *http.ServeMux

	// backend overrides the scheduler's renderer when set; used by tests.
	backend render.Backend
}

// NewHandler creates a new API handler
func NewHandler(st *store.Store, scheduler *cron.Scheduler) *Handler {
	h := &Handler{
		store:     st,
		scheduler: scheduler,
		mux:       http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// registerRoutes registers all HTTP routes
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("/api/chart", h.handleChart)
	h.mux.HandleFunc("/api/chart/pdf", h.handleChartPDF)
	h.mux.HandleFunc("/api/chart/email", h.handleChartEmail)
	h.mux.HandleFunc("/api/snapshots", h.handleSnapshots)
	h.mux.HandleFunc("/api/snapshots/", h.handleSnapshot)
	h.mux.HandleFunc("/api/renders/", h.handleRender)
	h.mux.HandleFunc("/api/settings", h.handleSettings)
	h.mux.HandleFunc("/healthz", h.handleHealth)
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) settings() *model.Settings {
	if h.scheduler != nil {
		if settings, err := h.scheduler.Settings(); err == nil {
			return settings
		}
	}
	return model.DefaultSettings()
}

func (h *Handler) renderer() (render.Backend, error) {
	if h.backend != nil {
		return h.backend, nil
	}
	if h.scheduler == nil {
		return nil, fmt.Errorf("no renderer available")
	}
	return h.scheduler.Renderer()
}

// parseChartRequest extracts a chart request from the HTTP request: the JSON
// body for POST, the `c` query parameter for GET.
func parseChartRequest(r *http.Request) (*model.ChartRequest, error) {
	var req model.ChartRequest

	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid request body: %w", err)
		}
	case http.MethodGet:
		q := r.URL.Query()
		if c := q.Get("c"); c != "" {
			if err := json.Unmarshal([]byte(c), &req); err != nil {
				return nil, fmt.Errorf("invalid chart definition: %w", err)
			}
		} else {
			req.Type = q.Get("type")
			if data := q.Get("data"); data != "" {
				if err := json.Unmarshal([]byte(data), &req.Data); err != nil {
					return nil, fmt.Errorf("invalid data parameter: %w", err)
				}
			}
			if options := q.Get("options"); options != "" {
				if err := json.Unmarshal([]byte(options), &req.Options); err != nil {
					return nil, fmt.Errorf("invalid options parameter: %w", err)
				}
			}
		}
		if width := q.Get("width"); width != "" {
			if _, err := fmt.Sscanf(width, "%d", &req.Width); err != nil {
				return nil, fmt.Errorf("invalid width parameter")
			}
		}
		if height := q.Get("height"); height != "" {
			if _, err := fmt.Sscanf(height, "%d", &req.Height); err != nil {
				return nil, fmt.Errorf("invalid height parameter")
			}
		}
	default:
		return nil, fmt.Errorf("method not allowed")
	}

	return &req, nil
}

// renderChart runs the shared render pipeline and maps failures to HTTP
// status codes. Returns nil when it already wrote an error response.
func (h *Handler) renderChart(w http.ResponseWriter, r *http.Request) []byte {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		respondError(w,"Method not allowed", http.StatusMethodNotAllowed)
		return nil
	}

	req, err := parseChartRequest(r)
	if err != nil {
		respondError(w,err.Error(), http.StatusBadRequest)
		return nil
	}

	if err := model.ValidateChartRequest(req); err != nil {
		respondError(w,err.Error(), http.StatusBadRequest)
		return nil
	}

	limits := h.settings().Limits
	if (limits.MaxWidth > 0 && req.Width > limits.MaxWidth) ||
		(limits.MaxHeight > 0 && req.Height > limits.MaxHeight) {
		respondError(w,fmt.Sprintf("requested size exceeds limit of %dx%d", limits.MaxWidth, limits.MaxHeight), http.StatusBadRequest)
		return nil
	}

	renderer, err := h.renderer()
	if err != nil {
		respondError(w,err.Error(), http.StatusInternalServerError)
		return nil
	}

	png, err := renderer.RenderChart(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidConfiguration):
			respondError(w,err.Error(), http.StatusBadRequest)
		case errors.Is(err, render.ErrRenderTimeout):
			respondError(w,err.Error(), http.StatusGatewayTimeout)
		default:
			log.Printf("[API] ERROR: chart render failed: %v", err)
			respondError(w,err.Error(), http.StatusBadGateway)
		}
		return nil
	}

	return png
}

// handleChart handles GET and POST /api/chart, responding with a PNG.
func (h *Handler) handleChart(w http.ResponseWriter, r *http.Request) {
	png := h.renderChart(w, r)
	if png == nil {
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleChartPDF handles GET and POST /api/chart/pdf, wrapping the rendered
// chart in a single-page PDF.
func (h *Handler) handleChartPDF(w http.ResponseWriter, r *http.Request) {
	png := h.renderChart(w, r)
	if png == nil {
		return
	}

	pdf, err := export.ChartPDF(png)
	if err != nil {
		respondError(w,err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// emailChartRequest is the body of POST /api/chart/email.
type emailChartRequest struct {
	Chart      model.ChartRequest `json:"chart"`
	Recipients model.Recipients   `json:"recipients"`
	Subject    string             `json:"subject"`
	Body       string             `json:"body"`
}

// handleChartEmail handles POST /api/chart/email: render a chart and send
// it to the given recipients.
func (h *Handler) handleChartEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w,"Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req emailChartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w,err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Recipients.To) == 0 {
		respondError(w,"at least one recipient is required", http.StatusBadRequest)
		return
	}
	if err := model.ValidateChartRequest(&req.Chart); err != nil {
		respondError(w,err.Error(), http.StatusBadRequest)
		return
	}

	settings := h.settings()
	if settings.SMTPConfig == nil {
		respondError(w,"SMTP is not configured", http.StatusBadRequest)
		return
	}

	renderer, err := h.renderer()
	if err != nil {
		respondError(w,err.Error(), http.StatusInternalServerError)
		return
	}

	png, err := renderer.RenderChart(r.Context(), &req.Chart)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidConfiguration):
			respondError(w,err.Error(), http.StatusBadRequest)
		case errors.Is(err, render.ErrRenderTimeout):
			respondError(w,err.Error(), http.StatusGatewayTimeout)
		default:
			respondError(w,err.Error(), http.StatusBadGateway)
		}
		return
	}

	mailer := mail.NewMailer(*settings.SMTPConfig)
	if err := mailer.SendChart(req.Recipients, req.Subject, req.Body, png, "chart.png"); err != nil {
		respondError(w,err.Error(), http.StatusBadGateway)
		return
	}

	respondJSON(w, map[string]string{"status": "sent"})
}

// handleSnapshots handles GET /api/snapshots and POST /api/snapshots
func (h *Handler) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snapshots, err := h.store.ListSnapshots()
		if err != nil {
			respondError(w,err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]interface{}{"snapshots": snapshots})

	case http.MethodPost:
		var snapshot model.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
			respondError(w,err.Error(), http.StatusBadRequest)
			return
		}

		if err := model.ValidateSnapshot(&snapshot); err != nil {
			respondError(w,err.Error(), http.StatusBadRequest)
			return
		}

		h.setNextRun(&snapshot)

		if err := h.store.CreateSnapshot(&snapshot); err != nil {
			respondError(w,err.Error(), http.StatusInternalServerError)
			return
		}

		respondJSON(w, snapshot)

	default:
		respondError(w,"Method not allowed", http.StatusMethodNotAllowed)
	}
}

// setNextRun computes the next run time for an enabled, scheduled snapshot.
func (h *Handler) setNextRun(snapshot *model.Snapshot) {
	scheduled := snapshot.CronExpr != "" || snapshot.IntervalType == "daily" ||
		snapshot.IntervalType == "weekly" || snapshot.IntervalType == "monthly"
	if snapshot.Enabled && scheduled && h.scheduler != nil {
		nextRun := h.scheduler.CalculateNextRun(snapshot)
		snapshot.NextRunAt = &nextRun
	} else {
		snapshot.NextRunAt = nil
	}
}

// handleSnapshot handles operations on a specific snapshot
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	var snapshotID int64
	var action string

	// Path format: /api/snapshots/{id}, /api/snapshots/{id}/render or
	// /api/snapshots/{id}/renders
	if _, err := fmt.Sscanf(path, "/api/snapshots/%d/%s", &snapshotID, &action); err != nil {
		if _, err := fmt.Sscanf(path, "/api/snapshots/%d", &snapshotID); err != nil {
			respondError(w,"Invalid path", http.StatusBadRequest)
			return
		}
	}

	if action == "render" && r.Method == http.MethodPost {
		snapshot, err := h.store.GetSnapshot(snapshotID)
		if err != nil {
			respondError(w,err.Error(), http.StatusNotFound)
			return
		}

		h.scheduler.ExecuteSnapshot(snapshot)
		respondJSON(w, map[string]string{"status": "started"})
		return
	}

	if action == "renders" && r.Method == http.MethodGet {
		renders, err := h.store.ListRenders(snapshotID)
		if err != nil {
			respondError(w,err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]interface{}{"renders": renders})
		return
	}

	switch r.Method {
	case http.MethodGet:
		snapshot, err := h.store.GetSnapshot(snapshotID)
		if err != nil {
			respondError(w,err.Error(), http.StatusNotFound)
			return
		}
		respondJSON(w, snapshot)

	case http.MethodPut:
		var snapshot model.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
			respondError(w,err.Error(), http.StatusBadRequest)
			return
		}

		snapshot.ID = snapshotID

		if err := model.ValidateSnapshot(&snapshot); err != nil {
			respondError(w,err.Error(), http.StatusBadRequest)
			return
		}

		h.setNextRun(&snapshot)

		if err := h.store.UpdateSnapshot(&snapshot); err != nil {
			respondError(w,err.Error(), http.StatusInternalServerError)
			return
		}

		respondJSON(w, snapshot)

	case http.MethodDelete:
		if err := h.store.DeleteSnapshot(snapshotID); err != nil {
			respondError(w,err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		respondError(w,"Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRender handles render-related operations
func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	var renderID int64
	var action string

	// Path format: /api/renders/{id}/artifact
	if _, err := fmt.Sscanf(path, "/api/renders/%d/%s", &renderID, &action); err != nil {
		respondError(w,"Invalid path", http.StatusBadRequest)
		return
	}

	if action == "artifact" && r.Method == http.MethodGet {
		rec, err := h.store.GetRender(renderID)
		if err != nil {
			respondError(w,err.Error(), http.StatusNotFound)
			return
		}
		if len(rec.ArtifactData) == 0 {
			respondError(w,"Artifact not found", http.StatusNotFound)
			return
		}

		snapshot, err := h.store.GetSnapshot(rec.SnapshotID)
		if err != nil {
			respondError(w,"Snapshot not found", http.StatusNotFound)
			return
		}

		timestamp := rec.StartedAt.Format("2006-01-02-150405")
		filename := fmt.Sprintf("%s-%s.png", strings.ReplaceAll(snapshot.Name, " ", "_"), timestamp)

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		w.Write(rec.ArtifactData)
		return
	}

	respondError(w,"Not found", http.StatusNotFound)
}

// handleSettings handles GET and PUT /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.store.GetSettings()
		if err != nil {
			respondError(w,err.Error(), http.StatusInternalServerError)
			return
		}
		if settings == nil {
			settings = model.DefaultSettings()
		}
		respondJSON(w, settings)

	case http.MethodPut:
		var settings model.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			respondError(w,err.Error(), http.StatusBadRequest)
			return
		}

		if err := h.store.UpsertSettings(&settings); err != nil {
			respondError(w,err.Error(), http.StatusInternalServerError)
			return
		}

		// Drop the warm browser so the next render uses the new config.
		if h.scheduler != nil {
			if err := h.scheduler.ClearRendererCache(); err != nil {
				log.Printf("[API] WARNING: Failed to clear renderer cache: %v", err)
			}
		}

		respondJSON(w, settings)

	default:
		respondError(w,"Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHealth handles GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// respondError writes a JSON error envelope with the given status
func respondError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		log.Printf("[API] ERROR: Failed to encode error response: %v", err)
	}
}

// respondJSON writes data as a JSON response
func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] ERROR: Failed to encode response: %v", err)
	}
}
