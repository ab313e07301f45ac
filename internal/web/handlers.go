package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shuifeng1988/OffTimes-sub002/internal/classify"
	"github.com/shuifeng1988/OffTimes-sub002/internal/registry"
	"github.com/shuifeng1988/OffTimes-sub002/internal/store"
	"github.com/shuifeng1988/OffTimes-sub002/internal/usage"
)

// Handler handles HTTP requests for the OffTimes API.
type Handler struct {
	store         *store.Store
	engine        *usage.Engine
	maint         *usage.Maintenance
	timers        *usage.TimerManager
	registry      *registry.Registry
	logger        *slog.Logger
	version       string
	retentionDays int
}

// NewHandler creates a Handler.
func NewHandler(st *store.Store, engine *usage.Engine, maint *usage.Maintenance, timers *usage.TimerManager, reg *registry.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:         st,
		engine:        engine,
		maint:         maint,
		timers:        timers,
		registry:      reg,
		logger:        logger,
		retentionDays: usage.DefaultRetentionDays,
	}
}

// SetVersion sets the version string reported by the health endpoint.
func (h *Handler) SetVersion(v string) { h.version = v }

// SetRetentionDays sets the window used by the purge endpoint.
func (h *Handler) SetRetentionDays(d int) { h.retentionDays = d }

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// dateParam returns the validated ?date= query value, defaulting to today.
func dateParam(r *http.Request) (string, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return time.Now().Format(usage.DayKeyFormat), true
	}
	if _, err := time.Parse(usage.DayKeyFormat, date); err != nil {
		return "", false
	}
	return date, true
}

// Health reports liveness and version.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// DailyUsage returns per-package usage totals for one day.
func (h *Handler) DailyUsage(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	totals, err := h.store.DailyPackageTotals(date)
	if err != nil {
		h.logger.Error("failed to query daily totals", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	var totalSec int64
	apps := make([]map[string]interface{}, 0, len(totals))
	for _, t := range totals {
		totalSec += t.TotalSec
		apps = append(apps, map[string]interface{}{
			"package":    t.PackageName,
			"label":      t.Label,
			"categoryId": t.CategoryID,
			"category":   classify.CategoryName(t.CategoryID),
			"totalSec":   t.TotalSec,
			"sessions":   t.Sessions,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"date":     date,
		"totalSec": totalSec,
		"apps":     apps,
	})
}

// CategoryUsage returns per-category usage totals for one day.
func (h *Handler) CategoryUsage(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	totals, err := h.store.DailyCategoryTotals(date)
	if err != nil {
		h.logger.Error("failed to query category totals", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	categories := make([]map[string]interface{}, 0, len(totals))
	for _, t := range totals {
		categories = append(categories, map[string]interface{}{
			"categoryId": t.CategoryID,
			"category":   classify.CategoryName(t.CategoryID),
			"totalSec":   t.TotalSec,
			"sessions":   t.Sessions,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"date":       date,
		"categories": categories,
	})
}

// Sessions lists reconciled session rows for one day, optionally narrowed
// to one package.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}
	pkg := r.URL.Query().Get("package")

	sessions, err := h.store.SessionsByDate(date, pkg)
	if err != nil {
		h.logger.Error("failed to query sessions", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]interface{}{
			"id":          s.ID,
			"package":     s.PackageName,
			"categoryId":  s.CategoryID,
			"start":       s.StartTime,
			"end":         s.EndTime,
			"durationSec": s.DurationSec,
			"date":        s.Date,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"date":     date,
		"sessions": out,
	})
}

// observationPayload is the ingest body: one observation or a batch.
type observationPayload struct {
	PackageName string `json:"package"`
	StartTime   int64  `json:"start"`
	EndTime     int64  `json:"end"`
}

// IngestObservations accepts raw observations from an external collector
// and feeds them through the reconciliation engine. Always 202: reconcile
// never reports per-observation failure to callers, redelivery is the
// recovery path.
func (h *Handler) IngestObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var batch []observationPayload
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: want an array of {package, start, end}")
		return
	}

	for _, obs := range batch {
		h.engine.Reconcile(obs.PackageName, obs.StartTime, obs.EndTime)
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": len(batch),
	})
}

// Apps lists the app registry.
func (h *Handler) Apps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.store.ListApps()
	if err != nil {
		h.logger.Error("failed to list apps", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]map[string]interface{}, 0, len(apps))
	for _, a := range apps {
		out = append(out, map[string]interface{}{
			"package":    a.PackageName,
			"label":      a.Label,
			"categoryId": a.CategoryID,
			"category":   classify.CategoryName(a.CategoryID),
			"excluded":   a.Excluded,
			"isSystem":   a.IsSystem,
			"enabled":    a.Enabled,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"apps": out})
}

// ExcludeApp flips the user exclusion flag for a package.
func (h *Handler) ExcludeApp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "PUT required")
		return
	}

	var body struct {
		PackageName string `json:"package"`
		Excluded    bool   `json:"excluded"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PackageName == "" {
		respondError(w, http.StatusBadRequest, "want {package, excluded}")
		return
	}

	if err := h.registry.SetExcluded(body.PackageName, body.Excluded); err != nil {
		h.logger.Error("failed to set exclusion", "package", body.PackageName, "error", err)
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"package":  body.PackageName,
		"excluded": body.Excluded,
	})
}

// Timers lists timer sessions for one day.
func (h *Handler) Timers(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	timers, err := h.store.TimersByDate(date)
	if err != nil {
		h.logger.Error("failed to query timers", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]map[string]interface{}, 0, len(timers))
	for _, t := range timers {
		out = append(out, map[string]interface{}{
			"id":          t.ID,
			"activity":    t.Activity,
			"start":       t.StartTime,
			"end":         t.EndTime,
			"durationSec": t.DurationSec,
			"date":        t.Date,
			"active":      t.Active,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"date":   date,
		"timers": out,
	})
}

// StartTimer starts a manual activity timer.
func (h *Handler) StartTimer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var body struct {
		Activity string `json:"activity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Activity == "" {
		respondError(w, http.StatusBadRequest, "want {activity}")
		return
	}

	id, err := h.timers.Start(body.Activity)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id, "activity": body.Activity})
}

// StopTimer stops the running timer.
func (h *Handler) StopTimer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := h.timers.Stop(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// RunCleanup triggers the duplicate-cleanup maintenance job.
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	deleted, err := h.maint.CleanupDuplicates()
	if err != nil {
		h.logger.Error("cleanup failed", "error", err)
		respondError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// RunPurge triggers the retention purge.
func (h *Handler) RunPurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := h.maint.PurgeOld(h.retentionDays); err != nil {
		h.logger.Error("purge failed", "error", err)
		respondError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"retentionDays": h.retentionDays})
}
