package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/parcelpicker/internal/export"
	"github.com/sells-group/parcelpicker/internal/lookup"
	"github.com/sells-group/parcelpicker/internal/model"
	"github.com/sells-group/parcelpicker/internal/parcel"
	"github.com/sells-group/parcelpicker/internal/store"
)

// Request limits enforced before a lookup starts.
const (
	MinAddressLength = 4
	MaxAddressLength = 200
	DefaultRunsLimit = 20
	MaxRunsLimit     = 100
)

// Lookuper runs lookups. *lookup.Runner satisfies it.
type Lookuper interface {
	LookupAddress(ctx context.Context, req lookup.AddressRequest) (*model.Run, error)
	LookupPoint(ctx context.Context, req lookup.PointRequest) (*model.Run, error)
}

// RunReader reads persisted runs and parcels.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	GetParcel(ctx context.Context, parcelID string) (*model.Parcel, error)
}

// CacheReporter exposes provider cache counters. *parcel.Client satisfies it.
type CacheReporter interface {
	Stats() map[string]parcel.CacheStats
}

// AssistantStatus reports the assistant configuration.
type AssistantStatus struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"configured_provider"`
	Model    string `json:"configured_model"`
}

// ProviderStatusResponse is served by /api/providers/status.
type ProviderStatusResponse struct {
	ParcelProvider string                       `json:"parcel_provider"`
	Assistant      AssistantStatus              `json:"llm"`
	Cache          map[string]parcel.CacheStats `json:"cache,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// Handler serves the HTTP API.
type Handler struct {
	lookups Lookuper
	runs    RunReader
	status  ProviderStatusResponse
	caches  CacheReporter
}

// NewHandler creates a Handler.
func NewHandler(lookups Lookuper, runs RunReader, status ProviderStatusResponse) *Handler {
	return &Handler{lookups: lookups, runs: runs, status: status}
}

// WithCacheStats adds live provider cache counters to the status response.
func (h *Handler) WithCacheStats(c CacheReporter) *Handler {
	h.caches = c
	return h
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ProviderStatus handles GET /api/providers/status.
func (h *Handler) ProviderStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.status
	if h.caches != nil {
		status.Cache = h.caches.Stats()
	}
	writeJSON(w, http.StatusOK, status)
}

// LookupAddress handles POST /api/lookup.
func (h *Handler) LookupAddress(w http.ResponseWriter, r *http.Request) {
	var req lookup.AddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if n := utf8.RuneCountInString(req.Address); n < MinAddressLength || n > MaxAddressLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("address must be between %d and %d characters", MinAddressLength, MaxAddressLength), nil)
		return
	}

	run, err := h.lookups.LookupAddress(r.Context(), req)
	h.respondRun(w, run, err)
}

// LookupPoint handles POST /api/lookup/point.
func (h *Handler) LookupPoint(w http.ResponseWriter, r *http.Request) {
	var req lookup.PointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	run, err := h.lookups.LookupPoint(r.Context(), req)
	h.respondRun(w, run, err)
}

// respondRun maps a lookup result onto a status code. Failed runs are 502
// and not-found runs are 404, both carrying the run's error text.
func (h *Handler) respondRun(w http.ResponseWriter, run *model.Run, err error) {
	if err != nil {
		if isInputError(err) {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		zap.L().Error("api: lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Lookup could not be started", err)
		return
	}

	switch run.Status {
	case model.RunStatusFailed:
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: run.Error, RunID: run.ID})
	case model.RunStatusNotFound:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: run.Error, RunID: run.ID})
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

// ListRuns handles GET /api/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer", err)
			return
		}
		limit = clamp(n, 1, MaxRunsLimit)
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetParcel handles GET /api/parcels/{id}.
func (h *Handler) GetParcel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.runs.GetParcel(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Parcel not found.", nil)
		return
	}
	if err != nil {
		zap.L().Error("api: get parcel", zap.String("parcel_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load parcel", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetRunGeoJSON handles GET /api/runs/{id}/geojson.
func (h *Handler) GetRunGeoJSON(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	body, err := export.GeoJSON(run)
	if err != nil {
		zap.L().Error("api: geojson export", zap.String("run_id", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to export run", err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// GetRunCSV handles GET /api/runs/{id}/csv.
func (h *Handler) GetRunCSV(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, "csv", "text/csv", export.CSV)
}

// GetRunXLSX handles GET /api/runs/{id}/xlsx.
func (h *Handler) GetRunXLSX(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", export.XLSX)
}

// GetRunShapefile handles GET /api/runs/{id}/shapefile as a zipped shapefile.
func (h *Handler) GetRunShapefile(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, "zip", "application/zip", export.ShapefileZip)
}

// download renders the run into a buffer first so a failed export still
// gets a JSON error instead of a truncated attachment.
func (h *Handler) download(w http.ResponseWriter, r *http.Request, ext, contentType string, render func(io.Writer, *model.Run) error) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render(&buf, run); err != nil {
		zap.L().Error("api: export", zap.String("run_id", run.ID), zap.String("format", ext), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to export run", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(run, ext)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	id := chi.URLParam(r, "id")
	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found.", nil)
		return nil, false
	}
	if err != nil {
		zap.L().Error("api: get run", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load run", err)
		return nil, false
	}
	return run, true
}

func isInputError(err error) bool {
	return errors.Is(err, lookup.ErrEmptyAddress) ||
		errors.Is(err, lookup.ErrInvalidPoint) ||
		errors.Is(err, lookup.ErrInvalidRings)
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
