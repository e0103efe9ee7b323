// Package server exposes the packworth JSON API: ad hoc appraisal of
// uploaded bundle documents, cached prices for the stored bundle set, and
// the community submission/moderation workflow.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/packworth/packworth/internal/cache"
	"github.com/packworth/packworth/internal/solver"
	"github.com/packworth/packworth/internal/store"
	"github.com/packworth/packworth/pkg/bundlefile"
	"go.uber.org/zap"
)

type handler struct {
	logger        *zap.Logger
	store         *store.Store
	cache         *cache.PriceCache
	snapshots     *cache.SnapshotStore
	opts          solver.Options
	maxUploadSize int64
	version       string
}

// Deps carries the collaborators the API serves. Snapshots may be nil, in
// which case appraisals are not persisted for trend reporting.
type Deps struct {
	Store     *store.Store
	Cache     *cache.PriceCache
	Snapshots *cache.SnapshotStore
	Options   solver.Options
}

// NewHandler constructs the HTTP handler that serves the packworth API.
func NewHandler(logger *zap.Logger, deps Deps, maxUploadSize int64, version string) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = cache.New()
	}
	if maxUploadSize <= 0 {
		maxUploadSize = 256 * 1024
	}
	trimmedVersion := strings.TrimSpace(version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{
		logger:        logger,
		store:         deps.Store,
		cache:         deps.Cache,
		snapshots:     deps.Snapshots,
		opts:          deps.Options,
		maxUploadSize: maxUploadSize,
		version:       trimmedVersion,
	}

	mux := http.NewServeMux()

	// Ad hoc appraisal of an uploaded bundle document (no persistence)
	mux.HandleFunc("/api/appraise", h.handleAppraise)

	// Cached appraisal of the approved stored bundles
	mux.HandleFunc("/api/prices", h.handlePrices)
	mux.HandleFunc("/api/prices/invalidate", h.handleInvalidate)

	// Community submission and browsing
	mux.HandleFunc("/api/bundles", h.handleBundles)
	mux.HandleFunc("/api/bundles/", h.handleBundleStatus)

	// Dated snapshots for trend reporting
	mux.HandleFunc("/api/snapshots", h.handleSnapshotList)
	mux.HandleFunc("/api/snapshots/", h.handleSnapshotGet)

	// Version endpoint for client metadata
	mux.HandleFunc("/api/version", h.handleVersion)

	return mux
}

type appraisalResponse struct {
	Items      []solver.ItemPriceEstimate `json:"items"`
	Converged  bool                       `json:"converged"`
	Iterations int                        `json:"iterations"`
	Anomalies  []string                   `json:"anomalies,omitempty"`
	Warnings   []string                   `json:"warnings,omitempty"`
	Duration   string                     `json:"duration"`
}

type pricesResponse struct {
	Items      []solver.ItemPriceEstimate `json:"items"`
	Converged  bool                       `json:"converged"`
	Iterations int                        `json:"iterations"`
	ComputedAt time.Time                  `json:"computedAt"`
	Cached     bool                       `json:"cached"`
	NoData     bool                       `json:"noData,omitempty"`
}

type submitRequest struct {
	Name       string              `json:"name"`
	TotalPrice float64             `json:"totalPrice"`
	Lines      []solver.BundleLine `json:"lines"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *handler) handleAppraise(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r.Body); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds limit of %d bytes", h.maxUploadSize), "server.handleAppraise")
			return
		}
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err), "server.handleAppraise")
		return
	}

	bundles, warnings, err := bundlefile.Parse(buf.Bytes())
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), "server.handleAppraise")
		return
	}

	result, err := solver.InferItemPricesWithOptions(h.logger, bundles, h.opts)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), "server.handleAppraise")
		return
	}

	elapsed := time.Since(start)
	h.logger.Info("appraisal computed",
		zap.String("op", "server.handleAppraise"),
		zap.Int("bundles", len(bundles)),
		zap.Int("items", len(result.Prices)),
		zap.Bool("converged", result.Converged),
		zap.Duration("duration", elapsed),
	)

	h.writeJSON(w, http.StatusOK, appraisalResponse{
		Items:      sortedEstimates(result),
		Converged:  result.Converged,
		Iterations: result.Iterations,
		Anomalies:  result.Anomalies,
		Warnings:   warnings,
		Duration:   elapsed.String(),
	})
}

func (h *handler) handlePrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if h.store == nil {
		h.respondError(w, http.StatusServiceUnavailable, "bundle store is not configured", "server.handlePrices")
		return
	}

	if appraisal, ok := h.cache.Get(); ok {
		h.writeJSON(w, http.StatusOK, pricesResponse{
			Items:      sortedEstimates(appraisal.Result),
			Converged:  appraisal.Result.Converged,
			Iterations: appraisal.Result.Iterations,
			ComputedAt: appraisal.ComputedAt,
			Cached:     true,
		})
		return
	}

	observations, err := h.store.ApprovedObservations(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load bundles: %v", err), "server.handlePrices")
		return
	}

	computedAt := time.Now()
	result, err := solver.InferItemPricesWithOptions(h.logger, observations, h.opts)
	if err != nil {
		if errors.Is(err, solver.ErrNoBundles) {
			// An empty approved set is an expected state for a young
			// community, not a failure.
			h.writeJSON(w, http.StatusOK, pricesResponse{
				Items:      []solver.ItemPriceEstimate{},
				ComputedAt: computedAt,
				NoData:     true,
			})
			return
		}
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to compute prices: %v", err), "server.handlePrices")
		return
	}

	h.cache.Set(result, computedAt)
	if h.snapshots != nil {
		if _, err := h.snapshots.Write(result, computedAt); err != nil {
			h.logger.Warn("failed to write appraisal snapshot",
				zap.String("op", "server.handlePrices"),
				zap.Error(err),
			)
		}
	}

	h.writeJSON(w, http.StatusOK, pricesResponse{
		Items:      sortedEstimates(result),
		Converged:  result.Converged,
		Iterations: result.Iterations,
		ComputedAt: computedAt,
	})
}

func (h *handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	h.cache.Invalidate()
	h.logger.Info("price cache invalidated",
		zap.String("op", "server.handleInvalidate"),
	)
	h.writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
}

func (h *handler) handleBundles(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.respondError(w, http.StatusServiceUnavailable, "bundle store is not configured", "server.handleBundles")
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.submitBundle(w, r)
	case http.MethodGet:
		h.listBundles(w, r)
	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (h *handler) submitBundle(w http.ResponseWriter, r *http.Request) {
	var payload submitRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to decode bundle: %v", err), "server.handleBundles")
		return
	}

	id, err := h.store.SubmitBundle(r.Context(), payload.Name, solver.BundleObservation{
		TotalPrice: payload.TotalPrice,
		Lines:      payload.Lines,
	})
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), "server.handleBundles")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{
		"id":     id,
		"status": "pending",
	})
}

func (h *handler) listBundles(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	bundles, err := h.store.ListBundles(r.Context(), status)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list bundles: %v", err), "server.handleBundles")
		return
	}
	if bundles == nil {
		bundles = []store.Bundle{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"bundles": bundles})
}

func (h *handler) handleBundleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if h.store == nil {
		h.respondError(w, http.StatusServiceUnavailable, "bundle store is not configured", "server.handleBundleStatus")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/bundles/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "status" || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	var payload statusRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to decode status: %v", err), "server.handleBundleStatus")
		return
	}

	if err := h.store.SetStatus(r.Context(), id, payload.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "bundle not found", "server.handleBundleStatus")
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error(), "server.handleBundleStatus")
		return
	}

	// The approved set changed; cached prices are stale now.
	h.cache.Invalidate()

	h.writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": payload.Status,
	})
}

func (h *handler) handleSnapshotList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if h.snapshots == nil {
		h.respondError(w, http.StatusServiceUnavailable, "snapshots are not configured", "server.handleSnapshotList")
		return
	}

	dates, err := h.snapshots.List()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list snapshots: %v", err), "server.handleSnapshotList")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"dates": dates})
}

func (h *handler) handleSnapshotGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if h.snapshots == nil {
		h.respondError(w, http.StatusServiceUnavailable, "snapshots are not configured", "server.handleSnapshotGet")
		return
	}

	date := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/snapshots/"), "/")
	snapshot, err := h.snapshots.Load(date)
	if err != nil {
		h.respondError(w, http.StatusNotFound, fmt.Sprintf("snapshot unavailable: %v", err), "server.handleSnapshotGet")
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func sortedEstimates(result *solver.Result) []solver.ItemPriceEstimate {
	items := make([]solver.ItemPriceEstimate, 0, len(result.Prices))
	for _, estimate := range result.Prices {
		items = append(items, estimate)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemTypeID < items[j].ItemTypeID })
	return items
}

func (h *handler) respondError(w http.ResponseWriter, status int, msg string, op string) {
	if h.logger != nil {
		h.logger.Error("request failed",
			zap.String("op", op),
			zap.Int("status", status),
			zap.String("error", msg),
		)
	}

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && h.logger != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}
