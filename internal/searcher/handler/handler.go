// Package handler serves the lookup and root-management HTTP API.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/middleware"
)

// Index is the engine surface the handler needs.
type Index interface {
	Lookup(words ...string) []string
	Lexer() tokenizer.Lexer
	Generation() uint64
	Add(path string) error
	Remove(path string) bool
	Roots() []string
	Stats() indexer.Stats
}

type Handler struct {
	index   Index
	cache   *cache.LookupCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds a Handler. queryCache and m may be nil.
func New(index Index, queryCache *cache.LookupCache, m *metrics.Metrics) *Handler {
	return &Handler{
		index:   index,
		cache:   queryCache,
		metrics: m,
		logger:  slog.Default().With("component", "lookup-handler"),
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/lookup", h.Lookup)
	mux.HandleFunc("GET /api/v1/roots", h.ListRoots)
	mux.HandleFunc("POST /api/v1/roots", h.AddRoot)
	mux.HandleFunc("DELETE /api/v1/roots", h.RemoveRoot)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// LookupResponse is the body of GET /api/v1/lookup. Paths is the per-word
// union in query order; a path matching several words appears once per
// word.
type LookupResponse struct {
	cache.Result
	CacheHit  bool   `json:"cache_hit"`
	LatencyMs int64  `json:"latency_ms"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	plan, err := parser.Parse(h.index.Lexer(), query)
	if err != nil {
		h.metrics.ObserveLookupError()
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	if plan.Empty() {
		h.writeJSON(w, http.StatusOK, LookupResponse{
			Result:    cache.Result{Query: query, Words: []string{}, Paths: []string{}},
			RequestID: middleware.GetRequestID(ctx),
		})
		return
	}

	generation := h.index.Generation()
	compute := func() (*cache.Result, error) {
		paths := h.index.Lookup(plan.Words...)
		if paths == nil {
			paths = []string{}
		}
		return &cache.Result{
			Query:      query,
			Words:      plan.Words,
			Paths:      paths,
			Total:      len(paths),
			Generation: generation,
		}, nil
	}

	var result *cache.Result
	cacheHit := false
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, plan.Words, generation, compute)
	} else {
		result, err = compute()
	}
	if err != nil {
		h.metrics.ObserveLookupError()
		log.Error("lookup failed", "query", query, "error", err)
		h.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	// Concurrent lookups with the same words share result; each response
	// carries its own query text.
	res := *result
	res.Query = query

	latency := time.Since(start)
	h.metrics.ObserveLookup(latency, res.Total, cacheHit)
	log.Info("lookup completed",
		"query", query,
		"words", len(plan.Words),
		"total", res.Total,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, LookupResponse{
		Result:    res,
		CacheHit:  cacheHit,
		LatencyMs: latency.Milliseconds(),
		RequestID: middleware.GetRequestID(ctx),
	})
}

type rootRequest struct {
	Path string `json:"path"`
}

func (h *Handler) ListRoots(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"roots": h.index.Roots()})
}

func (h *Handler) AddRoot(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req rootRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil || req.Path == "" {
		h.writeError(w, http.StatusBadRequest, "body must be {\"path\": \"...\"}")
		return
	}
	if err := h.index.Add(req.Path); err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Warn("root registration failed", "path", req.Path, "error", err, "status", status)
		h.writeError(w, status, err.Error())
		return
	}
	log.Info("root registered", "path", req.Path)
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "watching", "path": req.Path})
}

func (h *Handler) RemoveRoot(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'path' is required")
		return
	}
	removed := h.index.Remove(path)
	logger.FromContext(r.Context()).Info("root removal requested", "path", path, "removed", removed)
	h.writeJSON(w, http.StatusOK, map[string]any{"path": path, "removed": removed})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": hitRate,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
