// Package handler exposes the dealer over HTTP: search, document writes,
// dynamic data updates, stats and forced dumps.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/logger"
)

// Engine is the part of the dealer the handler drives.
type Engine interface {
	Search(ctx context.Context, q search.Query, filter search.DocFilter, offset, limit int) (*search.ResultSet, error)
	AddWithBoosts(ctx context.Context, id search.DocID, doc search.Document, boosts []float64) error
	Del(ctx context.Context, id search.DocID) error
	UpdateBoosts(ctx context.Context, id search.DocID, boosts []float64) error
	UpdateCategories(ctx context.Context, id search.DocID, values map[string]string) error
	Dump(ctx context.Context) error
	Stats() map[string]string
}

// QueryParser turns the q parameter into a query tree.
type QueryParser interface {
	Parse(query string) (search.Query, error)
}

// EventPublisher accepts events for asynchronous indexing.
type EventPublisher interface {
	Publish(ctx context.Context, ev ingestion.IngestEvent) (*ingestion.IngestResponse, error)
}

// SearchResponse is the body of a search. Approximate is set when Total is
// a lower bound.
type SearchResponse struct {
	Query       string                    `json:"query"`
	Total       int                       `json:"total"`
	Approximate bool                      `json:"approximate,omitempty"`
	Offset      int                       `json:"offset"`
	Limit       int                       `json:"limit"`
	Results     []search.ScoredMatch      `json:"results"`
	Facets      map[string]map[string]int `json:"facets,omitempty"`
	LatencyMs   int64                     `json:"latency_ms"`
}

type Handler struct {
	engine       Engine
	parser       QueryParser
	publisher    EventPublisher
	defaultLimit int
	maxResults   int
	timeout      time.Duration
	logger       *slog.Logger
}

// New builds a Handler. publisher may be nil, which disables /ingest.
func New(engine Engine, parser QueryParser, publisher EventPublisher, defaultLimit, maxResults int) *Handler {
	return &Handler{
		engine:       engine,
		parser:       parser,
		publisher:    publisher,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// WithSearchTimeout bounds every search by d. Zero leaves searches bounded
// only by the request context.
func (h *Handler) WithSearchTimeout(d time.Duration) *Handler {
	h.timeout = d
	return h
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/documents", h.AddDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}/boosts", h.SetBoosts)
	mux.HandleFunc("PUT /api/v1/documents/{id}/categories", h.SetCategories)
	mux.HandleFunc("POST /api/v1/ingest", h.Ingest)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/dump", h.Dump)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, ok := h.intParam(w, r, "limit", h.defaultLimit, 1)
	if !ok {
		return
	}
	if limit > h.maxResults {
		limit = h.maxResults
	}
	offset, ok := h.intParam(w, r, "offset", 0, 0)
	if !ok {
		return
	}
	if offset > h.maxResults-limit {
		h.writeError(w, http.StatusBadRequest, "offset+limit exceeds the maximum result window")
		return
	}

	resp := SearchResponse{Query: query, Offset: offset, Limit: limit, Results: []search.ScoredMatch{}}
	q, err := h.parser.Parse(query)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	if q == nil {
		resp.LatencyMs = time.Since(start).Milliseconds()
		h.writeJSON(w, http.StatusOK, resp)
		return
	}

	rs, err := h.engine.Search(ctx, q, nil, offset, limit)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		log.Error("search execution failed", "query", query, "error", err)
		h.writeError(w, status, "search failed")
		return
	}
	resp.Total = search.Abs(rs.Total)
	resp.Approximate = rs.Total < 0
	resp.Results = rs.Matches
	resp.Facets = rs.Facets
	resp.LatencyMs = time.Since(start).Milliseconds()

	log.Info("search completed",
		"query", q.String(),
		"total_hits", rs.Total,
		"returned", len(rs.Matches),
		"latency_ms", resp.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) intParam(w http.ResponseWriter, r *http.Request, name string, def, min int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		h.writeError(w, http.StatusBadRequest, name+" must be an integer >= "+strconv.Itoa(min))
		return 0, false
	}
	return v, true
}

func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ingestion.DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateDocument(&req); err != nil {
		h.writeValidation(w, err)
		return
	}
	id := search.NewDocID(req.ID)
	if err := h.engine.AddWithBoosts(ctx, id, search.Document{Fields: req.Fields}, req.Boosts); err != nil {
		h.fail(ctx, w, "add document", req.ID, err)
		return
	}
	if len(req.Categories) > 0 {
		if err := h.engine.UpdateCategories(ctx, id, req.Categories); err != nil {
			h.fail(ctx, w, "set categories", req.ID, err)
			return
		}
	}
	logger.FromContext(ctx).Debug("document indexed", "doc_id", req.ID)
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID, "status": "indexed"})
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Del(r.Context(), search.NewDocID(id)); err != nil {
		h.fail(r.Context(), w, "delete document", id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (h *Handler) SetBoosts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Boosts []float64 `json:"boosts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Boosts) == 0 {
		h.writeError(w, http.StatusBadRequest, "body must contain a non-empty boosts array")
		return
	}
	if err := h.engine.UpdateBoosts(r.Context(), search.NewDocID(id), body.Boosts); err != nil {
		h.fail(r.Context(), w, "set boosts", id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "boosts": body.Boosts})
}

func (h *Handler) SetCategories(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Categories map[string]string `json:"categories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Categories) == 0 {
		h.writeError(w, http.StatusBadRequest, "body must contain a non-empty categories object")
		return
	}
	if err := h.engine.UpdateCategories(r.Context(), search.NewDocID(id), body.Categories); err != nil {
		h.fail(r.Context(), w, "set categories", id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "categories": body.Categories})
}

// Ingest queues an event on the ingest topic instead of indexing inline.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "asynchronous ingestion is disabled")
		return
	}
	var ev ingestion.IngestEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := h.publisher.Publish(r.Context(), ev)
	if err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			h.writeValidation(w, err)
			return
		}
		h.fail(r.Context(), w, "publish event", ev.DocumentID, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

// Dump forces a switch and blocks until the durable dump is installed.
func (h *Handler) Dump(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.engine.Dump(r.Context()); err != nil {
		h.fail(r.Context(), w, "dump", "", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "dumped",
		"duration_ms": time.Since(start).Milliseconds(),
		"stats":       h.engine.Stats(),
	})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op, id string, err error) {
	status := apperrors.HTTPStatusCode(err)
	logger.FromContext(ctx).Error(op+" failed", "doc_id", id, "error", err, "status_code", status)
	h.writeError(w, status, op+" failed")
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
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
