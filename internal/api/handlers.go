package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starford/fraudlink/internal/apperr"
	"github.com/starford/fraudlink/internal/graph"
	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
	"github.com/starford/fraudlink/internal/worker"
)

// Engine is the linker contract the handlers expose.
type Engine interface {
	UpsertAndLink(ctx context.Context, transactionID string, fields []models.MatchingField) error
	DirectConnections(ctx context.Context, transactionID string) ([]models.DirectConnection, error)
	ConnectedTransactions(ctx context.Context, transactionID string, opts graph.Options) ([]models.ConnectedTransaction, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Processor runs a transaction through the full pipeline.
type Processor interface {
	Process(ctx context.Context, tx models.Transaction) (*worker.Result, error)
}

// Handler holds API route handlers.
type Handler struct {
	engine   Engine
	pipeline Processor
}

// NewHandler creates a new Handler.
func NewHandler(engine Engine, pipeline Processor) *Handler {
	return &Handler{engine: engine, pipeline: pipeline}
}

// Ingest handles POST /api/transactions.
//
//	@Summary		Link a transaction and compute its graph features
//	@Tags			transactions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IngestRequest	true	"Transaction envelope"
//	@Success		200		{object}	IngestResponse
//	@Failure		400		{object}	errResponse
//	@Failure		504		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/transactions [post]
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if len(req.Payload) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("payload is required"))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	res, err := h.pipeline.Process(r.Context(), models.Transaction{ID: req.ID, Payload: req.Payload})
	if err != nil {
		writeError(w, "ingest "+req.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Link handles POST /api/transactions/{id}/links.
//
//	@Summary		Attach matching fields to a transaction
//	@Tags			transactions
//	@Accept			json
//	@Param			id		path	string		true	"Transaction id"
//	@Param			body	body	LinkRequest	true	"Fields to link"
//	@Success		204		"Linked"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/transactions/{id}/links [post]
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := chi.URLParam(r, "id")
	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.engine.UpsertAndLink(r.Context(), id, req.Fields); err != nil {
		writeError(w, "link "+id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Direct handles GET /api/transactions/{id}/direct.
//
//	@Summary		List one-hop connections
//	@Tags			connections
//	@Produce		json
//	@Param			id	path		string	true	"Transaction id"
//	@Success		200	{object}	DirectResponse
//	@Security		BearerAuth
//	@Router			/transactions/{id}/direct [get]
func (h *Handler) Direct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conns, err := h.engine.DirectConnections(r.Context(), id)
	if err != nil {
		writeError(w, "direct "+id, err)
		return
	}
	writeJSON(w, http.StatusOK, DirectResponse{Connections: conns})
}

// Connected handles GET /api/transactions/{id}/connected.
//
//	@Summary		List transitively connected transactions
//	@Tags			connections
//	@Produce		json
//	@Param			id				path		string	true	"Transaction id"
//	@Param			max_depth		query		int		false	"Maximum hops"
//	@Param			limit			query		int		false	"Maximum results"
//	@Param			min_confidence	query		int		false	"Confidence threshold (0-100)"
//	@Success		200				{object}	ConnectedResponse
//	@Failure		400				{object}	errResponse
//	@Failure		504				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/transactions/{id}/connected [get]
func (h *Handler) Connected(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	var opts graph.Options
	for _, p := range []struct {
		name string
		dst  **int
	}{
		{"max_depth", &opts.MaxDepth},
		{"limit", &opts.Limit},
		{"min_confidence", &opts.MinConfidence},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "connected "+id, apperr.Invalid(p.name, "must be an integer"))
			return
		}
		*p.dst = graph.Int(v)
	}

	conns, err := h.engine.ConnectedTransactions(r.Context(), id, opts)
	if err != nil {
		writeError(w, "connected "+id, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectedResponse{Connections: conns})
}

// Stats handles GET /api/stats.
//
//	@Summary		Graph cardinalities
//	@Tags			stats
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
