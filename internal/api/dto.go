package api

import (
	"encoding/json"

	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
	"github.com/starford/fraudlink/internal/worker"
)

// IngestRequest is the request body for processing a transaction.
type IngestRequest struct {
	ID      string          `json:"id,omitempty" example:"tx-1001"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// LinkRequest is the request body for linking explicit fields to a transaction.
type LinkRequest struct {
	Fields []models.MatchingField `json:"fields" validate:"required"`
}

// IngestResponse is the pipeline outcome (aliased from the worker layer).
type IngestResponse = worker.Result

// DirectResponse wraps direct connections.
type DirectResponse struct {
	Connections []models.DirectConnection `json:"connections" validate:"required"`
}

// ConnectedResponse wraps transitive connections.
type ConnectedResponse struct {
	Connections []models.ConnectedTransaction `json:"connections" validate:"required"`
}

// StatsResponse reports graph cardinalities.
type StatsResponse = store.Stats
