// Package store defines the persistence contract for match nodes and their links.
package store

import (
	"context"

	"github.com/starford/fraudlink/internal/models"
)

// Reader is the read side used by the connection resolvers.
type Reader interface {
	// NodesForTransaction returns every node linked to txID.
	NodesForTransaction(ctx context.Context, txID string) ([]models.MatchNode, error)
	// LinksForNode returns every link (one per transaction) attached to nodeID.
	LinksForNode(ctx context.Context, nodeID string) ([]models.MatchNodeLink, error)
}

// Tx is a unit of work against the node/link graph.
type Tx interface {
	// FindNode returns the node for (matcher, value), or nil when absent.
	FindNode(ctx context.Context, matcher, value string) (*models.MatchNode, error)
	// CreateNode inserts n. If a concurrent writer created the same
	// (matcher, value) first, the existing node is returned instead.
	CreateNode(ctx context.Context, n models.MatchNode) (*models.MatchNode, error)
	// LinkExists reports whether nodeID is already linked to txID.
	LinkExists(ctx context.Context, nodeID, txID string) (bool, error)
	// CreateLink inserts the link; an existing link is not an error.
	CreateLink(ctx context.Context, l models.MatchNodeLink) error
}

// Stats holds graph cardinalities.
type Stats struct {
	Nodes int `json:"nodes"`
	Links int `json:"links"`
}

// Store is a durable node/link graph.
type Store interface {
	Reader
	// Update runs fn atomically. Nothing fn wrote is visible if it returns an error.
	Update(ctx context.Context, fn func(Tx) error) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Edge is one node-to-transaction link together with the node it hangs off.
type Edge struct {
	Node models.MatchNode
	Link models.MatchNodeLink
}

// SubgraphReader is implemented by stores that can collect, in one read, every
// edge the transitive resolver may touch from txID within maxDepth hops.
// Nodes below minConfidence are not followed but are still returned.
type SubgraphReader interface {
	Subgraph(ctx context.Context, txID string, maxDepth, minConfidence int) ([]Edge, error)
}
