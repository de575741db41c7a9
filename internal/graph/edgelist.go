package graph

import (
	"context"
	"sort"

	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
)

// EdgeList is a pre-fetched, immutable in-memory view of the bipartite graph.
// Feeding it to a Resolver turns resolution into a pure computation.
type EdgeList struct {
	nodesByTx   map[string][]models.MatchNode
	linksByNode map[string][]models.MatchNodeLink
}

var _ store.Reader = (*EdgeList)(nil)

// NewEdgeList indexes edges. Repeated (node, transaction) pairs are kept once.
func NewEdgeList(edges []store.Edge) *EdgeList {
	el := &EdgeList{
		nodesByTx:   make(map[string][]models.MatchNode),
		linksByNode: make(map[string][]models.MatchNodeLink),
	}
	seen := make(map[[2]string]struct{}, len(edges))
	for _, e := range edges {
		key := [2]string{e.Node.ID, e.Link.TransactionID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		l := e.Link
		l.NodeID = e.Node.ID
		el.nodesByTx[l.TransactionID] = append(el.nodesByTx[l.TransactionID], e.Node)
		el.linksByNode[e.Node.ID] = append(el.linksByNode[e.Node.ID], l)
	}
	for _, ns := range el.nodesByTx {
		sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })
	}
	for _, ls := range el.linksByNode {
		sort.Slice(ls, func(i, j int) bool { return ls[i].TransactionID < ls[j].TransactionID })
	}
	return el
}

// NodesForTransaction implements store.Reader.
func (el *EdgeList) NodesForTransaction(_ context.Context, txID string) ([]models.MatchNode, error) {
	return el.nodesByTx[txID], nil
}

// LinksForNode implements store.Reader.
func (el *EdgeList) LinksForNode(_ context.Context, nodeID string) ([]models.MatchNodeLink, error) {
	return el.linksByNode[nodeID], nil
}

// Len returns the number of distinct links held.
func (el *EdgeList) Len() int {
	n := 0
	for _, ls := range el.linksByNode {
		n += len(ls)
	}
	return n
}
