package badgerstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
)

// Subgraph collects, inside one read snapshot, every edge the transitive
// resolver can reach from txID within maxDepth hops.
func (s *Store) Subgraph(ctx context.Context, txID string, maxDepth, minConfidence int) ([]store.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxDepth < 1 {
		maxDepth = 1
	}

	var out []store.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		nodeCache := make(map[string][]models.MatchNode)
		nodesOf := func(tx string) ([]models.MatchNode, error) {
			if ns, ok := nodeCache[tx]; ok {
				return ns, nil
			}
			ns, err := nodesIn(txn, tx)
			if err != nil {
				return nil, err
			}
			nodeCache[tx] = ns
			return ns, nil
		}

		// Transactions that may still expand sit within maxDepth-1 hops.
		reached := map[string]bool{txID: true}
		frontier := []string{txID}
		for depth := 1; depth < maxDepth && len(frontier) > 0; depth++ {
			var next []string
			for _, tx := range frontier {
				if err := ctx.Err(); err != nil {
					return err
				}
				nodes, err := nodesOf(tx)
				if err != nil {
					return err
				}
				for _, n := range nodes {
					if n.Confidence < minConfidence {
						continue
					}
					id, err := parseNodeID(n.ID)
					if err != nil {
						return err
					}
					links, err := linksIn(txn, id)
					if err != nil {
						return err
					}
					for _, l := range links {
						if reached[l.TransactionID] {
							continue
						}
						reached[l.TransactionID] = true
						next = append(next, l.TransactionID)
					}
				}
			}
			frontier = next
		}

		nodes := make(map[string]models.MatchNode)
		var ids []uint64
		for tx := range reached {
			ns, err := nodesOf(tx)
			if err != nil {
				return err
			}
			for _, n := range ns {
				if _, ok := nodes[n.ID]; ok {
					continue
				}
				id, err := parseNodeID(n.ID)
				if err != nil {
					return err
				}
				nodes[n.ID] = n
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			links, err := linksIn(txn, id)
			if err != nil {
				return err
			}
			n := nodes[formatNodeID(id)]
			for _, l := range links {
				out = append(out, store.Edge{Node: n, Link: l})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: subgraph: %w", err)
	}
	return out, nil
}
