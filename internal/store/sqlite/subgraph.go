package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/starford/fraudlink/internal/store"
)

// subgraphSQL walks the link table recursively. reach holds every transaction
// that can still expand (depth < maxDepth); the result is every link of every
// node attached to those transactions.
const subgraphSQL = `
WITH RECURSIVE reach(transaction_id, depth) AS (
	SELECT ?1, 0
	UNION
	SELECT l2.transaction_id, r.depth + 1
	FROM reach r
	JOIN match_node_links l1 ON l1.transaction_id = r.transaction_id
	JOIN match_nodes n       ON n.id = l1.node_id AND n.confidence >= ?2
	JOIN match_node_links l2 ON l2.node_id = l1.node_id
	WHERE r.depth + 1 < ?3 AND l2.transaction_id <> ?1
),
frontier_nodes AS (
	SELECT DISTINCT l.node_id
	FROM match_node_links l
	JOIN (SELECT DISTINCT transaction_id FROM reach) e ON e.transaction_id = l.transaction_id
)
SELECT n.id, n.matcher, n.value, n.confidence, n.importance, n.created_at,
       l.transaction_id, l.created_at
FROM frontier_nodes f
JOIN match_nodes n      ON n.id = f.node_id
JOIN match_node_links l ON l.node_id = n.id
ORDER BY n.id, l.transaction_id
`

// Subgraph returns, in one query, every edge the transitive resolver can reach
// from txID within maxDepth hops.
func (db *DB) Subgraph(ctx context.Context, txID string, maxDepth, minConfidence int) ([]store.Edge, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	rows, err := db.conn.QueryContext(ctx, subgraphSQL, txID, minConfidence, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("sqlite: subgraph: %w", err)
	}
	defer rows.Close()

	var out []store.Edge
	for rows.Next() {
		var (
			e              store.Edge
			id             int64
			nodeTS, linkTS int64
		)
		if err := rows.Scan(&id, &e.Node.Matcher, &e.Node.Value, &e.Node.Confidence, &e.Node.Importance, &nodeTS,
			&e.Link.TransactionID, &linkTS); err != nil {
			return nil, fmt.Errorf("sqlite: subgraph: %w", err)
		}
		e.Node.ID = strconv.FormatInt(id, 10)
		e.Node.CreatedAt = time.Unix(0, nodeTS).UTC()
		e.Link.NodeID = e.Node.ID
		e.Link.CreatedAt = time.Unix(0, linkTS).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
