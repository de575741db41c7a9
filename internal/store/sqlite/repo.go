package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
)

// NodesForTransaction returns every node linked to txID, ordered by node id.
func (db *DB) NodesForTransaction(ctx context.Context, txID string) ([]models.MatchNode, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.id, n.matcher, n.value, n.confidence, n.importance, n.created_at
		FROM match_node_links l
		JOIN match_nodes n ON n.id = l.node_id
		WHERE l.transaction_id = ?
		ORDER BY n.id
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: nodes for transaction: %w", err)
	}
	defer rows.Close()

	var out []models.MatchNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: nodes for transaction: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// LinksForNode returns every link attached to nodeID, ordered by transaction id.
func (db *DB) LinksForNode(ctx context.Context, nodeID string) ([]models.MatchNodeLink, error) {
	id, err := parseNodeID(nodeID)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT transaction_id, created_at
		FROM match_node_links
		WHERE node_id = ?
		ORDER BY transaction_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: links for node: %w", err)
	}
	defer rows.Close()

	var out []models.MatchNodeLink
	for rows.Next() {
		var (
			l  models.MatchNodeLink
			ts int64
		)
		if err := rows.Scan(&l.TransactionID, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: links for node: %w", err)
		}
		l.NodeID = nodeID
		l.CreatedAt = time.Unix(0, ts).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

// Update runs fn inside a single immediate transaction.
func (db *DB) Update(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) FindNode(ctx context.Context, matcher, value string) (*models.MatchNode, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, matcher, value, confidence, importance, created_at
		FROM match_nodes
		WHERE matcher = ? AND value = ?
	`, matcher, value)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find node: %w", err)
	}
	return &n, nil
}

func (t *sqlTx) CreateNode(ctx context.Context, n models.MatchNode) (*models.MatchNode, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO match_nodes (matcher, value, confidence, importance, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(matcher, value) DO NOTHING
	`, n.Matcher, n.Value, n.Confidence, n.Importance, n.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("sqlite: create node: %w", err)
	}
	// Whether we inserted or lost the race, the stored row is authoritative.
	existing, err := t.FindNode(ctx, n.Matcher, n.Value)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("sqlite: create node: row for %s missing after insert", n.Matcher)
	}
	return existing, nil
}

func (t *sqlTx) LinkExists(ctx context.Context, nodeID, txID string) (bool, error) {
	id, err := parseNodeID(nodeID)
	if err != nil {
		return false, err
	}
	var one int
	err = t.tx.QueryRowContext(ctx, `
		SELECT 1 FROM match_node_links WHERE node_id = ? AND transaction_id = ?
	`, id, txID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: link exists: %w", err)
	}
	return true, nil
}

func (t *sqlTx) CreateLink(ctx context.Context, l models.MatchNodeLink) error {
	id, err := parseNodeID(l.NodeID)
	if err != nil {
		return err
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO match_node_links (node_id, transaction_id, created_at)
		VALUES (?, ?, ?)
	`, id, l.TransactionID, l.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: create link: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(r rowScanner) (models.MatchNode, error) {
	var (
		n  models.MatchNode
		id int64
		ts int64
	)
	if err := r.Scan(&id, &n.Matcher, &n.Value, &n.Confidence, &n.Importance, &ts); err != nil {
		return models.MatchNode{}, err
	}
	n.ID = strconv.FormatInt(id, 10)
	n.CreatedAt = time.Unix(0, ts).UTC()
	return n, nil
}

func parseNodeID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sqlite: invalid node id %q: %w", s, err)
	}
	return id, nil
}
