// Package sqlite provides the SQLite-backed match node store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/fraudlink/internal/store"
)

// created_at columns hold unix nanoseconds.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS match_nodes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	matcher    TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	confidence INTEGER NOT NULL CHECK (confidence BETWEEN 0 AND 100),
	importance INTEGER NOT NULL CHECK (importance BETWEEN 0 AND 100),
	created_at INTEGER NOT NULL,
	UNIQUE(matcher, value)
);

CREATE TABLE IF NOT EXISTS match_node_links (
	node_id        INTEGER NOT NULL REFERENCES match_nodes(id),
	transaction_id TEXT    NOT NULL,
	created_at     INTEGER NOT NULL,
	PRIMARY KEY (node_id, transaction_id)
);

CREATE INDEX IF NOT EXISTS idx_links_transaction ON match_node_links(transaction_id);
`

// DB wraps a sql.DB with node/link operations.
type DB struct {
	conn *sql.DB
}

// Verify *DB satisfies the store contracts at compile time.
var (
	_ store.Store          = (*DB)(nil)
	_ store.SubgraphReader = (*DB)(nil)
)

// Open opens (or creates) the SQLite database and applies the schema.
// Write transactions take the database lock up front so concurrent
// find-or-create calls serialize instead of failing on lock upgrade.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Stats returns node and link counts.
func (db *DB) Stats(ctx context.Context) (store.Stats, error) {
	var s store.Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM match_nodes), (SELECT count(*) FROM match_node_links)
	`).Scan(&s.Nodes, &s.Links)
	if err != nil {
		return store.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
	}
	return s, nil
}
