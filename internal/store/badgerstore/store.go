// Package badgerstore provides an embedded BadgerDB-backed match node store.
//
// Key layout:
//   - 0x01 + id                       -> JSON(MatchNode)
//   - 0x02 + Identity(matcher, value) -> id
//   - 0x03 + id + txID                -> link created_at (unix nanos)
//   - 0x04 + len(txID) + txID + id    -> empty
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
)

// maxConflictRetries bounds how often Update replays fn after a write conflict.
const maxConflictRetries = 10

// Store is a store.Store over BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

var (
	_ store.Store          = (*Store)(nil)
	_ store.SubgraphReader = (*Store)(nil)
)

// Open opens (or creates) a persistent store in dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions(dir), logger)
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger.With(slog.String("component", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	seq, err := db.GetSequence([]byte{prefixSequence}, 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger: node sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases the id lease and closes the database.
func (s *Store) Close() error {
	relErr := s.seq.Release()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	if relErr != nil {
		return fmt.Errorf("badger: release sequence: %w", relErr)
	}
	return nil
}

// Update runs fn in a read-write transaction. Badger detects write conflicts
// at commit time; on conflict fn is replayed on a fresh transaction, so fn
// must not carry state between attempts.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		txn := s.db.NewTransaction(true)
		err := fn(&badgerTx{store: s, txn: txn})
		if err != nil {
			txn.Discard()
			return err
		}
		err = txn.Commit()
		txn.Discard()
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return fmt.Errorf("badger: commit: %w", err)
	}
}

// NodesForTransaction returns every node linked to txID, ordered by node id.
func (s *Store) NodesForTransaction(ctx context.Context, txID string) ([]models.MatchNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.MatchNode
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = nodesIn(txn, txID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger: nodes for transaction: %w", err)
	}
	return out, nil
}

// LinksForNode returns every link attached to nodeID, ordered by transaction id.
func (s *Store) LinksForNode(ctx context.Context, nodeID string) ([]models.MatchNodeLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := parseNodeID(nodeID)
	if err != nil {
		return nil, err
	}
	var out []models.MatchNodeLink
	err = s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = linksIn(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger: links for node: %w", err)
	}
	return out, nil
}

// Stats counts nodes and links with key-only scans.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	if err := ctx.Err(); err != nil {
		return store.Stats{}, err
	}
	var st store.Stats
	err := s.db.View(func(txn *badger.Txn) error {
		st.Nodes = countPrefix(txn, []byte{prefixNode})
		st.Links = countPrefix(txn, []byte{prefixLink})
		return nil
	})
	if err != nil {
		return store.Stats{}, fmt.Errorf("badger: stats: %w", err)
	}
	return st, nil
}

type badgerTx struct {
	store *Store
	txn   *badger.Txn
}

func (t *badgerTx) FindNode(ctx context.Context, matcher, value string) (*models.MatchNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, err := t.txn.Get(identityKey(matcher, value))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger: find node: %w", err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badger: find node: %w", err)
	}
	id, err := decodeID(raw)
	if err != nil {
		return nil, err
	}
	n, err := getNode(t.txn, id)
	if err != nil {
		return nil, fmt.Errorf("badger: find node: %w", err)
	}
	return &n, nil
}

func (t *badgerTx) CreateNode(ctx context.Context, n models.MatchNode) (*models.MatchNode, error) {
	existing, err := t.FindNode(ctx, n.Matcher, n.Value)
	if err != nil || existing != nil {
		return existing, err
	}
	next, err := t.store.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("badger: allocate node id: %w", err)
	}
	id := next + 1
	n.ID = formatNodeID(id)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("badger: encode node: %w", err)
	}
	if err := t.txn.Set(nodeKey(id), data); err != nil {
		return nil, fmt.Errorf("badger: create node: %w", err)
	}
	if err := t.txn.Set(identityKey(n.Matcher, n.Value), encodeID(id)); err != nil {
		return nil, fmt.Errorf("badger: create node: %w", err)
	}
	return &n, nil
}

func (t *badgerTx) LinkExists(ctx context.Context, nodeID, txID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id, err := parseNodeID(nodeID)
	if err != nil {
		return false, err
	}
	_, err = t.txn.Get(linkKey(id, txID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger: link exists: %w", err)
	}
	return true, nil
}

func (t *badgerTx) CreateLink(ctx context.Context, l models.MatchNodeLink) error {
	ok, err := t.LinkExists(ctx, l.NodeID, l.TransactionID)
	if err != nil || ok {
		return err
	}
	id, err := parseNodeID(l.NodeID)
	if err != nil {
		return err
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	ts := binary.BigEndian.AppendUint64(nil, uint64(l.CreatedAt.UnixNano()))
	if err := t.txn.Set(linkKey(id, l.TransactionID), ts); err != nil {
		return fmt.Errorf("badger: create link: %w", err)
	}
	if err := t.txn.Set(txIndexKey(l.TransactionID, id), nil); err != nil {
		return fmt.Errorf("badger: create link: %w", err)
	}
	return nil
}

func getNode(txn *badger.Txn, id uint64) (models.MatchNode, error) {
	var n models.MatchNode
	item, err := txn.Get(nodeKey(id))
	if err != nil {
		return n, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &n)
	})
	return n, err
}

func nodesIn(txn *badger.Txn, txID string) ([]models.MatchNode, error) {
	prefix := txPrefix(txID)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []models.MatchNode
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		id, err := decodeID(it.Item().Key())
		if err != nil {
			return nil, err
		}
		n, err := getNode(txn, id)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func linksIn(txn *badger.Txn, id uint64) ([]models.MatchNodeLink, error) {
	prefix := linkPrefix(id)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	nodeID := formatNodeID(id)
	var out []models.MatchNodeLink
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		l := models.MatchNodeLink{
			NodeID:        nodeID,
			TransactionID: string(item.Key()[len(prefix):]),
		}
		err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("badger: malformed link timestamp for node %s", nodeID)
			}
			l.CreatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC()
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func countPrefix(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
