package graph

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/starford/fraudlink/internal/apperr"
	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
)

// Resolver answers connection queries against a store.Reader.
// It holds no graph state of its own and is safe for concurrent use.
type Resolver struct {
	src store.Reader
}

// NewResolver creates a resolver reading from src.
func NewResolver(src store.Reader) *Resolver {
	return &Resolver{src: src}
}

// record is the best path known to one transaction.
type record struct {
	confidence int
	depth      int
	matchers   []string
	values     []string
	importance int
	createdAt  time.Time
}

// better orders candidate paths: higher confidence, then fewer hops, then the
// lexicographically smaller (matcher, value) sequence.
func better(a, b record) bool {
	if a.confidence != b.confidence {
		return a.confidence > b.confidence
	}
	if a.depth != b.depth {
		return a.depth < b.depth
	}
	if c := slices.Compare(a.matchers, b.matchers); c != 0 {
		return c < 0
	}
	return slices.Compare(a.values, b.values) < 0
}

// Connected returns every transaction reachable from txID within the depth
// bound, each with its best path, ordered by confidence desc then id asc.
//
// Exploration runs in depth layers. Each layer keeps the best candidate per
// transaction; a transaction is expanded again only when its layer record
// raises the best confidence seen for it, because a record that is no
// stronger than an earlier, shorter one cannot produce a better descendant.
func (r *Resolver) Connected(ctx context.Context, txID string, opts Options) ([]models.ConnectedTransaction, error) {
	p, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if txID == "" {
		return nil, apperr.Invalid("transaction_id", "is required")
	}

	w := newWalker(ctx, r.src)
	best := make(map[string]record)
	layer := map[string]record{txID: {confidence: 100}}

	for depth := 0; depth < p.maxDepth && len(layer) > 0; depth++ {
		next := make(map[string]record)
		for _, from := range sortedKeys(layer) {
			parent := layer[from]
			nodes, err := w.nodes(from)
			if err != nil {
				return nil, err
			}
			for _, n := range nodes {
				if n.Confidence < p.minConfidence {
					continue
				}
				conf := parent.confidence * n.Confidence / 100
				if conf < p.minConfidence {
					continue
				}
				links, err := w.links(n.ID)
				if err != nil {
					return nil, err
				}
				for _, l := range links {
					to := l.TransactionID
					if to == txID || to == from {
						continue
					}
					cand := record{
						confidence: conf,
						depth:      depth + 1,
						matchers:   extend(parent.matchers, n.Matcher),
						values:     extend(parent.values, n.Value),
						importance: n.Importance,
						createdAt:  l.CreatedAt,
					}
					if cur, ok := next[to]; !ok || better(cand, cur) {
						next[to] = cand
					}
				}
			}
		}

		layer = make(map[string]record)
		for to, cand := range next {
			cur, seen := best[to]
			if !seen || better(cand, cur) {
				best[to] = cand
			}
			if !seen || cand.confidence > cur.confidence {
				layer[to] = cand
			}
		}
	}

	out := make([]models.ConnectedTransaction, 0, len(best))
	for id, rec := range best {
		if rec.confidence < p.minConfidence {
			continue
		}
		out = append(out, models.ConnectedTransaction{
			TransactionID: id,
			PathMatchers:  rec.matchers,
			PathValues:    rec.values,
			Depth:         rec.depth,
			Confidence:    rec.confidence,
			Importance:    rec.importance,
			CreatedAt:     rec.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	if p.bounded && len(out) > p.limit {
		out = out[:p.limit]
	}
	return out, nil
}

// Direct returns one row per (other transaction, shared node) pair.
func (r *Resolver) Direct(ctx context.Context, txID string) ([]models.DirectConnection, error) {
	if txID == "" {
		return nil, apperr.Invalid("transaction_id", "is required")
	}
	w := newWalker(ctx, r.src)
	nodes, err := w.nodes(txID)
	if err != nil {
		return nil, err
	}

	out := make([]models.DirectConnection, 0)
	for _, n := range nodes {
		links, err := w.links(n.ID)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			if l.TransactionID == txID {
				continue
			}
			out = append(out, models.DirectConnection{
				TransactionID: l.TransactionID,
				Matcher:       n.Matcher,
				Value:         n.Value,
				Confidence:    n.Confidence,
				Importance:    n.Importance,
				CreatedAt:     l.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.TransactionID != b.TransactionID {
			return a.TransactionID < b.TransactionID
		}
		if a.Matcher != b.Matcher {
			return a.Matcher < b.Matcher
		}
		return a.Value < b.Value
	})
	return out, nil
}

// walker memoizes reads for the duration of one call and checks the context
// before every store round trip.
type walker struct {
	ctx         context.Context
	src         store.Reader
	nodesByTx   map[string][]models.MatchNode
	linksByNode map[string][]models.MatchNodeLink
}

func newWalker(ctx context.Context, src store.Reader) *walker {
	return &walker{
		ctx:         ctx,
		src:         src,
		nodesByTx:   make(map[string][]models.MatchNode),
		linksByNode: make(map[string][]models.MatchNodeLink),
	}
}

func (w *walker) nodes(txID string) ([]models.MatchNode, error) {
	if ns, ok := w.nodesByTx[txID]; ok {
		return ns, nil
	}
	if err := w.ctx.Err(); err != nil {
		return nil, apperr.Persistence("resolve", err)
	}
	ns, err := w.src.NodesForTransaction(w.ctx, txID)
	if err != nil {
		return nil, apperr.Persistence(fmt.Sprintf("nodes for transaction %s", txID), err)
	}
	w.nodesByTx[txID] = ns
	return ns, nil
}

func (w *walker) links(nodeID string) ([]models.MatchNodeLink, error) {
	if ls, ok := w.linksByNode[nodeID]; ok {
		return ls, nil
	}
	if err := w.ctx.Err(); err != nil {
		return nil, apperr.Persistence("resolve", err)
	}
	ls, err := w.src.LinksForNode(w.ctx, nodeID)
	if err != nil {
		return nil, apperr.Persistence(fmt.Sprintf("links for node %s", nodeID), err)
	}
	w.linksByNode[nodeID] = ls
	return ls, nil
}

func extend(path []string, s string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = s
	return out
}

func sortedKeys(m map[string]record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
