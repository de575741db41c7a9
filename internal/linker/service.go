// Package linker is the transaction-linking engine: it records which match
// nodes a transaction carries and answers connection queries over the result.
package linker

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/fraudlink/internal/apperr"
	"github.com/starford/fraudlink/internal/graph"
	"github.com/starford/fraudlink/internal/matcher"
	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
)

// Service coordinates the node/link store, the matcher registry and the resolvers.
type Service struct {
	store    store.Store
	registry *matcher.Registry
	resolver *graph.Resolver
	defaults graph.Options
	timeout  time.Duration
	pushdown bool
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDefaults sets resolver options used when a call leaves a field nil.
func WithDefaults(o graph.Options) Option {
	return func(s *Service) { s.defaults = o }
}

// WithTimeout bounds every resolve call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithPushdown makes transitive queries fetch their subgraph in one read when
// the store supports it.
func WithPushdown(enabled bool) Option {
	return func(s *Service) { s.pushdown = enabled }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a linking service. A nil registry applies system defaults
// to every matcher.
func NewService(st store.Store, reg *matcher.Registry, opts ...Option) *Service {
	s := &Service{
		store:    st,
		registry: reg,
		resolver: graph.NewResolver(st),
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry returns the matcher registry the service creates nodes with.
func (s *Service) Registry() *matcher.Registry { return s.registry }

// UpsertAndLink records that transactionID carries every field. Missing nodes
// are created with the registry's weights and missing links are added, all in
// one unit of work. Repeating a call changes nothing.
func (s *Service) UpsertAndLink(ctx context.Context, transactionID string, fields []models.MatchingField) error {
	if len(fields) == 0 {
		return nil
	}
	if transactionID == "" {
		return apperr.Invalid("transaction_id", "is required")
	}
	unique := make([]models.MatchingField, 0, len(fields))
	seen := make(map[models.MatchingField]struct{}, len(fields))
	for _, f := range fields {
		if f.Matcher == "" {
			return apperr.Invalid("matcher", "is required")
		}
		if f.Value == "" {
			return apperr.Invalid("value", "is required for matcher "+f.Matcher)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		unique = append(unique, f)
	}

	err := s.store.Update(ctx, func(tx store.Tx) error {
		now := s.now()
		for _, f := range unique {
			node, err := tx.FindNode(ctx, f.Matcher, f.Value)
			if err != nil {
				return err
			}
			if node == nil {
				confidence, importance := s.registry.ConfigFor(f.Matcher)
				node, err = tx.CreateNode(ctx, models.MatchNode{
					Matcher:    f.Matcher,
					Value:      f.Value,
					Confidence: confidence,
					Importance: importance,
					CreatedAt:  now,
				})
				if err != nil {
					return err
				}
			}
			exists, err := tx.LinkExists(ctx, node.ID, transactionID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := tx.CreateLink(ctx, models.MatchNodeLink{
				NodeID:        node.ID,
				TransactionID: transactionID,
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("linker: upsert failed",
			slog.String("transaction_id", transactionID),
			slog.String("error", err.Error()),
		)
		return apperr.Persistence("upsert and link "+transactionID, err)
	}
	return nil
}

// DirectConnections lists one row per (other transaction, shared node) pair.
func (s *Service) DirectConnections(ctx context.Context, transactionID string) ([]models.DirectConnection, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	out, err := s.resolver.Direct(ctx, transactionID)
	return out, apperr.Persistence("direct connections", err)
}

// ConnectedTransactions lists every transaction transitively linked to
// transactionID with its strongest path. Nil fields of opts fall back to the
// service defaults.
func (s *Service) ConnectedTransactions(ctx context.Context, transactionID string, opts graph.Options) ([]models.ConnectedTransaction, error) {
	if transactionID == "" {
		return nil, apperr.Invalid("transaction_id", "is required")
	}
	opts = s.merge(opts)
	maxDepth, minConfidence, err := opts.Bounds()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	resolver := s.resolver
	if sub, ok := s.store.(store.SubgraphReader); ok && s.pushdown {
		edges, err := sub.Subgraph(ctx, transactionID, maxDepth, minConfidence)
		if err != nil {
			return nil, apperr.Persistence("subgraph "+transactionID, err)
		}
		resolver = graph.NewResolver(graph.NewEdgeList(edges))
	}
	out, err := resolver.Connected(ctx, transactionID, opts)
	return out, apperr.Persistence("connected transactions", err)
}

// Stats returns node and link counts.
func (s *Service) Stats(ctx context.Context) (store.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return store.Stats{}, apperr.Persistence("stats", err)
	}
	return st, nil
}

func (s *Service) merge(o graph.Options) graph.Options {
	if o.MaxDepth == nil {
		o.MaxDepth = s.defaults.MaxDepth
	}
	if o.Limit == nil {
		o.Limit = s.defaults.Limit
	}
	if o.MinConfidence == nil {
		o.MinConfidence = s.defaults.MinConfidence
	}
	return o
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
