package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func link(t *testing.T, s *Store, matcher, value string, confidence int, txs ...string) string {
	t.Helper()
	var nodeID string
	err := s.Update(context.Background(), func(tx store.Tx) error {
		n, err := tx.CreateNode(context.Background(), models.MatchNode{
			Matcher: matcher, Value: value, Confidence: confidence, Importance: 50,
		})
		if err != nil {
			return err
		}
		nodeID = n.ID
		for _, id := range txs {
			if err := tx.CreateLink(context.Background(), models.MatchNodeLink{NodeID: n.ID, TransactionID: id}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return nodeID
}

func TestFindOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := link(t, s, "email", "a@example.com", 90)
	second := link(t, s, "email", "a@example.com", 10)
	assert.Equal(t, first, second)

	err := s.Update(ctx, func(tx store.Tx) error {
		n, err := tx.FindNode(ctx, "email", "a@example.com")
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, 90, n.Confidence, "weights are fixed at creation")

		missing, err := tx.FindNode(ctx, "email", "b@example.com")
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	})
	require.NoError(t, err)
}

func TestIdentityKeysDoNotCollideAcrossFieldBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var a, b *models.MatchNode
	err := s.Update(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.CreateNode(ctx, models.MatchNode{Matcher: "m\x00x", Value: "v", Confidence: 10})
		if err != nil {
			return err
		}
		b, err = tx.CreateNode(ctx, models.MatchNode{Matcher: "m", Value: "x\x00v", Confidence: 90})
		return err
	})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "m", b.Matcher)
	assert.Equal(t, "x\x00v", b.Value)
	assert.Equal(t, 90, b.Confidence)

	err = s.Update(ctx, func(tx store.Tx) error {
		n, err := tx.FindNode(ctx, "m", "x\x00v")
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, b.ID, n.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestLinksAndReaders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	email := link(t, s, "email", "a", 90, "B", "A")
	link(t, s, "device", "d", 80, "B", "C")
	link(t, s, "email", "a", 90, "A")

	nodes, err := s.NodesForTransaction(ctx, "B")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "email", nodes[0].Matcher)
	assert.Equal(t, "device", nodes[1].Matcher)

	links, err := s.LinksForNode(ctx, email)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "A", links[0].TransactionID)
	assert.Equal(t, "B", links[1].TransactionID)
	assert.False(t, links[0].CreatedAt.IsZero())

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Stats{Nodes: 2, Links: 4}, st)

	err = s.Update(ctx, func(tx store.Tx) error {
		ok, err := tx.LinkExists(ctx, email, "A")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.LinkExists(ctx, email, "C")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestTransactionIDsDoNotShadowEachOther(t *testing.T) {
	s := newTestStore(t)
	link(t, s, "email", "a", 90, "tx1")
	link(t, s, "email", "b", 90, "tx10")

	nodes, err := s.NodesForTransaction(context.Background(), "tx1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a", nodes[0].Value)
}

func TestUpdateDiscardsOnError(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.Update(context.Background(), func(tx store.Tx) error {
		n, err := tx.CreateNode(context.Background(), models.MatchNode{Matcher: "ip", Value: "1.2.3.4", Confidence: 40, Importance: 10})
		if err != nil {
			return err
		}
		if err := tx.CreateLink(context.Background(), models.MatchNodeLink{NodeID: n.ID, TransactionID: "t"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Nodes)
	assert.Zero(t, st.Links)
}

func TestConcurrentCreatorsConverge(t *testing.T) {
	s := newTestStore(t)
	const writers = 12

	var wg sync.WaitGroup
	ids := make([]string, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Update(context.Background(), func(tx store.Tx) error {
				n, err := tx.CreateNode(context.Background(), models.MatchNode{
					Matcher: "card", Value: "4111", Confidence: 95, Importance: 90,
				})
				if err != nil {
					return err
				}
				ids[i] = n.ID
				return tx.CreateLink(context.Background(), models.MatchNodeLink{
					NodeID: n.ID, TransactionID: fmt.Sprintf("tx-%02d", i),
				})
			})
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Nodes)
	assert.Equal(t, writers, st.Links)
}

func TestSubgraph(t *testing.T) {
	s := newTestStore(t)
	link(t, s, "m", "1", 100, "A", "B")
	link(t, s, "m", "2", 100, "B", "C")
	link(t, s, "m", "3", 100, "C", "D")
	link(t, s, "weak", "w", 20, "A", "Z")
	link(t, s, "m", "4", 100, "Z", "Y")

	edges, err := s.Subgraph(context.Background(), "A", 2, 50)
	require.NoError(t, err)

	values := map[string]int{}
	for _, e := range edges {
		values[e.Node.Value]++
		assert.Equal(t, e.Node.ID, e.Link.NodeID)
	}
	assert.Equal(t, map[string]int{"1": 2, "2": 2, "w": 2}, values)

	for i := 1; i < len(edges); i++ {
		prev, err := parseNodeID(edges[i-1].Node.ID)
		require.NoError(t, err)
		cur, err := parseNodeID(edges[i].Node.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, prev, cur, "edges are ordered by node id")
	}
}

func TestReadsHonourCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.NodesForTransaction(ctx, "A")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Subgraph(ctx, "A", 3, 0)
	assert.ErrorIs(t, err, context.Canceled)
	err = s.Update(ctx, func(store.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
