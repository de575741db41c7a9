package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/fraudlink/internal/extract"
	"github.com/starford/fraudlink/internal/graph"
	"github.com/starford/fraudlink/internal/linker"
	"github.com/starford/fraudlink/internal/matcher"
	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/store"
	"github.com/starford/fraudlink/internal/testutil"
	"github.com/starford/fraudlink/internal/worker"
)

// testEnv wires a temp SQLite store, the linker, the pipeline and the router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*linker.Service, http.Handler) {
	t.Helper()
	reg, err := matcher.NewRegistry(map[string]matcher.Config{
		"email":  {Confidence: 90, Importance: 70},
		"device": {Confidence: 80, Importance: 60},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	svc := linker.NewService(testutil.TestDB(t), reg)
	pipe := worker.NewPipeline(svc, extract.New(reg), worker.WithSink(discardSink{}))
	router := NewRouter(NewHandler(svc, pipe), authToken != "", authToken, nil)
	return svc, router
}

type discardSink struct{}

func (discardSink) Emit(context.Context, worker.Result) error { return nil }

func do(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIngestAndQuery(t *testing.T) {
	_, router := testEnv(t, "")

	for _, in := range []map[string]any{
		{"id": "A", "payload": map[string]any{"email": "a@x.io"}},
		{"id": "B", "payload": map[string]any{"email": "a@x.io", "device": "d1"}},
		{"id": "C", "payload": map[string]any{"device": "d1"}},
	} {
		w := do(t, router, http.MethodPost, "/transactions", in, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ingest status = %d, body = %s", w.Code, w.Body.String())
		}
	}

	w := do(t, router, http.MethodGet, "/transactions/A/connected", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("connected status = %d, body = %s", w.Code, w.Body.String())
	}
	var connected ConnectedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &connected); err != nil {
		t.Fatal(err)
	}
	if len(connected.Connections) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(connected.Connections))
	}
	if c := connected.Connections[1]; c.TransactionID != "C" || c.Confidence != 72 || c.Depth != 2 {
		t.Errorf("unexpected second connection %+v", c)
	}

	w = do(t, router, http.MethodGet, "/transactions/A/connected?max_depth=1", nil, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &connected); err != nil {
		t.Fatal(err)
	}
	if len(connected.Connections) != 1 {
		t.Errorf("max_depth=1: expected 1 connection, got %d", len(connected.Connections))
	}

	w = do(t, router, http.MethodGet, "/transactions/A/direct", nil, nil)
	var direct DirectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &direct); err != nil {
		t.Fatal(err)
	}
	if len(direct.Connections) != 1 || direct.Connections[0].TransactionID != "B" {
		t.Errorf("direct = %+v", direct.Connections)
	}
}

func TestIngestReturnsFeatures(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/transactions", map[string]any{
		"payload": map[string]any{"email": "solo@x.io"},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.TransactionID == "" {
		t.Error("expected a generated transaction id")
	}
	if len(res.Features) == 0 {
		t.Error("expected graph features")
	}
}

func TestIngestValidation(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewReader([]byte(`{bad`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/transactions", map[string]any{"id": "A"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing payload status = %d, want 400", w.Code)
	}
}

func TestLinkEndpoint(t *testing.T) {
	svc, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/transactions/A/links", LinkRequest{
		Fields: []models.MatchingField{{Matcher: "email", Value: "a@x.io"}},
	}, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("link status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPost, "/transactions/B/links", LinkRequest{
		Fields: []models.MatchingField{{Matcher: "email", Value: "a@x.io"}},
	}, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("link status = %d", w.Code)
	}

	direct, err := svc.DirectConnections(context.Background(), "A")
	if err != nil {
		t.Fatal(err)
	}
	if len(direct) != 1 {
		t.Errorf("expected 1 direct connection, got %d", len(direct))
	}

	w = do(t, router, http.MethodPost, "/transactions/A/links", LinkRequest{
		Fields: []models.MatchingField{{Matcher: "email"}},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty value status = %d, want 400", w.Code)
	}
}

func TestConnectedQueryValidation(t *testing.T) {
	_, router := testEnv(t, "")
	cases := []string{
		"/transactions/A/connected?max_depth=abc",
		"/transactions/A/connected?max_depth=-1",
		"/transactions/A/connected?limit=-3",
	}
	for _, path := range cases {
		w := do(t, router, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestUnknownTransactionIsEmpty(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/transactions/ghost/connected", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ConnectedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Connections == nil || len(resp.Connections) != 0 {
		t.Errorf("expected empty connections array, got %s", w.Body.String())
	}
}

func TestStats(t *testing.T) {
	svc, router := testEnv(t, "")
	if err := svc.UpsertAndLink(context.Background(), "A", []models.MatchingField{{Matcher: "email", Value: "a"}}); err != nil {
		t.Fatal(err)
	}
	w := do(t, router, http.MethodGet, "/stats", nil, nil)
	var st StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st != (store.Stats{Nodes: 1, Links: 1}) {
		t.Errorf("stats = %+v", st)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, router := testEnv(t, "secret")

	w := do(t, router, http.MethodGet, "/stats", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}
	w = do(t, router, http.MethodGet, "/stats", nil, map[string]string{"Authorization": "Bearer wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}
	w = do(t, router, http.MethodGet, "/stats", nil, map[string]string{"Authorization": "Bearer secret"})
	if w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
}

type slowEngine struct{ Engine }

func (slowEngine) ConnectedTransactions(ctx context.Context, _ string, _ graph.Options) ([]models.ConnectedTransaction, error) {
	svc := linker.NewService(blockingStore{}, nil, linker.WithTimeout(10*time.Millisecond))
	return svc.ConnectedTransactions(ctx, "A", graph.Options{})
}

type blockingStore struct{ store.Store }

func (blockingStore) NodesForTransaction(ctx context.Context, _ string) ([]models.MatchNode, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTimeoutMapsTo504(t *testing.T) {
	router := NewRouter(NewHandler(slowEngine{}, nil), false, "", nil)
	w := do(t, router, http.MethodGet, "/transactions/A/connected", nil, nil)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}
