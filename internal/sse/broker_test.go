package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/fraudlink/internal/features"
	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/worker"
)

type received struct {
	id    string
	event string
	data  string
}

func parseFrame(t *testing.T, msg []byte) received {
	t.Helper()
	var r received
	for _, line := range strings.Split(strings.TrimSpace(string(msg)), "\n") {
		key, val, ok := strings.Cut(line, ": ")
		if !ok {
			t.Fatalf("malformed frame line %q", line)
		}
		switch key {
		case "id":
			r.id = val
		case "event":
			r.event = val
		case "data":
			r.data = val
		}
	}
	return r
}

func next(t *testing.T, ch <-chan []byte) received {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return parseFrame(t, msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return received{}
}

// nextOf skips frames until one named event arrives.
func nextOf(t *testing.T, ch <-chan []byte, event string) received {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatal("channel closed")
			}
			if r := parseFrame(t, msg); r.event == event {
				return r
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", event)
		}
	}
}

func TestLinkedEventCarriesFeatures(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch, cancel := b.Subscribe("")
	defer cancel()

	b.PublishLinked(Linked{
		TransactionID: "tx-1",
		Direct:        2,
		Connected:     3,
		Features:      map[string]float64{features.ConnectedMaxConfidence: 72},
	})

	got := next(t, ch)
	if got.event != EventLinked || got.id != "1" {
		t.Fatalf("frame = %+v", got)
	}
	var ev Linked
	if err := json.Unmarshal([]byte(got.data), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.TransactionID != "tx-1" || ev.Direct != 2 || ev.Connected != 3 || ev.Features[features.ConnectedMaxConfidence] != 72 {
		t.Errorf("payload = %+v", ev)
	}
}

func TestFrameIDsIncrease(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch, cancel := b.Subscribe("")
	defer cancel()

	b.PublishFailed(Failed{TransactionID: "a", Error: "boom"})
	b.PublishLinked(Linked{TransactionID: "b"})

	if first, second := next(t, ch), next(t, ch); first.id != "1" || second.id != "2" {
		t.Errorf("ids = %s, %s", first.id, second.id)
	}
}

func TestGraphUpdatedCoalescesLinks(t *testing.T) {
	b := NewBroker(40 * time.Millisecond)
	defer b.Close()
	ch, cancel := b.Subscribe("")
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		b.PublishLinked(Linked{TransactionID: id})
	}

	total := 0
	for total < 3 {
		got := nextOf(t, ch, EventGraph)
		var ev GraphUpdated
		if err := json.Unmarshal([]byte(got.data), &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Linked < 1 {
			t.Fatalf("graph.updated with no links: %+v", ev)
		}
		total += ev.Linked
	}
	if total != 3 {
		t.Errorf("graph.updated counted %d links, want 3", total)
	}
}

func TestFailureDoesNotUpdateGraph(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	defer b.Close()
	ch, cancel := b.Subscribe("")
	defer cancel()

	b.PublishFailed(Failed{TransactionID: "tx-9", Error: "store unavailable"})
	got := next(t, ch)
	if got.event != EventFailed || !strings.Contains(got.data, "store unavailable") {
		t.Fatalf("frame = %+v", got)
	}

	select {
	case msg := <-ch:
		t.Errorf("unexpected frame after failure: %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriberFilterByTransaction(t *testing.T) {
	b := NewBroker(30 * time.Millisecond)
	defer b.Close()
	only, cancel := b.Subscribe("B")
	defer cancel()

	b.PublishLinked(Linked{TransactionID: "A"})
	b.PublishFailed(Failed{TransactionID: "A", Error: "x"})
	b.PublishLinked(Linked{TransactionID: "B"})

	// graph.updated is not transaction scoped, so both kinds must arrive.
	var sawB, sawGraph bool
	for !sawB || !sawGraph {
		got := next(t, only)
		switch got.event {
		case EventGraph:
			sawGraph = true
		case EventLinked:
			if !strings.Contains(got.data, `"transaction_id":"B"`) {
				t.Fatalf("unfiltered frame %+v", got)
			}
			sawB = true
		default:
			t.Fatalf("unexpected frame %+v", got)
		}
	}
}

func TestSlowSubscriberDropsFrames(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch, cancel := b.Subscribe("")
	defer cancel()

	for range subscriberBuffer + 10 {
		b.PublishLinked(Linked{TransactionID: "x"})
	}

	deadline := time.Now().Add(time.Second)
	for len(ch) < subscriberBuffer {
		if time.Now().After(deadline) {
			t.Fatalf("buffered = %d, want %d", len(ch), subscriberBuffer)
		}
		time.Sleep(5 * time.Millisecond)
	}
	// The broker keeps serving other calls while this subscriber is full.
	other, cancelOther := b.Subscribe("")
	cancelOther()
	if _, ok := <-other; ok {
		t.Error("cancelled subscription should be closed")
	}
}

func TestCancelAndCloseCloseChannels(t *testing.T) {
	b := NewBroker(time.Hour)
	ch, cancel := b.Subscribe("")
	cancel()
	if _, ok := <-ch; ok {
		t.Error("cancelled subscription should be closed")
	}

	open, _ := b.Subscribe("")
	b.Close()
	if _, ok := <-open; ok {
		t.Error("Close should close live subscriptions")
	}

	// Everything after Close returns immediately.
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.PublishLinked(Linked{TransactionID: "late"})
		late, cancel := b.Subscribe("")
		cancel()
		if _, ok := <-late; ok {
			t.Error("subscription after Close should be closed")
		}
		b.Close()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operations after Close blocked")
	}
}

func TestServeHTTPStreamsFilteredEvents(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?transaction_id=tx-2", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Headers are flushed after subscribing, so these reach the stream.
	b.PublishLinked(Linked{TransactionID: "tx-1"})
	b.PublishFailed(Failed{TransactionID: "tx-2", Error: "timed out"})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		if sc.Text() == "" {
			break
		}
		lines = append(lines, sc.Text())
	}
	got := parseFrame(t, []byte(strings.Join(lines, "\n")))
	if got.event != EventFailed || !strings.Contains(got.data, `"transaction_id":"tx-2"`) {
		t.Errorf("streamed frame = %+v", got)
	}
}

func TestSinkPublishesPipelineOutcomes(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch, cancel := b.Subscribe("")
	defer cancel()
	sink := NewSink(b)

	res := worker.Result{
		TransactionID: "tx-5",
		Direct:        []models.DirectConnection{{TransactionID: "tx-4"}},
		Connected:     []models.ConnectedTransaction{{TransactionID: "tx-4"}, {TransactionID: "tx-3"}},
		Features:      features.Graph(nil, nil),
	}
	if err := sink.Emit(context.Background(), res); err != nil {
		t.Fatal(err)
	}
	var ev Linked
	if err := json.Unmarshal([]byte(next(t, ch).data), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.TransactionID != "tx-5" || ev.Direct != 1 || ev.Connected != 2 {
		t.Errorf("linked = %+v", ev)
	}
	if _, ok := ev.Features[features.ConnectedTransactionCount]; !ok {
		t.Errorf("features missing from %+v", ev.Features)
	}

	sink.Failed(context.Background(), "tx-6", errors.New("persistence failure"))
	got := next(t, ch)
	var failed Failed
	if err := json.Unmarshal([]byte(got.data), &failed); err != nil {
		t.Fatal(err)
	}
	if got.event != EventFailed || failed != (Failed{TransactionID: "tx-6", Error: "persistence failure"}) {
		t.Errorf("failed = %s %+v", got.event, failed)
	}
}
