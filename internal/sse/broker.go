// Package sse streams transaction link outcomes to Server-Sent Events subscribers.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Event names written to the stream.
const (
	EventLinked = "transaction.linked"
	EventFailed = "transaction.failed"
	EventGraph  = "graph.updated"
)

// Linked is the payload of a transaction.linked event.
type Linked struct {
	TransactionID string             `json:"transaction_id"`
	Direct        int                `json:"direct"`
	Connected     int                `json:"connected"`
	Features      map[string]float64 `json:"features"`
}

// Failed is the payload of a transaction.failed event.
type Failed struct {
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error"`
}

// GraphUpdated counts the transactions linked since the previous graph.updated.
type GraphUpdated struct {
	Linked int `json:"linked"`
}

// subscriberBuffer is how many frames a slow subscriber may lag before frames are dropped for it.
const subscriberBuffer = 64

type frame struct {
	event  string
	txID   string
	data   []byte
	linked bool
}

type subscriber struct {
	ch   chan []byte
	txID string
}

// Broker fans link events out to subscribers. One loop goroutine owns the
// subscriber set, the frame sequence and the pending graph count; every
// public method talks to it over channels.
//
// graph.updated is coalesced: at most one per window, and only when a
// transaction was linked during that window.
type Broker struct {
	window time.Duration

	frames chan frame
	join   chan *subscriber
	leave  chan *subscriber

	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

// NewBroker starts a broker that coalesces graph.updated over window.
func NewBroker(window time.Duration) *Broker {
	if window <= 0 {
		window = 2 * time.Second
	}
	b := &Broker{
		window: window,
		frames: make(chan frame, 256),
		join:   make(chan *subscriber),
		leave:  make(chan *subscriber),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.done)

	subs := make(map[*subscriber]struct{})
	var seq uint64
	pending := 0

	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	deliver := func(f frame) {
		seq++
		msg := fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, f.event, f.data)
		for s := range subs {
			if s.txID != "" && f.txID != "" && s.txID != f.txID {
				continue
			}
			select {
			case s.ch <- msg:
			default:
			}
		}
	}

	for {
		select {
		case <-b.quit:
			for s := range subs {
				close(s.ch)
			}
			return

		case s := <-b.join:
			subs[s] = struct{}{}

		case s := <-b.leave:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
			}

		case f := <-b.frames:
			if f.linked {
				pending++
			}
			deliver(f)

		case <-ticker.C:
			if pending == 0 {
				continue
			}
			data, _ := json.Marshal(GraphUpdated{Linked: pending})
			pending = 0
			deliver(frame{event: EventGraph, data: data})
		}
	}
}

// PublishLinked announces a successfully linked transaction.
func (b *Broker) PublishLinked(ev Linked) {
	b.publish(EventLinked, ev.TransactionID, ev, true)
}

// PublishFailed announces a transaction the pipeline gave up on.
func (b *Broker) PublishFailed(ev Failed) {
	b.publish(EventFailed, ev.TransactionID, ev, false)
}

func (b *Broker) publish(event, txID string, payload any, linked bool) {
	if b.closed.Load() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("sse: encode event", slog.String("event", event), slog.String("error", err.Error()))
		return
	}
	select {
	case b.frames <- frame{event: event, txID: txID, data: data, linked: linked}:
	case <-b.done:
	}
}

// Subscribe registers a subscriber. A non-empty txID limits transaction
// events to that transaction; graph.updated is always delivered. The channel
// is closed after cancel or Close.
func (b *Broker) Subscribe(txID string) (<-chan []byte, func()) {
	s := &subscriber{ch: make(chan []byte, subscriberBuffer), txID: txID}
	select {
	case b.join <- s:
	case <-b.done:
		close(s.ch)
		return s.ch, func() {}
	}
	return s.ch, func() {
		select {
		case b.leave <- s:
		case <-b.done:
		}
	}
}

// Close stops the loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.quit)
	}
	<-b.done
}

// ServeHTTP streams events (GET /api/events[?transaction_id=...]).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := b.Subscribe(r.URL.Query().Get("transaction_id"))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
