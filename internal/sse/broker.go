// Package sse implements a Server-Sent Events broker for document and
// template notifications.
package sse

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Event types.
const (
	DocumentCreated     = "document.created"
	DocumentRegenerated = "document.regenerated"
	DocumentsChanged    = "documents.changed"
	TemplatesChanged    = "templates.changed"
)

const (
	clientBuffer = 64
	historySize  = 128
	heartbeat    = 15 * time.Second
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// DocumentEvent is the payload of document.created and document.regenerated.
type DocumentEvent struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
	RequestID  string `json:"request_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Subscription selects what a client receives. A zero value receives every
// new event.
type Subscription struct {
	// LastEventID replays retained events with a greater id first.
	LastEventID uint64
	// Types restricts delivery to the listed event types.
	Types []string
}

type client struct {
	ch    chan []byte
	types map[string]struct{}
}

func (c *client) wants(typ string) bool {
	if len(c.types) == 0 {
		return true
	}
	_, ok := c.types[typ]
	return ok
}

type subscribeReq struct {
	c      *client
	lastID uint64
	ready  chan struct{}
}

type frame struct {
	id  uint64
	typ string
	raw []byte
}

type documentEventReq struct {
	typ   string
	event DocumentEvent
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop owns the clients, the replay history and the
// documents.changed throttle. Public methods talk to it through channels.
type Broker struct {
	changedMin time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	documentCh    chan documentEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker emitting at most one documents.changed event per
// throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		changedMin:    throttle,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		documentCh:    make(chan documentEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*client)
	history := make([]frame, 0, historySize)
	var (
		seq         uint64
		lastChanged time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		f := frame{
			id:  seq,
			typ: event.Type,
			raw: []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)),
		}
		if len(history) == historySize {
			history = append(history[:0], history[1:]...)
		}
		history = append(history, f)

		for _, c := range clients {
			if !c.wants(f.typ) {
				continue
			}
			select {
			case c.ch <- f.raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.c.ch] = req.c
			if req.lastID > 0 {
				replay(req.c, history, req.lastID)
			}
			close(req.ready)

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.documentCh:
			broadcast(Event{Type: req.typ, Data: req.event})

			now := time.Now()
			if now.Sub(lastChanged) >= b.changedMin {
				lastChanged = now
				broadcast(Event{Type: DocumentsChanged, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

func replay(c *client, history []frame, after uint64) {
	for _, f := range history {
		if f.id <= after || !c.wants(f.typ) {
			continue
		}
		select {
		case c.ch <- f.raw:
		default:
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. Replayed events, if
// any, are already buffered when Subscribe returns.
func (b *Broker) Subscribe(sub Subscription) chan []byte {
	c := &client{ch: make(chan []byte, clientBuffer)}
	if len(sub.Types) > 0 {
		c.types = make(map[string]struct{}, len(sub.Types))
		for _, t := range sub.Types {
			c.types[t] = struct{}{}
		}
	}
	if b.closed.Load() {
		close(c.ch)
		return c.ch
	}

	req := subscribeReq{c: c, lastID: sub.LastEventID, ready: make(chan struct{})}
	select {
	case b.subscribeCh <- req:
	case <-b.stopped:
		close(c.ch)
		return c.ch
	}
	select {
	case <-req.ready:
	case <-b.stopped:
	}
	return c.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishDocument publishes a document event (DocumentCreated or
// DocumentRegenerated) and a throttled documents.changed event.
func (b *Broker) PublishDocument(typ string, e DocumentEvent) {
	if b.closed.Load() {
		return
	}
	select {
	case b.documentCh <- documentEventReq{typ: typ, event: e}:
	case <-b.stopped:
	}
}

// PublishTemplates announces that the named templates changed on disk.
func (b *Broker) PublishTemplates(names []string) {
	b.Publish(Event{Type: TemplatesChanged, Data: map[string][]string{"names": names}})
}

// subscription reads the Last-Event-ID header (set by reconnecting
// EventSource clients) and the ?types= filter.
func subscription(r *http.Request) Subscription {
	var sub Subscription
	last := r.Header.Get("Last-Event-ID")
	if last == "" {
		last = r.URL.Query().Get("last_event_id")
	}
	sub.LastEventID, _ = strconv.ParseUint(last, 10, 64)
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			sub.Types = append(sub.Types, t)
		}
	}
	return sub
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(subscription(r))
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
