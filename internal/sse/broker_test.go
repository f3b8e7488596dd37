package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func receive(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe(Subscription{})
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishTemplates(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(Subscription{})
	defer b.Unsubscribe(ch)

	b.PublishTemplates([]string{"invoice.layout.yaml.tmpl"})

	s := receive(t, ch)
	if !strings.HasPrefix(s, "id: 1\nevent: templates.changed\n") {
		t.Errorf("unexpected header in %q", s)
	}
	if !strings.Contains(s, `"names":["invoice.layout.yaml.tmpl"]`) {
		t.Errorf("missing data in %q", s)
	}
}

func TestPublishDocument_ChangedThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(Subscription{})
	defer b.Unsubscribe(ch)

	b.PublishDocument(DocumentCreated, DocumentEvent{Kind: "howard.invoice", Identifier: "a"})
	b.PublishDocument(DocumentRegenerated, DocumentEvent{Kind: "howard.invoice", Identifier: "b"})

	time.Sleep(50 * time.Millisecond)
	changed, documents := 0, 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "event: documents.changed") {
			changed++
		} else {
			documents++
		}
	}
	if documents != 2 {
		t.Errorf("document events = %d, want 2", documents)
	}
	if changed != 1 {
		t.Errorf("documents.changed events = %d, want 1 (throttled)", changed)
	}
}

func TestPublishDocument_Payload(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe(Subscription{})
	defer b.Unsubscribe(ch)

	b.PublishDocument(DocumentCreated, DocumentEvent{
		Kind:       "howard.certificate",
		Identifier: "53ced5ac-d3af-4b08-8ead-096a8cd007a4",
		URL:        "/media/53ced5ac-d3af-4b08-8ead-096a8cd007a4.pdf",
	})

	s := receive(t, ch)
	if !strings.Contains(s, "event: document.created\n") {
		t.Errorf("unexpected event line in %q", s)
	}
	if !strings.Contains(s, `"identifier":"53ced5ac-d3af-4b08-8ead-096a8cd007a4"`) {
		t.Errorf("missing identifier in %q", s)
	}
	if strings.Contains(s, "request_id") {
		t.Errorf("empty request id should be omitted: %q", s)
	}
}

func TestSubscribe_TypeFilter(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe(Subscription{Types: []string{TemplatesChanged}})
	defer b.Unsubscribe(ch)

	b.PublishDocument(DocumentCreated, DocumentEvent{Identifier: "a"})
	b.PublishTemplates([]string{"dummy.style.yaml.tmpl"})

	if s := receive(t, ch); !strings.Contains(s, "event: templates.changed") {
		t.Errorf("filtered client got %q", s)
	}
	time.Sleep(20 * time.Millisecond)
	if rest := drain(ch); len(rest) != 0 {
		t.Errorf("unexpected extra events: %q", rest)
	}
}

func TestSubscribe_ReplaysAfterLastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	first := b.Subscribe(Subscription{})
	defer b.Unsubscribe(first)

	b.PublishTemplates([]string{"a"})
	b.PublishTemplates([]string{"b"})
	b.PublishTemplates([]string{"c"})
	receive(t, first)
	receive(t, first)
	receive(t, first)

	late := b.Subscribe(Subscription{LastEventID: 1})
	defer b.Unsubscribe(late)
	got := drain(late)
	if len(got) != 2 {
		t.Fatalf("replayed %d events, want 2: %q", len(got), got)
	}
	if !strings.HasPrefix(got[0], "id: 2\n") || !strings.HasPrefix(got[1], "id: 3\n") {
		t.Errorf("replay out of order: %q", got)
	}
}

func TestSubscription_FromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/events?types=document.created,%20templates.changed", nil)
	req.Header.Set("Last-Event-ID", "42")
	sub := subscription(req)
	if sub.LastEventID != 42 {
		t.Errorf("last event id = %d", sub.LastEventID)
	}
	if len(sub.Types) != 2 || sub.Types[1] != TemplatesChanged {
		t.Errorf("types = %q", sub.Types)
	}

	sub = subscription(httptest.NewRequest(http.MethodGet, "/api/events?last_event_id=nope", nil))
	if sub.LastEventID != 0 || len(sub.Types) != 0 {
		t.Errorf("unexpected subscription %+v", sub)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishDocument(DocumentRegenerated, DocumentEvent{Kind: "howard.invoice", Identifier: "x"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if body := w.Body.String(); !strings.Contains(body, "event: document.regenerated") {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe(Subscription{})
	defer b.Unsubscribe(ch)

	for i := 0; i < clientBuffer+6; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// Reaching this point means the loop never blocked on the full client.
	if n := b.ClientCount(); n != 1 {
		t.Errorf("clients = %d", n)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe(Subscription{})
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: TemplatesChanged, Data: map[string]string{}})
	b.PublishDocument(DocumentCreated, DocumentEvent{Identifier: "x"})
	if _, ok := <-b.Subscribe(Subscription{}); ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
