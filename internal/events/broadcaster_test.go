package events

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	s1 := b.Subscribe("")
	s2 := b.Subscribe("docs/")
	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(s1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Count())
	}

	b.Unsubscribe(s2)
	b.Unsubscribe(s2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
	if _, ok := <-s2.C; ok {
		t.Error("expected closed channel after unsubscribe")
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	b := NewBroadcaster()
	b.now = func() time.Time { return time.Unix(1700000000, 0) }
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.Publish(Event{Type: EventCommit, Name: "docs/big.bin", Size: 100})

	e := receive(t, sub)
	if e.Type != EventCommit || e.Name != "docs/big.bin" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Timestamp != 1700000000 {
		t.Errorf("expected stamped timestamp, got %d", e.Timestamp)
	}
}

func TestPrefixFilter(t *testing.T) {
	b := NewBroadcaster()
	docs := b.Subscribe("docs/")
	defer b.Unsubscribe(docs)

	b.Publish(Event{Type: EventPut, Name: "photos/a.jpg"})
	b.Publish(Event{Type: EventPut, Name: "docs/a.txt"})
	b.Publish(Event{Type: EventCopy, Name: "archive/a.txt", Source: "docs/a.txt"})

	if e := receive(t, docs); e.Name != "docs/a.txt" {
		t.Errorf("expected docs/a.txt, got %s", e.Name)
	}
	if e := receive(t, docs); e.Source != "docs/a.txt" {
		t.Errorf("expected copy out of docs/, got %+v", e)
	}
	select {
	case e := <-docs.C:
		t.Errorf("unexpected event %+v", e)
	default:
	}
}

func TestDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: EventPut, Name: "overflow.txt"})
	}

	if len(sub.C) != DefaultBuffer {
		t.Errorf("expected %d buffered events, got %d", DefaultBuffer, len(sub.C))
	}
	if sub.Dropped() != 100-DefaultBuffer {
		t.Errorf("expected %d dropped, got %d", 100-DefaultBuffer, sub.Dropped())
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSSE(&buf, Event{Type: EventDelete, Name: "x", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "event: delete\ndata: {") || !strings.HasSuffix(out, "\n\n") {
		t.Errorf("unexpected frame %q", out)
	}
}
