// Package events fans object store change notifications out to SSE subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fruitsalade/blobfm/internal/metrics"
)

// Event types.
const (
	EventPut        = "put"
	EventCopy       = "copy"
	EventCommit     = "commit"
	EventDelete     = "delete"
	EventProperties = "properties"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 64

// Event describes one change to an object.
type Event struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Source    string `json:"source,omitempty"`
	Size      int64  `json:"size,omitempty"`
	ETag      string `json:"etag,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Subscription receives the events whose object name starts with its
// prefix. A full queue drops events instead of blocking publishers.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	prefix  string
	dropped atomic.Int64
}

// Dropped returns how many events were discarded for this subscription.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) wants(e Event) bool {
	return strings.HasPrefix(e.Name, s.prefix) || (e.Source != "" && strings.HasPrefix(e.Source, s.prefix))
}

// Broadcaster delivers published events to matching subscriptions.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	now    func() time.Time
}

// NewBroadcaster creates a broadcaster with DefaultBuffer-sized queues.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		now:    time.Now,
	}
}

// Subscribe registers a subscription for names under prefix ("" for all).
// The caller must Unsubscribe when done.
func (b *Broadcaster) Subscribe(prefix string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, prefix: prefix}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()

	metrics.SetSSEConnectionsActive(int64(n))
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	n := len(b.subs)
	b.mu.Unlock()

	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish delivers e to every matching subscription without blocking.
func (b *Broadcaster) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = b.now().Unix()
	}

	b.mu.RLock()
	for sub := range b.subs {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
	b.mu.RUnlock()

	metrics.RecordSSEEvent(e.Type)
}

// Count returns the number of active subscriptions.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// WriteSSE writes e as one server-sent event frame.
func WriteSSE(w io.Writer, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
