// Package broadcast fans collection status events out to live subscribers.
//
// A Registry holds one Stream per in-flight collection. Open creates the
// stream, Close completes it and removes it from the registry. Delivery is
// at-most-once per subscriber: there is no replay, and a subscriber whose
// buffer is full misses the event.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// DefaultBuffer is the per-subscriber channel capacity used when a Registry is
// built with a non-positive buffer.
const DefaultBuffer = 16

// PublishResult is the outcome of a Publish call. Callers branch on it; none
// of the outcomes is an error.
type PublishResult int

const (
	PublishUnknown PublishResult = iota
	PublishSuccess
	PublishNoSubscribers
	PublishClosed
	PublishOverflow
)

func (r PublishResult) String() string {
	switch r {
	case PublishSuccess:
		return "success"
	case PublishNoSubscribers:
		return "no_subscribers"
	case PublishClosed:
		return "closed"
	case PublishOverflow:
		return "overflow"
	case PublishUnknown:
		return "unknown"
	}
	return "unknown"
}

// Registry maps collection ids to their open streams. It is safe for
// concurrent use.
type Registry struct {
	buffer int

	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry returns an empty registry whose subscribers get channels of the
// given capacity.
func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Registry{buffer: buffer, streams: map[string]*Stream{}}
}

// Open returns the stream for collectionID, creating it if needed.
func (r *Registry) Open(collectionID string) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.streams[collectionID]; ok {
		return s
	}
	s := &Stream{id: collectionID, buffer: r.buffer, subs: map[uint64]chan models.StatusEvent{}}
	r.streams[collectionID] = s
	slog.Debug("Opened status stream.", "collectionId", collectionID)
	return s
}

// IsOpen reports whether a stream exists for collectionID.
func (r *Registry) IsOpen(collectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.streams[collectionID]
	return ok
}

func (r *Registry) stream(collectionID string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[collectionID]
	return s, ok
}

// Subscribe attaches a subscriber to the open stream for collectionID. ok is
// false when no stream is open.
func (r *Registry) Subscribe(collectionID string) (*Subscription, bool) {
	s, ok := r.stream(collectionID)
	if !ok {
		return nil, false
	}
	return s.Subscribe()
}

// Publish delivers event to every subscriber of the stream named by event.ID.
// A missing stream yields PublishClosed.
func (r *Registry) Publish(event models.StatusEvent) PublishResult {
	s, ok := r.stream(event.ID)
	if !ok {
		return PublishClosed
	}
	return s.Publish(event)
}

// Close completes the stream for collectionID and removes it. It returns false
// when no stream was open.
func (r *Registry) Close(collectionID string) bool {
	r.mu.Lock()
	s, ok := r.streams[collectionID]
	delete(r.streams, collectionID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.close()
	slog.Debug("Closed status stream.", "collectionId", collectionID)
	return true
}

// Stream is the multicast channel of one collection.
type Stream struct {
	id     string
	buffer int

	mu     sync.Mutex
	subs   map[uint64]chan models.StatusEvent
	nextID uint64
	closed bool
}

// ID returns the collection id the stream belongs to.
func (s *Stream) ID() string { return s.id }

// Subscribe attaches a new subscriber. ok is false once the stream is closed.
func (s *Stream) Subscribe() (*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	id := s.nextID
	s.nextID++
	ch := make(chan models.StatusEvent, s.buffer)
	s.subs[id] = ch
	return &Subscription{C: ch, stream: s, id: id}, true
}

// Publish sends event to every subscriber without blocking. Sends happen under
// the stream lock so concurrent publishers are seen in the same order by every
// subscriber.
func (s *Stream) Publish(event models.StatusEvent) PublishResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return PublishClosed
	}
	if len(s.subs) == 0 {
		return PublishNoSubscribers
	}

	dropped := 0
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		slog.Warn("Dropped status event for slow subscribers.", "collectionId", s.id, "dropped", dropped, "subscribers", len(s.subs))
		return PublishOverflow
	}
	return PublishSuccess
}

// Subscribers returns the number of attached subscribers.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Stream) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// Subscription receives events on C until the stream closes or Cancel is
// called; either way C is closed.
type Subscription struct {
	C <-chan models.StatusEvent

	stream *Stream
	id     uint64
}

// Cancel detaches the subscriber. It is safe to call more than once.
func (sub *Subscription) Cancel() {
	sub.stream.remove(sub.id)
}
