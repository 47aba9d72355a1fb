package store

import (
	"container/list"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"
)

// Defaults applied when an option is not set.
const (
	DefaultMaxRecords   = 200
	DefaultMaxBodyBytes = 8000

	// subscriberBuffer bounds each subscriber's queue; a subscriber whose
	// queue is full when a broadcast arrives is dropped rather than ever
	// blocking a request handler.
	subscriberBuffer = 64
)

// Store is a bounded ring of records with live fan-out.
// Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	maxRecords   int
	captureBody  bool
	maxBodyBytes int

	ring  *list.List               // oldest at front
	index map[string]*list.Element // id → ring element

	nextSub     int
	subscribers map[int]chan Record
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRecords bounds the ring size.
func WithMaxRecords(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRecords = n
		}
	}
}

// WithCaptureBodies toggles body previews; headers are captured either way.
func WithCaptureBodies(on bool) Option {
	return func(s *Store) { s.captureBody = on }
}

// WithMaxBodyBytes bounds each stored body preview.
func WithMaxBodyBytes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		maxRecords:   DefaultMaxRecords,
		captureBody:  true,
		maxBodyBytes: DefaultMaxBodyBytes,
		ring:         list.New(),
		index:        make(map[string]*list.Element),
		subscribers:  make(map[int]chan Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture builds a redacted capture slot from raw headers and body.
func (s *Store) Capture(headers http.Header, body []byte) *Capture {
	c := &Capture{
		Headers: RedactHeaders(headers),
		Size:    len(body),
	}
	if !s.captureBody || len(body) == 0 {
		return c
	}

	preview := string(body)
	if !utf8.ValidString(preview) {
		c.BodyPreview = "[unserializable]"
		return c
	}
	if len(preview) > s.maxBodyBytes {
		preview = preview[:s.maxBodyBytes]
		c.Truncated = true
	}
	c.BodyPreview = preview
	return c
}

// Start creates a record for an accepted request and broadcasts it.
// Starting an id twice replaces the earlier record.
func (s *Store) Start(id, method, path string, headers http.Header, body []byte) {
	rec := Record{
		ID:        id,
		Method:    method,
		Path:      path,
		StartedAt: time.Now(),
		Request:   s.Capture(headers, body),
	}

	s.mu.Lock()
	if el, ok := s.index[id]; ok {
		s.ring.Remove(el)
	}
	s.index[id] = s.ring.PushBack(&rec)
	for s.ring.Len() > s.maxRecords {
		oldest := s.ring.Front()
		delete(s.index, oldest.Value.(*Record).ID)
		s.ring.Remove(oldest)
	}
	snapshot := rec
	s.mu.Unlock()

	s.broadcast(snapshot)
}

// Update applies fn to the record under the store lock and broadcasts the
// result. Unknown ids are ignored (the record may have been evicted).
func (s *Store) Update(id string, fn func(*Record)) {
	s.mu.Lock()
	el, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec := el.Value.(*Record)
	fn(rec)
	snapshot := *rec
	s.mu.Unlock()

	s.broadcast(snapshot)
}

// Finalize applies fn, then fills FinishedAt and DurationMs if fn left
// them unset, and broadcasts the completed record.
func (s *Store) Finalize(id string, fn func(*Record)) {
	now := time.Now()
	s.Update(id, func(rec *Record) {
		fn(rec)
		if rec.FinishedAt == nil {
			rec.FinishedAt = &now
		}
		if rec.DurationMs == 0 {
			rec.DurationMs = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
		}
	})
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return *el.Value.(*Record), true
}

// Snapshot returns copies of all records, newest first.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, s.ring.Len())
	for el := s.ring.Back(); el != nil; el = el.Prev() {
		out = append(out, *el.Value.(*Record))
	}
	return out
}

// Len reports the number of retained records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Len()
}

// Subscribe registers for live record updates. The returned channel is
// closed when the subscriber is cancelled or dropped for falling behind.
func (s *Store) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// broadcast delivers a record copy to every subscriber without blocking.
// Subscribers with a full queue are dropped.
func (s *Store) broadcast(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- rec:
		default:
			delete(s.subscribers, id)
			close(ch)
		}
	}
}
