package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
)

// AsyncSink decouples request handling from a slower downstream sink. When
// the buffer is full the event is dropped and a warning is logged.
type AsyncSink struct {
	next    Sink
	events  chan Event
	logger  *logging.Service
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsyncSink(next Sink, bufferSize int, logger *logging.Service) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &AsyncSink{
		next:   next,
		events: make(chan Event, bufferSize),
		logger: logger,
	}

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *AsyncSink) Record(_ context.Context, e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.events <- stamp(e):
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit buffer full, dropping event",
			zap.String("event", string(e.Type)),
			zap.Uint("user_id", e.UserID))
	}
}

func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *AsyncSink) run() {
	defer s.wg.Done()
	for e := range s.events {
		s.next.Record(context.Background(), e)
	}
}

// Close drains buffered events into the downstream sink.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	s.wg.Wait()
}
