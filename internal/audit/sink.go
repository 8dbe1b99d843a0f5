package audit

import (
	"log/slog"
	"sync"

	"github.com/Freshair129/agentic-agent/internal/metrics"
)

// Sink writes events to a Log from a background goroutine. Emit never
// blocks: when the buffer is full the event is dropped and counted.
type Sink struct {
	log    *Log
	events chan Event
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewSink starts the writer goroutine.
func NewSink(log *Log, buffer int, logger *slog.Logger) *Sink {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		log:    log,
		events: make(chan Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit enqueues ev.
func (s *Sink) Emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.AuditDropped.Inc()
		return
	}
	select {
	case s.events <- ev:
	default:
		metrics.AuditDropped.Inc()
		s.logger.Warn("audit buffer full, event dropped", "kind", ev.Kind, "turn_id", ev.TurnID)
	}
}

// Close flushes buffered events and stops the writer.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		if _, err := s.log.Append(ev); err != nil {
			s.logger.Error("audit append failed", "kind", ev.Kind, "err", err)
		}
	}
}
