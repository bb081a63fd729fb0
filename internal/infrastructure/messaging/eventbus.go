// Package messaging implements the in-process event bus that carries typed
// academy events (session, credit, score, certification) to subscribers
// such as the Redis leaderboard projector.
package messaging

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	errNilHandler = errors.New("event bus: nil handler")
	errNilEvent   = errors.New("event bus: nil event")
)

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode hands deliveries to a fixed worker pool instead of running
	// them on the publisher's goroutine.
	AsyncMode      bool
	WorkerPoolSize int
	// QueueSize bounds pending async deliveries; Publish blocks when full.
	QueueSize int

	Logger        *logger.Logger
	EnableMetrics bool
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// InMemoryEventBus dispatches events to handlers registered per event type
// and to catch-all handlers. Handler errors and panics are logged and
// counted, never returned to the publisher.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	catchAll []shared.EventHandler
	closed   bool

	queue   chan delivery
	workers sync.WaitGroup

	log     *logger.Logger
	metrics *EventBusMetrics
}

// NewInMemoryEventBus creates a bus. In async mode the workers start at once
// and stop in Close.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	b := &InMemoryEventBus{
		byType: make(map[shared.EventType][]shared.EventHandler),
		log:    cfg.Logger.With(logger.Component("eventbus")),
	}
	if cfg.EnableMetrics {
		b.metrics = &EventBusMetrics{}
	}

	if cfg.AsyncMode {
		if cfg.WorkerPoolSize <= 0 {
			cfg.WorkerPoolSize = 8
		}
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = 64 * cfg.WorkerPoolSize
		}
		b.queue = make(chan delivery, cfg.QueueSize)
		b.workers.Add(cfg.WorkerPoolSize)
		for range cfg.WorkerPoolSize {
			go b.work()
		}
	}
	return b
}

func (b *InMemoryEventBus) work() {
	defer b.workers.Done()
	for d := range b.queue {
		b.deliver(d)
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll registers handler for every event.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(handler, func() {
		b.catchAll = append(b.catchAll, handler)
	})
}

func (b *InMemoryEventBus) register(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish delivers event to its type's handlers, then to catch-all handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	// The read lock is held through enqueueing so Close cannot close the
	// queue under a pending send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrEventBusClosed
	}
	if b.metrics != nil {
		b.metrics.published.Add(1)
	}

	targets := b.byType[event.EventType()]
	for _, group := range [][]shared.EventHandler{targets, b.catchAll} {
		for _, h := range group {
			d := delivery{event: event, handler: h}
			if b.queue != nil {
				b.queue <- d
			} else {
				b.deliver(d)
			}
		}
	}
	return nil
}

func (b *InMemoryEventBus) deliver(d delivery) {
	start := time.Now()
	err := safeCall(d)
	if b.metrics != nil {
		b.metrics.record(time.Since(start), err)
	}
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(d.event.EventType())),
			logger.String("event_id", d.event.EventID()),
			logger.Err(err),
		)
	}
}

func safeCall(d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler(d.event)
}

// Close rejects further publishes, runs every queued delivery and stops the
// workers. It is idempotent.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	b.workers.Wait()
	b.log.Debug("event bus closed")
	return nil
}

// Metrics returns the counters, or nil when metrics are off.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// EventBusMetrics counts publishes and handler outcomes.
type EventBusMetrics struct {
	published atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	busyNanos atomic.Int64
}

func (m *EventBusMetrics) record(d time.Duration, err error) {
	if err != nil {
		m.failed.Add(1)
	} else {
		m.succeeded.Add(1)
	}
	m.busyNanos.Add(int64(d))
}

// EventBusMetricsSnapshot is a point-in-time copy of the counters.
type EventBusMetricsSnapshot struct {
	Published     int64
	Succeeded     int64
	Failed        int64
	AvgHandlerDur time.Duration
}

// Snapshot reads the counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	s := EventBusMetricsSnapshot{
		Published: m.published.Load(),
		Succeeded: m.succeeded.Load(),
		Failed:    m.failed.Load(),
	}
	if runs := s.Succeeded + s.Failed; runs > 0 {
		s.AvgHandlerDur = time.Duration(m.busyNanos.Load() / runs)
	}
	return s
}
