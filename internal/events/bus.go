// Package events provides a small pub/sub bus used to fan out trading-loop
// observability: circuit breaker transitions, rejected orders, closed
// trades, and generated signals, to the websocket hub and any notifier.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/internal/ids"
)

// EventType categorizes a published event.
type EventType string

const (
	EventCircuitTransition EventType = "circuit_transition"
	EventCircuitReset      EventType = "circuit_reset"
	EventOrderRejected     EventType = "order_rejected"
	EventOrderSubmitted    EventType = "order_submitted"
	EventTradeClosed       EventType = "trade_closed"
	EventSignalGenerated   EventType = "signal_generated"
)

// Event is one published occurrence.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Handler processes one event; errors are logged, not propagated.
type Handler func(Event) error

type subscription struct {
	eventType EventType
	handler   Handler
}

// Config tunes the bus's worker pool and channel buffer.
type Config struct {
	Workers    int
	BufferSize int
}

// DefaultConfig returns sensible defaults for a single-process trading
// loop: this bus carries decision-audit events, not market ticks, so it
// needs nowhere near a high-throughput tick router's worker count or
// buffer size.
func DefaultConfig() Config {
	return Config{Workers: 4, BufferSize: 1024}
}

// Bus is the central event router.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]subscription

	events  chan Event
	workers int
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Bus. Call Start to begin delivering events.
func New(logger *zap.Logger, cfg Config) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:    make(map[EventType][]subscription),
		events:  make(chan Event, cfg.BufferSize),
		workers: cfg.Workers,
		logger:  logger.Named("events"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker pool.
func (b *Bus) Start() {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
}

// Stop cancels delivery and waits for in-flight handlers to finish.
func (b *Bus) Stop() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case evt := <-b.events:
			b.deliver(evt)
		}
	}
}

func (b *Bus) deliver(evt Event) {
	b.mu.RLock()
	subs := b.subs[evt.Type]
	b.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", zap.Any("panic", r))
				}
			}()
			if err := s.handler(evt); err != nil {
				b.logger.Warn("event handler error", zap.Error(err), zap.String("type", string(evt.Type)))
			}
		}()
	}
}

// Subscribe registers handler for eventType.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], subscription{eventType: eventType, handler: handler})
}

// Publish enqueues an event for delivery, dropping it and logging a
// warning if the channel is full rather than blocking the caller.
func (b *Bus) Publish(kind string, payload interface{}) {
	evt := Event{
		ID:        ids.New("evt"),
		Type:      EventType(kind),
		Timestamp: time.Now(),
		Payload:   payload,
	}
	select {
	case b.events <- evt:
	default:
		b.logger.Warn("event bus full, dropping event", zap.String("type", kind))
	}
}
