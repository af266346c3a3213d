// Package events provides the in-process event bus that carries lifecycle
// changes to the API's websocket hub and any other interested listener. The
// Scheduler publishes new-prediction and session-transition events; the
// closed-prediction and weight-swap event types are defined here but nothing
// in Aurora publishes them.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/pkg/calendar"
	"github.com/atlas-desktop/aurora/pkg/types"
)

// EventType defines the category of event.
type EventType string

const (
	EventTypePredictionCreated EventType = "prediction_created"
	EventTypePredictionClosed  EventType = "prediction_closed"
	EventTypeWeightsSwapped    EventType = "weights_swapped"
	EventTypeSessionChanged    EventType = "session_changed"
)

// Event is the base interface for all Aurora events.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event fields.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// PredictionCreatedEvent announces a new active Prediction.
type PredictionCreatedEvent struct {
	BaseEvent
	Prediction types.Prediction `json:"prediction"`
}

// PredictionClosedEvent announces a graded Prediction and its Outcome.
type PredictionClosedEvent struct {
	BaseEvent
	Prediction types.Prediction `json:"prediction"`
	Outcome    types.Outcome    `json:"outcome"`
}

// WeightsSwappedEvent announces the Optimizer activating a new gene set.
type WeightsSwappedEvent struct {
	BaseEvent
	Ticker  string          `json:"ticker"`
	Old     types.Weights   `json:"oldWeights"`
	New     types.Weights   `json:"newWeights"`
	Reason  string          `json:"reason"`
	WinRate decimal.Decimal `json:"priorWinRate"`
}

// SessionChangedEvent announces a trading-session transition.
type SessionChangedEvent struct {
	BaseEvent
	Ticker string              `json:"ticker,omitempty"`
	From   calendar.SessionTag `json:"from"`
	To     calendar.SessionTag `json:"to"`
}

// EventHandler processes a single event.
type EventHandler func(event Event) error

// EventFilter selectively admits events to a subscription.
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription delivery.
type SubscriptionOptions struct {
	Filter EventFilter
	Async  bool
}

// Subscription represents an active event subscription.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive reports whether the subscription is still receiving events.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats tracks bus throughput and error counts.
type EventBusStats struct {
	EventsPublished   int64 `json:"eventsPublished"`
	EventsProcessed   int64 `json:"eventsProcessed"`
	EventsDropped     int64 `json:"eventsDropped"`
	ProcessingErrors  int64 `json:"processingErrors"`
	ActiveSubscribers int64 `json:"activeSubscribers"`
}

// EventBusConfig configures the event bus's worker pool and buffering.
type EventBusConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultEventBusConfig returns defaults sized for a single-process daemon
// fanning out a handful of lifecycle events per tick, not a high-throughput
// trading pipeline.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		NumWorkers: 4,
		BufferSize: 1000,
	}
}

// EventBus is the central in-process event router.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus builds an EventBus and starts its worker pool.
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	if config.NumWorkers <= 0 {
		config.NumWorkers = DefaultEventBusConfig().NumWorkers
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBusConfig().BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		subscribers:    make(map[EventType][]*Subscription),
		allSubscribers: make([]*Subscription, 0),
		eventChan:      make(chan Event, config.BufferSize),
		workerCount:    config.NumWorkers,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger.Named("events"),
	}

	for i := 0; i < config.NumWorkers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	eb.logger.Info("event bus started",
		zap.Int("workers", config.NumWorkers),
		zap.Int("bufferSize", config.BufferSize),
	)
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			eb.processEvent(event)
		}
	}
}

func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	dispatch := func(sub *Subscription) {
		if !sub.active.Load() {
			return
		}
		if sub.Options.Filter != nil && !sub.Options.Filter(event) {
			return
		}
		if sub.Options.Async {
			go eb.executeHandler(sub, event)
		} else {
			eb.executeHandler(sub, event)
		}
	}
	for _, sub := range subs {
		dispatch(sub)
	}
	for _, sub := range allSubs {
		dispatch(sub)
	}
	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("event handler panic",
				zap.String("subscriptionId", sub.ID),
				zap.String("eventType", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("event handler error",
			zap.String("subscriptionId", sub.ID),
			zap.String("eventType", string(event.GetType())),
			zap.Error(err),
		)
	}
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	id := subscriptionCounter.Add(1)
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Subscribe registers a handler for eventType.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// SubscribeAll registers a handler for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates sub; it receives no further events.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish sends event to all subscribers, non-blocking. A full buffer drops
// the event and increments the dropped counter rather than stalling the
// Scheduler's tick.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("event dropped: buffer full", zap.String("eventType", string(event.GetType())))
	}
}

// PublishSync sends event and processes it inline before returning.
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.processEvent(event)
}

// GetStats returns a snapshot of bus counters.
func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

// Stop shuts the bus down, waiting up to 5s for in-flight handlers to drain.
func (eb *EventBus) Stop() {
	eb.logger.Info("event bus shutting down")
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus shutdown complete",
			zap.Int64("eventsProcessed", eb.eventsProcessed.Load()),
			zap.Int64("eventsDropped", eb.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		eb.logger.Warn("event bus shutdown timed out")
	}
}

var eventCounter atomic.Int64

func generateEventID() string {
	id := eventCounter.Add(1)
	return "evt_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

// NewPredictionCreatedEvent builds a PredictionCreatedEvent for p.
func NewPredictionCreatedEvent(p types.Prediction) *PredictionCreatedEvent {
	return &PredictionCreatedEvent{
		BaseEvent:  BaseEvent{ID: generateEventID(), Type: EventTypePredictionCreated, Timestamp: time.Now()},
		Prediction: p,
	}
}

// NewPredictionClosedEvent builds a PredictionClosedEvent for a graded prediction.
func NewPredictionClosedEvent(p types.Prediction, o types.Outcome) *PredictionClosedEvent {
	return &PredictionClosedEvent{
		BaseEvent:  BaseEvent{ID: generateEventID(), Type: EventTypePredictionClosed, Timestamp: time.Now()},
		Prediction: p,
		Outcome:    o,
	}
}

// NewWeightsSwappedEvent builds a WeightsSwappedEvent recording an Optimizer activation.
func NewWeightsSwappedEvent(ticker string, old, newW types.Weights, reason string, priorWinRate decimal.Decimal) *WeightsSwappedEvent {
	return &WeightsSwappedEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeWeightsSwapped, Timestamp: time.Now()},
		Ticker:    ticker,
		Old:       old,
		New:       newW,
		Reason:    reason,
		WinRate:   priorWinRate,
	}
}

// NewSessionChangedEvent builds a SessionChangedEvent for a session transition.
func NewSessionChangedEvent(ticker string, from, to calendar.SessionTag) *SessionChangedEvent {
	return &SessionChangedEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeSessionChanged, Timestamp: time.Now()},
		Ticker:    ticker,
		From:      from,
		To:        to,
	}
}
