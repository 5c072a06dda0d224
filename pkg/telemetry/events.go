package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one entry of the decision event stream.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`

	// ActionID is the associated agent action, if applicable.
	ActionID string `json:"action_id,omitempty"`

	// ApprovalID is the associated approval request, if applicable.
	ApprovalID string `json:"approval_id,omitempty"`

	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeDecisionAllowed    = "decision.allowed"
	EventTypeDecisionDenied     = "decision.denied"
	EventTypeApprovalRequested  = "approval.requested"
	EventTypeApprovalDecided    = "approval.decided"
	EventTypeRuntimeStop        = "runtime.stop"
	EventTypeGuardrailViolation = "guardrail.violation"
	EventTypeGuardrailsReloaded = "guardrails.reloaded"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishDecision publishes the outcome of one policy validation.
func (ep *EventPublisher) PublishDecision(actionID, actionType, outcome, reason string) error {
	eventType, level := EventTypeDecisionAllowed, EventLevelInfo
	msg := fmt.Sprintf("Action %s (%s) allowed", actionID, actionType)
	if outcome != "allowed" {
		eventType, level = EventTypeDecisionDenied, EventLevelWarning
		msg = fmt.Sprintf("Action %s (%s) denied: %s", actionID, actionType, reason)
	}
	return ep.Publish(Event{
		Type:     eventType,
		Source:   "policy_engine",
		ActionID: actionID,
		Message:  msg,
		Level:    level,
		Data: map[string]interface{}{
			"action_type": actionType,
			"outcome":     outcome,
			"reason":      reason,
		},
	})
}

// PublishApprovalRequested publishes a new pending approval request.
func (ep *EventPublisher) PublishApprovalRequested(approvalID, actionID, actionType string) error {
	return ep.Publish(Event{
		Type:       EventTypeApprovalRequested,
		Source:     "policy_engine",
		ActionID:   actionID,
		ApprovalID: approvalID,
		Message:    fmt.Sprintf("Approval %s requested for action %s (%s)", approvalID, actionID, actionType),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"action_type": actionType,
		},
	})
}

// PublishApprovalDecided publishes an approval reaching a terminal status.
func (ep *EventPublisher) PublishApprovalDecided(approvalID, status, decidedBy string) error {
	return ep.Publish(Event{
		Type:       EventTypeApprovalDecided,
		Source:     "approval_gate",
		ApprovalID: approvalID,
		Message:    fmt.Sprintf("Approval %s %s by %s", approvalID, status, decidedBy),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"status":     status,
			"decided_by": decidedBy,
		},
	})
}

// PublishRuntimeStop publishes a runtime limit check that requires a stop.
func (ep *EventPublisher) PublishRuntimeStop(actionID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeRuntimeStop,
		Source:   "policy_engine",
		ActionID: actionID,
		Message:  fmt.Sprintf("Action %s must stop: %s", actionID, reason),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishGuardrailViolation publishes one guardrail finding.
func (ep *EventPublisher) PublishGuardrailViolation(actionID, rule, message string, blocking bool) error {
	level := EventLevelWarning
	if blocking {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:     EventTypeGuardrailViolation,
		Source:   "guardrails",
		ActionID: actionID,
		Message:  fmt.Sprintf("Guardrail %s: %s", rule, message),
		Level:    level,
		Data: map[string]interface{}{
			"rule":     rule,
			"blocking": blocking,
		},
	})
}

// PublishGuardrailsReloaded publishes a successful rule reload.
func (ep *EventPublisher) PublishGuardrailsReloaded(count int) error {
	return ep.Publish(Event{
		Type:    EventTypeGuardrailsReloaded,
		Source:  "guardrails",
		Message: fmt.Sprintf("Reloaded %d guardrail rules", count),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"count": count,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer, flushing whenever a batch fills up or
// the buffer runs dry.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-tick:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent hands an event to every matching subscriber, in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown flushes buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// LogSink returns a subscriber that writes every event to logger as an
// audit line, at the zerolog level matching the event level.
func LogSink(logger zerolog.Logger) EventSubscriber {
	return func(event Event) {
		var ev *zerolog.Event
		switch event.Level {
		case EventLevelError:
			ev = logger.Error()
		case EventLevelWarning:
			ev = logger.Warn()
		default:
			ev = logger.Info()
		}
		ev.Str("event_id", event.ID).
			Str("event_type", event.Type).
			Str("source", event.Source).
			Time("event_time", event.Timestamp)
		if event.ActionID != "" {
			ev.Str("action_id", event.ActionID)
		}
		if event.ApprovalID != "" {
			ev.Str("approval_id", event.ApprovalID)
		}
		if len(event.Data) > 0 {
			ev.Fields(event.Data)
		}
		ev.Msg(event.Message)
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByActionID creates a filter that only allows events for one action.
func FilterByActionID(actionID string) EventFilter {
	return func(event Event) bool {
		return event.ActionID == actionID
	}
}
